// Package secretcache holds per-deployment worker-bound secrets in process
// memory for a short TTL so the orchestrator doesn't have to persist raw
// provider/cloud credentials to the durable store. Deliberately not
// Redis-backed: these are ephemeral handoff values, not data other
// processes need to see.
package secretcache

import (
	"sync"
	"time"
)

// Secrets is everything a worker needs that the deployment document itself
// must not carry at rest, including the S3/AWS fields used for private
// cache scope.
type Secrets struct {
	ProviderAPIKey     string
	HFToken            string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpointURL     string
	S3ModelURL         string
	expiresAt          time.Time
}

const defaultTTL = time.Hour

// Cache is a mutex-guarded map of deployment id to Secrets, evicting lazily
// on read past expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Secrets
	ttl     time.Duration
	now     func() time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]Secrets), ttl: defaultTTL, now: time.Now}
}

// Store saves secrets for deploymentID with the default TTL.
func (c *Cache) Store(deploymentID string, s Secrets) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.expiresAt = c.now().Add(c.ttl)
	c.entries[deploymentID] = s
}

// Get returns the cached secrets, or false if absent or expired.
func (c *Cache) Get(deploymentID string) (Secrets, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[deploymentID]
	if !ok {
		return Secrets{}, false
	}
	if c.now().After(s.expiresAt) {
		delete(c.entries, deploymentID)
		return Secrets{}, false
	}
	return s, true
}

// Clear removes any cached secrets for deploymentID.
func (c *Cache) Clear(deploymentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deploymentID)
}

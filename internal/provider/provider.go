// Package provider defines the GPU-serverless provider abstraction the
// orchestration engine dispatches against, and a small name->implementation
// registry populated once at startup (no reflection, no plugin loading: a
// provider is wired in by calling Register from main with a concrete
// client).
package provider

import (
	"context"
	"strings"
)

// Endpoint is what a provider returns after creating a serving endpoint.
type Endpoint struct {
	ID  string
	URL string
}

// EndpointInfo is one entry of a provider's endpoint listing, used for warm
// discovery by name.
type EndpointInfo struct {
	ID     string
	Name   string
	Status string
	URL    string
}

// CreateOptions carries the provider-agnostic knobs the orchestrator always
// sets when creating an endpoint. Fields unused by a given provider are
// simply ignored by its implementation.
type CreateOptions struct {
	TemplateID    string
	WorkersMin    int
	WorkersMax    int
	IdleTimeout   int
	ScalerType    string
	ScalerValue   int
	VolumeSizeGB  int
	Locations     string
}

// Provider is the GPU-serverless backend the orchestrator creates and tears
// down inference endpoints against.
type Provider interface {
	CreateEndpoint(ctx context.Context, name, gpuID, image string, env map[string]string, apiKey string, opts CreateOptions) (Endpoint, error)
	DeleteEndpoint(ctx context.Context, endpointID, apiKey string) error
	ListEndpoints(ctx context.Context, apiKey string) ([]EndpointInfo, error)
	RunURL(endpointID string) string
}

// capacityMarkers are substrings of a provider error message that indicate
// "no capacity for this GPU type right now" rather than a hard failure, so
// the orchestrator knows to rotate to the next candidate instead of failing
// the deployment outright.
var capacityMarkers = []string{
	"insufficient",
	"no gpu",
	"no capacity",
	"out of capacity",
	"unavailable",
	"stock",
	"resource exhausted",
}

// IsCapacityError reports whether message describes a transient
// capacity shortfall for one GPU type, as opposed to a configuration or
// auth failure that no amount of candidate rotation will fix.
func IsCapacityError(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range capacityMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// terminalEndpointStatuses are provider endpoint states that rule an
// endpoint out as a warm-reuse candidate.
var terminalEndpointStatuses = map[string]bool{
	"TERMINATED": true,
	"DELETED":    true,
	"FAILED":     true,
	"STOPPED":    true,
}

// IsLive reports whether status admits warm reuse of the endpoint.
func IsLive(status string) bool {
	return !terminalEndpointStatuses[strings.ToUpper(status)]
}

// Registry is a name->Provider lookup populated at startup.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register wires name to an already-constructed provider client.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

package events

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	EventDeploymentCreated EventType = "deployment.created"
	EventDeploymentReady   EventType = "deployment.ready"
	EventDeploymentFailed  EventType = "deployment.failed"
	EventDeploymentDeleted EventType = "deployment.deleted"
	EventEndpointCreated   EventType = "endpoint.created"
	EventWebhookDelivered  EventType = "webhook.delivered"
	EventWebhookFailed     EventType = "webhook.failed"

	// Rate limit events
	EventRateLimitThreshold EventType = "ratelimit.threshold_reached"
)

// Event represents a single event in the system.
type Event struct {
	// ID is a unique identifier for this event (for idempotency)
	ID string

	// Type is the event type
	Type EventType

	// Timestamp is when the event occurred
	Timestamp time.Time

	// DeploymentID is the deployment this event belongs to (empty for
	// process-wide events such as rate-limit thresholds)
	DeploymentID string

	// Payload contains event-specific data
	Payload map[string]interface{}
}

// NewEvent creates a new event with the given type and payload.
func NewEvent(eventType EventType, deploymentID string, payload map[string]interface{}) Event {
	return Event{
		ID:           generateEventID(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		DeploymentID: deploymentID,
		Payload:      payload,
	}
}

// generateEventID generates a unique event ID: timestamp + random hex suffix.
func generateEventID() string {
	return time.Now().Format("20060102150405") + "-" + randHex(4)
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

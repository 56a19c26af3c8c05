// Package bus provides event bus abstractions used to publish orchestration
// hooks: run lifecycle transitions, session updates, and task board changes.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // component that produced the event
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles an event delivered on a subscription.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the interface orchestration hooks publish and subscribe through.
type EventBus interface {
	// Publish sends an event to a subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription for load balancing.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request sends a request and waits for a response, with timeout.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	// Close closes the connection.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}

// Orchestration hook subjects, kept centralized so subscribers do not hardcode
// subject strings. internal/orchestrator publishes SubjectRunStarted and
// SubjectRunCompleted; no package in this module publishes the other three.
const (
	SubjectRunStarted       = "opengoat.run.started"
	SubjectRunCompleted     = "opengoat.run.completed"
	SubjectRunFailed        = "opengoat.run.failed"
	SubjectSessionUpdated   = "opengoat.session.updated"
	SubjectTaskStateChanged = "opengoat.task.state_changed"
)

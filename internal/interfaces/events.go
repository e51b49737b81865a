package interfaces

import (
	"context"

	"github.com/ternarybob/jobsift/internal/models"
)

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event *models.EventRecord) error

// EventService is the pub/sub event bus backed by the append-only event log
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType models.EventType, handler EventHandler) error

	// Publish appends the event to the log and notifies subscribers
	Publish(ctx context.Context, eventType models.EventType, payload map[string]string) error

	// Close shuts down the event service
	Close() error
}

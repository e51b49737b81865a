package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
)

// Service implements EventService: every published event is appended to the
// durable log first, then fanned out to subscribers asynchronously. Handler
// failures are logged and never propagate to the publisher.
type Service struct {
	storage     interfaces.EventLogStorage
	subscribers map[models.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	wg          sync.WaitGroup
	logger      arbor.ILogger
}

// NewService creates the event service backed by the append-only log
func NewService(storage interfaces.EventLogStorage) *Service {
	return &Service{
		storage:     storage,
		subscribers: make(map[models.EventType][]interfaces.EventHandler),
		logger:      common.GetLogger(),
	}
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType models.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")
	return nil
}

// Publish appends the event to the log and notifies subscribers
func (s *Service) Publish(ctx context.Context, eventType models.EventType, payload map[string]string) error {
	record := &models.EventRecord{
		ID:        common.NewEventID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	if s.storage != nil {
		if err := s.storage.AppendEvent(ctx, record); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	s.mu.RLock()
	handlers := s.subscribers[eventType]
	s.mu.RUnlock()

	for _, handler := range handlers {
		s.wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Str("panic", fmt.Sprintf("%v", r)).
						Str("event_type", string(eventType)).
						Msg("Recovered panic in event handler")
				}
				s.wg.Done()
			}()
			if err := h(ctx, record); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(eventType)).
					Msg("Event handler failed")
			}
		}(handler)
	}

	return nil
}

// Close waits for in-flight handler goroutines to finish
func (s *Service) Close() error {
	s.wg.Wait()
	return nil
}

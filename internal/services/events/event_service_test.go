package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/jobsift/internal/models"
)

type fakeEventLog struct {
	mu      sync.Mutex
	events  []*models.EventRecord
	failing bool
}

func (f *fakeEventLog) AppendEvent(ctx context.Context, event *models.EventRecord) error {
	if f.failing {
		return errors.New("log unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventLog) ListEvents(ctx context.Context, eventType models.EventType, limit int) ([]*models.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.EventRecord
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestPublish_AppendsToLogAndNotifies(t *testing.T) {
	log := &fakeEventLog{}
	svc := NewService(log)

	received := make(chan *models.EventRecord, 1)
	err := svc.Subscribe(models.EventTierCompleted, func(ctx context.Context, event *models.EventRecord) error {
		received <- event
		return nil
	})
	require.NoError(t, err)

	err = svc.Publish(context.Background(), models.EventTierCompleted, map[string]string{"job_id": "job_1", "tier": "1"})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	event := <-received
	assert.Equal(t, models.EventTierCompleted, event.Type)
	assert.Equal(t, "job_1", event.Payload["job_id"])
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	stored, err := log.ListEvents(context.Background(), models.EventTierCompleted, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, event.ID, stored[0].ID)
}

func TestPublish_LogFailurePropagates(t *testing.T) {
	svc := NewService(&fakeEventLog{failing: true})

	called := false
	require.NoError(t, svc.Subscribe(models.EventTierFailed, func(ctx context.Context, event *models.EventRecord) error {
		called = true
		return nil
	}))

	err := svc.Publish(context.Background(), models.EventTierFailed, nil)
	assert.Error(t, err)
	require.NoError(t, svc.Close())
	assert.False(t, called)
}

func TestPublish_HandlerPanicDoesNotPropagate(t *testing.T) {
	log := &fakeEventLog{}
	svc := NewService(log)

	require.NoError(t, svc.Subscribe(models.EventRateLimited, func(ctx context.Context, event *models.EventRecord) error {
		panic("handler bug")
	}))

	err := svc.Publish(context.Background(), models.EventRateLimited, nil)
	assert.NoError(t, err)
	require.NoError(t, svc.Close())
}

func TestSubscribe_RejectsNilHandler(t *testing.T) {
	svc := NewService(&fakeEventLog{})
	assert.Error(t, svc.Subscribe(models.EventModelTrained, nil))
}

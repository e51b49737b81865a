package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// QueueStorage implements the durable analysis queue on Badger. All state
// transitions happen inside a single Badger transaction so that only one
// worker can ever move an entry from pending to in_flight.
type QueueStorage struct {
	db          *BadgerDB
	logger      arbor.ILogger
	maxAttempts int
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger, maxAttempts int) interfaces.QueueStorage {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &QueueStorage{db: db, logger: logger, maxAttempts: maxAttempts}
}

func (s *QueueStorage) Enqueue(ctx context.Context, jobID string, tier int, priority models.QueuePriority) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if tier < 1 || tier > 3 {
		return fmt.Errorf("invalid tier: %d", tier)
	}

	entryID := models.QueueEntryID(jobID, tier)
	now := time.Now()

	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var existing models.QueueEntry
		err := s.db.Store().TxGet(tx, entryID, &existing)
		switch err {
		case nil:
			// Idempotent while a non-terminal entry exists; a retained failed
			// entry is reset so explicit re-enqueue can retry it
			if !existing.Terminal() {
				return nil
			}
			if existing.State == models.QueueDone {
				return nil
			}
			existing.State = models.QueuePending
			existing.Attempts = 0
			existing.LastError = ""
			existing.NotBefore = now
			existing.UpdatedAt = now
			return s.db.Store().TxUpdate(tx, entryID, &existing)
		case badgerhold.ErrNotFound:
			entry := models.QueueEntry{
				ID:        entryID,
				JobID:     jobID,
				Tier:      tier,
				Priority:  priority,
				State:     models.QueuePending,
				NotBefore: now,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return s.db.Store().TxInsert(tx, entryID, &entry)
		default:
			return fmt.Errorf("failed to check queue entry: %w", err)
		}
	})
}

func (s *QueueStorage) Lease(ctx context.Context, n int, now time.Time, leaseFor time.Duration) ([]*models.QueueEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	var leased []*models.QueueEntry

	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var ready []models.QueueEntry
		query := badgerhold.Where("State").Eq(models.QueuePending).And("NotBefore").Le(now)
		if err := s.db.Store().TxFind(tx, &ready, query); err != nil {
			return fmt.Errorf("failed to find pending entries: %w", err)
		}

		// Ordering key: priority desc, not_before asc, created_at asc
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority > ready[j].Priority
			}
			if !ready[i].NotBefore.Equal(ready[j].NotBefore) {
				return ready[i].NotBefore.Before(ready[j].NotBefore)
			}
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		})

		if len(ready) > n {
			ready = ready[:n]
		}

		for i := range ready {
			entry := ready[i]
			entry.State = models.QueueInFlight
			entry.LeaseDeadline = now.Add(leaseFor)
			entry.UpdatedAt = now
			if err := s.db.Store().TxUpdate(tx, entry.ID, &entry); err != nil {
				return fmt.Errorf("failed to lease entry %s: %w", entry.ID, err)
			}
			leased = append(leased, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return leased, nil
}

func (s *QueueStorage) MarkDone(ctx context.Context, entryID string) error {
	// Entries are deleted on done; the tier record on the job is the durable
	// trace of completed work
	if err := s.db.Store().Delete(entryID, &models.QueueEntry{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete done entry: %w", err)
	}
	return nil
}

func (s *QueueStorage) MarkRetry(ctx context.Context, entryID string, reason string, notBefore time.Time, countAttempt bool) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var entry models.QueueEntry
		if err := s.db.Store().TxGet(tx, entryID, &entry); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get queue entry: %w", err)
		}

		if countAttempt {
			entry.Attempts++
		}
		if entry.Attempts >= s.maxAttempts {
			entry.State = models.QueueFailed
			entry.LastError = reason
			entry.UpdatedAt = time.Now()
			return s.db.Store().TxUpdate(tx, entryID, &entry)
		}

		entry.State = models.QueuePending
		entry.LastError = reason
		entry.NotBefore = notBefore
		entry.LeaseDeadline = time.Time{}
		entry.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(tx, entryID, &entry)
	})
}

func (s *QueueStorage) MarkFailed(ctx context.Context, entryID string, reason string) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var entry models.QueueEntry
		if err := s.db.Store().TxGet(tx, entryID, &entry); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to get queue entry: %w", err)
		}

		entry.State = models.QueueFailed
		entry.Attempts++
		entry.LastError = reason
		entry.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(tx, entryID, &entry)
	})
}

func (s *QueueStorage) ExpireLeases(ctx context.Context, now time.Time) (int, error) {
	expired := 0

	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var inFlight []models.QueueEntry
		query := badgerhold.Where("State").Eq(models.QueueInFlight)
		if err := s.db.Store().TxFind(tx, &inFlight, query); err != nil {
			return fmt.Errorf("failed to find in-flight entries: %w", err)
		}

		for i := range inFlight {
			entry := inFlight[i]
			if entry.LeaseDeadline.After(now) {
				continue
			}
			entry.State = models.QueuePending
			entry.LeaseDeadline = time.Time{}
			entry.UpdatedAt = now
			if err := s.db.Store().TxUpdate(tx, entry.ID, &entry); err != nil {
				return fmt.Errorf("failed to expire lease %s: %w", entry.ID, err)
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("Expired stale queue leases")
	}
	return expired, nil
}

func (s *QueueStorage) GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := s.db.Store().Get(entryID, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

func (s *QueueStorage) Stats(ctx context.Context) (*models.QueueStats, error) {
	var entries []models.QueueEntry
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}

	stats := &models.QueueStats{
		PendingByTier:  make(map[int]int),
		InFlightByTier: make(map[int]int),
		FailedByTier:   make(map[int]int),
	}
	for _, e := range entries {
		switch e.State {
		case models.QueuePending:
			stats.PendingByTier[e.Tier]++
		case models.QueueInFlight:
			stats.InFlightByTier[e.Tier]++
		case models.QueueFailed:
			stats.FailedByTier[e.Tier]++
		}
	}
	return stats, nil
}

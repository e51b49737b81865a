package badger

import (
	"context"
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
)

const kvPrefix = "kv:"

// KVStorage is a small string key/value bucket on the raw Badger store,
// used for API keys and operator settings.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{db: db, logger: logger}
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.Store().Badger().View(func(tx *badgerdb.Txn) error {
		item, err := tx.Get([]byte(kvPrefix + strings.ToLower(key)))
		if err != nil {
			if err == badgerdb.ErrKeyNotFound {
				return interfaces.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		if err == interfaces.ErrNotFound {
			return "", err
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		return tx.Set([]byte(kvPrefix+strings.ToLower(key)), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string)
	err := s.db.Store().Badger().View(func(tx *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		prefix := []byte(kvPrefix)
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), kvPrefix)
			if err := item.Value(func(val []byte) error {
				values[key] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return values, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/bookfetch/pkg/log"
	"github.com/Sriram-PR/bookfetch/pkg/models"
	"github.com/Sriram-PR/bookfetch/pkg/utils"
)

const docKeyPrefix = "doc:" // Prefix for cache key records in DB

// BadgerIndex implements Index using BadgerDB
type BadgerIndex struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // Cached record count for O(1) Count
}

// NewBadgerIndex opens (or creates) the index database in dbPath
func NewBadgerIndex(dbPath string, logger *logrus.Entry) (*BadgerIndex, error) {
	idx := &BadgerIndex{log: logger}

	logger.Infof("Opening cache index at: %s", dbPath)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create index directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger)
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	idx.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	count, err := idx.countKeys()
	if err != nil {
		logger.Warnf("Failed to count existing index records: %v", err)
	} else {
		idx.keyCount.Store(int64(count))
		logger.Debugf("Cache index holds %d records", count)
	}
	return idx, nil
}

// countKeys performs a one-time full key scan at open.
func (s *BadgerIndex) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(docKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerIndex) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func dbKey(key models.CacheKey) []byte {
	return []byte(docKeyPrefix + string(key))
}

// Get implements Index
func (s *BadgerIndex) Get(key models.CacheKey) (*models.IndexEntry, error) {
	var entry *models.IndexEntry
	k := dbKey(key)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(k)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(k), errGet)
		}

		return item.Value(func(val []byte) error {
			var decoded models.IndexEntry
			if errJson := json.Unmarshal(val, &decoded); errJson != nil {
				s.log.Warnf("Failed to unmarshal IndexEntry for key '%s': %v. Treating as missing.", string(k), errJson)
				return nil
			}
			entry = &decoded
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in Get for key '%s': %v", string(k), errView)
		return nil, errView
	}
	return entry, nil
}

// Put implements Index
func (s *BadgerIndex) Put(entry *models.IndexEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("%w: index entry without key", utils.ErrDatabase)
	}
	k := dbKey(entry.Key)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal IndexEntry for key '%s': %w", utils.ErrParsing, string(k), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(k)
		isNew = errors.Is(errGet, badger.ErrKeyNotFound)
		return txn.SetEntry(badger.NewEntry(k, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(k)).Errorf("DB Update error in Put: %v", err)
		return fmt.Errorf("%w: failed writing key '%s': %w", utils.ErrDatabase, string(k), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Recorded '%s' (strategy %s)", entry.Key, entry.Strategy)
	return nil
}

// Delete implements Index
func (s *BadgerIndex) Delete(key models.CacheKey) error {
	k := dbKey(key)
	existed := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(k)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			existed = false
			return nil
		}
		if errGet != nil {
			return errGet
		}
		existed = true
		return txn.Delete(k)
	})
	if err != nil {
		return fmt.Errorf("%w: failed deleting key '%s': %w", utils.ErrDatabase, string(k), err)
	}
	if existed {
		s.keyCount.Add(-1)
	}
	return nil
}

// List implements Index
func (s *BadgerIndex) List() ([]models.IndexEntry, error) {
	var entries []models.IndexEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(docKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			errValue := item.Value(func(val []byte) error {
				var decoded models.IndexEntry
				if errJson := json.Unmarshal(val, &decoded); errJson != nil {
					s.log.Warnf("Skipping undecodable index record '%s': %v", string(item.Key()), errJson)
					return nil
				}
				entries = append(entries, decoded)
				return nil
			})
			if errValue != nil {
				return errValue
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing index: %w", utils.ErrDatabase, err)
	}
	return entries, nil
}

// Count implements Index.
// Returns the cached record count (O(1)) maintained on writes.
func (s *BadgerIndex) Count() int {
	return int(s.keyCount.Load())
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerIndex) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute // Default interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements Index
func (s *BadgerIndex) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing cache index: %v", err)
			return err
		}
		s.log.Debug("Cache index closed.")
	}
	return nil
}

// Package storage keeps the tool-call activity log in a BBolt database.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

const (
	// DefaultMaxResponseSize is the default maximum size for response truncation (64KB)
	DefaultMaxResponseSize = 64 * 1024

	// DefaultMaxRecords bounds the log; the oldest records are pruned past it.
	DefaultMaxRecords = 10000

	// DefaultOpenTimeout is how long Open waits for another process holding the database.
	DefaultOpenTimeout = time.Second

	pruneInterval = 100
)

// ErrStoreBusy is returned when another process holds the activity database.
var ErrStoreBusy = errors.New("activity database is in use by another process")

// ActivityStore is the append-mostly activity log.
type ActivityStore struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
	mu     sync.RWMutex
	wg     sync.WaitGroup

	maxResponseSize int
	maxRecords      int
	saves           int
}

// OpenActivityStore opens or creates the database at path.
func OpenActivityStore(path string, logger *zap.SugaredLogger) (*ActivityStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: DefaultOpenTimeout})
	if errors.Is(err, bolterrors.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrStoreBusy, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open activity database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ActivityRecordsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &ActivityStore{
		db:              db,
		logger:          logger,
		maxResponseSize: DefaultMaxResponseSize,
		maxRecords:      DefaultMaxRecords,
	}, nil
}

// DB exposes the database for health checks.
func (s *ActivityStore) DB() *bbolt.DB {
	return s.db
}

// SetMaxRecords changes the pruning threshold.
func (s *ActivityStore) SetMaxRecords(n int) {
	s.mu.Lock()
	s.maxRecords = n
	s.mu.Unlock()
}

// Close waits for pending async saves and closes the database.
func (s *ActivityStore) Close() error {
	s.wg.Wait()
	return s.db.Close()
}

// activityKey generates a BBolt key for an activity record.
// Key format: {timestamp_ns}_{ulid} for natural chronological ordering.
func activityKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

// parseActivityKey extracts the ULID from an activity key.
// Returns empty string if key format is invalid.
func parseActivityKey(key []byte) string {
	keyStr := string(key)
	if len(keyStr) < 22 { // 20 digits + underscore + at least 1 char for id
		return ""
	}
	return keyStr[21:]
}

// truncateResponse truncates a response string if it exceeds maxSize.
func truncateResponse(response string, maxSize int) (string, bool) {
	if maxSize <= 0 {
		maxSize = DefaultMaxResponseSize
	}
	if len(response) <= maxSize {
		return response, false
	}
	return response[:maxSize] + "...[truncated]", true
}

// SaveActivity stores an activity record, filling in ID and timestamp when
// unset. Every pruneInterval saves the oldest records past the configured
// maximum are dropped.
func (s *ActivityStore) SaveActivity(record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("activity record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	if !record.ResponseTruncated {
		record.Response, record.ResponseTruncated = truncateResponse(record.Response, s.maxResponseSize)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal activity record: %w", err)
		}
		if err := tx.Bucket([]byte(ActivityRecordsBucket)).Put(activityKey(record.Timestamp, record.ID), data); err != nil {
			return fmt.Errorf("failed to store activity record: %w", err)
		}
		return nil
	})
	s.saves++
	prune := err == nil && s.saves%pruneInterval == 0
	maxRecords := s.maxRecords
	s.mu.Unlock()

	if prune {
		if _, perr := s.PruneExcessActivities(maxRecords); perr != nil {
			s.logger.Warnw("Failed to prune activity records", "error", perr)
		}
	}
	return err
}

// SaveActivityAsync saves a record without blocking the caller. Close waits
// for pending saves.
func (s *ActivityStore) SaveActivityAsync(record *ActivityRecord) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.SaveActivity(record); err != nil {
			s.logger.Errorw("Failed to save activity record async",
				"type", record.Type,
				"server", record.ServerName,
				"error", err)
		}
	}()
}

// PruneExcessActivities deletes the oldest records until at most maxRecords
// remain and returns the number deleted.
func (s *ActivityStore) PruneExcessActivities(maxRecords int) (int, error) {
	if maxRecords <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityRecordsBucket))
		excess := bucket.Stats().KeyN - maxRecords
		if excess <= 0 {
			return nil
		}

		keys := make([][]byte, 0, excess)
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keys) < excess; k, _ = cursor.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete excess activity: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		s.logger.Infow("Pruned excess activity records",
			"deleted", deleted,
			"max_records", maxRecords)
	}
	return deleted, nil
}

// GetActivity retrieves an activity record by ID.
// Returns nil if the record is not found.
func (s *ActivityStore) GetActivity(id string) (*ActivityRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("activity ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var record *ActivityRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(ActivityRecordsBucket)).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			if parseActivityKey(k) == id {
				record = &ActivityRecord{}
				if err := record.UnmarshalBinary(v); err != nil {
					return fmt.Errorf("failed to unmarshal activity record: %w", err)
				}
				return nil
			}
		}
		return nil
	})
	return record, err
}

// ListActivities returns paginated activity records matching the filter,
// newest first, along with the total matching count.
func (s *ActivityStore) ListActivities(filter ActivityFilter) ([]*ActivityRecord, int, error) {
	filter.Validate()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*ActivityRecord
	var total int

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(ActivityRecordsBucket)).Cursor()
		skipped := 0

		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var record ActivityRecord
			if err := record.UnmarshalBinary(v); err != nil {
				s.logger.Warnw("Failed to unmarshal activity record",
					"key", string(k),
					"error", err)
				continue
			}
			if !filter.Matches(&record) {
				continue
			}

			total++
			if skipped < filter.Offset {
				skipped++
				continue
			}
			if len(records) < filter.Limit {
				records = append(records, &record)
			}
		}
		return nil
	})

	return records, total, err
}

// CountActivities returns the total number of activity records.
func (s *ActivityStore) CountActivities() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(ActivityRecordsBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// PruneOldActivities deletes activity records older than maxAge and returns
// the number deleted.
func (s *ActivityStore) PruneOldActivities(maxAge time.Duration) (int, error) {
	cutoffKey := string(activityKey(time.Now().UTC().Add(-maxAge), ""))

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ActivityRecordsBucket))

		var keys [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && string(k) < cutoffKey; k, _ = cursor.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, key := range keys {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete old activity: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		s.logger.Infow("Pruned old activity records",
			"deleted", deleted,
			"max_age", maxAge.String())
	}
	return deleted, nil
}

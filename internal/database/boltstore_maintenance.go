// internal/database/boltstore_maintenance.go - retention and housekeeping
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// PruneSamples removes samples recorded before olderThan
func (s *BoltStore) PruneSamples(ctx context.Context, olderThan time.Time) (int, error) {
	deletedCount := 0

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(SamplesBucket)
		c := b.Cursor()
		var keysToDelete [][]byte

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var head struct {
				Timestamp time.Time `json:"timestamp"`
			}
			if err := json.Unmarshal(v, &head); err != nil {
				continue
			}
			if !head.Timestamp.Before(olderThan) {
				break
			}
			keysToDelete = append(keysToDelete, copyBytes(k))
		}

		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete sample %d: %w", btoi(key), err)
			}
			deletedCount++
		}

		return pruneDeviceIndex(tx)
	})

	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   olderThan,
	}).Debug("Pruned old samples")

	return deletedCount, nil
}

// pruneDeviceIndex forgets devices whose newest sample no longer exists.
func pruneDeviceIndex(tx *bbolt.Tx) error {
	samples := tx.Bucket(SamplesBucket)
	devices := tx.Bucket(DevicesBucket)

	var stale [][]byte
	err := devices.ForEach(func(k, id []byte) error {
		if samples.Get(id) == nil {
			stale = append(stale, copyBytes(k))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range stale {
		if err := devices.Delete(k); err != nil {
			return fmt.Errorf("failed to forget device %s: %w", k, err)
		}
	}
	return nil
}

// PruneAlerts removes alert events raised before olderThan
func (s *BoltStore) PruneAlerts(ctx context.Context, olderThan time.Time) (int, error) {
	deletedCount := 0
	cutoff := itob(uint64(olderThan.UnixNano()))

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)
		c := b.Cursor()
		var keysToDelete [][]byte

		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], cutoff) < 0; k, _ = c.Next() {
			keysToDelete = append(keysToDelete, copyBytes(k))
		}

		for _, key := range keysToDelete {
			if err := b.Delete(key); err != nil {
				return fmt.Errorf("failed to delete alert: %w", err)
			}
			deletedCount++
		}
		return nil
	})

	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   olderThan,
	}).Debug("Pruned old alerts")

	return deletedCount, nil
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		stats.TotalAlerts = tx.Bucket(AlertsBucket).Stats().KeyN
		stats.TotalSettings = tx.Bucket(SettingsBucket).Stats().KeyN

		samples := tx.Bucket(SamplesBucket)
		stats.TotalSamples = samples.Stats().KeyN

		cursor := samples.Cursor()
		var sample Sample
		if k, v := cursor.First(); k != nil {
			if err := json.Unmarshal(v, &sample); err == nil {
				stats.OldestSample = sample.Timestamp
			}
		}
		if k, v := cursor.Last(); k != nil {
			if err := json.Unmarshal(v, &sample); err == nil {
				stats.NewestSample = sample.Timestamp
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	// Get file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

// CompactDatabase rewrites the file into a fresh one and swaps it in, giving
// back the pages freed by pruning.
func (s *BoltStore) CompactDatabase(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logrus.Info("Starting database compaction")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrUnavailable
	}

	tmpPath := s.path + ".compact.tmp"
	dst, err := openBolt(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	if err := bbolt.Compact(dst, s.db, 64*1024); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data to compact database: %w", err)
	}
	dst.Close()

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close database: %w", err)
	}

	renameErr := renameFile(tmpPath, s.path)
	if renameErr != nil {
		os.Remove(tmpPath)
	}

	// Either the compacted file or, after a failed rename, the original.
	db, err := openBolt(s.path)
	if err != nil {
		s.db = nil
		return fmt.Errorf("%w: failed to reopen database: %v", ErrUnavailable, err)
	}
	s.db = db

	if renameErr != nil {
		return fmt.Errorf("failed to replace database: %w", renameErr)
	}

	logrus.Info("Database compaction completed successfully")
	return nil
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}

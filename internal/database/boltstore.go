// internal/database/boltstore.go - BoltDB implementation
package database

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	SamplesBucket  = []byte("samples")
	AlertsBucket   = []byte("alerts")
	SettingsBucket = []byte("settings")
	MetaBucket     = []byte("meta")
	// DevicesBucket maps a device name to the id of its newest sample.
	DevicesBucket = []byte("devices")

	allBuckets = [][]byte{SamplesBucket, AlertsBucket, SettingsBucket, MetaBucket, DevicesBucket}
)

const schemaVersion = "1"

type BoltStore struct {
	mu   sync.RWMutex
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := openBolt(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

// openBolt and renameFile are swapped in tests to simulate filesystem failures.
var (
	openBolt = func(path string) (*bbolt.DB, error) {
		return bbolt.Open(path, 0600, &bbolt.Options{
			Timeout: 1 * time.Second,
		})
	}
	renameFile = os.Rename
)

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket(MetaBucket)
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(schemaVersion)); err != nil {
				return err
			}
			return meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339)))
		}
		return nil
	})
}

func (s *BoltStore) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrUnavailable
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrUnavailable
	}
	return s.db.Update(fn)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Samples

func (s *BoltStore) InsertSample(ctx context.Context, sample *Sample) (uint64, error) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	sample.Device = sample.DeviceName()

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(SamplesBucket)

		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sample id: %w", err)
		}
		sample.ID = id

		data, err := json.Marshal(sample)
		if err != nil {
			return fmt.Errorf("failed to marshal sample: %w", err)
		}

		if err := b.Put(itob(id), data); err != nil {
			return err
		}
		return tx.Bucket(DevicesBucket).Put([]byte(sample.Device), itob(id))
	})
	if err != nil {
		sample.ID = 0
		return 0, err
	}

	return sample.ID, nil
}

func (s *BoltStore) LatestSample(ctx context.Context) (*Sample, error) {
	var sample Sample

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(SamplesBucket).Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &sample)
	})

	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// SamplesSince returns every sample at or after cutoff, oldest first.
func (s *BoltStore) SamplesSince(ctx context.Context, cutoff time.Time) ([]Sample, error) {
	return s.RecentSamples(ctx, cutoff, 0)
}

// RecentSamples returns up to limit of the newest samples at or after since,
// oldest first. A limit of zero means no limit.
func (s *BoltStore) RecentSamples(ctx context.Context, since time.Time, limit int) ([]Sample, error) {
	var samples []Sample

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(SamplesBucket).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var sample Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				continue // Skip malformed entries
			}
			if sample.Timestamp.Before(since) {
				break
			}
			samples = append(samples, sample)
			if limit > 0 && len(samples) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// LatestSampleForDevice returns the newest sample reported by device.
func (s *BoltStore) LatestSampleForDevice(ctx context.Context, device string) (*Sample, error) {
	var sample Sample

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		id := tx.Bucket(DevicesBucket).Get([]byte(device))
		if id == nil {
			return ErrNotFound
		}
		v := tx.Bucket(SamplesBucket).Get(id)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &sample)
	})

	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// LatestSamplesByDevice returns the newest sample of every known device,
// ordered by device name. A store written before devices were indexed yields
// its newest sample.
func (s *BoltStore) LatestSamplesByDevice(ctx context.Context) ([]Sample, error) {
	var samples []Sample

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		sb := tx.Bucket(SamplesBucket)

		err := tx.Bucket(DevicesBucket).ForEach(func(k, id []byte) error {
			v := sb.Get(id)
			if v == nil {
				return nil
			}
			var sample Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("failed to unmarshal sample %d: %w", btoi(id), err)
			}
			samples = append(samples, sample)
			return nil
		})
		if err != nil || len(samples) > 0 {
			return err
		}

		if _, v := sb.Cursor().Last(); v != nil {
			var sample Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return nil
	})

	return samples, err
}

// FirstSampleWithSessionDiff returns the oldest sample of device whose best
// session difficulty string equals diff.
func (s *BoltStore) FirstSampleWithSessionDiff(ctx context.Context, device, diff string) (*Sample, error) {
	var found *Sample

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(SamplesBucket).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var head struct {
				Device          string  `json:"device"`
				BestSessionDiff *string `json:"bestSessionDiff"`
			}
			if err := json.Unmarshal(v, &head); err != nil {
				continue
			}
			if head.BestSessionDiff == nil || *head.BestSessionDiff != diff {
				continue
			}
			if (&Sample{Device: head.Device}).DeviceName() != device {
				continue
			}

			var sample Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return fmt.Errorf("failed to unmarshal sample %d: %w", btoi(k), err)
			}
			found = &sample
			return nil
		}
		return ErrNotFound
	})

	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *BoltStore) SampleStats(ctx context.Context, since time.Time) (*SampleStats, error) {
	samples, err := s.SamplesSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return ComputeStats(samples, since), nil
}

// ComputeStats aggregates samples. Fields missing from a sample are left out
// of the corresponding aggregate.
func ComputeStats(samples []Sample, since time.Time) *SampleStats {
	stats := &SampleStats{Since: since, Count: len(samples)}

	var hr, temp, power, eff aggregate
	var maxUptime int64
	for i := range samples {
		sample := &samples[i]
		hr.add(sample.HashRate)
		temp.add(sample.Temp)
		power.add(sample.Power)
		if e := sample.Efficiency(); e > 0 {
			eff.add(&e)
		}
		if sample.UptimeSeconds != nil && *sample.UptimeSeconds > maxUptime {
			maxUptime = *sample.UptimeSeconds
		}
	}

	stats.HashRateAvg, stats.HashRateMin, stats.HashRateMax = hr.result()
	stats.TempAvg, stats.TempMin, stats.TempMax = temp.result()
	stats.PowerAvg, stats.PowerMin, stats.PowerMax = power.result()
	stats.EfficiencyAvg, _, _ = eff.result()
	stats.UptimeHours = float64(maxUptime) / 3600

	return stats
}

type aggregate struct {
	n             int
	sum, min, max float64
}

func (a *aggregate) add(v *float64) {
	if v == nil {
		return
	}
	if a.n == 0 || *v < a.min {
		a.min = *v
	}
	if a.n == 0 || *v > a.max {
		a.max = *v
	}
	a.sum += *v
	a.n++
}

func (a *aggregate) result() (avg, min, max float64) {
	if a.n == 0 {
		return 0, 0, 0
	}
	return a.sum / float64(a.n), a.min, a.max
}

// Settings

func (s *BoltStore) GetSetting(ctx context.Context, key, def string) (string, error) {
	value := def

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		v := tx.Bucket(SettingsBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		var setting Setting
		if err := json.Unmarshal(v, &setting); err != nil {
			return fmt.Errorf("failed to unmarshal setting %s: %w", key, err)
		}
		value = setting.Value
		return nil
	})

	return value, err
}

func (s *BoltStore) SetSetting(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		data, err := json.Marshal(setting)
		if err != nil {
			return fmt.Errorf("failed to marshal setting: %w", err)
		}
		return tx.Bucket(SettingsBucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) GetSettings(ctx context.Context) (map[string]Setting, error) {
	settings := make(map[string]Setting)

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(SettingsBucket).ForEach(func(k, v []byte) error {
			var setting Setting
			if err := json.Unmarshal(v, &setting); err != nil {
				return fmt.Errorf("failed to unmarshal setting %s: %w", k, err)
			}
			settings[string(k)] = setting
			return nil
		})
	})

	return settings, err
}

// SeedSettings stores each default whose key is not present yet and returns
// how many were written.
func (s *BoltStore) SeedSettings(ctx context.Context, defaults map[string]string) (int, error) {
	seeded := 0
	now := time.Now().UTC()

	err := s.update(ctx, func(tx *bbolt.Tx) error {
		b := tx.Bucket(SettingsBucket)
		for key, value := range defaults {
			if b.Get([]byte(key)) != nil {
				continue
			}
			data, err := json.Marshal(Setting{Key: key, Value: value, UpdatedAt: now})
			if err != nil {
				return fmt.Errorf("failed to marshal setting: %w", err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
			seeded++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return seeded, nil
}

// Alerts are keyed by big-endian UnixNano followed by the event uuid so a
// cursor walks them in time order.

func alertKey(ts time.Time, id string) []byte {
	key := itob(uint64(ts.UnixNano()))
	if parsed, err := uuid.Parse(id); err == nil {
		return append(key, parsed[:]...)
	}
	return append(key, []byte(id)...)
}

func (s *BoltStore) RecordAlert(ctx context.Context, event *AlertEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	return s.update(ctx, func(tx *bbolt.Tx) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal alert: %w", err)
		}
		return tx.Bucket(AlertsBucket).Put(alertKey(event.Timestamp, event.ID), data)
	})
}

// RecentAlert reports whether an alert of the given type was notified for
// device after since. Events that were only logged do not count.
func (s *BoltStore) RecentAlert(ctx context.Context, alertType AlertType, device string, since time.Time) (bool, error) {
	found := false

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(AlertsBucket).Cursor()

		for k, v := c.Seek(itob(uint64(since.UnixNano()))); k != nil; k, v = c.Next() {
			var event AlertEvent
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			if event.Type == alertType && event.Device == device && event.Notified && event.Timestamp.After(since) {
				found = true
				return nil
			}
		}
		return nil
	})

	return found, err
}

// AlertsSince returns alerts raised after since, newest first.
func (s *BoltStore) AlertsSince(ctx context.Context, since time.Time, limit int) ([]AlertEvent, error) {
	var events []AlertEvent

	err := s.view(ctx, func(tx *bbolt.Tx) error {
		c := tx.Bucket(AlertsBucket).Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var event AlertEvent
			if err := json.Unmarshal(v, &event); err != nil {
				continue
			}
			if event.Timestamp.Before(since) {
				break
			}
			events = append(events, event)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})

	return events, err
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

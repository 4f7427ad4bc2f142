// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned once the database file could not be reopened.
var ErrUnavailable = errors.New("database unavailable")

// Store defines the interface for database operations
type Store interface {
	// Sample operations
	InsertSample(ctx context.Context, sample *Sample) (uint64, error)
	LatestSample(ctx context.Context) (*Sample, error)
	LatestSampleForDevice(ctx context.Context, device string) (*Sample, error)
	LatestSamplesByDevice(ctx context.Context) ([]Sample, error)
	SamplesSince(ctx context.Context, cutoff time.Time) ([]Sample, error)
	RecentSamples(ctx context.Context, since time.Time, limit int) ([]Sample, error)
	FirstSampleWithSessionDiff(ctx context.Context, device, diff string) (*Sample, error)
	SampleStats(ctx context.Context, since time.Time) (*SampleStats, error)

	// Settings operations
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetSettings(ctx context.Context) (map[string]Setting, error)
	SeedSettings(ctx context.Context, defaults map[string]string) (int, error)

	// Alert operations
	RecordAlert(ctx context.Context, event *AlertEvent) error
	RecentAlert(ctx context.Context, alertType AlertType, device string, since time.Time) (bool, error)
	AlertsSince(ctx context.Context, since time.Time, limit int) ([]AlertEvent, error)

	// Retention
	PruneSamples(ctx context.Context, olderThan time.Time) (int, error)
	PruneAlerts(ctx context.Context, olderThan time.Time) (int, error)

	// Maintenance
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)
	CompactDatabase(ctx context.Context) error

	// Close the database connection
	Close() error
}

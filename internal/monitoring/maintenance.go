// internal/monitoring/maintenance.go - retention pruning and compaction
package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PurgeExpiredSamples removes samples older than the sample retention.
func (e *Engine) PurgeExpiredSamples(ctx context.Context) (int, error) {
	retention := e.config.Database.SampleRetention
	if retention <= 0 {
		return 0, nil
	}

	cutoff := e.now().UTC().Add(-retention)
	removed, err := e.store.PruneSamples(ctx, cutoff)
	e.recordDatabaseOperation("prune_samples", err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff,
		}).Info("Cleaned up old samples")
		e.invalidateCache(ctx)
	}
	return removed, nil
}

// PurgeExpiredAlerts removes alert log entries older than the alert retention.
func (e *Engine) PurgeExpiredAlerts(ctx context.Context) (int, error) {
	retention := e.config.Database.AlertRetention
	if retention <= 0 {
		return 0, nil
	}

	cutoff := e.now().UTC().Add(-retention)
	removed, err := e.store.PruneAlerts(ctx, cutoff)
	e.recordDatabaseOperation("prune_alerts", err)
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff,
		}).Info("Cleaned up old alerts")
	}
	return removed, nil
}

// PurgeExpired runs both retention passes. A failure in one does not skip
// the other.
func (e *Engine) PurgeExpired(ctx context.Context) (samples, alerts int, err error) {
	var errs []string

	samples, sampleErr := e.PurgeExpiredSamples(ctx)
	if sampleErr != nil {
		errs = append(errs, sampleErr.Error())
	}

	alerts, alertErr := e.PurgeExpiredAlerts(ctx)
	if alertErr != nil {
		errs = append(errs, alertErr.Error())
	}

	if len(errs) > 0 {
		return samples, alerts, fmt.Errorf("purge completed with errors: %s", strings.Join(errs, "; "))
	}

	logrus.WithFields(logrus.Fields{
		"samples": samples,
		"alerts":  alerts,
	}).Debug("Retention purge finished")
	return samples, alerts, nil
}

// Compact rewrites the database file to reclaim space freed by pruning.
func (e *Engine) Compact(ctx context.Context) error {
	start := time.Now()
	err := e.store.CompactDatabase(ctx)
	e.recordDatabaseOperation("compact", err)
	if err != nil {
		return fmt.Errorf("failed to compact database: %w", err)
	}

	logrus.WithField("duration", time.Since(start)).Info("Database compacted")
	return nil
}

func (e *Engine) invalidateCache(ctx context.Context) {
	e.mu.RLock()
	c := e.cache
	e.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate sample cache")
	}
}

func (e *Engine) recordDatabaseOperation(operation string, err error) {
	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation(operation, err)
	}
}

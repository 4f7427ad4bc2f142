// internal/monitoring/ingest.go
package monitoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/alerting"
	"bitaxe-monitor/internal/database"
)

// Ingestion sources, used as metric labels.
const (
	SourceHTTP   = "http"
	SourcePoller = "poller"
)

// ErrStorage wraps failures to read or write the sample store during
// ingestion.
var ErrStorage = errors.New("storage error")

// Ingest stores sample and runs the alert rules against the previous sample
// of the same device. A sample without Device is assigned one by
// database.DeviceKey. Alerting only happens when power, temperature and hash
// rate are all present. Only a storage failure is returned; alerting problems
// are logged.
func (e *Engine) Ingest(ctx context.Context, source string, sample *database.Sample) (uint64, error) {
	if sample.Device == "" {
		sample.Device = database.DeviceKey(sample)
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	previous, err := e.store.LatestSampleForDevice(ctx, sample.Device)
	if errors.Is(err, database.ErrNotFound) {
		previous, err = nil, nil
	}
	if err != nil {
		e.recordIngestFailure(source, "latest_sample", err)
		return 0, fmt.Errorf("%w: failed to read previous sample: %v", ErrStorage, err)
	}

	sample.ID = 0
	sample.Timestamp = e.now().UTC()
	id, err := e.store.InsertSample(ctx, sample)
	if err != nil {
		e.recordIngestFailure(source, "insert_sample", err)
		return 0, fmt.Errorf("%w: failed to insert sample: %v", ErrStorage, err)
	}

	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation("insert_sample", nil)
		e.metrics.RecordSample(source, sample)
	}

	// Cached under the lock so an older sample never overwrites a newer one.
	e.mu.RLock()
	c := e.cache
	e.mu.RUnlock()
	if c != nil {
		if err := c.SetLatest(ctx, sample); err != nil {
			logrus.WithError(err).Warn("Failed to cache latest sample")
		}
	}

	e.broadcast("sample", sample)

	logrus.WithFields(logrus.Fields{
		"id":       id,
		"source":   source,
		"device":   sample.Device,
		"hostname": stringValue(sample.Hostname),
	}).Debug("Sample stored")

	if sample.HasAlertFields() {
		e.evaluate(ctx, sample, previous)
	}

	return id, nil
}

func (e *Engine) evaluate(ctx context.Context, current, previous *database.Sample) {
	settings, err := database.LoadSettings(ctx, e.store)
	if err != nil {
		logrus.WithError(err).Warn("Evaluating alerts with default settings")
	}

	events := alerting.Evaluate(current, previous, settings)
	if len(events) == 0 {
		return
	}
	for i := range events {
		events[i].Device = current.DeviceName()
	}

	if _, err := e.dispatcher.Raise(ctx, events); err != nil {
		logrus.WithError(err).WithField("sample_id", current.ID).Error("Failed to record alerts")
	}
}

func (e *Engine) recordIngestFailure(source, operation string, err error) {
	logrus.WithError(err).WithFields(logrus.Fields{
		"source":    source,
		"operation": operation,
	}).Error("Failed to ingest sample")

	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation(operation, err)
		e.metrics.RecordIngestFailure(source)
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

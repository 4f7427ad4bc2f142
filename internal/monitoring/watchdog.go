// internal/monitoring/watchdog.go
package monitoring

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/alerting"
	"bitaxe-monitor/internal/database"
)

// CheckOffline raises no_data when nothing was ever stored and miner_offline
// for every device whose newest sample is too old. With more than one device
// the message names the device. It returns the recorded events; none when all
// miners are reporting or offline alerts are switched off.
func (e *Engine) CheckOffline(ctx context.Context) ([]database.AlertEvent, error) {
	settings, err := database.LoadSettings(ctx, e.store)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.OfflineAlertEnabled {
		logrus.Debug("Offline alerts disabled, skipping watchdog check")
		return nil, nil
	}

	latest, err := e.store.LatestSamplesByDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest samples: %w", err)
	}

	now := e.now().UTC()
	offlineAfter := e.config.Monitoring.OfflineAfter

	var events []database.AlertEvent
	if len(latest) == 0 {
		events = append(events, *alerting.CheckOffline(nil, now, offlineAfter))
	}
	for i := range latest {
		event := alerting.CheckOffline(&latest[i], now, offlineAfter)
		if event == nil {
			continue
		}
		if len(latest) > 1 {
			event.Message = fmt.Sprintf("%s (%s)", event.Message, latest[i].DeviceName())
		}
		event.Device = latest[i].DeviceName()
		logrus.WithFields(logrus.Fields{
			"device":    latest[i].DeviceName(),
			"last_seen": latest[i].Timestamp,
		}).Warn("Miner stopped reporting")
		events = append(events, *event)
	}

	if len(events) == 0 {
		return nil, nil
	}
	return e.dispatcher.Raise(ctx, events)
}

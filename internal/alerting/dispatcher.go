// internal/alerting/dispatcher.go - cooldown gate, alert log and notification fan-out
package alerting

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/metrics"
	"bitaxe-monitor/internal/notifications"
)

const DefaultSendTimeout = 10 * time.Second

// Dispatcher records raised alerts and forwards them to the notification sink
// at most once per alert type per cooldown window. Critical temperature
// alerts are never cooled down.
type Dispatcher struct {
	store       database.Store
	sink        notifications.Sink
	collector   *metrics.Collector
	sendTimeout time.Duration
	now         func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup

	listenerMu sync.RWMutex
	listeners  []func(database.AlertEvent)

	missingOnce sync.Once
}

func NewDispatcher(store database.Store, sink notifications.Sink, collector *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		store:       store,
		sink:        sink,
		collector:   collector,
		sendTimeout: DefaultSendTimeout,
		now:         time.Now,
	}
}

// OnEvent registers fn to be called with every recorded event.
func (d *Dispatcher) OnEvent(fn func(database.AlertEvent)) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Raise records every event and schedules notifications for those outside
// their cooldown. It returns the recorded events. Storage errors are returned;
// notification errors are only logged.
func (d *Dispatcher) Raise(ctx context.Context, events []database.AlertEvent) ([]database.AlertEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	settings, err := database.LoadSettings(ctx, d.store)
	if err != nil {
		logrus.WithError(err).Warn("Using default settings for alert dispatch")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sendAllowed := settings.TelegramEnabled && d.sinkEnabled()
	recorded := make([]database.AlertEvent, 0, len(events))
	var errs []error

	for i := range events {
		event := events[i]
		now := d.now().UTC()
		event.Timestamp = now

		notify := false
		if sendAllowed {
			notify, err = d.outsideCooldown(ctx, event.Type, event.Device, now, settings.CooldownWindow())
			if err != nil {
				logrus.WithError(err).WithField("alert_type", event.Type).Error("Failed to check alert cooldown")
				notify = false
			}
		}
		event.Notified = notify

		if err := d.store.RecordAlert(ctx, &event); err != nil {
			if d.collector != nil {
				d.collector.RecordDatabaseOperation("record_alert", err)
			}
			errs = append(errs, fmt.Errorf("failed to record %s alert: %w", event.Type, err))
			continue
		}
		if d.collector != nil {
			d.collector.RecordDatabaseOperation("record_alert", nil)
			d.collector.RecordAlert(&event)
		}

		logrus.WithFields(logrus.Fields{
			"alert_type": event.Type,
			"device":     event.Device,
			"severity":   event.Severity,
			"notified":   event.Notified,
		}).Info(event.Message)

		recorded = append(recorded, event)
		d.publish(event)

		if notify {
			d.send(string(event.Type), html.EscapeString(event.Message))
		}
	}

	return recorded, errors.Join(errs...)
}

// outsideCooldown applies the cooldown per alert type and device.
func (d *Dispatcher) outsideCooldown(ctx context.Context, alertType database.AlertType, device string, now time.Time, cooldown time.Duration) (bool, error) {
	if alertType == database.AlertCriticalTemp || cooldown <= 0 {
		return true, nil
	}
	recent, err := d.store.RecentAlert(ctx, alertType, device, now.Add(-cooldown))
	if err != nil {
		return false, err
	}
	return !recent, nil
}

func (d *Dispatcher) sinkEnabled() bool {
	if d.sink == nil {
		return false
	}
	if !d.sink.Enabled() {
		d.missingOnce.Do(func() {
			logrus.Warn("Telegram is enabled but credentials are missing, alerts will only be logged")
		})
		return false
	}
	return true
}

// send delivers text on its own goroutine with a bounded timeout.
func (d *Dispatcher) send(kind, text string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
		defer cancel()

		err := d.sink.Send(ctx, text)
		status := "sent"
		switch {
		case errors.Is(err, notifications.ErrThrottled):
			status = "throttled"
		case err != nil:
			status = "error"
			logrus.WithError(err).WithField("kind", kind).Error("Failed to send notification")
		}
		if d.collector != nil {
			d.collector.RecordNotification(status)
		}
	}()
}

// Notify sends an ad hoc HTML message, such as the daily summary, through
// the same asynchronous path. It does not touch the alert log.
func (d *Dispatcher) Notify(kind, text string) bool {
	if !d.sinkEnabled() {
		return false
	}
	d.send(kind, text)
	return true
}

func (d *Dispatcher) publish(event database.AlertEvent) {
	d.listenerMu.RLock()
	defer d.listenerMu.RUnlock()
	for _, fn := range d.listeners {
		fn(event)
	}
}

// Wait blocks until every scheduled notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

package alerting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bitaxe-monitor/internal/database"
)

// recordingSink keeps every message it is asked to send.
type recordingSink struct {
	mu       sync.Mutex
	messages []string
	enabled  bool
	err      error
}

func (r *recordingSink) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return r.err
}

func (r *recordingSink) Enabled() bool { return r.enabled }

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func newTestDispatcher(t *testing.T, telegramEnabled bool) (*Dispatcher, *database.BoltStore, *recordingSink) {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	settings := database.DefaultSettings()
	settings.TelegramEnabled = telegramEnabled
	if _, err := store.SeedSettings(context.Background(), settings.Values()); err != nil {
		t.Fatalf("Failed to seed settings: %v", err)
	}

	sink := &recordingSink{enabled: true}
	return NewDispatcher(store, sink, nil), store, sink
}

func highTempEvent() database.AlertEvent {
	return database.AlertEvent{
		Type:     database.AlertHighTemp,
		Severity: database.SeverityWarning,
		Message:  highTempMessage(90, 85),
	}
}

func TestDispatcher_CooldownLogsEveryFiring(t *testing.T) {
	d, store, sink := newTestDispatcher(t, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := d.Raise(ctx, []database.AlertEvent{highTempEvent()}); err != nil {
			t.Fatalf("Raise failed: %v", err)
		}
	}
	d.Wait()

	if sink.count() != 1 {
		t.Errorf("Expected 1 notification within the cooldown, got %d", sink.count())
	}

	events, err := store.AlertsSince(ctx, time.Now().Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("AlertsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 logged events, got %d", len(events))
	}
	notified := 0
	for _, e := range events {
		if e.Notified {
			notified++
		}
	}
	if notified != 1 {
		t.Errorf("Expected exactly one notified event, got %d", notified)
	}
}

func TestDispatcher_CooldownExpires(t *testing.T) {
	d, _, sink := newTestDispatcher(t, true)
	ctx := context.Background()

	base := time.Now().UTC()
	d.now = func() time.Time { return base }
	d.Raise(ctx, []database.AlertEvent{highTempEvent()})

	d.now = func() time.Time { return base.Add(16 * time.Minute) }
	d.Raise(ctx, []database.AlertEvent{highTempEvent()})
	d.Wait()

	if sink.count() != 2 {
		t.Errorf("Expected a second notification after the cooldown, got %d", sink.count())
	}
}

func TestDispatcher_CriticalTempBypassesCooldown(t *testing.T) {
	d, _, sink := newTestDispatcher(t, true)
	ctx := context.Background()

	critical := database.AlertEvent{
		Type:     database.AlertCriticalTemp,
		Severity: database.SeverityCritical,
		Message:  criticalTempMessage(99),
	}
	for i := 0; i < 3; i++ {
		d.Raise(ctx, []database.AlertEvent{critical})
	}
	d.Wait()

	if sink.count() != 3 {
		t.Errorf("Expected every critical alert to notify, got %d", sink.count())
	}
}

func TestDispatcher_CooldownIsPerType(t *testing.T) {
	d, _, sink := newTestDispatcher(t, true)
	ctx := context.Background()

	power := database.AlertEvent{Type: database.AlertHighPower, Severity: database.SeverityWarning, Message: "power"}
	d.Raise(ctx, []database.AlertEvent{highTempEvent(), power})
	d.Raise(ctx, []database.AlertEvent{highTempEvent(), power})
	d.Wait()

	if sink.count() != 2 {
		t.Errorf("Expected one notification per type, got %d", sink.count())
	}
}

func TestDispatcher_CooldownIsPerDevice(t *testing.T) {
	d, store, sink := newTestDispatcher(t, true)
	ctx := context.Background()

	alpha := highTempEvent()
	alpha.Device = "alpha"
	beta := highTempEvent()
	beta.Device = "beta"

	d.Raise(ctx, []database.AlertEvent{alpha})
	d.Raise(ctx, []database.AlertEvent{beta})
	d.Raise(ctx, []database.AlertEvent{alpha})
	d.Wait()

	if sink.count() != 2 {
		t.Errorf("Expected one notification per device, got %d", sink.count())
	}

	recent, err := store.RecentAlert(ctx, database.AlertHighTemp, "beta", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("RecentAlert failed: %v", err)
	}
	if !recent {
		t.Errorf("Expected a notified alert for beta, got none")
	}
}

func TestDispatcher_TelegramDisabledStillLogs(t *testing.T) {
	d, store, sink := newTestDispatcher(t, false)
	ctx := context.Background()

	recorded, err := d.Raise(ctx, []database.AlertEvent{highTempEvent()})
	if err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	d.Wait()

	if sink.count() != 0 {
		t.Errorf("Expected no notification, got %d", sink.count())
	}
	if len(recorded) != 1 || recorded[0].Notified {
		t.Errorf("Expected one un-notified event, got %+v", recorded)
	}

	events, _ := store.AlertsSince(ctx, time.Now().Add(-time.Hour), 0)
	if len(events) != 1 {
		t.Errorf("Expected the event to be logged, got %d", len(events))
	}
}

func TestDispatcher_SinkErrorIsNotPropagated(t *testing.T) {
	d, _, sink := newTestDispatcher(t, true)
	sink.err = errors.New("boom")

	if _, err := d.Raise(context.Background(), []database.AlertEvent{highTempEvent()}); err != nil {
		t.Errorf("Expected sink failure to stay out of Raise, got %v", err)
	}
	d.Wait()

	if sink.count() != 1 {
		t.Errorf("Expected one attempt, got %d", sink.count())
	}
}

func TestDispatcher_ListenersSeeEvents(t *testing.T) {
	d, _, _ := newTestDispatcher(t, false)

	var seen []database.AlertType
	d.OnEvent(func(e database.AlertEvent) { seen = append(seen, e.Type) })

	d.Raise(context.Background(), []database.AlertEvent{highTempEvent()})
	if len(seen) != 1 || seen[0] != database.AlertHighTemp {
		t.Errorf("Expected listener to see high_temp, got %v", seen)
	}
}

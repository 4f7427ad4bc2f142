package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"bitaxe-monitor/internal/database"
)

func TestNextSummaryRun(t *testing.T) {
	loc := time.FixedZone("test", 2*3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before hour", time.Date(2024, 5, 1, 7, 30, 0, 0, loc), time.Date(2024, 5, 1, 8, 0, 0, 0, loc)},
		{"exactly at hour", time.Date(2024, 5, 1, 8, 0, 0, 0, loc), time.Date(2024, 5, 2, 8, 0, 0, 0, loc)},
		{"after hour", time.Date(2024, 5, 1, 20, 0, 0, 0, loc), time.Date(2024, 5, 2, 8, 0, 0, 0, loc)},
		{"month end", time.Date(2024, 5, 31, 9, 0, 0, 0, loc), time.Date(2024, 6, 1, 8, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextSummaryRun(tt.now, 8); !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEngine_DailySummary(t *testing.T) {
	engine, store, sink := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := engine.DailySummary(ctx); err != ErrNoSummaryData {
		t.Errorf("Expected ErrNoSummaryData on an empty store, got %v", err)
	}

	hostname := "bitaxe<1>"
	uptime := int64(7200)
	for _, v := range []struct{ hr, temp, power float64 }{{500, 60, 12}, {700, 62, 14}} {
		hr, temp, power := v.hr, v.temp, v.power
		store.InsertSample(ctx, &database.Sample{
			Timestamp:     time.Now().UTC(),
			HashRate:      &hr,
			Temp:          &temp,
			Power:         &power,
			Hostname:      &hostname,
			UptimeSeconds: &uptime,
		})
	}

	message, err := engine.DailySummary(ctx)
	if err != nil {
		t.Fatalf("DailySummary failed: %v", err)
	}

	for _, want := range []string{
		"📊 <b>Daily Mining Summary</b>",
		"<b>Miner:</b> bitaxe&lt;1&gt;",
		"600.00 GH/s",
		"61.0°C",
		"13.0W",
		"21.7 J/TH",
		"2.0 hours",
		"<b>Data Points:</b> 2",
	} {
		if !strings.Contains(message, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, message)
		}
	}

	sent, err := engine.SendDailySummary(ctx)
	if err != nil || !sent {
		t.Fatalf("Expected the summary to be sent, got %v (%v)", sent, err)
	}
	engine.Dispatcher().Wait()
	if len(sink.sent()) != 1 {
		t.Errorf("Expected 1 message, got %d", len(sink.sent()))
	}

	store.SetSetting(ctx, database.KeyDailySummaryEnabled, "false")
	if sent, _ := engine.SendDailySummary(ctx); sent {
		t.Error("Expected no summary when disabled")
	}
}

package alerting

import (
	"testing"
	"time"

	"bitaxe-monitor/internal/database"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }

func flag(v bool) *database.Flag {
	f := database.Flag(v)
	return &f
}

func types(events []database.AlertEvent) map[database.AlertType]database.AlertEvent {
	out := make(map[database.AlertType]database.AlertEvent)
	for _, e := range events {
		out[e.Type] = e
	}
	return out
}

func healthySample() *database.Sample {
	return &database.Sample{
		Power:          f64(12),
		Temp:           f64(60),
		VRTemp:         f64(55),
		HashRate:       f64(500),
		SharesAccepted: i64(1000),
		SharesRejected: i64(1),
	}
}

func TestEvaluate_HealthySampleRaisesNothing(t *testing.T) {
	events := Evaluate(healthySample(), healthySample(), database.DefaultSettings())
	if len(events) != 0 {
		t.Errorf("Expected no events, got %+v", events)
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	settings := database.DefaultSettings()

	tests := []struct {
		name   string
		modify func(s *database.Sample)
		want   []database.AlertType
	}{
		{"temp at limit", func(s *database.Sample) { s.Temp = f64(85) }, nil},
		{"high temp", func(s *database.Sample) { s.Temp = f64(85.1) }, []database.AlertType{database.AlertHighTemp}},
		{"critical temp", func(s *database.Sample) { s.Temp = f64(96) }, []database.AlertType{database.AlertHighTemp, database.AlertCriticalTemp}},
		{"missing temp", func(s *database.Sample) { s.Temp = nil }, nil},
		{"high vr temp", func(s *database.Sample) { s.VRTemp = f64(79) }, []database.AlertType{database.AlertHighVRTemp}},
		{"high power", func(s *database.Sample) { s.Power = f64(21) }, []database.AlertType{database.AlertHighPower}},
		{"low hash rate", func(s *database.Sample) { s.HashRate = f64(399) }, []database.AlertType{database.AlertLowHashRate}},
		{"high hash rate", func(s *database.Sample) { s.HashRate = f64(801) }, []database.AlertType{database.AlertHighHashRate}},
		{"high reject rate", func(s *database.Sample) { s.SharesRejected = i64(50) }, []database.AlertType{database.AlertHighRejectRate}},
		{"reject counts missing", func(s *database.Sample) { s.SharesAccepted = nil }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := healthySample()
			tt.modify(s)
			got := types(Evaluate(s, nil, settings))
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for _, w := range tt.want {
				if _, ok := got[w]; !ok {
					t.Errorf("Expected %s in %v", w, got)
				}
			}
		})
	}
}

func TestEvaluate_HighTempEvent(t *testing.T) {
	s := healthySample()
	s.Temp = f64(90)

	got := types(Evaluate(s, nil, database.DefaultSettings()))
	event, ok := got[database.AlertHighTemp]
	if !ok {
		t.Fatal("Expected high_temp event")
	}
	if *event.Value != 90 || *event.Threshold != 85 {
		t.Errorf("Unexpected value/threshold %v/%v", *event.Value, *event.Threshold)
	}
	if event.Severity != database.SeverityWarning {
		t.Errorf("Expected warning severity, got %s", event.Severity)
	}
	if event.Message != "⚠️ High temperature detected: 90.0°C (limit: 85.0°C)" {
		t.Errorf("Unexpected message %q", event.Message)
	}
	if _, ok := got[database.AlertCriticalTemp]; ok {
		t.Error("Expected no critical alert at 90°C")
	}
}

func TestEvaluate_HashRateDrop(t *testing.T) {
	prev := healthySample()
	cur := healthySample()
	cur.HashRate = f64(399.9)
	prev.HashRate = f64(500)

	got := types(Evaluate(cur, prev, database.DefaultSettings()))
	if _, ok := got[database.AlertHashRateDrop]; !ok {
		t.Error("Expected hash_rate_drop for a 20% drop")
	}

	cur.HashRate = f64(400)
	got = types(Evaluate(cur, prev, database.DefaultSettings()))
	if _, ok := got[database.AlertHashRateDrop]; ok {
		t.Error("Expected no drop at exactly 80%")
	}

	prev.HashRate = f64(0)
	cur.HashRate = f64(0)
	got = types(Evaluate(cur, prev, database.DefaultSettings()))
	if _, ok := got[database.AlertHashRateDrop]; ok {
		t.Error("Expected no drop when previous hash rate is zero")
	}
}

func TestEvaluate_FallbackTransitions(t *testing.T) {
	settings := database.DefaultSettings()

	cur := healthySample()
	cur.IsUsingFallbackStratum = flag(true)
	if _, ok := types(Evaluate(cur, nil, settings))[database.AlertFallbackStratum]; !ok {
		t.Error("Expected fallback alert without previous sample")
	}

	prev := healthySample()
	prev.IsUsingFallbackStratum = flag(true)
	if _, ok := types(Evaluate(cur, prev, settings))[database.AlertFallbackStratum]; ok {
		t.Error("Expected no fallback alert while still on fallback")
	}

	cur.IsUsingFallbackStratum = flag(false)
	got := types(Evaluate(cur, prev, settings))
	recovery, ok := got[database.AlertStratumRecovery]
	if !ok {
		t.Fatal("Expected recovery alert")
	}
	if recovery.Severity != database.SeverityInfo {
		t.Errorf("Expected info severity, got %s", recovery.Severity)
	}

	if _, ok := types(Evaluate(cur, nil, settings))[database.AlertStratumRecovery]; ok {
		t.Error("Expected no recovery alert without previous sample")
	}
}

func TestEvaluate_NewBestDifficulty(t *testing.T) {
	settings := database.DefaultSettings()
	prev := healthySample()
	prev.BestDiff = str("50.0M")
	prev.BestSessionDiff = str("1.2M")
	cur := healthySample()
	cur.BestDiff = str("60.0M")
	cur.BestSessionDiff = str("1.2M")

	got := types(Evaluate(cur, prev, settings))
	best, ok := got[database.AlertNewBestDiff]
	if !ok {
		t.Fatal("Expected new_best_diff")
	}
	if *best.Value != 60_000_000 {
		t.Errorf("Expected value 60000000, got %v", *best.Value)
	}
	if _, ok := got[database.AlertNewSessionBest]; ok {
		t.Error("Expected no session alert for equal values")
	}

	cur.BestSessionDiff = str("2.5G")
	if _, ok := types(Evaluate(cur, prev, settings))[database.AlertNewSessionBest]; !ok {
		t.Error("Expected new_session_best")
	}

	cur.BestDiff = str("garbage")
	if _, ok := types(Evaluate(cur, prev, settings))[database.AlertNewBestDiff]; ok {
		t.Error("Expected unparsable difficulty to skip the rule")
	}

	if _, ok := types(Evaluate(cur, nil, settings))[database.AlertNewSessionBest]; ok {
		t.Error("Expected no achievement alerts without previous sample")
	}
}

func TestCheckOffline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	event := CheckOffline(nil, now, 30*time.Minute)
	if event == nil || event.Type != database.AlertNoData {
		t.Fatalf("Expected no_data for empty store, got %+v", event)
	}

	fresh := &database.Sample{Timestamp: now.Add(-29 * time.Minute)}
	if event := CheckOffline(fresh, now, 30*time.Minute); event != nil {
		t.Errorf("Expected nothing for a fresh sample, got %+v", event)
	}

	edge := &database.Sample{Timestamp: now.Add(-30 * time.Minute)}
	if event := CheckOffline(edge, now, 30*time.Minute); event != nil {
		t.Errorf("Expected nothing at exactly the window, got %+v", event)
	}

	stale := &database.Sample{Timestamp: now.Add(-45 * time.Minute)}
	event = CheckOffline(stale, now, 30*time.Minute)
	if event == nil || event.Type != database.AlertMinerOffline {
		t.Fatalf("Expected miner_offline, got %+v", event)
	}
	if event.Message != "🚨 Miner appears offline - last data received 45 minutes ago" {
		t.Errorf("Unexpected message %q", event.Message)
	}
	if event.Severity != database.SeverityError {
		t.Errorf("Expected error severity, got %s", event.Severity)
	}
}

package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }

func TestBoltStore_InsertAndLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LatestSample(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on empty store, got %v", err)
	}

	fallback := Flag(true)
	in := &Sample{
		Power:                  f64(12.5),
		Temp:                   f64(61.25),
		HashRate:               f64(512.3),
		BestDiff:               str("80.8M"),
		SharesAccepted:         i64(100),
		SharesRejected:         i64(1),
		Hostname:               str("bitaxe"),
		IsUsingFallbackStratum: &fallback,
	}

	id, err := store.InsertSample(ctx, in)
	if err != nil {
		t.Fatalf("InsertSample failed: %v", err)
	}
	if id != 1 {
		t.Errorf("Expected first id 1, got %d", id)
	}

	out, err := store.LatestSample(ctx)
	if err != nil {
		t.Fatalf("LatestSample failed: %v", err)
	}
	if out.ID != id {
		t.Errorf("Expected id %d, got %d", id, out.ID)
	}
	if *out.Power != 12.5 || *out.Temp != 61.25 || *out.HashRate != 512.3 {
		t.Errorf("Numeric fields did not round-trip: %+v", out)
	}
	if *out.BestDiff != "80.8M" || *out.Hostname != "bitaxe" {
		t.Errorf("String fields did not round-trip: %+v", out)
	}
	if !out.UsingFallback() {
		t.Error("Expected fallback flag to round-trip")
	}
	if out.VRTemp != nil {
		t.Errorf("Expected missing vrTemp to stay nil, got %v", *out.VRTemp)
	}
	if out.Timestamp.IsZero() {
		t.Error("Expected timestamp to be assigned")
	}

	id2, err := store.InsertSample(ctx, &Sample{Temp: f64(50)})
	if err != nil {
		t.Fatalf("InsertSample failed: %v", err)
	}
	if id2 <= id {
		t.Errorf("Expected increasing ids, got %d after %d", id2, id)
	}
}

func TestBoltStore_RecentSamples(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		s := &Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), HashRate: f64(float64(400 + i))}
		if _, err := store.InsertSample(ctx, s); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
	}

	all, err := store.SamplesSince(ctx, base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("SamplesSince failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("Expected 5 samples, got %d", len(all))
	}
	if *all[0].HashRate != 405 || *all[4].HashRate != 409 {
		t.Errorf("Expected ascending order 405..409, got %v..%v", *all[0].HashRate, *all[4].HashRate)
	}

	limited, err := store.RecentSamples(ctx, base, 3)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(limited) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(limited))
	}
	if *limited[0].HashRate != 407 || *limited[2].HashRate != 409 {
		t.Errorf("Expected newest three ascending, got %v..%v", *limited[0].HashRate, *limited[2].HashRate)
	}
}

func TestBoltStore_FirstSampleWithSessionDiff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, diff := range []string{"1.2M", "3.4M", "3.4M", "3.4M"} {
		if _, err := store.InsertSample(ctx, &Sample{BestSessionDiff: str(diff)}); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
	}

	first, err := store.FirstSampleWithSessionDiff(ctx, DefaultDevice, "3.4M")
	if err != nil {
		t.Fatalf("FirstSampleWithSessionDiff failed: %v", err)
	}
	if first.ID != 2 {
		t.Errorf("Expected earliest matching id 2, got %d", first.ID)
	}

	if _, err := store.FirstSampleWithSessionDiff(ctx, DefaultDevice, "9.9G"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.FirstSampleWithSessionDiff(ctx, "gamma", "3.4M"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another device, got %v", err)
	}
}

func TestBoltStore_DeviceIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inputs := []*Sample{
		{Device: "alpha", HashRate: f64(600)},
		{Device: "beta", HashRate: f64(450)},
		{Device: "alpha", HashRate: f64(610)},
		{HashRate: f64(1)},
	}
	for _, s := range inputs {
		if _, err := store.InsertSample(ctx, s); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
	}

	alpha, err := store.LatestSampleForDevice(ctx, "alpha")
	if err != nil {
		t.Fatalf("LatestSampleForDevice failed: %v", err)
	}
	if alpha.ID != 3 || *alpha.HashRate != 610 {
		t.Errorf("Expected alpha's newest sample id 3, got %d", alpha.ID)
	}

	if _, err := store.LatestSampleForDevice(ctx, "gamma"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown device, got %v", err)
	}

	latest, err := store.LatestSamplesByDevice(ctx)
	if err != nil {
		t.Fatalf("LatestSamplesByDevice failed: %v", err)
	}
	want := []string{"alpha", "beta", DefaultDevice}
	if len(latest) != len(want) {
		t.Fatalf("Expected %d devices, got %d", len(want), len(latest))
	}
	for i, s := range latest {
		if s.Device != want[i] {
			t.Errorf("Expected device %s at %d, got %s", want[i], i, s.Device)
		}
	}
}

func TestBoltStore_PruneForgetsDevices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	store.InsertSample(ctx, &Sample{Device: "alpha", Timestamp: old})
	store.InsertSample(ctx, &Sample{Device: "beta", Timestamp: old})
	store.InsertSample(ctx, &Sample{Device: "beta", Timestamp: time.Now().UTC()})

	if _, err := store.PruneSamples(ctx, time.Now().UTC().Add(-24*time.Hour)); err != nil {
		t.Fatalf("PruneSamples failed: %v", err)
	}

	latest, err := store.LatestSamplesByDevice(ctx)
	if err != nil {
		t.Fatalf("LatestSamplesByDevice failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Device != "beta" {
		t.Errorf("Expected only beta to remain, got %+v", latest)
	}
}

func TestBoltStore_Settings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.GetSetting(ctx, KeyTempLimit, "85")
	if err != nil || v != "85" {
		t.Fatalf("Expected default 85, got %q (%v)", v, err)
	}

	if err := store.SetSetting(ctx, KeyTempLimit, "70"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	seeded, err := store.SeedSettings(ctx, DefaultSettings().Values())
	if err != nil {
		t.Fatalf("SeedSettings failed: %v", err)
	}
	if seeded != len(DefaultSettings().Values())-1 {
		t.Errorf("Expected every key but temp_limit to be seeded, got %d", seeded)
	}

	v, _ = store.GetSetting(ctx, KeyTempLimit, "85")
	if v != "70" {
		t.Errorf("Expected seeding to keep the stored 70, got %q", v)
	}

	again, err := store.SeedSettings(ctx, DefaultSettings().Values())
	if err != nil || again != 0 {
		t.Errorf("Expected second seed to write nothing, got %d (%v)", again, err)
	}
}

func TestBoltStore_RecentAlertCountsNotifiedOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	logged := &AlertEvent{Timestamp: now.Add(-time.Minute), Type: AlertHighTemp, Severity: SeverityWarning}
	if err := store.RecordAlert(ctx, logged); err != nil {
		t.Fatalf("RecordAlert failed: %v", err)
	}
	if logged.ID == "" {
		t.Error("Expected an id to be assigned")
	}

	found, err := store.RecentAlert(ctx, AlertHighTemp, "", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("RecentAlert failed: %v", err)
	}
	if found {
		t.Error("Expected an un-notified event to be ignored")
	}

	notified := &AlertEvent{Timestamp: now.Add(-time.Minute), Type: AlertHighTemp, Severity: SeverityWarning, Notified: true}
	if err := store.RecordAlert(ctx, notified); err != nil {
		t.Fatalf("RecordAlert failed: %v", err)
	}

	found, _ = store.RecentAlert(ctx, AlertHighTemp, "", now.Add(-15*time.Minute))
	if !found {
		t.Error("Expected notified event inside the window")
	}
	found, _ = store.RecentAlert(ctx, AlertHighPower, "", now.Add(-15*time.Minute))
	if found {
		t.Error("Expected other alert types to be unaffected")
	}
	found, _ = store.RecentAlert(ctx, AlertHighTemp, "", now)
	if found {
		t.Error("Expected nothing after now")
	}
	found, _ = store.RecentAlert(ctx, AlertHighTemp, "beta", now.Add(-15*time.Minute))
	if found {
		t.Error("Expected other devices to be unaffected")
	}

	events, err := store.AlertsSince(ctx, now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("AlertsSince failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
}

func TestBoltStore_PruneIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		if _, err := store.InsertSample(ctx, &Sample{Timestamp: now.Add(-age)}); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
		if err := store.RecordAlert(ctx, &AlertEvent{Timestamp: now.Add(-age), Type: AlertNoData}); err != nil {
			t.Fatalf("RecordAlert failed: %v", err)
		}
	}

	cutoff := now.Add(-30 * 24 * time.Hour)
	n, err := store.PruneSamples(ctx, cutoff)
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 samples pruned, got %d (%v)", n, err)
	}
	n, _ = store.PruneSamples(ctx, cutoff)
	if n != 0 {
		t.Errorf("Expected second prune to remove nothing, got %d", n)
	}

	n, err = store.PruneAlerts(ctx, now.Add(-7*24*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 alerts pruned, got %d (%v)", n, err)
	}

	stats, err := store.GetDatabaseStats(ctx)
	if err != nil {
		t.Fatalf("GetDatabaseStats failed: %v", err)
	}
	if stats.TotalSamples != 1 || stats.TotalAlerts != 1 {
		t.Errorf("Expected 1 sample and 1 alert left, got %d and %d", stats.TotalSamples, stats.TotalAlerts)
	}
}

func TestBoltStore_CompactKeepsData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.InsertSample(ctx, &Sample{HashRate: f64(500)}); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
	}

	if err := store.CompactDatabase(ctx); err != nil {
		t.Fatalf("CompactDatabase failed: %v", err)
	}

	latest, err := store.LatestSample(ctx)
	if err != nil {
		t.Fatalf("LatestSample after compaction failed: %v", err)
	}
	if latest.ID != 5 {
		t.Errorf("Expected id 5 after compaction, got %d", latest.ID)
	}
}

func TestBoltStore_CompactRenameFailureKeepsServing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.InsertSample(ctx, &Sample{HashRate: f64(500)})

	renameFile = func(oldpath, newpath string) error { return os.ErrPermission }
	defer func() { renameFile = os.Rename }()

	if err := store.CompactDatabase(ctx); err == nil {
		t.Fatal("Expected the failed rename to be reported")
	}

	if _, err := store.InsertSample(ctx, &Sample{HashRate: f64(510)}); err != nil {
		t.Fatalf("Expected the original file to keep serving, got %v", err)
	}
	latest, err := store.LatestSample(ctx)
	if err != nil || latest.ID != 2 {
		t.Errorf("Expected id 2, got %+v (%v)", latest, err)
	}
}

func TestBoltStore_CompactReopenFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.InsertSample(ctx, &Sample{HashRate: f64(500)})

	original := openBolt
	calls := 0
	openBolt = func(path string) (*bbolt.DB, error) {
		calls++
		if calls > 1 {
			return nil, errors.New("disk gone")
		}
		return original(path)
	}
	defer func() { openBolt = original }()

	if err := store.CompactDatabase(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}

	if _, err := store.InsertSample(ctx, &Sample{HashRate: f64(510)}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable from InsertSample, got %v", err)
	}
	if _, err := store.LatestSample(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable from LatestSample, got %v", err)
	}
	if err := store.CompactDatabase(ctx); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable from a second compaction, got %v", err)
	}
}

func TestSampleStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inputs := []*Sample{
		{Timestamp: now.Add(-3 * time.Hour), HashRate: f64(400), Temp: f64(50), Power: f64(10), UptimeSeconds: i64(3600)},
		{Timestamp: now.Add(-2 * time.Hour), HashRate: f64(600), Temp: f64(60), Power: f64(12), UptimeSeconds: i64(7200)},
		{Timestamp: now.Add(-time.Hour), Temp: f64(70)},
	}
	for _, s := range inputs {
		if _, err := store.InsertSample(ctx, s); err != nil {
			t.Fatalf("InsertSample failed: %v", err)
		}
	}

	stats, err := store.SampleStats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("SampleStats failed: %v", err)
	}
	if stats.Count != 3 {
		t.Errorf("Expected count 3, got %d", stats.Count)
	}
	if stats.HashRateAvg != 500 || stats.HashRateMin != 400 || stats.HashRateMax != 600 {
		t.Errorf("Unexpected hash rate aggregate: %+v", stats)
	}
	if stats.TempAvg != 60 || stats.TempMax != 70 {
		t.Errorf("Unexpected temperature aggregate: %+v", stats)
	}
	if stats.UptimeHours != 2 {
		t.Errorf("Expected 2 uptime hours, got %.2f", stats.UptimeHours)
	}
}

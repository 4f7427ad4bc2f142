package projection

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"bitaxe-monitor/internal/database"
)

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func window(start time.Time, n int, hashRate float64, diff string) []database.Sample {
	samples := make([]database.Sample, n)
	for i := range samples {
		samples[i] = database.Sample{
			ID:              uint64(i + 1),
			Timestamp:       start.Add(time.Duration(i) * time.Minute),
			HashRate:        f64(hashRate),
			BestSessionDiff: str(diff),
		}
	}
	return samples
}

func TestCompute_ConstantHashRate(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	samples := window(start, 60, 500, "80.8M")

	r := Compute(samples, &samples[0])
	if r.Status != StatusOK {
		t.Fatalf("Expected ok, got %s (%s)", r.Status, r.Reason)
	}

	want := 80_800_000 * math.Pow(2, 32) / (500 * 1e9)
	if math.Abs(r.ExpectedSeconds-want)/want > 1e-9 {
		t.Errorf("Expected %.4f seconds, got %.4f", want, r.ExpectedSeconds)
	}
	if r.AvgHashRate != 500 {
		t.Errorf("Expected average 500, got %v", r.AvgHashRate)
	}
	if r.ElapsedSeconds != 59*60 {
		t.Errorf("Expected 3540s elapsed, got %v", r.ElapsedSeconds)
	}
	if r.Luck != "ahead" {
		t.Errorf("Expected ahead, got %s", r.Luck)
	}
	if math.Abs(r.ChancePerDay-86400/want) > 1e-12 {
		t.Errorf("Unexpected daily chance %v", r.ChancePerDay)
	}
	if !strings.HasSuffix(r.ElapsedHuman, "minutes") {
		t.Errorf("Expected elapsed in minutes, got %s", r.ElapsedHuman)
	}
}

func TestCompute_ProbabilitiesClamped(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	samples := window(start, 3, 500, "1.0k")

	r := Compute(samples, &samples[0])
	if r.ChancePerDay != maxProbability || r.ChancePerYear != maxProbability {
		t.Errorf("Expected clamped probabilities, got %v / %v", r.ChancePerDay, r.ChancePerYear)
	}
	if r.Luck != "behind" {
		t.Errorf("Expected behind when elapsed exceeds expected, got %s", r.Luck)
	}
}

func TestCompute_InsufficientData(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	if r := Compute(nil, nil); r.Status != StatusInsufficientData {
		t.Error("Expected insufficient data for empty window")
	}

	bad := window(start, 3, 500, "80.8")
	if r := Compute(bad, &bad[0]); r.Status != StatusInsufficientData {
		t.Error("Expected insufficient data for unsuffixed difficulty")
	}

	zero := window(start, 3, 500, "0.0M")
	if r := Compute(zero, &zero[0]); r.Status != StatusInsufficientData {
		t.Error("Expected insufficient data for zero difficulty")
	}

	ok := window(start, 3, 500, "1.0M")
	if r := Compute(ok, nil); r.Status != StatusInsufficientData {
		t.Error("Expected insufficient data without streak start")
	}
}

func TestCompute_ZeroHashRateIsInfinite(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	samples := window(start, 3, 0, "1.0M")

	r := Compute(samples, &samples[0])
	if !math.IsInf(r.ExpectedSeconds, 1) {
		t.Fatalf("Expected infinite time, got %v", r.ExpectedSeconds)
	}
	if r.ExpectedHuman != "never" {
		t.Errorf("Expected never, got %s", r.ExpectedHuman)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Expected infinite result to encode, got %v", err)
	}
	if !strings.Contains(string(data), `"expected_seconds":null`) {
		t.Errorf("Expected null expected_seconds, got %s", data)
	}
}

func TestHumanize(t *testing.T) {
	tests := map[float64]string{
		30:        "30.00 seconds",
		90:        "1.50 minutes",
		7200:      "2.00 hours",
		3 * 86400: "3.00 days",
	}
	for in, want := range tests {
		if got := Humanize(in); got != want {
			t.Errorf("Humanize(%v) = %s, expected %s", in, got, want)
		}
	}
}

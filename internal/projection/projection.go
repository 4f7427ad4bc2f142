// internal/projection/projection.go - time-to-new-best-difficulty estimate
package projection

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/difficulty"
)

type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
)

const (
	hashesPerShare = 4294967296 // 2^32 hashes per unit of difficulty
	maxProbability = 0.9999

	secondsPerDay   = 86400
	secondsPerMonth = 30 * secondsPerDay
	secondsPerYear  = 365 * secondsPerDay
)

// Result is the projection for the current best session difficulty.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Device string `json:"device,omitempty"`

	SampleCount     int       `json:"sample_count"`
	AvgHashRate     float64   `json:"avg_hash_rate_ghs"`
	BestSessionDiff string    `json:"best_session_diff"`
	Difficulty      float64   `json:"difficulty"`
	ChancePerSecond float64   `json:"chance_per_second"`
	ChancePerDay    float64   `json:"chance_per_day"`
	ChancePerMonth  float64   `json:"chance_per_month"`
	ChancePerYear   float64   `json:"chance_per_year"`
	ExpectedSeconds float64   `json:"-"`
	ExpectedHuman   string    `json:"expected_human"`
	StreakStart     time.Time `json:"streak_start"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"`
	ElapsedHuman    string    `json:"elapsed_human"`
	Luck            string    `json:"luck"`
}

// MarshalJSON encodes an infinite expected time as null.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	var expected *float64
	if !math.IsInf(r.ExpectedSeconds, 0) && r.Status == StatusOK {
		expected = &r.ExpectedSeconds
	}
	return json.Marshal(struct {
		plain
		ExpectedSeconds *float64 `json:"expected_seconds"`
	}{plain(r), expected})
}

func insufficient(reason string) Result {
	return Result{Status: StatusInsufficientData, Reason: reason}
}

// Compute estimates how long the miner should need to beat its current best
// session difficulty. samples is the window in ascending order; streakStart
// is the earliest sample sharing the latest best session difficulty.
func Compute(samples []database.Sample, streakStart *database.Sample) Result {
	if len(samples) == 0 {
		return insufficient("no samples in window")
	}

	latest := samples[len(samples)-1]
	if latest.BestSessionDiff == nil {
		return insufficient("latest sample has no best session difficulty")
	}

	d := difficulty.Parse(*latest.BestSessionDiff)
	if !d.OK || d.Value <= 0 {
		return insufficient(fmt.Sprintf("unparsable best session difficulty %q", *latest.BestSessionDiff))
	}
	if streakStart == nil {
		return insufficient("no sample found for the current best session difficulty")
	}

	var sum float64
	var n int
	for i := range samples {
		if samples[i].HashRate != nil {
			sum += *samples[i].HashRate
			n++
		}
	}
	if n == 0 {
		return insufficient("no hash rate in window")
	}

	avg := sum / float64(n)
	hashesPerSecond := avg * 1e9
	chance := hashesPerSecond / (d.Value * hashesPerShare)

	expected := math.Inf(1)
	if chance > 0 {
		expected = 1 / chance
	}

	elapsed := latest.Timestamp.Sub(streakStart.Timestamp).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	luck := "behind"
	if elapsed < expected {
		luck = "ahead"
	}

	return Result{
		Status:          StatusOK,
		SampleCount:     len(samples),
		AvgHashRate:     avg,
		BestSessionDiff: *latest.BestSessionDiff,
		Difficulty:      d.Value,
		ChancePerSecond: chance,
		ChancePerDay:    clamp(chance * secondsPerDay),
		ChancePerMonth:  clamp(chance * secondsPerMonth),
		ChancePerYear:   clamp(chance * secondsPerYear),
		ExpectedSeconds: expected,
		ExpectedHuman:   Humanize(expected),
		StreakStart:     streakStart.Timestamp,
		ElapsedSeconds:  elapsed,
		ElapsedHuman:    Humanize(elapsed),
		Luck:            luck,
	}
}

func clamp(p float64) float64 {
	if p > maxProbability {
		return maxProbability
	}
	return p
}

// Humanize renders seconds in the largest unit below which the value stays
// under the next threshold.
func Humanize(seconds float64) string {
	switch {
	case math.IsInf(seconds, 1):
		return "never"
	case seconds < 60:
		return fmt.Sprintf("%.2f seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%.2f minutes", seconds/60)
	case seconds < secondsPerDay:
		return fmt.Sprintf("%.2f hours", seconds/3600)
	default:
		return fmt.Sprintf("%.2f days", seconds/secondsPerDay)
	}
}

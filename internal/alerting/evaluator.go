// internal/alerting/evaluator.go
package alerting

import (
	"time"

	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/difficulty"
)

// HashRateDropRatio is the fraction of the previous hash rate below which a
// drop is reported.
const HashRateDropRatio = 0.8

// Evaluate applies every rule to current, using previous for the transition
// rules. It has no side effects. Returned events carry no id or timestamp;
// the Dispatcher assigns them.
func Evaluate(current, previous *database.Sample, s database.Settings) []database.AlertEvent {
	if current == nil {
		return nil
	}

	var events []database.AlertEvent
	add := func(t database.AlertType, sev database.Severity, msg string, value, threshold *float64) {
		events = append(events, database.AlertEvent{
			Type:      t,
			Severity:  sev,
			Message:   msg,
			Value:     value,
			Threshold: threshold,
		})
	}

	// Thermal
	if current.Temp != nil {
		temp := *current.Temp
		if temp > s.TempLimit {
			add(database.AlertHighTemp, database.SeverityWarning,
				highTempMessage(temp, s.TempLimit), ptr(temp), ptr(s.TempLimit))
		}
		if critical := s.CriticalTempLimit(); temp > critical {
			add(database.AlertCriticalTemp, database.SeverityCritical,
				criticalTempMessage(temp), ptr(temp), ptr(critical))
		}
	}
	if current.VRTemp != nil && *current.VRTemp > s.VRTempLimit {
		add(database.AlertHighVRTemp, database.SeverityWarning,
			highVRTempMessage(*current.VRTemp, s.VRTempLimit), ptr(*current.VRTemp), ptr(s.VRTempLimit))
	}

	// Power
	if current.Power != nil && *current.Power > s.PowerLimit {
		add(database.AlertHighPower, database.SeverityWarning,
			highPowerMessage(*current.Power, s.PowerLimit, current.Efficiency()), ptr(*current.Power), ptr(s.PowerLimit))
	}

	// Performance
	if current.HashRate != nil {
		rate := *current.HashRate
		if rate < s.HashRateLowLimit {
			add(database.AlertLowHashRate, database.SeverityWarning,
				lowHashRateMessage(rate, s.HashRateLowLimit), ptr(rate), ptr(s.HashRateLowLimit))
		}
		if rate > s.HashRateHighLimit {
			add(database.AlertHighHashRate, database.SeverityWarning,
				highHashRateMessage(rate, s.HashRateHighLimit), ptr(rate), ptr(s.HashRateHighLimit))
		}
	}
	if rr := current.RejectRate(); rr > s.RejectRateLimit {
		add(database.AlertHighRejectRate, database.SeverityWarning,
			highRejectRateMessage(rr, s.RejectRateLimit), ptr(rr), ptr(s.RejectRateLimit))
	}
	if previous != nil && previous.HashRate != nil && *previous.HashRate > 0 && current.HashRate != nil {
		threshold := *previous.HashRate * HashRateDropRatio
		if *current.HashRate < threshold {
			add(database.AlertHashRateDrop, database.SeverityWarning,
				hashRateDropMessage(*current.HashRate, *previous.HashRate), ptr(*current.HashRate), ptr(threshold))
		}
	}

	// Pool connection
	if current.UsingFallback() {
		if previous == nil || !previous.UsingFallback() {
			add(database.AlertFallbackStratum, database.SeverityWarning, fallbackStratumMessage, nil, nil)
		}
	} else if previous != nil && previous.UsingFallback() {
		add(database.AlertStratumRecovery, database.SeverityInfo, stratumRecoveryMessage, nil, nil)
	}

	// Achievements
	if previous != nil {
		cur := difficulty.ParsePtr(current.BestDiff)
		if difficulty.Greater(cur, difficulty.ParsePtr(previous.BestDiff)) {
			add(database.AlertNewBestDiff, database.SeverityInfo,
				newBestDiffMessage(*current.BestDiff), ptr(cur.Value), nil)
		}
		curSession := difficulty.ParsePtr(current.BestSessionDiff)
		if difficulty.Greater(curSession, difficulty.ParsePtr(previous.BestSessionDiff)) {
			add(database.AlertNewSessionBest, database.SeverityInfo,
				newSessionBestMessage(*current.BestSessionDiff), ptr(curSession.Value), nil)
		}
	}

	return events
}

// CheckOffline returns the watchdog event for the latest sample, or nil when
// the miner is reporting. A nil latest means the store is empty.
func CheckOffline(latest *database.Sample, now time.Time, offlineAfter time.Duration) *database.AlertEvent {
	if latest == nil {
		return &database.AlertEvent{
			Type:     database.AlertNoData,
			Severity: database.SeverityError,
			Message:  noDataMessage,
		}
	}

	elapsed := now.Sub(latest.Timestamp)
	if elapsed <= offlineAfter {
		return nil
	}

	minutes := elapsed.Minutes()
	return &database.AlertEvent{
		Type:      database.AlertMinerOffline,
		Severity:  database.SeverityError,
		Message:   minerOfflineMessage(elapsed),
		Value:     ptr(minutes),
		Threshold: ptr(offlineAfter.Minutes()),
	}
}

func ptr(v float64) *float64 { return &v }

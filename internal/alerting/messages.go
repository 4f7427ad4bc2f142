// internal/alerting/messages.go
package alerting

import (
	"fmt"
	"time"
)

func highTempMessage(temp, limit float64) string {
	return fmt.Sprintf("⚠️ High temperature detected: %.1f°C (limit: %.1f°C)", temp, limit)
}

func criticalTempMessage(temp float64) string {
	return fmt.Sprintf("🚨 CRITICAL temperature detected: %.1f°C", temp)
}

func highVRTempMessage(temp, limit float64) string {
	return fmt.Sprintf("⚠️ High VR temperature detected: %.1f°C (limit: %.1f°C)", temp, limit)
}

func highPowerMessage(power, limit, efficiency float64) string {
	return fmt.Sprintf("⚠️ High power consumption: %.1fW (limit: %.1fW) | Efficiency: %.1f J/TH", power, limit, efficiency)
}

func lowHashRateMessage(rate, limit float64) string {
	return fmt.Sprintf("⚠️ Low hash rate: %.2f GH/s (limit: %.2f GH/s)", rate, limit)
}

func highHashRateMessage(rate, limit float64) string {
	return fmt.Sprintf("⚠️ Unusually high hash rate: %.2f GH/s (limit: %.2f GH/s)", rate, limit)
}

func highRejectRateMessage(rate, limit float64) string {
	return fmt.Sprintf("⚠️ High reject rate: %.2f%% (limit: %.2f%%)", rate*100, limit*100)
}

func hashRateDropMessage(current, previous float64) string {
	return fmt.Sprintf("⚠️ Significant hash rate drop: %.2f GH/s (was: %.2f GH/s)", current, previous)
}

const (
	fallbackStratumMessage = "⚠️ Miner switched to fallback stratum"
	stratumRecoveryMessage = "✅ Miner recovered from fallback stratum"
	noDataMessage          = "🚨 No data in database - miner may be offline"
)

func newBestDiffMessage(diff string) string {
	return fmt.Sprintf("🎉 New best OVERALL difficulty: %s", diff)
}

func newSessionBestMessage(diff string) string {
	return fmt.Sprintf("🎉 New best SESSION difficulty: %s", diff)
}

func minerOfflineMessage(since time.Duration) string {
	return fmt.Sprintf("🚨 Miner appears offline - last data received %d minutes ago", int(since.Minutes()))
}

// internal/monitoring/summary.go - daily Telegram summary
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/database"
)

// ErrNoSummaryData is returned when the last day holds no samples.
var ErrNoSummaryData = errors.New("no data available for daily summary")

// DailySummary renders the HTML summary of the last 24 hours.
func (e *Engine) DailySummary(ctx context.Context) (string, error) {
	since := e.now().UTC().Add(-24 * time.Hour)

	stats, err := e.store.SampleStats(ctx, since)
	if err != nil {
		return "", fmt.Errorf("failed to compute stats: %w", err)
	}
	if stats.Count == 0 {
		return "", ErrNoSummaryData
	}

	latest, err := e.store.LatestSample(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read latest sample: %w", err)
	}

	alerts, err := e.store.AlertsSince(ctx, since, 0)
	if err != nil {
		return "", fmt.Errorf("failed to count alerts: %w", err)
	}

	hostname := "Unknown"
	if latest.Hostname != nil && *latest.Hostname != "" {
		hostname = *latest.Hostname
	}

	var efficiency float64
	if stats.HashRateAvg > 0 {
		efficiency = stats.PowerAvg / (stats.HashRateAvg / 1000)
	}

	var uptimeHours float64
	if latest.UptimeSeconds != nil {
		uptimeHours = float64(*latest.UptimeSeconds) / 3600
	}

	var b strings.Builder
	b.WriteString("📊 <b>Daily Mining Summary</b>\n\n")
	fmt.Fprintf(&b, "🏷️ <b>Miner:</b> %s\n", html.EscapeString(hostname))
	fmt.Fprintf(&b, "📈 <b>24h Avg Hash Rate:</b> %.2f GH/s\n", stats.HashRateAvg)
	fmt.Fprintf(&b, "🌡️ <b>24h Avg Temperature:</b> %.1f°C\n", stats.TempAvg)
	fmt.Fprintf(&b, "🔌 <b>24h Avg Power:</b> %.1fW\n", stats.PowerAvg)
	fmt.Fprintf(&b, "📊 <b>24h Avg Efficiency:</b> %.1f J/TH\n", efficiency)
	fmt.Fprintf(&b, "⏱️ <b>Current Uptime:</b> %.1f hours\n", uptimeHours)
	fmt.Fprintf(&b, "📉 <b>Data Points:</b> %d\n", stats.Count)
	fmt.Fprintf(&b, "🔔 <b>Alerts:</b> %d", len(alerts))

	return b.String(), nil
}

// SendDailySummary sends the summary when the daily summary and Telegram are
// enabled. It reports whether a message was scheduled.
func (e *Engine) SendDailySummary(ctx context.Context) (bool, error) {
	settings, err := database.LoadSettings(ctx, e.store)
	if err != nil {
		return false, fmt.Errorf("failed to load settings: %w", err)
	}
	if !settings.DailySummaryEnabled || !settings.TelegramEnabled {
		logrus.Debug("Daily summary disabled, skipping")
		return false, nil
	}

	message, err := e.DailySummary(ctx)
	if errors.Is(err, ErrNoSummaryData) {
		logrus.Warn("No data available for daily summary")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !e.dispatcher.Notify("daily_summary", message) {
		return false, nil
	}
	logrus.Info("Daily summary sent")
	return true, nil
}

// nextSummaryRun returns the next local time at hour:00 strictly after now.
func nextSummaryRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (e *Engine) runDailySummary(ctx context.Context) {
	hour := e.config.Monitoring.DailySummaryHour
	backoff := e.config.Monitoring.ErrorBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	for {
		next := nextSummaryRun(e.now(), hour)
		logrus.WithField("next_run", next).Debug("Scheduled daily summary")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		for {
			_, err := e.SendDailySummary(ctx)
			if err == nil {
				break
			}
			logrus.WithError(err).WithField("backoff", backoff).Error("Failed to send daily summary")

			// Retry while still inside the scheduled hour.
			if e.now().Sub(next) > time.Hour {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}
}

// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bitaxe-monitor/internal/database"
)

// Prometheus metrics
var (
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitaxe_samples_ingested_total",
			Help: "Total number of telemetry samples received",
		},
		[]string{"source", "status"},
	)

	HashRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_hash_rate_ghs",
			Help: "Hash rate of the latest sample in GH/s",
		},
	)

	Temperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bitaxe_temperature_celsius",
			Help: "Temperatures of the latest sample",
		},
		[]string{"sensor"},
	)

	Power = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_power_watts",
			Help: "Power draw of the latest sample",
		},
	)

	Efficiency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_efficiency_joules_per_terahash",
			Help: "Efficiency of the latest sample in J/TH",
		},
	)

	RejectRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_reject_rate_ratio",
			Help: "Rejected shares over all shares for the latest sample",
		},
	)

	LastSampleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_last_sample_timestamp_seconds",
			Help: "Unix time of the most recent sample",
		},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitaxe_alerts_total",
			Help: "Total number of alert events raised",
		},
		[]string{"alert_type", "severity", "notified"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitaxe_notifications_total",
			Help: "Total notification attempts by outcome",
		},
		[]string{"status"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bitaxe_poll_duration_seconds",
			Help:    "Time spent fetching telemetry from a miner",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"miner", "status"},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitaxe_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	DatabaseSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_database_size_bytes",
			Help: "Size of the database file",
		},
	)

	StoredSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_stored_samples",
			Help: "Number of samples currently retained",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bitaxe_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

// RecordSample updates the device gauges from a freshly stored sample.
func (c *Collector) RecordSample(source string, sample *database.Sample) {
	SamplesIngested.WithLabelValues(source, "success").Inc()
	LastSampleTimestamp.Set(float64(sample.Timestamp.Unix()))

	if sample.HashRate != nil {
		HashRate.Set(*sample.HashRate)
	}
	if sample.Temp != nil {
		Temperature.WithLabelValues("asic").Set(*sample.Temp)
	}
	if sample.VRTemp != nil {
		Temperature.WithLabelValues("vr").Set(*sample.VRTemp)
	}
	if sample.Power != nil {
		Power.Set(*sample.Power)
	}
	if eff := sample.Efficiency(); eff > 0 {
		Efficiency.Set(eff)
	}
	RejectRate.Set(sample.RejectRate())
}

func (c *Collector) RecordIngestFailure(source string) {
	SamplesIngested.WithLabelValues(source, "error").Inc()
}

func (c *Collector) RecordAlert(event *database.AlertEvent) {
	notified := "false"
	if event.Notified {
		notified = "true"
	}
	AlertsRaised.WithLabelValues(string(event.Type), string(event.Severity), notified).Inc()
}

// RecordNotification counts a send by outcome: sent, error or throttled.
func (c *Collector) RecordNotification(status string) {
	NotificationsTotal.WithLabelValues(status).Inc()
}

func (c *Collector) RecordPoll(miner string, ok bool, duration time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	PollDuration.WithLabelValues(miner, status).Observe(duration.Seconds())
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// UpdateSystemMetrics refreshes the gauges derived from the store.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	stats, err := c.store.GetDatabaseStats(ctx)
	c.RecordDatabaseOperation("get_stats", err)
	if err != nil {
		return err
	}

	DatabaseSize.Set(float64(stats.DatabaseSize))
	StoredSamples.Set(float64(stats.TotalSamples))
	if !stats.NewestSample.IsZero() {
		LastSampleTimestamp.Set(float64(stats.NewestSample.Unix()))
	}

	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

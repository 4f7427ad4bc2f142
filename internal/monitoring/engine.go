// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/alerting"
	"bitaxe-monitor/internal/config"
	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/metrics"
	"bitaxe-monitor/internal/projection"
)

// LatestCache is an optional write-through cache in front of the store.
type LatestCache interface {
	SetLatest(ctx context.Context, sample *database.Sample) error
	GetLatest(ctx context.Context) (*database.Sample, error)
	Invalidate(ctx context.Context) error
}

// CacheReporter is implemented by caches that can report their health.
type CacheReporter interface {
	Ping(ctx context.Context) error
	IngestedCount(ctx context.Context) (int64, error)
}

// Broadcaster pushes live updates to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, data interface{})
}

type Engine struct {
	config     *config.Config
	store      database.Store
	metrics    *metrics.Collector
	dispatcher *alerting.Dispatcher
	poller     *Poller
	now        func() time.Time

	mu          sync.RWMutex
	cache       LatestCache
	broadcaster Broadcaster
	running     bool
	cancel      context.CancelFunc
	loops       sync.WaitGroup

	// ingestMu serializes ingestion and cache writes.
	ingestMu sync.Mutex
}

func NewEngine(cfg *config.Config, store database.Store, collector *metrics.Collector, dispatcher *alerting.Dispatcher) (*Engine, error) {
	if cfg == nil || store == nil || dispatcher == nil {
		return nil, fmt.Errorf("config, store and dispatcher are required")
	}

	engine := &Engine{
		config:     cfg,
		store:      store,
		metrics:    collector,
		dispatcher: dispatcher,
		now:        time.Now,
	}

	dispatcher.OnEvent(engine.publishAlert)

	if miners := cfg.EnabledMiners(); len(miners) > 0 {
		engine.poller = NewPoller(engine, NewAxeOSFetcher(cfg.Monitoring.PollTimeout), miners)
	}

	return engine, nil
}

// SetCache attaches the latest-sample cache.
func (e *Engine) SetCache(c LatestCache) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = c
}

func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

func (e *Engine) Store() database.Store {
	return e.store
}

func (e *Engine) Dispatcher() *alerting.Dispatcher {
	return e.dispatcher
}

// Start seeds missing settings and launches the background loops. The loops
// stop when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	logrus.Info("Starting monitoring engine")

	if err := e.seedSettings(ctx); err != nil {
		logrus.WithError(err).Error("Failed to seed settings")
		e.Stop()
		return err
	}

	mon := e.config.Monitoring
	e.goLoop(func() {
		runLoop(ctx, "watchdog", mon.WatchdogInterval, mon.ErrorBackoff, true, func(ctx context.Context) error {
			_, err := e.CheckOffline(ctx)
			return err
		})
	})
	e.goLoop(func() {
		runLoop(ctx, "cleanup", e.config.Database.CleanupInterval, mon.ErrorBackoff, true, func(ctx context.Context) error {
			_, _, err := e.PurgeExpired(ctx)
			return err
		})
	})
	if e.config.Database.CompactInterval > 0 {
		e.goLoop(func() {
			runLoop(ctx, "compaction", e.config.Database.CompactInterval, mon.ErrorBackoff, false, e.Compact)
		})
	}
	if e.metrics != nil {
		e.goLoop(func() {
			runLoop(ctx, "metrics", mon.MetricsInterval, mon.ErrorBackoff, true, e.metrics.UpdateSystemMetrics)
		})
	}
	e.goLoop(func() { e.runDailySummary(ctx) })

	if e.poller != nil {
		e.goLoop(func() { e.poller.Run(ctx) })
	}

	logrus.WithFields(logrus.Fields{
		"watchdog_interval": mon.WatchdogInterval,
		"offline_after":     mon.OfflineAfter,
		"cleanup_interval":  e.config.Database.CleanupInterval,
		"miners":            len(e.config.EnabledMiners()),
	}).Info("Monitoring engine started")

	return nil
}

func (e *Engine) goLoop(fn func()) {
	e.loops.Add(1)
	go func() {
		defer e.loops.Done()
		fn()
	}()
}

// Stop cancels the background loops and waits for them to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	logrus.Info("Stopping monitoring engine")
	cancel()
	e.loops.Wait()
}

// seedSettings inserts the default value of every missing setting. Telegram
// starts enabled when credentials come from the environment or config.
func (e *Engine) seedSettings(ctx context.Context) error {
	defaults := database.DefaultSettings()
	tg := e.config.Notifications.Telegram
	if tg.Token != "" && tg.ChatID != "" {
		defaults.TelegramEnabled = true
	}

	inserted, err := e.store.SeedSettings(ctx, defaults.Values())
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	if inserted > 0 {
		logrus.WithField("count", inserted).Info("Seeded default settings")
	}
	return nil
}

// Latest returns the newest sample, from the cache when one is attached.
func (e *Engine) Latest(ctx context.Context) (*database.Sample, error) {
	e.mu.RLock()
	c := e.cache
	e.mu.RUnlock()

	if c != nil {
		if sample, err := c.GetLatest(ctx); err == nil {
			return sample, nil
		}
	}

	if c == nil {
		return e.store.LatestSample(ctx)
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	sample, err := e.store.LatestSample(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.SetLatest(ctx, sample); err != nil {
		logrus.WithError(err).Debug("Failed to warm latest-sample cache")
	}
	return sample, nil
}

// CacheStatus reports the attached cache for the health endpoint, or nil
// when no cache is attached.
func (e *Engine) CacheStatus(ctx context.Context) map[string]interface{} {
	e.mu.RLock()
	c := e.cache
	e.mu.RUnlock()
	if c == nil {
		return nil
	}

	status := map[string]interface{}{"status": "ok"}
	reporter, ok := c.(CacheReporter)
	if !ok {
		return status
	}
	if err := reporter.Ping(ctx); err != nil {
		status["status"] = "unreachable"
		status["error"] = err.Error()
		return status
	}
	if n, err := reporter.IngestedCount(ctx); err == nil {
		status["samples_ingested"] = n
	}
	return status
}

// Historical returns up to limit samples from the last hours, oldest first.
func (e *Engine) Historical(ctx context.Context, hours, limit int) ([]database.Sample, error) {
	if maxRows := e.config.Monitoring.HistoricalMaxRows; maxRows > 0 && (limit <= 0 || limit > maxRows) {
		limit = maxRows
	}
	since := e.now().UTC().Add(-time.Duration(hours) * time.Hour)
	return e.store.RecentSamples(ctx, since, limit)
}

func (e *Engine) Stats(ctx context.Context, hours int) (*database.SampleStats, error) {
	since := e.now().UTC().Add(-time.Duration(hours) * time.Hour)
	return e.store.SampleStats(ctx, since)
}

func (e *Engine) Alerts(ctx context.Context, hours, limit int) ([]database.AlertEvent, error) {
	since := e.now().UTC().Add(-time.Duration(hours) * time.Hour)
	return e.store.AlertsSince(ctx, since, limit)
}

// Projection computes the best-difficulty projection over the last hours for
// device. An empty device selects the device of the newest sample.
func (e *Engine) Projection(ctx context.Context, hours int, device string) (projection.Result, error) {
	since := e.now().UTC().Add(-time.Duration(hours) * time.Hour)
	all, err := e.store.SamplesSince(ctx, since)
	if err != nil {
		return projection.Result{}, fmt.Errorf("failed to load samples: %w", err)
	}
	if len(all) == 0 {
		return projection.Compute(nil, nil), nil
	}

	if device == "" {
		device = all[len(all)-1].DeviceName()
	}
	samples := make([]database.Sample, 0, len(all))
	for _, s := range all {
		if s.DeviceName() == device {
			samples = append(samples, s)
		}
	}
	if len(samples) == 0 {
		return projection.Compute(nil, nil), nil
	}

	var streakStart *database.Sample
	if diff := samples[len(samples)-1].BestSessionDiff; diff != nil {
		streakStart, err = e.store.FirstSampleWithSessionDiff(ctx, device, *diff)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return projection.Result{}, fmt.Errorf("failed to find streak start: %w", err)
		}
	}

	result := projection.Compute(samples, streakStart)
	result.Device = device
	return result, nil
}

func (e *Engine) publishAlert(event database.AlertEvent) {
	e.broadcast("alert", event)
}

func (e *Engine) broadcast(msgType string, data interface{}) {
	e.mu.RLock()
	b := e.broadcaster
	e.mu.RUnlock()
	if b != nil {
		b.Broadcast(msgType, data)
	}
}

// internal/monitoring/poller.go - pulls telemetry from configured miners
package monitoring

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/config"
	"bitaxe-monitor/internal/database"
)

// Fetcher retrieves one raw telemetry payload from a miner.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, miner config.MinerConfig) ([]byte, error)
}

type Poller struct {
	engine      *Engine
	fetcher     Fetcher
	miners      []config.MinerConfig
	jobQueue    chan *PollJob
	resultQueue chan *PollResult
	tracker     *MinerTracker
}

type PollJob struct {
	Miner   config.MinerConfig
	Queued  time.Time
	Timeout time.Duration
}

type PollResult struct {
	Job      *PollJob
	Payload  []byte
	Duration time.Duration
	Error    error
}

// MinerTracker remembers whether each miner answered its last poll so state
// changes are logged once.
type MinerTracker struct {
	states map[string]*MinerState
	mu     sync.RWMutex
}

type MinerState struct {
	Reachable           bool
	ConsecutiveFailures int
	LastPoll            time.Time
	LastSuccess         time.Time
	LastSampleID        uint64
}

func NewPoller(engine *Engine, fetcher Fetcher, miners []config.MinerConfig) *Poller {
	return &Poller{
		engine:      engine,
		fetcher:     fetcher,
		miners:      miners,
		jobQueue:    make(chan *PollJob, len(miners)*2),
		resultQueue: make(chan *PollResult, len(miners)*2),
		tracker:     NewMinerTracker(),
	}
}

func NewMinerTracker() *MinerTracker {
	return &MinerTracker{states: make(map[string]*MinerState)}
}

// Run starts the worker pool and schedules a poll of every miner each poll
// interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	mon := p.engine.config.Monitoring
	workers := mon.PollWorkers
	if workers < 1 {
		workers = 1
	}

	logrus.WithFields(logrus.Fields{
		"miners":   len(p.miners),
		"workers":  workers,
		"interval": mon.PollInterval,
		"fetcher":  p.fetcher.Name(),
	}).Info("Starting miner poller")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		p.processResults(ctx)
		close(done)
	}()

	runLoop(ctx, "poller", mon.PollInterval, mon.ErrorBackoff, true, func(ctx context.Context) error {
		p.schedule(ctx)
		return nil
	})

	wg.Wait()
	close(p.resultQueue)
	<-done
	logrus.Info("Miner poller stopped")
}

func (p *Poller) schedule(ctx context.Context) {
	timeout := p.engine.config.Monitoring.PollTimeout
	scheduled := 0

	for _, miner := range p.miners {
		job := &PollJob{Miner: miner, Queued: time.Now(), Timeout: timeout}
		select {
		case p.jobQueue <- job:
			scheduled++
		case <-ctx.Done():
			return
		default:
			logrus.WithField("miner", miner.ID).Warn("Poll queue full, dropping job")
		}
	}

	if scheduled > 0 {
		logrus.WithField("count", scheduled).Debug("Scheduled miner polls")
	}
}

func (p *Poller) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobQueue:
			result := p.execute(ctx, job)
			select {
			case p.resultQueue <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Poller) execute(ctx context.Context, job *PollJob) *PollResult {
	// Spread requests so miners sharing an access point are not hit at once.
	if jitter := job.Timeout / 10; jitter > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(jitter)))):
		case <-ctx.Done():
			return &PollResult{Job: job, Error: ctx.Err()}
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	start := time.Now()
	payload, err := p.fetcher.Fetch(fetchCtx, job.Miner)
	return &PollResult{
		Job:      job,
		Payload:  payload,
		Duration: time.Since(start),
		Error:    err,
	}
}

func (p *Poller) processResults(ctx context.Context) {
	for result := range p.resultQueue {
		p.handleResult(ctx, result)
	}
}

func (p *Poller) handleResult(ctx context.Context, result *PollResult) {
	miner := result.Job.Miner
	logFields := logrus.Fields{
		"miner":    miner.ID,
		"address":  miner.Address,
		"duration": result.Duration,
	}

	var id uint64
	err := result.Error
	if err == nil {
		var sample *database.Sample
		sample, err = database.ParseSample(result.Payload)
		if err != nil {
			err = fmt.Errorf("unusable payload: %w", err)
		} else {
			sample.Device = miner.ID
			id, err = p.engine.Ingest(ctx, SourcePoller, sample)
		}
	}

	if p.engine.metrics != nil {
		p.engine.metrics.RecordPoll(miner.ID, err == nil, result.Duration)
	}
	p.tracker.update(miner.ID, id, err)

	if err != nil {
		if ctx.Err() == nil {
			logrus.WithError(err).WithFields(logFields).Warn("Miner poll failed")
		}
		return
	}

	logFields["sample_id"] = id
	logrus.WithFields(logFields).Debug("Miner polled")
}

func (t *MinerTracker) update(minerID string, sampleID uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	state, exists := t.states[minerID]
	if !exists {
		state = &MinerState{Reachable: err == nil}
		t.states[minerID] = state
	}
	state.LastPoll = now

	if err != nil {
		state.ConsecutiveFailures++
		if state.Reachable {
			state.Reachable = false
			logrus.WithFields(logrus.Fields{
				"miner": minerID,
				"error": err,
			}).Warn("Miner became unreachable")
		}
		return
	}

	if !state.Reachable {
		logrus.WithFields(logrus.Fields{
			"miner":    minerID,
			"failures": state.ConsecutiveFailures,
		}).Info("Miner reachable again")
	}
	state.Reachable = true
	state.ConsecutiveFailures = 0
	state.LastSuccess = now
	state.LastSampleID = sampleID
}

// State returns a copy of the tracked state for minerID.
func (t *MinerTracker) State(minerID string) (MinerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[minerID]
	if !ok {
		return MinerState{}, false
	}
	return *state, true
}

// MinerStates returns the tracked state of every polled miner, or nil when
// polling is off.
func (e *Engine) MinerStates() map[string]MinerState {
	if e.poller == nil {
		return nil
	}
	t := e.poller.tracker
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]MinerState, len(t.states))
	for id, state := range t.states {
		states[id] = *state
	}
	return states
}

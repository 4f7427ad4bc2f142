// internal/notifications/throttle.go
package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitaxe-monitor/internal/config"
)

// ErrThrottled is returned when the send budget for the window is spent.
var ErrThrottled = errors.New("notification throttled")

// Throttler caps the total number of notifications in a sliding window.
type Throttler struct {
	config config.ThrottleConfig
	sent   []time.Time
	now    func() time.Time
	mu     sync.Mutex
}

func NewThrottler(cfg config.ThrottleConfig) *Throttler {
	return &Throttler{config: cfg, now: time.Now}
}

// Allow reserves a slot when one is free.
func (nt *Throttler) Allow() bool {
	if !nt.config.Enabled {
		return true
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()

	nt.cleanup()
	if len(nt.sent) >= nt.config.MaxTotal {
		return false
	}
	nt.sent = append(nt.sent, nt.now())
	return true
}

// Recent returns how many sends fall inside the current window.
func (nt *Throttler) Recent() int {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.cleanup()
	return len(nt.sent)
}

func (nt *Throttler) cleanup() {
	windowStart := nt.now().Add(-nt.config.Window)
	valid := nt.sent[:0]
	for _, t := range nt.sent {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	nt.sent = valid
}

// ThrottledSink wraps a Sink with a Throttler.
type ThrottledSink struct {
	next      Sink
	throttler *Throttler
}

func NewThrottledSink(next Sink, throttler *Throttler) *ThrottledSink {
	return &ThrottledSink{next: next, throttler: throttler}
}

func (s *ThrottledSink) Send(ctx context.Context, text string) error {
	if !s.throttler.Allow() {
		logrus.WithFields(logrus.Fields{
			"window":    s.throttler.config.Window,
			"max_total": s.throttler.config.MaxTotal,
		}).Warn("Notification throttled")
		return ErrThrottled
	}
	return s.next.Send(ctx, text)
}

func (s *ThrottledSink) Enabled() bool {
	return s.next.Enabled()
}

// Unthrottled returns the wrapped sink, used for operator test messages.
func (s *ThrottledSink) Unthrottled() Sink {
	return s.next
}

// GetStats returns throttle statistics.
func (s *ThrottledSink) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":          s.next.Enabled(),
		"throttle_enabled": s.throttler.config.Enabled,
		"throttle_window":  s.throttler.config.Window.String(),
		"throttle_max":     s.throttler.config.MaxTotal,
		"throttle_recent":  s.throttler.Recent(),
	}
}

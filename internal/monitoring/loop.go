// internal/monitoring/loop.go
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBackoff = time.Minute

// runLoop runs fn every interval until ctx is cancelled. When immediate is
// set the first run happens right away. A failed or panicking run is logged
// and the next one is scheduled after backoff instead of interval.
func runLoop(ctx context.Context, name string, interval, backoff time.Duration, immediate bool, fn func(context.Context) error) {
	if interval <= 0 {
		logrus.WithField("loop", name).Warn("Loop disabled, interval is not positive")
		return
	}
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	wait := interval
	if immediate {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	logrus.WithFields(logrus.Fields{
		"loop":     name,
		"interval": interval,
	}).Debug("Loop started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithField("loop", name).Debug("Loop stopped")
			return
		case <-timer.C:
		}

		wait = interval
		if err := safeRun(ctx, fn); err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.WithError(err).WithFields(logrus.Fields{
				"loop":    name,
				"backoff": backoff,
			}).Error("Loop iteration failed")
			wait = backoff
		}
		timer.Reset(wait)
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

package worker

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stefanjohn16/edgecache/pkg/safe_close"
)

const (
	defaultProbeInterval   = 30 * time.Second
	defaultSweepInterval   = 5 * time.Minute
	defaultRefreshInterval = time.Hour
)

// SyncConfig controls the background loops.
type SyncConfig struct {
	// ProbeInterval is how often origin connectivity is checked. An
	// offline-to-online transition drains the outbox, standing in for a
	// platform background-sync opportunity.
	ProbeInterval time.Duration

	// SweepInterval drives the periodic-sync work: outbox drain plus the
	// ephemeral janitor.
	SweepInterval time.Duration

	// RefreshInterval drives the unconditional static re-fetch sweep.
	RefreshInterval time.Duration
}

func (c *SyncConfig) init() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
}

// StartBackground attaches the connectivity probe, the periodic sweep loop
// and the static refresh loop to sc. A final goroutine waits for tracked
// request follow-up work during shutdown.
func (w *Worker) StartBackground(cfg SyncConfig, sc *safe_close.SafeClose) {
	cfg.init()

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		ticker := time.NewTicker(cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-closeSignal:
				return
			case <-ticker.C:
				w.probeOnce()
			}
		}
	})

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-closeSignal:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), cfg.SweepInterval)
				w.SweepEphemeral(ctx)
				if w.opts.Drainer != nil {
					w.opts.Drainer.DrainAll(ctx)
				}
				cancel()
			}
		}
	})

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-closeSignal:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), cfg.RefreshInterval)
				w.RefreshStatic(ctx)
				cancel()
			}
		}
	})

	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal
		w.WaitIdle()
	})
}

func (w *Worker) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.opts.Origin.String(), nil)
	if err != nil {
		return
	}

	_, err = w.opts.Upstream.Do(ctx, req)
	nowOnline := err == nil

	wasOnline := w.online.Swap(nowOnline)
	if nowOnline && !wasOnline {
		w.opts.Logger.Info("origin reachable again, draining outbox")
		w.TriggerSync()
	}
	if !nowOnline && wasOnline {
		w.opts.Logger.Warn("origin unreachable", zap.Error(err))
	}
}

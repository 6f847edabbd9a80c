package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultPruneInterval = 10 * time.Minute

// PruneLoop periodically removes expired counters from a store.
type PruneLoop struct {
	store    Pruner
	interval time.Duration
	now      func() time.Time
}

// NewPruneLoop constructs a PruneLoop; interval <= 0 selects the default.
func NewPruneLoop(store Pruner, interval time.Duration) *PruneLoop {
	if store == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &PruneLoop{store: store, interval: interval, now: time.Now}
}

// Start runs the prune loop in the background until ctx is done.
func (p *PruneLoop) Start(ctx context.Context) {
	if p == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go p.run(ctx)
	log.Infof("rate limit pruner started (interval=%s)", p.interval)
}

func (p *PruneLoop) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs a single prune pass and returns the removed counter count.
func (p *PruneLoop) PruneOnce(ctx context.Context) int64 {
	removed, errPrune := p.store.Prune(ctx, p.now())
	if errPrune != nil {
		log.WithError(errPrune).Warn("rate limit pruner: prune failed")
		return removed
	}
	if removed > 0 {
		log.Debugf("rate limit pruner: removed %d expired counters", removed)
	}
	return removed
}

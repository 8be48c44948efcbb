package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/door-panel-bridge/runtime/internal/stream"
)

// Refresher runs the periodic jobs: cache refresh, door snapshots while
// the stream is up, and archive pruning.
type Refresher struct {
	bridge *Bridge
	cron   *cron.Cron
}

// NewRefresher creates the job runner without starting it.
func NewRefresher(b *Bridge) *Refresher {
	return &Refresher{
		bridge: b,
		cron:   cron.New(),
	}
}

// Start schedules the jobs and launches the cron loop. Jobs bind ctx so
// their panel calls stop with the runtime.
func (r *Refresher) Start(ctx context.Context) {
	every := func(d time.Duration) string {
		return fmt.Sprintf("@every %s", d)
	}

	r.cron.AddFunc(every(r.bridge.cfg.CacheRefreshInterval), func() {
		r.bridge.caches.Refresh(ctx)
	})

	r.cron.AddFunc(every(r.bridge.cfg.SnapshotInterval), func() {
		// Snapshots only reconcile a live stream; while disconnected
		// the mirror is stale anyway and a snapshot would mask it.
		if r.bridge.stream.State() != stream.StateRunning {
			return
		}
		if err := r.bridge.Snapshot(ctx); err != nil {
			log.Printf("[bridge] snapshot failed: %v", err)
		}
	})

	if r.bridge.archive != nil && r.bridge.cfg.ArchiveRetention > 0 {
		r.cron.AddFunc("@hourly", func() {
			cutoff := time.Now().Add(-r.bridge.cfg.ArchiveRetention)
			if n, err := r.bridge.archive.Prune(ctx, cutoff); err != nil {
				log.Printf("[bridge] archive prune failed: %v", err)
			} else if n > 0 {
				log.Printf("[bridge] pruned %d archived events", n)
			}
		})
	}

	r.cron.Start()
}

// Stop halts the cron loop, waiting for running jobs to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

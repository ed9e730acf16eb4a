package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically redrives undelivered alerts. Start launches the
// loop; Stop halts it and waits for any in-flight pass to finish.
type Reaper struct {
	coordinator *Coordinator
	interval    time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper builds a reaper ticking at the given interval.
func NewReaper(coordinator *Coordinator, interval time.Duration) *Reaper {
	return &Reaper{
		coordinator: coordinator,
		interval:    interval,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the loop. The first pass runs after one full interval.
func (r *Reaper) Start() {
	go r.run()
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Msg("Undelivered-alert reaper started")
	for {
		select {
		case <-r.stop:
			log.Info().Msg("Undelivered-alert reaper stopped")
			return
		case <-ticker.C:
			// Each pass is bounded by the interval so a stuck
			// transport cannot pile up passes.
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			r.coordinator.ProcessUndelivered(ctx)
			cancel()
		}
	}
}

// Stop halts the loop. Safe to call more than once; Start must have been
// called first.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

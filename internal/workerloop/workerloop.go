// Package workerloop provides a generic ticker-driven background worker with
// a start/stop lifecycle, the pattern the teacher repeats for its hourly
// pool-rotation worker and its confirmation-polling worker.
package workerloop

import (
	"context"
	"sync"
	"time"

	"github.com/jinn-network/jinn-worker/internal/logging"
)

// Worker runs Tick on a fixed interval until Stop is called.
type Worker struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)
	log      *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a Worker named name that invokes tick every interval.
func New(name string, interval time.Duration, log *logging.Logger, tick func(ctx context.Context)) *Worker {
	return &Worker{name: name, interval: interval, tick: tick, log: log}
}

// Start launches the ticker loop in a background goroutine. Calling Start on
// an already-running Worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go w.run(loopCtx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.safeTick(ctx)
		}
	}
}

func (w *Worker) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil && w.log != nil {
			w.log.WithField("worker", w.name).WithField("panic", r).Error("worker tick panicked")
		}
	}()
	w.tick(ctx)
}

// Stop cancels the loop and blocks until the running tick, if any, returns.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
}

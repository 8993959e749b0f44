package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one pass of a periodic worker
type Job func(ctx context.Context) error

// TickerWorker runs a job on a fixed interval. It runs once immediately on
// start, and never runs two passes at the same time.
type TickerWorker struct {
	name     string
	interval time.Duration
	job      Job
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
	failures  int
}

// NewTickerWorker creates a new periodic worker
func NewTickerWorker(name string, interval time.Duration, job Job, logger *zap.Logger) *TickerWorker {
	return &TickerWorker{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.With(zap.String("worker_name", name)),
	}
}

// Start launches the loop in the background
func (w *TickerWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive", w.name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("%s already running", w.name)
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("Worker loop started", zap.Duration("interval", w.interval))
	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the current pass to finish
func (w *TickerWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("Worker loop stopped", zap.Int("runs", w.Runs()), zap.Int("failures", w.Failures()))
	return nil
}

// Name returns the worker name
func (w *TickerWorker) Name() string {
	return w.name
}

// Runs returns how many passes have completed
func (w *TickerWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Failures returns how many passes returned an error
func (w *TickerWorker) Failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

func (w *TickerWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *TickerWorker) runOnce(ctx context.Context) {
	start := time.Now()
	err := w.job(ctx)

	w.mu.Lock()
	w.runs++
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Worker pass failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	w.logger.Debug("Worker pass completed", zap.Duration("elapsed", time.Since(start)))
}

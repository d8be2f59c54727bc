// Package concurrency runs side work (alert delivery) on bounded pond pools so
// a slow webhook never stalls a trading loop.
package concurrency

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"hedged_mm/internal/core"

	"github.com/alitto/pond"
)

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrPoolFull    = errors.New("worker pool queue full")
)

const (
	defaultMaxWorkers  = 2
	defaultMaxCapacity = 100
	defaultIdleTimeout = time.Minute
	defaultStopTimeout = 15 * time.Second
)

// PoolConfig sizes a pool. Zero values take the defaults above.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// StopTimeout bounds how long Stop waits for queued tasks.
	StopTimeout time.Duration
	// NonBlocking makes Submit fail with ErrPoolFull instead of waiting for a slot.
	NonBlocking bool
}

// PoolStats is the pool's view for /status.
type PoolStats struct {
	Name       string `json:"name"`
	Running    int    `json:"running_workers"`
	Idle       int    `json:"idle_workers"`
	Waiting    uint64 `json:"waiting_tasks"`
	Submitted  uint64 `json:"submitted_tasks"`
	Successful uint64 `json:"successful_tasks"`
	Failed     uint64 `json:"failed_tasks"`
	Dropped    uint64 `json:"dropped_tasks"`
}

// WorkerPool runs fire-and-forget tasks off the trading path.
type WorkerPool struct {
	pool    *pond.WorkerPool
	config  PoolConfig
	logger  core.ILogger
	dropped atomic.Uint64
}

// NewWorkerPool creates a pool. Panicking tasks are logged and count as failed.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = defaultMaxCapacity
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	wp := &WorkerPool{
		config: cfg,
		logger: logger.WithFields(map[string]interface{}{"component": "worker_pool", "pool": cfg.Name}),
	}
	wp.pool = pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			wp.logger.Error("Task panicked", "panic", p)
		}),
	)
	return wp
}

// Submit queues task. A refused task is counted as dropped.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.pool.Stopped() {
		wp.dropped.Add(1)
		return fmt.Errorf("%s: %w", wp.config.Name, ErrPoolStopped)
	}
	if !wp.config.NonBlocking {
		wp.pool.Submit(task)
		return nil
	}
	if !wp.pool.TrySubmit(task) {
		wp.dropped.Add(1)
		return fmt.Errorf("%s (capacity %d): %w", wp.config.Name, wp.config.MaxCapacity, ErrPoolFull)
	}
	return nil
}

// Stop drains queued tasks for at most StopTimeout, then releases the workers.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWaitFor(wp.config.StopTimeout)
	if waiting := wp.pool.WaitingTasks(); waiting > 0 {
		wp.logger.Warn("Pool stopped with tasks still queued", "waiting", waiting)
	}
}

func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Name:       wp.config.Name,
		Running:    wp.pool.RunningWorkers(),
		Idle:       wp.pool.IdleWorkers(),
		Waiting:    wp.pool.WaitingTasks(),
		Submitted:  wp.pool.SubmittedTasks(),
		Successful: wp.pool.SuccessfulTasks(),
		Failed:     wp.pool.FailedTasks(),
		Dropped:    wp.dropped.Load(),
	}
}

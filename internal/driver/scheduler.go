package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/rendis/mtaflow/internal/engine"
	"github.com/rendis/mtaflow/internal/store"
	"github.com/rendis/mtaflow/pkg/schema"
)

// Scheduler ticks every running process on a cron schedule. A process is
// never ticked twice at once.
type Scheduler struct {
	driver   *Driver
	store    store.Store
	schedule cron.Schedule
	poolSize int
	pool     atomic.Pointer[Pool]
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler creates a Scheduler running up to poolSize ticks at once.
func NewScheduler(d *Driver, schedule cron.Schedule, poolSize int) *Scheduler {
	s := &Scheduler{
		driver:   d,
		store:    d.store,
		schedule: schedule,
		poolSize: poolSize,
		logger:   d.logger,
		inflight: make(map[string]struct{}),
	}
	s.pool.Store(s.newPool())
	return s
}

func (s *Scheduler) newPool() *Pool {
	return NewPool(s.poolSize, func(err error) {
		s.logger.Error("process tick failed", slog.String("error", err.Error()))
	})
}

// Start launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	if s.pool.Load().IsShutdown() {
		s.pool.Store(s.newPool())
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.TickAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("failed to tick processes", slog.String("error", err.Error()))
		}
		now := s.driver.clock.Now()
		if err := engine.WaitForBackoff(ctx, s.schedule.Next(now).Sub(now)); err != nil || ctx.Err() != nil {
			return
		}
	}
}

// TickAll submits one tick per running process and waits for them.
func (s *Scheduler) TickAll(ctx context.Context) error {
	pool := s.pool.Load()
	running := schema.ProcessStatusRunning
	procs, err := s.store.ListProcesses(ctx, store.ProcessFilter{Status: &running})
	if err != nil {
		return fmt.Errorf("list running processes: %w", err)
	}

	for _, p := range procs {
		if !s.tryAcquire(p.ID) {
			continue
		}
		id := p.ID
		err := pool.Submit(ctx, func(ctx context.Context) error {
			defer s.release(id)
			_, err := s.driver.Tick(ctx, id)
			if err != nil {
				return fmt.Errorf("tick process %s: %w", id, err)
			}
			return nil
		})
		if err != nil {
			s.release(id)
			return err
		}
	}
	pool.Wait()
	return nil
}

func (s *Scheduler) tryAcquire(processID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[processID]; ok {
		return false
	}
	s.inflight[processID] = struct{}{}
	return true
}

func (s *Scheduler) release(processID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, processID)
}

// Metrics exposes the tick pool counters.
func (s *Scheduler) Metrics() PoolMetrics {
	return s.pool.Load().Metrics()
}

// Stop ends the loop and waits for running ticks. A stopped scheduler can be
// started again.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.pool.Load().Shutdown()
	s.cancel = nil
	s.done = nil
	s.logger.Info("scheduler stopped")
	return nil
}

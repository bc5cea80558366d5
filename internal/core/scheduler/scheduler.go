package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/core/port"
	"go.uber.org/zap"
)

const DEFAULT_SHUTDOWN_TIMEOUT = 10 * time.Second

type Job func(ctx context.Context) error

// NextRunRecorder receives the time of the next periodic run.
type NextRunRecorder interface {
	SetNextRun(t time.Time)
}

// Scheduler runs a job periodically with at most one run in flight. The
// period is measured from run start, a tick that fires while a run is still
// going is skipped.
type Scheduler struct {
	job      Job
	interval time.Duration
	clock    Clock
	recorder NextRunRecorder
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	stopped  bool
	wg       sync.WaitGroup
	stop     chan struct{}
	jobCtx   context.Context
	cancelFn context.CancelFunc
}

func New(job Job, interval time.Duration, clock Clock, recorder NextRunRecorder, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		job:      job,
		interval: interval,
		clock:    clock,
		recorder: recorder,
		logger:   logger,
		stop:     make(chan struct{}),
		jobCtx:   jobCtx,
		cancelFn: cancel,
	}
}

// Run starts a run immediately and then one per interval until ctx is done
// or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler@start: started", zap.Duration("interval", s.interval))
	for {
		start := s.clock.Now()
		s.launch("tick")
		next := start.Add(s.interval)
		if s.recorder != nil {
			s.recorder.SetNextRun(next)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.clock.After(next.Sub(s.clock.Now())):
		}
	}
}

// Trigger requests an out-of-band run. It is skipped if a run is in flight.
func (s *Scheduler) Trigger() {
	s.launch("trigger")
}

// Running reports whether a run is in flight.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) launch(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if s.running {
		s.logger.Warn("scheduler: tick skipped, cycle still running", zap.String("reason", reason))
		return false
	}
	s.running = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		if err := s.job(s.jobCtx); err != nil {
			s.logger.Debug("scheduler@run: run finished with error", zap.String("reason", reason), zap.Error(err))
		}
	}()
	return true
}

// Shutdown stops ticking and waits for the in-flight run. When ctx ends first
// the run's context is cancelled and ctx's error returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelFn()
		s.logger.Info("scheduler@shutdown: stopped")
		return nil
	case <-ctx.Done():
		s.cancelFn()
		s.logger.Warn("scheduler@shutdown: deadline reached, abandoning running cycle")
		return ctx.Err()
	}
}

var _ port.CycleTrigger = (*Scheduler)(nil)

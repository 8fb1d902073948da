package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs the engine on a fixed interval in the background.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	kick     chan struct{}
}

// NewScheduler creates a scheduler. The first run happens one interval after Start.
func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Start begins the loop. Call Stop to release resources.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	s.logger.Info("reconcile scheduler started", zap.Duration("interval", s.interval))
}

// Stop ends the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	<-s.done
	s.logger.Info("reconcile scheduler stopped")
}

// Kick requests a run on the scheduler's goroutine without waiting for it.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.once(ctx)
		case <-ticker.C:
			s.once(ctx)
		}
	}
}

func (s *Scheduler) once(ctx context.Context) {
	// A started run is not cut short by Stop.
	_, err := s.engine.Run(context.WithoutCancel(ctx), TriggerScheduled)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("reconcile skipped: run in progress")
	default:
		s.logger.Error("scheduled reconcile failed", zap.Error(err))
	}
}

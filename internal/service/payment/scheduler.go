package payment

import (
	"context"
	"sync"
	"time"

	"github.com/arraniry/storepay/internal/apperrors"
	"github.com/arraniry/storepay/internal/logger"
)

type poller interface {
	PollPending(ctx context.Context) ([]PollOutcome, error)
}

// Scheduler drives recurring PollPending cycles.
// Start runs one cycle immediately, then one per interval. Stop only
// prevents future cycles; a cycle already in flight finishes normally.
type Scheduler struct {
	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	poller poller
	logger logger.Logger
}

func NewScheduler(p poller, l logger.Logger) *Scheduler {
	return &Scheduler{
		poller: p,
		logger: l,
	}
}

func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return apperrors.ErrSchedulerRunning
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("Payment polling started", "interval", interval)
	go s.run(ctx, interval, s.stop, s.done)

	return nil
}

// Stop cancels future cycles and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return apperrors.ErrSchedulerNotRunning
	}

	close(s.stop)
	<-s.done
	s.running = false

	s.logger.Info("Payment polling stopped")
	return nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.cycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	outcomes, err := s.poller.PollPending(ctx)
	if err != nil {
		s.logger.Error("Poll cycle failed", "error", err)
		return
	}

	var failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	s.logger.Info("Poll cycle finished", "polled", len(outcomes), "failed", failed)
}

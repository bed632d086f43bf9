package terminal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrReadyTimeout is returned when the terminal did not become available
// within the configured wait. It is not fatal: the API starts anyway and
// operations fail fast with ErrTerminalUnavailable until a later
// acquisition succeeds.
var ErrReadyTimeout = errors.New("terminal readiness wait timed out")

// ReadinessState is the process-wide terminal availability flag. The
// transition is one-way: once Ready it stays Ready for the process lifetime.
type ReadinessState struct {
	ready atomic.Bool

	mu       sync.Mutex
	attempts int
	elapsed  time.Duration
	readyAt  time.Time
}

func NewReadinessState() *ReadinessState {
	return &ReadinessState{}
}

// Ready reports whether the automation interface has been acquired.
func (s *ReadinessState) Ready() bool {
	return s.ready.Load()
}

func (s *ReadinessState) markReady() {
	if s.ready.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.readyAt = time.Now()
		s.mu.Unlock()
	}
}

func (s *ReadinessState) recordAttempt(waited time.Duration) {
	s.mu.Lock()
	s.attempts++
	s.elapsed = waited
	s.mu.Unlock()
}

// Attempts returns how many acquisition attempts have been made and the
// elapsed wait so far.
func (s *ReadinessState) Attempts() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, s.elapsed
}

// ProcessSupervisor is the deployment's process-supervision hook: it checks
// that the terminal process is up and launches it when it is not. The
// gateway only invokes it; supervision itself lives outside the core.
type ProcessSupervisor interface {
	EnsureRunning(ctx context.Context) error
}

// Supervisor polls for automation-interface availability after the terminal
// process is launched. Bounded retries with fixed backoff.
type Supervisor struct {
	Adapter      *Adapter
	Proc         ProcessSupervisor // optional
	MaxWait      time.Duration
	PollInterval time.Duration
}

func NewSupervisor(a *Adapter, maxWait, pollInterval time.Duration) *Supervisor {
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Supervisor{Adapter: a, MaxWait: maxWait, PollInterval: pollInterval}
}

// AwaitReady attempts to acquire the automation interface, retrying every
// PollInterval until MaxWait elapses. It performs at most
// ceil(MaxWait/PollInterval) attempts and returns ErrReadyTimeout when none
// succeeds.
func (s *Supervisor) AwaitReady(ctx context.Context) error {
	if s.Proc != nil {
		if err := s.Proc.EnsureRunning(ctx); err != nil {
			log.Printf("readiness: process supervisor: %v", err)
		}
	}

	attempts := int((s.MaxWait + s.PollInterval - 1) / s.PollInterval)
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	for i := 0; i < attempts; i++ {
		err := s.Adapter.Acquire(ctx)
		s.Adapter.state.recordAttempt(time.Since(start))
		if err == nil {
			log.Printf("readiness: terminal ready after %d attempt(s), %v", i+1, time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("readiness: attempt %d/%d failed: %v", i+1, attempts, err)

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.PollInterval):
		}
	}
	return ErrReadyTimeout
}

// RetryInBackground keeps polling at PollInterval after a timed-out startup
// wait so the gateway can recover without a restart.
func (s *Supervisor) RetryInBackground(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.Adapter.Ready() {
					return
				}
				if err := s.Adapter.Acquire(ctx); err == nil {
					log.Printf("readiness: terminal acquired by background retry")
					return
				}
			}
		}
	}()
}

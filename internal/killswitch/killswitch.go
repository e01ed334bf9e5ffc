// Package killswitch halts admission when a safety event fires, independent
// of the orchestrator's own gates. It is the last line of defense: even if a
// gate mis-fires, the switch stops the pipeline on the emitted event.
package killswitch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/helioslabs/helios/internal/domain"
)

// Stopper halts acceptance of new opportunities.
type Stopper interface {
	Stop() error
}

// Switch watches the event stream and trips on safety-limit events.
type Switch struct {
	stopper Stopper
	logger  *slog.Logger

	mu      sync.Mutex
	tripped bool
	reason  string
}

// New creates a kill switch wired to stopper.
func New(stopper Stopper, logger *slog.Logger) *Switch {
	return &Switch{
		stopper: stopper,
		logger:  logger.With(slog.String("component", "killswitch")),
	}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (s *Switch) Run(ctx context.Context, events <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == domain.EventSafetyLimit {
				s.Trigger(ev.Reason)
			}
		}
	}
}

// Trigger trips the switch and stops the pipeline. Manual invocations (an
// operator endpoint, a signal handler) take the same path as safety events.
func (s *Switch) Trigger(reason string) {
	s.mu.Lock()
	already := s.tripped
	s.tripped = true
	if !already {
		s.reason = reason
	}
	s.mu.Unlock()
	if already {
		return
	}

	s.logger.Error("kill switch tripped", slog.String("reason", reason))
	if err := s.stopper.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		s.logger.Error("kill switch stop failed", slog.String("error", err.Error()))
	}
}

// Reset re-arms the switch. It does not restart the pipeline; that stays an
// explicit operator action.
func (s *Switch) Reset() {
	s.mu.Lock()
	s.tripped = false
	s.reason = ""
	s.mu.Unlock()
	s.logger.Info("kill switch reset")
}

// Tripped reports the switch state and the reason it tripped.
func (s *Switch) Tripped() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped, s.reason
}

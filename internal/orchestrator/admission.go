package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/evaluator"
)

// state is the orchestrator's mutable control state. The queue consumer is
// the only writer for trade outcomes, but status reads and config updates
// arrive from other goroutines, so everything is guarded by one mutex.
type state struct {
	mu  sync.Mutex
	cfg Config

	running          bool
	tradesThisHour   int
	hourWindowStart  time.Time
	dailyPnL         float64
	day              time.Time
	lossLimitReached bool

	spreadsSeen int64
	admitted    int64
	rejected    int64
	blocked     int64
	executed    int64
	failed      int64
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rolloverLocked advances the hourly and daily windows. The loss breaker
// survives the day rollover: a tripped breaker only clears on explicit
// operator reset.
func (s *state) rolloverLocked(now time.Time) {
	if now.Sub(s.hourWindowStart) >= time.Hour {
		s.tradesThisHour = 0
		s.hourWindowStart = now
	}
	if d := dayOf(now); !d.Equal(s.day) {
		s.day = d
		s.dailyPnL = 0
		s.spreadsSeen = 0
		s.admitted = 0
		s.rejected = 0
		s.blocked = 0
		s.executed = 0
		s.failed = 0
	}
}

// admit applies the admission gates in order, each a hard one: hourly rate
// limit, daily loss circuit breaker, capital availability. On success the
// hourly budget is spent immediately so a queued backlog cannot overdraw it.
func (o *Orchestrator) admit(opp domain.Opportunity) error {
	now := o.clock.Now()

	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	o.st.rolloverLocked(now)

	if o.st.tradesThisHour >= o.st.cfg.MaxTradesPerHour {
		return domain.ErrRateLimited
	}
	if o.st.lossLimitReached || o.st.dailyPnL < -o.st.cfg.DailyLossLimit {
		o.st.lossLimitReached = true
		return domain.ErrLossLimitReached
	}
	if o.ledger.Available() < opp.RequiredCapital() {
		return domain.ErrInsufficientCapital
	}

	o.st.tradesThisHour++
	o.st.admitted++
	return nil
}

// unadmit refunds an admission whose opportunity never reached the queue.
func (o *Orchestrator) unadmit() {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	if o.st.tradesThisHour > 0 {
		o.st.tradesThisHour--
	}
	if o.st.admitted > 0 {
		o.st.admitted--
	}
}

func (s *state) addSpreads(n int) {
	s.mu.Lock()
	s.spreadsSeen += int64(n)
	s.mu.Unlock()
}

func (s *state) addRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

func (s *state) addBlocked() {
	s.mu.Lock()
	s.blocked++
	s.mu.Unlock()
}

// settle folds a terminal trade into the running statistics and reports
// whether this settlement tripped the daily loss breaker.
func (s *state) settle(rec domain.TradeRecord) (tripped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked(rec.StartedAt)

	s.dailyPnL += rec.ActualProfit
	if rec.Status == domain.TradeStatusExecuted {
		s.executed++
	} else {
		s.failed++
	}

	if !s.lossLimitReached && s.dailyPnL < -s.cfg.DailyLossLimit {
		s.lossLimitReached = true
		return true
	}
	return false
}

func (o *Orchestrator) start() error {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	if o.st.running {
		return domain.ErrAlreadyRunning
	}
	o.st.running = true
	return nil
}

func (o *Orchestrator) markStopped() {
	o.st.mu.Lock()
	o.st.running = false
	o.st.mu.Unlock()
}

// Stop halts acceptance of new opportunities: the intake drops incoming
// spread batches and the queue consumer discards queued work. It does not
// cancel an execution already handed to the engine.
func (o *Orchestrator) Stop() error {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	if !o.st.running {
		return domain.ErrNotRunning
	}
	o.st.running = false
	return nil
}

// Start re-opens acceptance after a Stop.
func (o *Orchestrator) Start() error {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	if o.st.running {
		return domain.ErrAlreadyRunning
	}
	o.st.running = true
	return nil
}

// IsRunning reports whether the orchestrator accepts new opportunities.
func (o *Orchestrator) IsRunning() bool {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	return o.st.running
}

// UpdateConfig replaces the safety policy and cost model. The mode cannot
// change while the orchestrator is running; such an update is rejected
// whole, never a silent partial apply.
func (o *Orchestrator) UpdateConfig(cfg Config) error {
	if !cfg.Mode.Valid() {
		return fmt.Errorf("orchestrator: unknown mode %q", cfg.Mode)
	}
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	if o.st.running && cfg.Mode != o.st.cfg.Mode {
		return fmt.Errorf("orchestrator: change mode %q -> %q: %w",
			o.st.cfg.Mode, cfg.Mode, domain.ErrModeLocked)
	}
	// A process built for simulation carries no execution engine, so the
	// executing modes are off the table until a restart wires one in.
	if cfg.Mode != domain.ModeSimulation && o.engine == nil {
		return fmt.Errorf("orchestrator: mode %q requires an execution engine", cfg.Mode)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = o.st.cfg.QueueSize
	}
	if cfg.OracleWindow <= 0 {
		cfg.OracleWindow = o.st.cfg.OracleWindow
	}
	o.st.cfg = cfg
	return nil
}

// CurrentConfig returns a copy of the active safety policy and cost model.
func (o *Orchestrator) CurrentConfig() Config {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	return o.st.cfg
}

// ResetDailyLoss clears the daily loss accumulator and re-opens the loss
// breaker. This is the explicit external reset the fail-closed design
// requires; nothing re-opens the breaker automatically.
func (o *Orchestrator) ResetDailyLoss() {
	o.st.mu.Lock()
	o.st.dailyPnL = 0
	o.st.lossLimitReached = false
	o.st.mu.Unlock()
	o.logger.Info("daily loss breaker reset")
}

func (o *Orchestrator) feeConfig() evaluator.FeeConfig {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	return o.st.cfg.Fees
}

func (o *Orchestrator) oracleWindow() time.Duration {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	return o.st.cfg.OracleWindow
}

// Status returns a snapshot of the control state and capital position.
func (o *Orchestrator) Status() domain.OrchestratorState {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	return domain.OrchestratorState{
		Mode:                  o.st.cfg.Mode,
		IsRunning:             o.st.running,
		TradesThisHour:        o.st.tradesThisHour,
		HourWindowStart:       o.st.hourWindowStart,
		DailyProfitLoss:       o.st.dailyPnL,
		DailyLossLimitReached: o.st.lossLimitReached,
		QueueDepth:            len(o.queue),
		TotalCapital:          o.ledger.Total(),
		ReservedCapital:       o.ledger.Reserved(),
		AvailableCapital:      o.ledger.Available(),
	}
}

// DailyStats returns today's aggregate counters.
func (o *Orchestrator) DailyStats() domain.DailyStats {
	o.st.mu.Lock()
	defer o.st.mu.Unlock()
	return domain.DailyStats{
		Date:             o.st.day,
		ProfitLoss:       o.st.dailyPnL,
		SpreadsSeen:      o.st.spreadsSeen,
		Admitted:         o.st.admitted,
		Rejected:         o.st.rejected,
		Blocked:          o.st.blocked,
		TradesExecuted:   o.st.executed,
		TradesFailed:     o.st.failed,
		LossLimitReached: o.st.lossLimitReached,
	}
}

// Package orchestrator is the pipeline control loop: it consumes spread
// batches from the scanner, evaluates them, applies admission control, and
// serializes execution of admitted opportunities through a single-flight
// queue so capital reservation and release can never race.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/evaluator"
	"github.com/helioslabs/helios/internal/ledger"
)

// Config holds the orchestrator's safety policy and cost model.
type Config struct {
	Mode             domain.Mode
	MaxTradesPerHour int
	DailyLossLimit   float64
	Fees             evaluator.FeeConfig
	// QueueSize bounds the admitted-opportunity backlog. An admitted
	// opportunity that does not fit is dropped and counted as rejected.
	QueueSize int
	// OracleWindow is the prediction horizon passed to the risk oracle.
	OracleWindow time.Duration
}

// Orchestrator turns viable opportunities into admitted, capital-backed,
// serialized executions under the global safety policy.
type Orchestrator struct {
	ledger *ledger.Ledger
	engine domain.ExecutionEngine
	oracle domain.RiskOracle // nil disables the predictive check
	store  domain.TradeStore // nil disables persistence
	clock  domain.Clock
	logger *slog.Logger

	queue  chan domain.Opportunity
	events chan domain.Event

	st state
}

// New creates an Orchestrator. The engine is required for paper and live
// modes; oracle and store may be nil.
func New(
	cfg Config,
	led *ledger.Ledger,
	engine domain.ExecutionEngine,
	oracle domain.RiskOracle,
	store domain.TradeStore,
	clk domain.Clock,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.OracleWindow <= 0 {
		cfg.OracleWindow = 5 * time.Second
	}
	o := &Orchestrator{
		ledger: led,
		engine: engine,
		oracle: oracle,
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "orchestrator")),
		queue:  make(chan domain.Opportunity, cfg.QueueSize),
		events: make(chan domain.Event, 256),
	}
	o.st.cfg = cfg
	now := clk.Now()
	o.st.hourWindowStart = now
	o.st.day = dayOf(now)
	return o
}

// Events returns the pipeline notification channel. The composition root
// owns the single consumer and fans events out to subscribers.
func (o *Orchestrator) Events() <-chan domain.Event {
	return o.events
}

// Run processes spread batches until ctx is cancelled. It starts the
// single-flight queue consumer, marks the orchestrator running, and blocks.
// Cancellation halts acceptance of new opportunities; an execution already
// handed to the engine runs to completion or failure.
func (o *Orchestrator) Run(ctx context.Context, in <-chan []domain.Spread) error {
	if err := o.start(); err != nil {
		return err
	}
	o.logger.Info("orchestrator started", slog.String("mode", string(o.Status().Mode)))
	defer o.logger.Info("orchestrator stopped")
	defer o.markStopped()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.consume(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				<-done
				return nil
			}
			o.handleBatch(ctx, batch)
		}
	}
}

// handleBatch evaluates one scan tick's spreads and admits the viable ones.
func (o *Orchestrator) handleBatch(ctx context.Context, batch []domain.Spread) {
	if len(batch) == 0 {
		return
	}
	if !o.IsRunning() {
		return
	}
	o.st.addSpreads(len(batch))
	o.emit(domain.Event{Type: domain.EventSpreads, At: o.clock.Now(), Spreads: batch})

	fees := o.feeConfig()
	for _, sp := range batch {
		opp := evaluator.Evaluate(sp, fees)
		if !evaluator.IsViable(opp, fees) {
			// Recoverable-rejected: frequent and expected, counted only.
			o.st.addRejected()
			continue
		}
		if err := o.admit(opp); err != nil {
			o.st.addRejected()
			o.logger.Debug("opportunity rejected at admission",
				slog.String("symbol", opp.Symbol),
				slog.String("reason", err.Error()),
			)
			continue
		}
		select {
		case o.queue <- opp:
		default:
			// Backlog full. Undo the admission so the hourly budget is not
			// spent on an opportunity that never reached the queue.
			o.unadmit()
			o.st.addRejected()
			o.logger.Warn("execution queue full, dropping opportunity",
				slog.String("symbol", opp.Symbol),
			)
		}
	}
}

// consume drains the queue one opportunity at a time. This is the single
// intentional serialization point of the pipeline: at most one opportunity
// is ever reserving or executing, which keeps the ledger race-free without
// any distributed lock.
func (o *Orchestrator) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-o.queue:
			if !o.IsRunning() {
				continue
			}
			o.executeOne(ctx, opp)
		}
	}
}

// executeOne runs the per-opportunity sequence: oracle veto, capital
// reservation, settlement, guaranteed release, statistics, terminal event.
func (o *Orchestrator) executeOne(ctx context.Context, opp domain.Opportunity) {
	log := o.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Symbol),
		slog.String("buy_venue", opp.BuyVenue),
		slog.String("sell_venue", opp.SellVenue),
	)

	// 1. Predictive veto, before any capital is touched.
	if o.oracle != nil {
		verdict, err := o.oracle.Evaluate(ctx, domain.RiskCheck{
			Symbol:         opp.Symbol,
			BuyPrice:       opp.BuyPrice,
			SellPrice:      opp.SellPrice,
			ExpectedProfit: opp.NetProfit,
			Window:         o.oracleWindow(),
		})
		if err != nil {
			// Fail closed: an unreachable oracle blocks rather than waves
			// through.
			verdict = domain.RiskVerdict{Proceed: false, Rationale: "oracle error: " + err.Error()}
		}
		if !verdict.Proceed {
			o.st.addBlocked()
			log.Warn("opportunity vetoed", slog.String("rationale", verdict.Rationale))
			o.emit(domain.Event{
				Type:        domain.EventOpportunityBlocked,
				At:          o.clock.Now(),
				Opportunity: &opp,
				Reason:      verdict.Rationale,
			})
			return
		}
	}

	mode := o.Status().Mode
	rec := domain.TradeRecord{
		ID:             uuid.New().String(),
		OpportunityID:  opp.ID,
		Symbol:         opp.Symbol,
		BuyVenue:       opp.BuyVenue,
		SellVenue:      opp.SellVenue,
		Mode:           mode,
		Status:         domain.TradeStatusPending,
		ExpectedProfit: opp.NetProfit,
		StartedAt:      o.clock.Now(),
	}
	o.persist(ctx, rec, false)

	// 2. Reserve. Admission already checked availability, so a failure here
	// is a race and fatal to this opportunity; it is never retried.
	required := opp.RequiredCapital()
	if err := o.ledger.Reserve(required); err != nil {
		log.Error("capital reservation failed after admission", slog.String("error", err.Error()))
		o.settle(ctx, rec, domain.ExecutionResult{Status: domain.TradeStatusFailed}, err)
		return
	}

	// 3+4. Settle with guaranteed release: the deferred release runs on
	// every path out of this function, success or failure.
	func() {
		defer o.ledger.Release(required)

		var (
			result domain.ExecutionResult
			err    error
		)
		switch {
		case mode == domain.ModeSimulation:
			result = domain.ExecutionResult{
				Status:       domain.TradeStatusExecuted,
				ActualProfit: opp.NetProfit,
				Fees:         opp.Fees.Total() + opp.SlippageEstimate,
			}
		case o.engine == nil:
			// Should be unreachable: UpdateConfig refuses executing modes
			// without an engine. Settle failed rather than crash the loop.
			err = fmt.Errorf("orchestrator: mode %q with no execution engine", mode)
		default:
			// Settlement may block arbitrarily long. Shutdown must not
			// cancel a trade the engine already owns, so the call survives
			// ctx cancellation.
			result, err = o.engine.Execute(context.WithoutCancel(ctx), domain.ExecutionRequest{
				TradeID:        rec.ID,
				Symbol:         opp.Symbol,
				BuyVenue:       opp.BuyVenue,
				SellVenue:      opp.SellVenue,
				BuyPrice:       opp.BuyPrice,
				SellPrice:      opp.SellPrice,
				Quantity:       opp.Quantity,
				ExpectedProfit: opp.NetProfit,
			})
		}
		o.settle(ctx, rec, result, err)
	}()
}

// settle finalizes a trade record, updates running statistics, persists, and
// emits the terminal event. Execution errors are converted to outcomes here;
// they never propagate into the consumer's control flow.
func (o *Orchestrator) settle(ctx context.Context, rec domain.TradeRecord, result domain.ExecutionResult, execErr error) {
	now := o.clock.Now()
	rec.CompletedAt = &now
	rec.ActualProfit = result.ActualProfit
	rec.Fees = result.Fees

	switch {
	case execErr != nil:
		rec.Status = domain.TradeStatusFailed
		rec.Error = execErr.Error()
	case result.Status.Terminal():
		rec.Status = result.Status
	default:
		rec.Status = domain.TradeStatusFailed
		rec.Error = "engine returned non-terminal status"
	}

	tripped := o.st.settle(rec)
	o.persist(ctx, rec, true)

	evType := domain.EventTradeFailed
	switch rec.Status {
	case domain.TradeStatusExecuted:
		evType = domain.EventTradeCompleted
		o.logger.Info("trade completed",
			slog.String("trade_id", rec.ID),
			slog.String("symbol", rec.Symbol),
			slog.Float64("profit", rec.ActualProfit),
		)
	case domain.TradeStatusRolledBack:
		evType = domain.EventTradeRollback
		o.logger.Warn("trade rolled back",
			slog.String("trade_id", rec.ID),
			slog.String("error", rec.Error),
		)
	default:
		o.logger.Warn("trade failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", rec.Error),
		)
	}
	o.emit(domain.Event{Type: evType, At: now, Trade: &rec})

	if tripped {
		// Fail closed: once the daily loss limit is breached, admission
		// stays shut until an operator resets it.
		o.logger.Error("daily loss limit breached, admission closed",
			slog.Float64("daily_pnl", o.Status().DailyProfitLoss),
		)
		o.emit(domain.Event{
			Type:   domain.EventSafetyLimit,
			At:     now,
			Reason: "daily loss limit breached",
		})
	}
}

// persist writes the trade record when a store is configured. Persistence is
// best-effort; a store outage must not stall the pipeline.
func (o *Orchestrator) persist(ctx context.Context, rec domain.TradeRecord, update bool) {
	if o.store == nil {
		return
	}
	var err error
	if update {
		err = o.store.Update(ctx, rec)
	} else {
		err = o.store.Insert(ctx, rec)
	}
	if err != nil {
		o.logger.Warn("trade record persistence failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// emit sends an event without blocking the pipeline. If the consumer lags
// behind the buffer, the event is dropped and logged. Safety-limit events are
// the exception: the kill switch has no other signal, so they always block
// until delivered.
func (o *Orchestrator) emit(ev domain.Event) {
	if ev.Type == domain.EventSafetyLimit {
		o.events <- ev
		return
	}
	select {
	case o.events <- ev:
	default:
		o.logger.Warn("event buffer full, dropping event", slog.String("type", string(ev.Type)))
	}
}

package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioslabs/helios/internal/clock"
	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/evaluator"
	"github.com/helioslabs/helios/internal/ledger"
)

type stubEngine struct {
	mu     sync.Mutex
	result domain.ExecutionResult
	err    error
	calls  []domain.ExecutionRequest
}

func (e *stubEngine) Execute(_ context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, req)
	return e.result, e.err
}

func (e *stubEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type stubOracle struct {
	verdict domain.RiskVerdict
	err     error
}

func (o *stubOracle) Evaluate(context.Context, domain.RiskCheck) (domain.RiskVerdict, error) {
	return o.verdict, o.err
}

type memStore struct {
	mu      sync.Mutex
	inserts []domain.TradeRecord
	updates []domain.TradeRecord
}

func (s *memStore) Insert(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts = append(s.inserts, rec)
	return nil
}

func (s *memStore) Update(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, rec)
	return nil
}

func (s *memStore) ListRecent(context.Context, int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *memStore) ListSettledBefore(context.Context, time.Time, int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *memStore) DailyStats(context.Context, time.Time) (domain.DailyStats, error) {
	return domain.DailyStats{}, nil
}

func testFees() evaluator.FeeConfig {
	return evaluator.FeeConfig{
		CapitalAllocation:  1000,
		TakerFeeRate:       0.001,
		NetworkFee:         1.5,
		MaxSlippageRate:    0.001,
		MinProfitThreshold: 0.5,
		MinConfidence:      70,
	}
}

func testSpread(low, high float64) domain.Spread {
	return domain.Spread{
		Symbol:        "SOL/USDC",
		LowVenue:      "alpha",
		HighVenue:     "beta",
		LowPrice:      low,
		HighPrice:     high,
		SpreadPercent: (high - low) / low * 100,
		ObservedAt:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func viableOpportunity() domain.Opportunity {
	return evaluator.Evaluate(testSpread(100, 102), testFees())
}

type fixture struct {
	o      *Orchestrator
	clk    *clock.Fake
	led    *ledger.Ledger
	engine *stubEngine
	store  *memStore
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := Config{
		Mode:             domain.ModeSimulation,
		MaxTradesPerHour: 5,
		DailyLossLimit:   500,
		Fees:             testFees(),
		QueueSize:        8,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewFake(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	led := ledger.New(5000)
	engine := &stubEngine{result: domain.ExecutionResult{Status: domain.TradeStatusExecuted}}
	store := &memStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		o:      New(cfg, led, engine, nil, store, clk, logger),
		clk:    clk,
		led:    led,
		engine: engine,
		store:  store,
	}
}

func waitEvent(t *testing.T, f *fixture, want domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-f.o.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", want)
		}
	}
}

func TestAdmitHourlyRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	opp := viableOpportunity()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.o.admit(opp), "admission %d within budget", i+1)
	}
	err := f.o.admit(opp)
	require.ErrorIs(t, err, domain.ErrRateLimited)

	// A second attempt in the same window stays rejected.
	require.ErrorIs(t, f.o.admit(opp), domain.ErrRateLimited)

	// The budget refills once the hour window rolls over.
	f.clk.Advance(time.Hour)
	require.NoError(t, f.o.admit(opp))

	st := f.o.Status()
	assert.Equal(t, 1, st.TradesThisHour)
	assert.Equal(t, f.clk.Now(), st.HourWindowStart)
}

func TestAdmitPartialHourKeepsWindow(t *testing.T) {
	f := newFixture(t, nil)
	opp := viableOpportunity()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.o.admit(opp))
	}
	f.clk.Advance(59 * time.Minute)
	require.ErrorIs(t, f.o.admit(opp), domain.ErrRateLimited)
}

func TestAdmitLossBreakerFailClosed(t *testing.T) {
	f := newFixture(t, nil)
	opp := viableOpportunity()

	// A cumulative loss just past the limit trips the breaker.
	tripped := f.o.st.settle(domain.TradeRecord{
		Status:       domain.TradeStatusFailed,
		ActualProfit: -500.01,
		StartedAt:    f.clk.Now(),
	})
	require.True(t, tripped)
	require.ErrorIs(t, f.o.admit(opp), domain.ErrLossLimitReached)

	// The breaker survives the day rollover; only an explicit reset
	// re-opens admission.
	f.clk.Advance(24 * time.Hour)
	require.ErrorIs(t, f.o.admit(opp), domain.ErrLossLimitReached)

	f.o.ResetDailyLoss()
	require.NoError(t, f.o.admit(opp))
}

func TestLossBreakerTripsOnce(t *testing.T) {
	f := newFixture(t, nil)

	rec := domain.TradeRecord{
		Status:       domain.TradeStatusFailed,
		ActualProfit: -300,
		StartedAt:    f.clk.Now(),
	}
	require.False(t, f.o.st.settle(rec))
	require.True(t, f.o.st.settle(rec))
	// Further losses do not re-signal the already tripped breaker.
	require.False(t, f.o.st.settle(rec))
}

func TestAdmitInsufficientCapital(t *testing.T) {
	f := newFixture(t, nil)
	// Lock up most of the ledger so the opportunity no longer fits.
	require.NoError(t, f.led.Reserve(4500))

	opp := viableOpportunity()
	require.Greater(t, opp.RequiredCapital(), f.led.Available())
	require.ErrorIs(t, f.o.admit(opp), domain.ErrInsufficientCapital)

	f.led.Release(4500)
	require.NoError(t, f.o.admit(opp))
}

func TestUnadmitRefundsHourlyBudget(t *testing.T) {
	f := newFixture(t, nil)
	opp := viableOpportunity()

	require.NoError(t, f.o.admit(opp))
	require.Equal(t, 1, f.o.Status().TradesThisHour)
	f.o.unadmit()
	require.Equal(t, 0, f.o.Status().TradesThisHour)
}

func TestExecuteOneSimulationSynthesizesSuccess(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.start())
	opp := viableOpportunity()
	before := f.led.Available()

	f.o.executeOne(context.Background(), opp)

	ev := waitEvent(t, f, domain.EventTradeCompleted)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, domain.TradeStatusExecuted, ev.Trade.Status)
	assert.InDelta(t, opp.NetProfit, ev.Trade.ActualProfit, 1e-9)

	// Simulation never touches the engine and always restores capital.
	assert.Equal(t, 0, f.engine.callCount())
	assert.InDelta(t, before, f.led.Available(), 1e-9)
	assert.Zero(t, f.led.Reserved())

	// One pending insert, one terminal update.
	require.Len(t, f.store.inserts, 1)
	require.Len(t, f.store.updates, 1)
	assert.Equal(t, domain.TradeStatusPending, f.store.inserts[0].Status)
	assert.Equal(t, domain.TradeStatusExecuted, f.store.updates[0].Status)

	stats := f.o.DailyStats()
	assert.Equal(t, int64(1), stats.TradesExecuted)
	assert.InDelta(t, opp.NetProfit, stats.ProfitLoss, 1e-9)
}

func TestExecuteOneEngineFailureReleasesCapital(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Mode = domain.ModePaper })
	require.NoError(t, f.o.start())
	f.engine.err = errors.New("sell leg rejected")
	f.engine.result = domain.ExecutionResult{}

	opp := viableOpportunity()
	before := f.led.Available()
	f.o.executeOne(context.Background(), opp)

	ev := waitEvent(t, f, domain.EventTradeFailed)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, domain.TradeStatusFailed, ev.Trade.Status)
	assert.Contains(t, ev.Trade.Error, "sell leg rejected")

	assert.Equal(t, 1, f.engine.callCount())
	assert.InDelta(t, before, f.led.Available(), 1e-9)
	assert.Zero(t, f.led.Reserved())
	assert.Equal(t, int64(1), f.o.DailyStats().TradesFailed)
}

func TestExecuteOneRollbackStatusPreserved(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Mode = domain.ModePaper })
	require.NoError(t, f.o.start())
	f.engine.result = domain.ExecutionResult{
		Status:       domain.TradeStatusRolledBack,
		ActualProfit: -2.5,
		Fees:         1.1,
	}

	f.o.executeOne(context.Background(), viableOpportunity())

	ev := waitEvent(t, f, domain.EventTradeRollback)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, domain.TradeStatusRolledBack, ev.Trade.Status)
	assert.InDelta(t, -2.5, ev.Trade.ActualProfit, 1e-9)
	assert.Zero(t, f.led.Reserved())
}

func TestExecuteOneOracleVeto(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Mode = domain.ModePaper })
	f.o.oracle = &stubOracle{verdict: domain.RiskVerdict{Proceed: false, Rationale: "adverse momentum"}}
	require.NoError(t, f.o.start())
	before := f.led.Available()

	f.o.executeOne(context.Background(), viableOpportunity())

	ev := waitEvent(t, f, domain.EventOpportunityBlocked)
	assert.Equal(t, "adverse momentum", ev.Reason)
	require.NotNil(t, ev.Opportunity)

	// Veto happens before any reservation or engine call.
	assert.Equal(t, 0, f.engine.callCount())
	assert.InDelta(t, before, f.led.Available(), 1e-9)
	assert.Empty(t, f.store.inserts)
	assert.Equal(t, int64(1), f.o.DailyStats().Blocked)
}

func TestExecuteOneOracleErrorBlocks(t *testing.T) {
	f := newFixture(t, nil)
	f.o.oracle = &stubOracle{err: errors.New("dial tcp: connection refused")}
	require.NoError(t, f.o.start())

	f.o.executeOne(context.Background(), viableOpportunity())

	ev := waitEvent(t, f, domain.EventOpportunityBlocked)
	assert.Contains(t, ev.Reason, "oracle error")
	assert.Equal(t, 0, f.engine.callCount())
}

func TestSettleTripsSafetyLimitEvent(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Mode = domain.ModePaper })
	require.NoError(t, f.o.start())
	f.engine.result = domain.ExecutionResult{
		Status:       domain.TradeStatusFailed,
		ActualProfit: -600,
	}

	f.o.executeOne(context.Background(), viableOpportunity())

	waitEvent(t, f, domain.EventTradeFailed)
	waitEvent(t, f, domain.EventSafetyLimit)

	st := f.o.Status()
	assert.True(t, st.DailyLossLimitReached)
	assert.InDelta(t, -600, st.DailyProfitLoss, 1e-9)
	require.ErrorIs(t, f.o.admit(viableOpportunity()), domain.ErrLossLimitReached)
}

func TestHandleBatchAdmitsOnlyViable(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.start())

	batch := []domain.Spread{
		testSpread(100, 102),   // viable
		testSpread(100, 100.3), // spread too thin to clear costs
	}
	f.o.handleBatch(context.Background(), batch)

	require.Equal(t, 1, len(f.o.queue))
	stats := f.o.DailyStats()
	assert.Equal(t, int64(2), stats.SpreadsSeen)
	assert.Equal(t, int64(1), stats.Admitted)
	assert.Equal(t, int64(1), stats.Rejected)

	ev := waitEvent(t, f, domain.EventSpreads)
	assert.Len(t, ev.Spreads, 2)
}

func TestHandleBatchDroppedWhenStopped(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.start())
	require.NoError(t, f.o.Stop())

	f.o.handleBatch(context.Background(), []domain.Spread{testSpread(100, 102)})
	assert.Equal(t, 0, len(f.o.queue))
	assert.Equal(t, int64(0), f.o.DailyStats().SpreadsSeen)
}

func TestHandleBatchQueueFullRefundsAdmission(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.QueueSize = 1 })
	require.NoError(t, f.o.start())

	batch := []domain.Spread{testSpread(100, 102), testSpread(100, 103)}
	f.o.handleBatch(context.Background(), batch)

	assert.Equal(t, 1, len(f.o.queue))
	// The dropped opportunity refunded its hourly slot.
	assert.Equal(t, 1, f.o.Status().TradesThisHour)
}

func TestUpdateConfigModeLockedWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.o.start())

	next := Config{
		Mode:             domain.ModeLive,
		MaxTradesPerHour: 10,
		DailyLossLimit:   500,
		Fees:             testFees(),
	}
	err := f.o.UpdateConfig(next)
	require.ErrorIs(t, err, domain.ErrModeLocked)
	assert.Equal(t, domain.ModeSimulation, f.o.Status().Mode)

	// Same mode, new limits: applied in place.
	next.Mode = domain.ModeSimulation
	require.NoError(t, f.o.UpdateConfig(next))
	opp := viableOpportunity()
	for i := 0; i < 10; i++ {
		require.NoError(t, f.o.admit(opp))
	}
	require.ErrorIs(t, f.o.admit(opp), domain.ErrRateLimited)

	// Once stopped, the mode can change.
	require.NoError(t, f.o.Stop())
	next.Mode = domain.ModeLive
	require.NoError(t, f.o.UpdateConfig(next))
	assert.Equal(t, domain.ModeLive, f.o.Status().Mode)
}

func TestUpdateConfigRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, nil)
	err := f.o.UpdateConfig(Config{Mode: "turbo"})
	require.Error(t, err)
}

// newNilEngineFixture builds the orchestrator the way a simulation-only
// process does: no execution engine wired at all.
func newNilEngineFixture(t *testing.T, mode domain.Mode) *fixture {
	t.Helper()
	cfg := Config{
		Mode:             mode,
		MaxTradesPerHour: 5,
		DailyLossLimit:   500,
		Fees:             testFees(),
		QueueSize:        8,
	}
	clk := clock.NewFake(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	led := ledger.New(5000)
	store := &memStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		o:     New(cfg, led, nil, nil, store, clk, logger),
		clk:   clk,
		led:   led,
		store: store,
	}
}

func TestUpdateConfigExecutingModesNeedEngine(t *testing.T) {
	f := newNilEngineFixture(t, domain.ModeSimulation)

	next := f.o.CurrentConfig()
	next.Mode = domain.ModePaper
	err := f.o.UpdateConfig(next)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution engine")
	assert.Equal(t, domain.ModeSimulation, f.o.Status().Mode)

	next.Mode = domain.ModeLive
	require.Error(t, f.o.UpdateConfig(next))

	// Simulation itself stays reconfigurable.
	next.Mode = domain.ModeSimulation
	next.MaxTradesPerHour = 10
	require.NoError(t, f.o.UpdateConfig(next))
}

func TestExecuteOneWithoutEngineSettlesFailed(t *testing.T) {
	f := newNilEngineFixture(t, domain.ModePaper)
	require.NoError(t, f.o.start())

	opp := viableOpportunity()
	before := f.led.Available()
	require.NotPanics(t, func() { f.o.executeOne(context.Background(), opp) })

	ev := waitEvent(t, f, domain.EventTradeFailed)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, domain.TradeStatusFailed, ev.Trade.Status)
	assert.Contains(t, ev.Trade.Error, "no execution engine")
	assert.InDelta(t, before, f.led.Available(), 1e-9)
	assert.Zero(t, f.led.Reserved())
}

func TestEmitSafetyLimitSurvivesFullBuffer(t *testing.T) {
	f := newFixture(t, nil)

	// Saturate the event buffer, then confirm a further non-safety event
	// is dropped rather than blocking the pipeline.
	for i := 0; i < cap(f.o.events); i++ {
		f.o.emit(domain.Event{Type: domain.EventSpreads, At: f.clk.Now()})
	}
	f.o.emit(domain.Event{Type: domain.EventSpreads, At: f.clk.Now()})
	require.Len(t, f.o.events, cap(f.o.events))

	done := make(chan struct{})
	go func() {
		f.o.emit(domain.Event{
			Type:   domain.EventSafetyLimit,
			At:     f.clk.Now(),
			Reason: "daily loss limit breached",
		})
		close(done)
	}()

	// The safety event must come through once the consumer drains.
	ev := waitEvent(t, f, domain.EventSafetyLimit)
	assert.Equal(t, "daily loss limit breached", ev.Reason)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("safety-limit emit did not complete")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.o.Stop(), domain.ErrNotRunning)
	require.NoError(t, f.o.Start())
	require.ErrorIs(t, f.o.Start(), domain.ErrAlreadyRunning)
	require.True(t, f.o.IsRunning())
	require.NoError(t, f.o.Stop())
	require.False(t, f.o.IsRunning())
}

func TestRunEndToEndSimulation(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan []domain.Spread, 1)
	done := make(chan error, 1)
	go func() { done <- f.o.Run(ctx, in) }()

	in <- []domain.Spread{testSpread(100, 102)}

	waitEvent(t, f, domain.EventSpreads)
	ev := waitEvent(t, f, domain.EventTradeCompleted)
	assert.Equal(t, domain.TradeStatusExecuted, ev.Trade.Status)
	assert.Zero(t, f.led.Reserved())

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not exit on cancellation")
	}
	require.False(t, f.o.IsRunning())
}

func TestRunRejectsSecondInstance(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan []domain.Spread)
	go f.o.Run(ctx, in) //nolint:errcheck

	require.Eventually(t, f.o.IsRunning, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, f.o.Run(ctx, in), domain.ErrAlreadyRunning)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helioslabs/helios/internal/domain"
	"github.com/helioslabs/helios/internal/evaluator"
	"github.com/helioslabs/helios/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeController struct {
	cfg        orchestrator.Config
	startErr   error
	stopErr    error
	updateErr  error
	resets     int
	lastUpdate orchestrator.Config
}

func (f *fakeController) Start() error    { return f.startErr }
func (f *fakeController) Stop() error     { return f.stopErr }
func (f *fakeController) ResetDailyLoss() { f.resets++ }
func (f *fakeController) CurrentConfig() orchestrator.Config {
	return f.cfg
}
func (f *fakeController) UpdateConfig(cfg orchestrator.Config) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.lastUpdate = cfg
	f.cfg = cfg
	return nil
}

func baseConfig() orchestrator.Config {
	return orchestrator.Config{
		Mode:             domain.ModeSimulation,
		MaxTradesPerHour: 10,
		DailyLossLimit:   500,
		Fees: evaluator.FeeConfig{
			CapitalAllocation:  1000,
			TakerFeeRate:       0.001,
			NetworkFee:         1.5,
			MaxSlippageRate:    0.001,
			MinProfitThreshold: 0.5,
			MinConfidence:      70,
		},
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestControlStart(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig()}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/control/start", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decodeBody(t, rec)["status"])
}

func TestControlStartConflict(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig(), startErr: domain.ErrAlreadyRunning}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/control/start", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestControlStopConflict(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig(), stopErr: domain.ErrNotRunning}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/control/stop", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestControlResetLoss(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig()}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	h.ResetLoss(rec, httptest.NewRequest(http.MethodPost, "/api/control/reset-loss", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctl.resets)
}

func TestGetConfig(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig()}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	h.GetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "simulation", body["mode"])
	assert.Equal(t, float64(10), body["max_trades_per_hour"])
	assert.Equal(t, 500.0, body["daily_loss_limit"])
	assert.Equal(t, 1000.0, body["capital_allocation"])
}

func TestUpdateConfigPartial(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig()}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/config",
		strings.NewReader(`{"max_trades_per_hour":3,"daily_loss_limit":250}`))
	h.UpdateConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// Untouched fields keep their values.
	assert.Equal(t, 3, ctl.lastUpdate.MaxTradesPerHour)
	assert.Equal(t, 250.0, ctl.lastUpdate.DailyLossLimit)
	assert.Equal(t, domain.ModeSimulation, ctl.lastUpdate.Mode)
	assert.Equal(t, 1000.0, ctl.lastUpdate.Fees.CapitalAllocation)
}

func TestUpdateConfigModeLocked(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig(), updateErr: domain.ErrModeLocked}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/config",
		strings.NewReader(`{"mode":"live"}`))
	h.UpdateConfig(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateConfigBadBody(t *testing.T) {
	ctl := &fakeController{cfg: baseConfig()}
	h := NewControlHandler(ctl, testLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/config", strings.NewReader(`{`))
	h.UpdateConfig(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeStatus struct {
	state domain.OrchestratorState
	stats domain.DailyStats
}

func (f *fakeStatus) Status() domain.OrchestratorState { return f.state }
func (f *fakeStatus) DailyStats() domain.DailyStats    { return f.stats }

type fakeSwitch struct {
	tripped bool
	reason  string
}

func (f *fakeSwitch) Tripped() (bool, string) { return f.tripped, f.reason }

func TestGetStatus(t *testing.T) {
	provider := &fakeStatus{
		state: domain.OrchestratorState{
			Mode:           domain.ModePaper,
			IsRunning:      true,
			TradesThisHour: 2,
			TotalCapital:   5000,
		},
	}
	h := NewStatusHandler(provider, &fakeSwitch{tripped: true, reason: "daily loss limit"})

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	orch, ok := body["orchestrator"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "paper", orch["mode"])
	assert.Equal(t, true, orch["is_running"])
	assert.Equal(t, float64(2), orch["trades_this_hour"])

	ks, ok := body["kill_switch"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, ks["tripped"])
	assert.Equal(t, "daily loss limit", ks["reason"])
}

func TestGetStatusWithoutKillSwitch(t *testing.T) {
	h := NewStatusHandler(&fakeStatus{}, nil)

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	_, present := decodeBody(t, rec)["kill_switch"]
	assert.False(t, present)
}

func TestGetDailyStats(t *testing.T) {
	provider := &fakeStatus{
		stats: domain.DailyStats{ProfitLoss: -42.5, TradesExecuted: 3, TradesFailed: 1},
	}
	h := NewStatusHandler(provider, nil)

	rec := httptest.NewRecorder()
	h.GetDailyStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats/daily", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, -42.5, body["profit_loss"])
	assert.Equal(t, float64(3), body["trades_executed"])
}

type fakeTradeStore struct {
	trades []domain.TradeRecord
	err    error
	limit  int
}

func (f *fakeTradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error { return nil }
func (f *fakeTradeStore) Update(ctx context.Context, rec domain.TradeRecord) error { return nil }
func (f *fakeTradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	f.limit = limit
	return f.trades, f.err
}
func (f *fakeTradeStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TradeRecord, error) {
	return nil, nil
}
func (f *fakeTradeStore) DailyStats(ctx context.Context, day time.Time) (domain.DailyStats, error) {
	return domain.DailyStats{}, nil
}

func TestListRecentTrades(t *testing.T) {
	store := &fakeTradeStore{trades: []domain.TradeRecord{
		{Symbol: "BTC-USD", Status: domain.TradeStatusExecuted},
	}}
	h := NewTradesHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 7, store.limit)
}

func TestListRecentTradesLimitCapped(t *testing.T) {
	store := &fakeTradeStore{}
	h := NewTradesHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, store.limit)
}

func TestListRecentTradesNoStore(t *testing.T) {
	h := NewTradesHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRecentTradesStoreError(t *testing.T) {
	store := &fakeTradeStore{err: errors.New("connection refused")}
	h := NewTradesHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheckDegraded(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("dial tcp: refused") },
	}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	// Degraded dependencies still report 200: the process is alive.
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])

	deps, ok := body["dependencies"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", deps["postgres"])
	assert.Contains(t, deps["redis"], "refused")
}

func TestHealthCheckNoDependencies(t *testing.T) {
	h := NewHealthHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

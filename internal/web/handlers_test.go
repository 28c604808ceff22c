package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchiahui/aitrader/internal/analysis"
	"github.com/linchiahui/aitrader/internal/backtest"
	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/notify"
	"github.com/linchiahui/aitrader/internal/risk"
	"github.com/linchiahui/aitrader/internal/runner"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/strategy"
	"github.com/linchiahui/aitrader/internal/trading"
	"github.com/linchiahui/aitrader/internal/verify"
)

const verifiedRules = `{
	"entry": [{"indicator": "price_breaks_ma", "params": {"period": 10}}],
	"exit": [{"indicator": "price_below_ma", "params": {"period": 10}}]
}`

type stubBroker struct{}

func (stubBroker) GetHistoricalBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	bars := make([]market.Bar, 50)
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = market.Bar{Timestamp: start.Add(time.Duration(i) * 5 * time.Minute), Open: 17000, High: 17002, Low: 16998, Close: 17000, Volume: 1000}
	}
	return bars, nil
}

func (stubBroker) Watch(string)   {}
func (stubBroker) Unwatch(string) {}
func (stubBroker) Connected() bool {
	return true
}

func (stubBroker) PlaceMarketOrder(ctx context.Context, symbol string, side broker.Side, quantity int64) (*broker.Fill, error) {
	return &broker.Fill{OrderID: "o-1", ExecutedPrice: 17000, ExecutedLots: quantity}, nil
}

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, rec *store.StrategyRecord) (*verify.Outcome, error) {
	rules, err := strategy.ParseRuleSet(verifiedRules)
	if err != nil {
		return nil, err
	}
	return &verify.Outcome{Passed: true, Document: verifiedRules, Rules: rules, Attempts: 1}, nil
}

func testServer(t *testing.T) (*Server, *store.Repository) {
	t.Helper()
	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := store.NewRepository(db)

	cfg := &config.Config{}
	cfg.Trading.RunnerInterval = "60s"
	cfg.Trading.HistoryBars = 100
	cfg.Risk.MaxOrdersPerMinute = 5
	cfg.Risk.MaxOpenContracts = 10
	cfg.Risk.MaxDailyLoss = 50000
	cfg.Backtest.InitialCapital = 1_000_000
	cfg.Backtest.MaxBars = 10000
	cfg.Web.Port = 0

	log := logger.New("error", "text")
	bk := stubBroker{}
	cache := market.NewCache(log)
	notifier := notify.NewNotifier(cfg, log)
	engine := backtest.NewEngine(cfg, log)
	gate := risk.NewGate(cfg, repo, log)
	positions := trading.NewPositionManager(repo, bk, log)
	svc := trading.NewService(repo, stubVerifier{}, engine, bk, positions, notifier, cfg, log)
	analyzer := analysis.NewAnalyzer(repo, log)
	rn := runner.NewRunner(repo, cache, bk, gate, positions, notifier, cfg, log)

	return NewServer(svc, rn, analyzer, cfg, log), repo
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func TestCreateAndGetStrategy(t *testing.T) {
	s, _ := testServer(t)

	body := `{"symbol": "TXF", "direction": "long", "timeframe": "5m", "prompt": "buy breakouts", "quantity": 1}`
	rr := doRequest(s, http.MethodPost, "/api/strategies", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var created store.StrategyRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.True(t, created.Verified)

	rr = doRequest(s, http.MethodGet, "/api/strategies/"+created.StrategyID, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, "/api/strategies", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetStrategyByVersion(t *testing.T) {
	s, repo := testServer(t)

	v1 := &store.StrategyRecord{
		StrategyID: "txf-a", Version: 1, Symbol: "TXF", Direction: "long",
		Timeframe: "5m", Prompt: "p1", Quantity: 1,
	}
	require.NoError(t, repo.CreateStrategy(v1))
	v2 := &store.StrategyRecord{
		StrategyID: "txf-a", Version: 2, Symbol: "TXF", Direction: "long",
		Timeframe: "5m", Prompt: "p2", Quantity: 1,
	}
	require.NoError(t, repo.CreateVersion(v1, v2))

	rr := doRequest(s, http.MethodGet, "/api/strategies/txf-a?version=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got store.StrategyRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Archived)

	rr = doRequest(s, http.MethodGet, "/api/strategies/txf-a?version=5", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateStrategyValidationError(t *testing.T) {
	s, _ := testServer(t)

	body := `{"symbol": "", "direction": "long", "timeframe": "5m", "prompt": "x", "quantity": 1}`
	rr := doRequest(s, http.MethodPost, "/api/strategies", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(s, http.MethodPost, "/api/strategies", "{broken")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetStrategyNotFound(t *testing.T) {
	s, _ := testServer(t)
	rr := doRequest(s, http.MethodGet, "/api/strategies/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConfirmationConflict(t *testing.T) {
	s, repo := testServer(t)
	now := time.Now()

	for _, id := range []string{"txf-a", "txf-b"} {
		require.NoError(t, repo.CreateStrategy(&store.StrategyRecord{
			StrategyID: id, Version: 1, Symbol: "TXF", Direction: "long",
			Timeframe: "5m", Prompt: "p", Quantity: 1, Rules: verifiedRules,
			Verified: true, VerificationStatus: store.VerificationPassed,
			VerifiedAt: &now, Enabled: id == "txf-a",
		}))
	}

	rr := doRequest(s, http.MethodPost, "/api/strategies/txf-b/enable", "")
	require.Equal(t, http.StatusConflict, rr.Code)

	var resp struct {
		Action string `json:"action"`
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "enable", resp.Action)
	assert.Contains(t, resp.Detail, "txf-a")

	rr = doRequest(s, http.MethodPost, "/api/strategies/txf-b/enable?confirm=true", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := testServer(t)

	rr := doRequest(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var st runner.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.True(t, st.BrokerConnected)
}

func TestDeleteStrategy(t *testing.T) {
	s, repo := testServer(t)
	require.NoError(t, repo.CreateStrategy(&store.StrategyRecord{
		StrategyID: "txf-a", Version: 1, Symbol: "TXF", Direction: "long",
		Timeframe: "5m", Prompt: "p", Quantity: 1,
	}))

	rr := doRequest(s, http.MethodDelete, "/api/strategies/txf-a", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(s, http.MethodGet, "/api/strategies/txf-a", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

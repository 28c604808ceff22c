package trading

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchiahui/aitrader/internal/backtest"
	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/notify"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/strategy"
	"github.com/linchiahui/aitrader/internal/verify"
)

const testRules = `{
	"entry": [{"indicator": "price_breaks_ma", "params": {"period": 10}}],
	"exit": [{"indicator": "price_below_ma", "params": {"period": 10}}],
	"stop_loss_points": 50,
	"take_profit_points": 100
}`

type placedOrder struct {
	symbol   string
	side     broker.Side
	quantity int64
}

type fakeBroker struct {
	price     float64
	connected bool
	orders    []placedOrder
	orderErr  error
}

func (f *fakeBroker) GetHistoricalBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	n := 100
	if count < n {
		n = count
	}
	bars := make([]market.Bar, n)
	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	for i := range bars {
		c := f.price
		if i == n/2 {
			c = f.price + 300
		}
		bars[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c, High: c + 2, Low: c - 2, Close: c, Volume: 1000,
		}
	}
	return bars, nil
}

func (f *fakeBroker) Watch(symbol string)   {}
func (f *fakeBroker) Unwatch(symbol string) {}
func (f *fakeBroker) Connected() bool       { return f.connected }

func (f *fakeBroker) PlaceMarketOrder(ctx context.Context, symbol string, side broker.Side, quantity int64) (*broker.Fill, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, placedOrder{symbol: symbol, side: side, quantity: quantity})
	return &broker.Fill{
		OrderID:       fmt.Sprintf("order-%d", len(f.orders)),
		ExecutedPrice: f.price,
		ExecutedLots:  quantity,
	}, nil
}

type fakeVerifier struct {
	outcome *verify.Outcome
	err     error
	calls   int
}

func (f *fakeVerifier) Verify(ctx context.Context, rec *store.StrategyRecord) (*verify.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func passingOutcome(t *testing.T) *verify.Outcome {
	t.Helper()
	rules, err := strategy.ParseRuleSet(testRules)
	require.NoError(t, err)
	return &verify.Outcome{
		Passed:   true,
		Document: testRules,
		Rules:    rules,
		Attempts: 1,
	}
}

func testService(t *testing.T, verifier Verifier, bk broker.Broker) (*Service, *store.Repository) {
	t.Helper()
	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := store.NewRepository(db)

	cfg := &config.Config{}
	cfg.Backtest.InitialCapital = 1_000_000
	cfg.Backtest.MaxBars = 10000

	log := logger.New("error", "text")
	notifier := notify.NewNotifier(cfg, log)
	engine := backtest.NewEngine(cfg, log)
	positions := NewPositionManager(repo, bk, log)

	return NewService(repo, verifier, engine, bk, positions, notifier, cfg, log), repo
}

func draftRequest() CreateRequest {
	return CreateRequest{
		Symbol:    "TXF",
		Direction: "long",
		Timeframe: "5m",
		Prompt:    "buy breakouts above the 10 bar average",
		Quantity:  1,
	}
}

func TestCreateDraftValidation(t *testing.T) {
	svc, _ := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"missing symbol", func(r *CreateRequest) { r.Symbol = "" }, "symbol"},
		{"bad direction", func(r *CreateRequest) { r.Direction = "sideways" }, "direction"},
		{"bad timeframe", func(r *CreateRequest) { r.Timeframe = "2h" }, "timeframe"},
		{"missing prompt", func(r *CreateRequest) { r.Prompt = "  " }, "prompt"},
		{"zero quantity", func(r *CreateRequest) { r.Quantity = 0 }, "quantity"},
		{"bad goal unit", func(r *CreateRequest) { r.GoalUnit = "hourly" }, "goal_unit"},
		{"goal without value", func(r *CreateRequest) { r.GoalUnit = "daily"; r.Goal = 0 }, "goal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := draftRequest()
			tc.mutate(&req)

			_, err := svc.CreateDraft(ctx, req)
			require.Error(t, err)
			draftErr, ok := err.(*DraftError)
			require.True(t, ok)
			assert.Equal(t, tc.field, draftErr.Field)
		})
	}
}

func TestCreateDraftVerifiedAndStored(t *testing.T) {
	verifier := &fakeVerifier{outcome: passingOutcome(t)}
	svc, repo := testService(t, verifier, &fakeBroker{price: 17000, connected: true})

	rec, err := svc.CreateDraft(context.Background(), draftRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, verifier.calls)
	assert.True(t, rec.Verified)
	assert.Equal(t, store.VerificationPassed, rec.VerificationStatus)
	assert.Equal(t, 1, rec.VerificationAttempts)
	assert.NotNil(t, rec.VerifiedAt)
	assert.Equal(t, 50.0, rec.StopLossPoints)
	assert.Equal(t, 100.0, rec.TakeProfitPoints)

	stored, err := repo.GetStrategy(rec.StrategyID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Verified)
	assert.NotEmpty(t, stored.Rules)
}

func TestCreateDraftVerificationFailed(t *testing.T) {
	verifier := &fakeVerifier{outcome: &verify.Outcome{
		Passed:        false,
		Attempts:      3,
		FailureReason: "simulation anomaly inert: no signals over 100 bars",
	}}
	svc, _ := testService(t, verifier, &fakeBroker{price: 17000, connected: true})

	rec, err := svc.CreateDraft(context.Background(), draftRequest())
	require.NoError(t, err)

	assert.False(t, rec.Verified)
	assert.Equal(t, store.VerificationFailed, rec.VerificationStatus)
	assert.Equal(t, 3, rec.VerificationAttempts)
	assert.Contains(t, rec.VerificationError, "inert")
}

// seedVerified inserts a verified strategy directly, bypassing draft
// creation so tests control the identifier.
func seedVerified(t *testing.T, repo *store.Repository, id, symbol string, enabled bool) *store.StrategyRecord {
	t.Helper()
	now := time.Now()
	rec := &store.StrategyRecord{
		StrategyID:         id,
		Version:            1,
		Symbol:             symbol,
		Direction:          "long",
		Timeframe:          "5m",
		Prompt:             "buy breakouts",
		Quantity:           1,
		Rules:              testRules,
		Verified:           true,
		VerificationStatus: store.VerificationPassed,
		VerifiedAt:         &now,
		Enabled:            enabled,
	}
	require.NoError(t, repo.CreateStrategy(rec))
	return rec
}

func TestEnableRequiresVerification(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})

	rec := &store.StrategyRecord{
		StrategyID: "txf-1", Version: 1, Symbol: "TXF", Direction: "long",
		Timeframe: "5m", Prompt: "p", Quantity: 1,
		VerificationStatus: store.VerificationFailed,
	}
	require.NoError(t, repo.CreateStrategy(rec))

	_, err := svc.Enable(context.Background(), "txf-1", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not verified")
}

func TestEnableSymbolExclusivity(t *testing.T) {
	bk := &fakeBroker{price: 17000, connected: true}
	svc, repo := testService(t, &fakeVerifier{}, bk)
	ctx := context.Background()

	seedVerified(t, repo, "txf-a", "TXF", true)
	seedVerified(t, repo, "txf-b", "TXF", false)
	require.NoError(t, repo.SavePosition(&store.PositionRecord{
		StrategyID: "txf-a", StrategyVersion: 1, Symbol: "TXF",
		Direction: "long", Quantity: 2, EntryPrice: 16900,
	}))

	// Without confirm the enable is blocked and the detail names the
	// position that would be closed.
	_, err := svc.Enable(ctx, "txf-b", false)
	require.Error(t, err)
	confirmErr, ok := err.(*ConfirmationRequired)
	require.True(t, ok)
	assert.Contains(t, confirmErr.Detail, "txf-a")
	assert.Contains(t, confirmErr.Detail, "long")
	assert.Contains(t, confirmErr.Detail, "2")

	// Confirmed: the holder's position is closed, it is disabled, and
	// the new strategy takes the symbol.
	recB, err := svc.Enable(ctx, "txf-b", true)
	require.NoError(t, err)
	assert.True(t, recB.Enabled)

	recA, err := repo.GetStrategy("txf-a")
	require.NoError(t, err)
	assert.False(t, recA.Enabled)

	pos, err := repo.GetPosition("txf-a")
	require.NoError(t, err)
	assert.Nil(t, pos)

	trades, err := repo.GetTrades("txf-a", -1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "takeover", trades[0].ExitReason)
	// Closed at 17000 from 16900 long, 2 contracts of 200 per point.
	assert.InDelta(t, 100*200*2, trades[0].PnL, 0.01)

	require.Len(t, bk.orders, 1)
	assert.Equal(t, broker.SideSell, bk.orders[0].side)
}

func TestEnableIdempotent(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})
	seedVerified(t, repo, "txf-a", "TXF", true)

	rec, err := svc.Enable(context.Background(), "txf-a", false)
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
}

func TestDisableWithPositionNeedsConfirm(t *testing.T) {
	bk := &fakeBroker{price: 17000, connected: true}
	svc, repo := testService(t, &fakeVerifier{}, bk)
	ctx := context.Background()

	seedVerified(t, repo, "txf-a", "TXF", true)
	require.NoError(t, repo.SavePosition(&store.PositionRecord{
		StrategyID: "txf-a", StrategyVersion: 1, Symbol: "TXF",
		Direction: "short", Quantity: 1, EntryPrice: 17100,
	}))

	_, err := svc.Disable(ctx, "txf-a", false)
	require.Error(t, err)
	_, ok := err.(*ConfirmationRequired)
	require.True(t, ok)

	rec, err := svc.Disable(ctx, "txf-a", true)
	require.NoError(t, err)
	assert.False(t, rec.Enabled)

	pos, err := repo.GetPosition("txf-a")
	require.NoError(t, err)
	assert.Nil(t, pos)

	// Short closed with a buy.
	require.Len(t, bk.orders, 1)
	assert.Equal(t, broker.SideBuy, bk.orders[0].side)
}

func TestDeleteRefusedWithOpenPosition(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})

	seedVerified(t, repo, "txf-a", "TXF", false)
	require.NoError(t, repo.SavePosition(&store.PositionRecord{
		StrategyID: "txf-a", Symbol: "TXF", Direction: "long", Quantity: 1,
	}))

	err := svc.Delete(context.Background(), "txf-a", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open position")
}

func TestDeleteEnabledNeedsConfirm(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})
	seedVerified(t, repo, "txf-a", "TXF", true)
	ctx := context.Background()

	err := svc.Delete(ctx, "txf-a", false)
	require.Error(t, err)
	_, ok := err.(*ConfirmationRequired)
	require.True(t, ok)

	require.NoError(t, svc.Delete(ctx, "txf-a", true))
	rec, err := repo.GetStrategy("txf-a")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpdatePromptCreatesNewVersion(t *testing.T) {
	verifier := &fakeVerifier{outcome: passingOutcome(t)}
	svc, repo := testService(t, verifier, &fakeBroker{price: 17000, connected: true})
	ctx := context.Background()

	seedVerified(t, repo, "txf-a", "TXF", false)

	rec, err := svc.UpdatePrompt(ctx, "txf-a", "buy pullbacks to the average instead")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.True(t, rec.Verified)
	assert.Equal(t, 1, verifier.calls)

	old, err := repo.GetStrategyVersion("txf-a", 1)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.True(t, old.Archived)
}

func TestUpdatePromptBlockedWhileEnabled(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})
	seedVerified(t, repo, "txf-a", "TXF", true)

	_, err := svc.UpdatePrompt(context.Background(), "txf-a", "new prompt")
	require.Error(t, err)
	_, ok := err.(*ConfirmationRequired)
	require.True(t, ok)
}

func TestEnableSerializesSymbolExclusivity(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})
	seedVerified(t, repo, "txf-a", "TXF", false)
	seedVerified(t, repo, "txf-b", "TXF", false)

	// Race two unconfirmed enables for the same symbol; exactly one may
	// win, the other must be told who holds it.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{"txf-a", "txf-b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, err := svc.Enable(context.Background(), id, false)
			results[i] = err
		}(i, id)
	}
	wg.Wait()

	var succeeded, blocked int
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var confirmErr *ConfirmationRequired
		require.ErrorAs(t, err, &confirmErr)
		blocked++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, blocked)

	holder, err := repo.GetEnabledBySymbol("TXF")
	require.NoError(t, err)
	require.NotNil(t, holder)
}

func TestGetVersionReturnsArchivedRecord(t *testing.T) {
	verifier := &fakeVerifier{outcome: passingOutcome(t)}
	svc, repo := testService(t, verifier, &fakeBroker{price: 17000, connected: true})
	seedVerified(t, repo, "txf-a", "TXF", false)

	_, err := svc.UpdatePrompt(context.Background(), "txf-a", "buy pullbacks instead")
	require.NoError(t, err)

	old, err := svc.GetVersion("txf-a", 1)
	require.NoError(t, err)
	assert.True(t, old.Archived)
	assert.Equal(t, "buy breakouts", old.Prompt)

	_, err = svc.GetVersion("txf-a", 9)
	require.Error(t, err)
}

func TestRunBacktest(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})
	seedVerified(t, repo, "txf-a", "TXF", false)

	result, err := svc.RunBacktest(context.Background(), "txf-a")
	require.NoError(t, err)
	assert.Greater(t, result.BarCount, 0)
	assert.GreaterOrEqual(t, result.TradeCount, 1)
}

func TestRunBacktestUnverified(t *testing.T) {
	svc, repo := testService(t, &fakeVerifier{}, &fakeBroker{price: 17000, connected: true})

	rec := &store.StrategyRecord{
		StrategyID: "txf-x", Version: 1, Symbol: "TXF", Direction: "long",
		Timeframe: "5m", Prompt: "p", Quantity: 1,
	}
	require.NoError(t, repo.CreateStrategy(rec))

	_, err := svc.RunBacktest(context.Background(), "txf-x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verified rules")
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return NewRepository(db)
}

func testStrategy(id string, version int) *StrategyRecord {
	return &StrategyRecord{
		StrategyID:         id,
		Version:            version,
		Symbol:             "TXF",
		Direction:          "long",
		Timeframe:          "5m",
		Prompt:             "buy breakouts above the 20 bar high",
		Quantity:           1,
		VerificationStatus: VerificationPending,
	}
}

func TestStrategyCRUD(t *testing.T) {
	repo := testRepo(t)

	rec := testStrategy("txf-1", 1)
	require.NoError(t, repo.CreateStrategy(rec))

	got, err := repo.GetStrategy("txf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TXF", got.Symbol)
	assert.Equal(t, 1, got.Version)

	got.Verified = true
	got.VerificationStatus = VerificationPassed
	require.NoError(t, repo.UpdateStrategy(got))

	again, err := repo.GetStrategy("txf-1")
	require.NoError(t, err)
	assert.True(t, again.Verified)

	missing, err := repo.GetStrategy("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateVersionArchivesCurrent(t *testing.T) {
	repo := testRepo(t)

	v1 := testStrategy("txf-1", 1)
	require.NoError(t, repo.CreateStrategy(v1))

	v2 := testStrategy("txf-1", 2)
	v2.Prompt = "buy pullbacks to the 20 bar average instead"
	require.NoError(t, repo.CreateVersion(v1, v2))

	// The latest lookup returns the new version.
	latest, err := repo.GetStrategy("txf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	// The archived version stays addressable.
	old, err := repo.GetStrategyVersion("txf-1", 1)
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.True(t, old.Archived)

	// Archived versions do not appear in listings.
	all, err := repo.ListStrategies()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Version)
}

func TestEnabledBySymbol(t *testing.T) {
	repo := testRepo(t)

	a := testStrategy("txf-a", 1)
	a.Enabled = true
	require.NoError(t, repo.CreateStrategy(a))

	b := testStrategy("mxf-b", 1)
	b.Symbol = "MXF"
	require.NoError(t, repo.CreateStrategy(b))

	got, err := repo.GetEnabledBySymbol("TXF")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "txf-a", got.StrategyID)

	none, err := repo.GetEnabledBySymbol("MXF")
	require.NoError(t, err)
	assert.Nil(t, none)

	enabled, err := repo.ListEnabled()
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}

func TestSignalLifecycle(t *testing.T) {
	repo := testRepo(t)

	sig := &SignalRecord{
		SignalID:        "sig-1",
		StrategyID:      "txf-1",
		StrategyVersion: 1,
		Signal:          "buy",
		Price:           17500,
		Timestamp:       time.Now(),
		Status:          SignalStatusPending,
	}
	require.NoError(t, repo.AppendSignal(sig))

	price := 17510.0
	pnl := 2000.0
	require.NoError(t, repo.UpdateSignalOutcome("sig-1", SignalStatusFilled, &price, "take_profit", &pnl))

	signals, err := repo.GetSignals("txf-1", 1)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalStatusFilled, signals[0].Status)
	require.NotNil(t, signals[0].ExitPrice)
	assert.Equal(t, price, *signals[0].ExitPrice)
	require.NotNil(t, signals[0].PnL)
	assert.Equal(t, pnl, *signals[0].PnL)

	// Signals for another version stay separate.
	other, err := repo.GetSignals("txf-1", 2)
	require.NoError(t, err)
	assert.Empty(t, other)

	// version < 0 returns all versions.
	all, err := repo.GetSignals("txf-1", -1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRejectSignal(t *testing.T) {
	repo := testRepo(t)

	sig := &SignalRecord{
		SignalID:   "sig-2",
		StrategyID: "txf-1",
		Signal:     "buy",
		Timestamp:  time.Now(),
		Status:     SignalStatusPending,
	}
	require.NoError(t, repo.AppendSignal(sig))
	require.NoError(t, repo.RejectSignal("sig-2", "connectivity timeout"))

	signals, err := repo.GetSignals("txf-1", -1)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, SignalStatusRejected, signals[0].Status)
	assert.Equal(t, "connectivity timeout", signals[0].RejectReason)
}

func TestPositionLifecycle(t *testing.T) {
	repo := testRepo(t)

	pos := &PositionRecord{
		StrategyID:      "txf-1",
		StrategyVersion: 1,
		Symbol:          "TXF",
		Direction:       "long",
		Quantity:        2,
		EntryPrice:      17500,
	}
	require.NoError(t, repo.SavePosition(pos))

	got, err := repo.GetPosition("txf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Quantity)

	listed, err := repo.ListPositions()
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, repo.DeletePosition("txf-1"))
	gone, err := repo.GetPosition("txf-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestPnLQueries(t *testing.T) {
	repo := testRepo(t)
	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

	trades := []TradeRecord{
		{StrategyID: "txf-1", StrategyVersion: 1, Symbol: "TXF", PnL: 5000, ClosedAt: now.Add(-time.Hour)},
		{StrategyID: "txf-1", StrategyVersion: 1, Symbol: "TXF", PnL: -2000, ClosedAt: now.Add(-30 * time.Minute)},
		{StrategyID: "txf-1", StrategyVersion: 1, Symbol: "TXF", PnL: 1000, ClosedAt: now.Add(-48 * time.Hour)},
		{StrategyID: "mxf-2", StrategyVersion: 1, Symbol: "MXF", PnL: 700, ClosedAt: now.Add(-time.Minute)},
	}
	for i := range trades {
		require.NoError(t, repo.SaveTrade(&trades[i]))
	}

	total, err := repo.RealizedPnL("txf-1", 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 4000.0, total)

	recent, err := repo.RealizedPnL("txf-1", 1, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3000.0, recent)

	daily, err := repo.DailyPnL(now)
	require.NoError(t, err)
	assert.Equal(t, 3700.0, daily)
}

func TestDeleteStrategyCascades(t *testing.T) {
	repo := testRepo(t)

	require.NoError(t, repo.CreateStrategy(testStrategy("txf-1", 1)))
	require.NoError(t, repo.AppendSignal(&SignalRecord{SignalID: "s1", StrategyID: "txf-1", Signal: "buy", Timestamp: time.Now(), Status: SignalStatusPending}))
	require.NoError(t, repo.SaveTrade(&TradeRecord{StrategyID: "txf-1", PnL: 100, ClosedAt: time.Now()}))
	require.NoError(t, repo.SavePosition(&PositionRecord{StrategyID: "txf-1", Symbol: "TXF", Direction: "long", Quantity: 1}))

	require.NoError(t, repo.DeleteStrategy("txf-1"))

	rec, err := repo.GetStrategy("txf-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	signals, err := repo.GetSignals("txf-1", -1)
	require.NoError(t, err)
	assert.Empty(t, signals)

	pos, err := repo.GetPosition("txf-1")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

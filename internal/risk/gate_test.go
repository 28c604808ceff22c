package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/store"
)

func testGate(t *testing.T) (*Gate, *store.Repository) {
	t.Helper()
	db, err := store.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := store.NewRepository(db)

	cfg := &config.Config{}
	cfg.Risk.MaxDailyLoss = 50000
	cfg.Risk.MaxOpenContracts = 10
	cfg.Risk.MaxOrdersPerMinute = 5

	return NewGate(cfg, repo, logger.New("error", "text")), repo
}

func TestOrderRateLimit(t *testing.T) {
	g, _ := testGate(t)

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		require.NoError(t, g.CheckOrder(1))
	}

	err := g.CheckOrder(1)
	require.Error(t, err)
	rej, ok := err.(*Rejected)
	require.True(t, ok)
	assert.Equal(t, "order_rate", rej.Check)

	// The window slides; a minute later orders pass again.
	now = now.Add(61 * time.Second)
	assert.NoError(t, g.CheckOrder(1))
}

func TestMaxOpenContracts(t *testing.T) {
	g, repo := testGate(t)

	require.NoError(t, repo.SavePosition(&store.PositionRecord{
		StrategyID: "txf-1", Symbol: "TXF", Direction: "long", Quantity: 6,
	}))
	require.NoError(t, repo.SavePosition(&store.PositionRecord{
		StrategyID: "mxf-2", Symbol: "MXF", Direction: "short", Quantity: 3,
	}))

	// 9 open, 1 more fits the limit of 10.
	require.NoError(t, g.CheckOrder(1))

	err := g.CheckOrder(2)
	require.Error(t, err)
	rej, ok := err.(*Rejected)
	require.True(t, ok)
	assert.Equal(t, "max_open_contracts", rej.Check)
}

func TestDailyLossLimit(t *testing.T) {
	g, repo := testGate(t)

	now := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	require.NoError(t, repo.SaveTrade(&store.TradeRecord{
		StrategyID: "txf-1", Symbol: "TXF", PnL: -60000, ClosedAt: now.Add(-time.Hour),
	}))

	err := g.CheckOrder(1)
	require.Error(t, err)
	rej, ok := err.(*Rejected)
	require.True(t, ok)
	assert.Equal(t, "daily_loss", rej.Check)

	// Yesterday's losses do not count.
	require.NoError(t, repo.DeleteStrategy("txf-1"))
	require.NoError(t, repo.SaveTrade(&store.TradeRecord{
		StrategyID: "txf-1", Symbol: "TXF", PnL: -60000, ClosedAt: now.Add(-26 * time.Hour),
	}))
	assert.NoError(t, g.CheckOrder(1))
}

func TestStopAndTargetChecks(t *testing.T) {
	g, _ := testGate(t)

	assert.True(t, g.StopLossHit(-60, 50))
	assert.False(t, g.StopLossHit(-40, 50))
	assert.False(t, g.StopLossHit(-60, 0)) // no stop configured

	assert.True(t, g.TakeProfitHit(120, 100))
	assert.False(t, g.TakeProfitHit(80, 100))

	g.cfg.Risk.DisableStopLoss = true
	g.cfg.Risk.DisableTakeProfit = true
	assert.False(t, g.StopLossHit(-500, 50))
	assert.False(t, g.TakeProfitHit(500, 100))
}

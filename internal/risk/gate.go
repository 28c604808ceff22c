package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/store"
)

// Rejected is returned when an order fails a risk check. Check names
// the rule that fired.
type Rejected struct {
	Check  string
	Reason string
}

func (e *Rejected) Error() string {
	return fmt.Sprintf("risk check %s: %s", e.Check, e.Reason)
}

// Gate applies the pre-trade checks in a fixed order: order rate, open
// contract ceiling, daily loss limit. The first failure wins.
type Gate struct {
	cfg    *config.Config
	repo   *store.Repository
	logger *logger.Logger

	mu         sync.Mutex
	orderTimes []time.Time
	now        func() time.Time
}

func NewGate(cfg *config.Config, repo *store.Repository, log *logger.Logger) *Gate {
	return &Gate{cfg: cfg, repo: repo, logger: log, now: time.Now}
}

// CheckOrder validates a prospective entry of the given quantity.
// Passing reserves a slot in the rate window.
func (g *Gate) CheckOrder(quantity int64) error {
	if err := g.checkRate(); err != nil {
		return err
	}
	if err := g.checkOpenContracts(quantity); err != nil {
		return err
	}
	if err := g.checkDailyLoss(); err != nil {
		return err
	}
	g.recordOrder()
	return nil
}

func (g *Gate) checkRate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-time.Minute)
	kept := g.orderTimes[:0]
	for _, t := range g.orderTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.orderTimes = kept

	if len(g.orderTimes) >= g.cfg.Risk.MaxOrdersPerMinute {
		return &Rejected{
			Check:  "order_rate",
			Reason: fmt.Sprintf("%d orders in the last minute, limit %d", len(g.orderTimes), g.cfg.Risk.MaxOrdersPerMinute),
		}
	}
	return nil
}

func (g *Gate) recordOrder() {
	g.mu.Lock()
	g.orderTimes = append(g.orderTimes, g.now())
	g.mu.Unlock()
}

func (g *Gate) checkOpenContracts(quantity int64) error {
	positions, err := g.repo.ListPositions()
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	var open int64
	for _, p := range positions {
		open += p.Quantity
	}
	if open+quantity > int64(g.cfg.Risk.MaxOpenContracts) {
		return &Rejected{
			Check:  "max_open_contracts",
			Reason: fmt.Sprintf("%d open plus %d requested exceeds limit %d", open, quantity, g.cfg.Risk.MaxOpenContracts),
		}
	}
	return nil
}

func (g *Gate) checkDailyLoss() error {
	pnl, err := g.repo.DailyPnL(g.now())
	if err != nil {
		return fmt.Errorf("daily pnl: %w", err)
	}
	if pnl <= -g.cfg.Risk.MaxDailyLoss {
		return &Rejected{
			Check:  "daily_loss",
			Reason: fmt.Sprintf("realized %.0f today, limit %.0f", pnl, g.cfg.Risk.MaxDailyLoss),
		}
	}
	return nil
}

// StopLossHit reports whether the position's adverse move in points
// reached the stop. Honors the global disable switch.
func (g *Gate) StopLossHit(points, stopLossPoints float64) bool {
	if g.cfg.Risk.DisableStopLoss || stopLossPoints <= 0 {
		return false
	}
	return points <= -stopLossPoints
}

// TakeProfitHit reports whether the position's favorable move in
// points reached the target.
func (g *Gate) TakeProfitHit(points, takeProfitPoints float64) bool {
	if g.cfg.Risk.DisableTakeProfit || takeProfitPoints <= 0 {
		return false
	}
	return points >= takeProfitPoints
}

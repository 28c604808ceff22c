package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/store"
)

// PositionManager owns the open-position lifecycle: it places the
// broker orders and keeps the persisted position, signal and trade
// records consistent with the fills.
type PositionManager struct {
	repo   *store.Repository
	broker broker.Broker
	logger *logger.Logger
}

func NewPositionManager(repo *store.Repository, bk broker.Broker, log *logger.Logger) *PositionManager {
	return &PositionManager{repo: repo, broker: bk, logger: log}
}

// Open enters a position for the strategy. fallbackPrice stands in
// when the venue does not report an executed price.
func (m *PositionManager) Open(ctx context.Context, rec *store.StrategyRecord, side broker.Side, signalID string, fallbackPrice float64) (*store.PositionRecord, error) {
	fill, err := m.broker.PlaceMarketOrder(ctx, rec.Symbol, side, rec.Quantity)
	if err != nil {
		return nil, err
	}

	price := fill.ExecutedPrice
	if price == 0 {
		price = fallbackPrice
	}

	direction := "long"
	if side == broker.SideSell {
		direction = "short"
	}

	pos := &store.PositionRecord{
		StrategyID:       rec.StrategyID,
		StrategyVersion:  rec.Version,
		Symbol:           rec.Symbol,
		Direction:        direction,
		Quantity:         rec.Quantity,
		EntryPrice:       price,
		SignalID:         signalID,
		StopLossPoints:   rec.StopLossPoints,
		TakeProfitPoints: rec.TakeProfitPoints,
	}
	if err := m.repo.SavePosition(pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	if err := m.repo.UpdateSignalOutcome(signalID, store.SignalStatusFilled, &price, "", nil); err != nil {
		m.logger.Error("update signal outcome", "signal_id", signalID, "error", err)
	}

	m.logger.Info("position opened",
		"strategy_id", rec.StrategyID,
		"symbol", rec.Symbol,
		"direction", direction,
		"quantity", rec.Quantity,
		"price", price)
	return pos, nil
}

// Close exits the position with a market order on the opposite side,
// records the trade and realized PnL, and removes the position.
func (m *PositionManager) Close(ctx context.Context, pos *store.PositionRecord, reason string, fallbackPrice float64) (*store.TradeRecord, error) {
	side := broker.SideSell
	if pos.Direction == "short" {
		side = broker.SideBuy
	}

	fill, err := m.broker.PlaceMarketOrder(ctx, pos.Symbol, side, pos.Quantity)
	if err != nil {
		return nil, err
	}

	price := fill.ExecutedPrice
	if price == 0 {
		price = fallbackPrice
	}

	points := price - pos.EntryPrice
	if pos.Direction == "short" {
		points = -points
	}
	pnl := points * market.ContractMultiplier(pos.Symbol) * float64(pos.Quantity)

	trade := &store.TradeRecord{
		StrategyID:      pos.StrategyID,
		StrategyVersion: pos.StrategyVersion,
		Symbol:          pos.Symbol,
		Direction:       pos.Direction,
		Quantity:        pos.Quantity,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       price,
		ExitReason:      reason,
		PnL:             pnl,
		ClosedAt:        time.Now(),
	}
	if err := m.repo.SaveTrade(trade); err != nil {
		return nil, fmt.Errorf("save trade: %w", err)
	}
	if err := m.repo.DeletePosition(pos.StrategyID); err != nil {
		return nil, fmt.Errorf("delete position: %w", err)
	}
	if pos.SignalID != "" {
		if err := m.repo.UpdateSignalOutcome(pos.SignalID, store.SignalStatusFilled, &price, reason, &pnl); err != nil {
			m.logger.Error("update signal outcome", "signal_id", pos.SignalID, "error", err)
		}
	}

	m.logger.Info("position closed",
		"strategy_id", pos.StrategyID,
		"symbol", pos.Symbol,
		"reason", reason,
		"price", price,
		"pnl", pnl)
	return trade, nil
}

// UnrealizedPoints is the signed move of the position at price.
func UnrealizedPoints(pos *store.PositionRecord, price float64) float64 {
	points := price - pos.EntryPrice
	if pos.Direction == "short" {
		points = -points
	}
	return points
}

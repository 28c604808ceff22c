package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Strategies

func (r *Repository) CreateStrategy(rec *StrategyRecord) error {
	return r.db.Create(rec).Error
}

func (r *Repository) UpdateStrategy(rec *StrategyRecord) error {
	return r.db.Save(rec).Error
}

// GetStrategy returns the current (non-archived) version for the id, or
// nil when the id is unknown.
func (r *Repository) GetStrategy(strategyID string) (*StrategyRecord, error) {
	var rec StrategyRecord
	err := r.db.Where("strategy_id = ? AND archived = ?", strategyID, false).
		Order("version DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) GetStrategyVersion(strategyID string, version int) (*StrategyRecord, error) {
	var rec StrategyRecord
	err := r.db.Where("strategy_id = ? AND version = ?", strategyID, version).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) ListStrategies() ([]StrategyRecord, error) {
	var recs []StrategyRecord
	err := r.db.Where("archived = ?", false).Order("created_at").Find(&recs).Error
	return recs, err
}

func (r *Repository) ListEnabled() ([]StrategyRecord, error) {
	var recs []StrategyRecord
	err := r.db.Where("archived = ? AND enabled = ?", false, true).Order("created_at").Find(&recs).Error
	return recs, err
}

// GetEnabledBySymbol returns the enabled strategy for symbol, if any.
// Symbol exclusivity means there is at most one.
func (r *Repository) GetEnabledBySymbol(symbol string) (*StrategyRecord, error) {
	var rec StrategyRecord
	err := r.db.Where("archived = ? AND enabled = ? AND symbol = ?", false, true, symbol).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateVersion archives the current version and inserts next as the new
// head in one transaction.
func (r *Repository) CreateVersion(current *StrategyRecord, next *StrategyRecord) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&StrategyRecord{}).
			Where("strategy_id = ? AND version = ?", current.StrategyID, current.Version).
			Update("archived", true).Error; err != nil {
			return err
		}
		return tx.Create(next).Error
	})
}

// DeleteStrategy removes every version of the strategy together with its
// signal history and closed trades.
func (r *Repository) DeleteStrategy(strategyID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("strategy_id = ?", strategyID).Delete(&SignalRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("strategy_id = ?", strategyID).Delete(&TradeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("strategy_id = ?", strategyID).Delete(&PositionRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("strategy_id = ?", strategyID).Delete(&StrategyRecord{}).Error
	})
}

// Signals

func (r *Repository) AppendSignal(sig *SignalRecord) error {
	return r.db.Create(sig).Error
}

func (r *Repository) UpdateSignalOutcome(signalID, status string, exitPrice *float64, exitReason string, pnl *float64) error {
	updates := map[string]any{"status": status}
	if exitPrice != nil {
		updates["exit_price"] = *exitPrice
	}
	if exitReason != "" {
		updates["exit_reason"] = exitReason
	}
	if pnl != nil {
		updates["pnl"] = *pnl
	}
	return r.db.Model(&SignalRecord{}).Where("signal_id = ?", signalID).Updates(updates).Error
}

func (r *Repository) RejectSignal(signalID, reason string) error {
	return r.db.Model(&SignalRecord{}).Where("signal_id = ?", signalID).
		Updates(map[string]any{"status": SignalStatusRejected, "reject_reason": reason}).Error
}

// GetSignals lists a strategy's signals oldest-first; version < 0 means
// all versions.
func (r *Repository) GetSignals(strategyID string, version int) ([]SignalRecord, error) {
	q := r.db.Where("strategy_id = ?", strategyID)
	if version >= 0 {
		q = q.Where("strategy_version = ?", version)
	}
	var sigs []SignalRecord
	err := q.Order("created_at").Find(&sigs).Error
	return sigs, err
}

// Positions

func (r *Repository) SavePosition(pos *PositionRecord) error {
	return r.db.Save(pos).Error
}

func (r *Repository) GetPosition(strategyID string) (*PositionRecord, error) {
	var pos PositionRecord
	err := r.db.Where("strategy_id = ?", strategyID).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func (r *Repository) DeletePosition(strategyID string) error {
	return r.db.Where("strategy_id = ?", strategyID).Delete(&PositionRecord{}).Error
}

func (r *Repository) ListPositions() ([]PositionRecord, error) {
	var recs []PositionRecord
	err := r.db.Order("created_at").Find(&recs).Error
	return recs, err
}

// Trades

func (r *Repository) SaveTrade(trade *TradeRecord) error {
	return r.db.Create(trade).Error
}

func (r *Repository) GetTrades(strategyID string, version int) ([]TradeRecord, error) {
	q := r.db.Where("strategy_id = ?", strategyID)
	if version >= 0 {
		q = q.Where("strategy_version = ?", version)
	}
	var trades []TradeRecord
	err := q.Order("closed_at").Find(&trades).Error
	return trades, err
}

// RealizedPnL sums realized PnL for a strategy version closed at or after
// since; version < 0 covers all versions.
func (r *Repository) RealizedPnL(strategyID string, version int, since time.Time) (float64, error) {
	q := r.db.Model(&TradeRecord{}).
		Where("strategy_id = ? AND closed_at >= ?", strategyID, since)
	if version >= 0 {
		q = q.Where("strategy_version = ?", version)
	}
	var total float64
	err := q.Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

// DailyPnL sums realized PnL across all strategies since the start of the
// current day; consulted by the risk gate's daily-loss check.
func (r *Repository) DailyPnL(now time.Time) (float64, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var total float64
	err := r.db.Model(&TradeRecord{}).
		Where("closed_at >= ?", dayStart).
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

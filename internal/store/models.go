package store

import "time"

const (
	VerificationPending = "pending"
	VerificationPassed  = "passed"
	VerificationFailed  = "failed"
)

const (
	SignalStatusPending   = "pending"
	SignalStatusFilled    = "filled"
	SignalStatusCancelled = "cancelled"
	SignalStatusRejected  = "rejected"
)

// StrategyRecord is one durable row per (strategy id, version). A prompt
// edit or optimization archives the current row and inserts the next
// version; signals of archived versions stay untouched.
type StrategyRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StrategyID string `gorm:"index:idx_strategy_version,unique;not null" json:"strategy_id"`
	Version    int    `gorm:"index:idx_strategy_version,unique;not null" json:"version"`
	Archived   bool   `gorm:"index" json:"archived"`

	Symbol    string `gorm:"index;not null" json:"symbol"`
	Direction string `gorm:"not null" json:"direction"` // long, short, both
	Timeframe string `gorm:"not null" json:"timeframe"`
	Prompt    string `gorm:"type:text" json:"prompt"`
	Rules     string `gorm:"type:text" json:"rules"` // generated rule document (JSON)

	Quantity         int64   `json:"quantity"`
	StopLossPoints   float64 `json:"stop_loss_points"`
	TakeProfitPoints float64 `json:"take_profit_points"`
	Goal             float64 `json:"goal,omitempty"`
	GoalUnit         string  `json:"goal_unit,omitempty"` // daily, weekly, monthly, quarterly, yearly

	Verified             bool       `json:"verified"`
	VerificationStatus   string     `gorm:"not null;default:'pending'" json:"verification_status"`
	VerificationAttempts int        `json:"verification_attempts"`
	VerificationError    string     `gorm:"type:text" json:"verification_error,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`

	Enabled   bool `json:"enabled"`
	IsRunning bool `json:"is_running"`
}

// SignalRecord is one append-only row per non-hold on_bar decision.
// Outcome fields are the only mutable part.
type SignalRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`

	SignalID        string    `gorm:"uniqueIndex;not null" json:"signal_id"`
	StrategyID      string    `gorm:"index;not null" json:"strategy_id"`
	StrategyVersion int       `gorm:"index" json:"strategy_version"`
	Signal          string    `gorm:"not null" json:"signal"` // buy, sell, close
	Price           float64   `json:"price"`
	Timestamp       time.Time `json:"timestamp"`
	IndicatorsJSON  string    `gorm:"type:text" json:"indicators_json"`

	Status       string   `gorm:"not null;default:'pending'" json:"status"`
	RejectReason string   `json:"reject_reason,omitempty"`
	ExitPrice    *float64 `json:"exit_price,omitempty"`
	ExitReason   string   `json:"exit_reason,omitempty"`
	PnL          *float64 `gorm:"column:pnl" json:"pnl,omitempty"`
}

// PositionRecord tracks the open position per strategy id, unversioned.
type PositionRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StrategyID      string  `gorm:"uniqueIndex;not null" json:"strategy_id"`
	StrategyVersion int     `json:"strategy_version"`
	Symbol          string  `gorm:"index;not null" json:"symbol"`
	Direction       string  `gorm:"not null" json:"direction"` // long, short
	Quantity        int64   `gorm:"not null" json:"quantity"`
	EntryPrice      float64 `gorm:"not null" json:"entry_price"`
	SignalID        string  `json:"signal_id"`

	StopLossPoints   float64 `json:"stop_loss_points"`
	TakeProfitPoints float64 `json:"take_profit_points"`
}

// TradeRecord is one closed round trip with realized PnL in currency
// units.
type TradeRecord struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`

	StrategyID      string    `gorm:"index;not null" json:"strategy_id"`
	StrategyVersion int       `gorm:"index" json:"strategy_version"`
	Symbol          string    `gorm:"index;not null" json:"symbol"`
	Direction       string    `json:"direction"`
	Quantity        int64     `json:"quantity"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	ExitReason      string    `json:"exit_reason"`
	PnL             float64   `gorm:"column:pnl" json:"pnl"`
	ClosedAt        time.Time `gorm:"index" json:"closed_at"`
}

package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/strategy"
)

// lookback window per timeframe when fetching history for a run.
var timeframeWindows = map[market.Timeframe]time.Duration{
	market.Timeframe1m:  7 * 24 * time.Hour,
	market.Timeframe5m:  14 * 24 * time.Hour,
	market.Timeframe15m: 30 * 24 * time.Hour,
	market.Timeframe30m: 30 * 24 * time.Hour,
	market.Timeframe60m: 90 * 24 * time.Hour,
	market.Timeframe1h:  90 * 24 * time.Hour,
	market.Timeframe1d:  365 * 24 * time.Hour,
}

// Trade is one completed round trip in a simulation.
type Trade struct {
	Direction  string    `json:"direction"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   int64     `json:"quantity"`
	PnL        float64   `json:"pnl"`
	ExitReason string    `json:"exit_reason"`
}

// Result holds the outcome of a simulation run.
type Result struct {
	Symbol       string       `json:"symbol"`
	Timeframe    string       `json:"timeframe"`
	BarCount     int          `json:"bar_count"`
	TradeCount   int          `json:"trade_count"`
	SignalCounts SignalCounts `json:"signal_counts"`
	Trades       []Trade      `json:"trades"`
	Metrics      Metrics      `json:"metrics"`
	Equity       []float64    `json:"equity"`
}

// SignalCounts tallies the decisions the rule interpreter produced.
type SignalCounts struct {
	Buy   int `json:"buy"`
	Sell  int `json:"sell"`
	Close int `json:"close"`
	Hold  int `json:"hold"`
}

// Source fetches historical bars for a run.
type Source interface {
	GetHistoricalBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error)
}

// Engine replays a rule set over historical bars with next-bar-open
// fills. Indicators are computed from the history available at each
// bar, the same way the live runner evaluates them.
type Engine struct {
	cfg    *config.Config
	logger *logger.Logger
}

func NewEngine(cfg *config.Config, log *logger.Logger) *Engine {
	return &Engine{cfg: cfg, logger: log}
}

// barCount derives how many bars to fetch for a timeframe window,
// capped by the configured maximum.
func (e *Engine) barCount(tf market.Timeframe) int {
	window, ok := timeframeWindows[tf]
	if !ok {
		window = 30 * 24 * time.Hour
	}
	count := int(window.Hours()/24) * tf.BarsPerDay()
	if count > e.cfg.Backtest.MaxBars {
		count = e.cfg.Backtest.MaxBars
	}
	return count
}

// Run fetches history for the symbol and replays the rules over it.
func (e *Engine) Run(ctx context.Context, src Source, rules *strategy.RuleSet, symbol string, direction strategy.Direction, tf market.Timeframe, quantity int64) (*Result, error) {
	count := e.barCount(tf)
	bars, err := src.GetHistoricalBars(ctx, symbol, tf, count)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", symbol, err)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("not enough history for %s: %d bars", symbol, len(bars))
	}
	e.logger.Info("backtest starting", "symbol", symbol, "timeframe", tf, "bars", len(bars))
	result, err := e.RunBars(bars, rules, symbol, direction, quantity)
	if err != nil {
		return nil, err
	}
	result.Timeframe = tf.String()
	return result, nil
}

type simPosition struct {
	direction  string
	entryPrice float64
	entryTime  time.Time
	quantity   int64
}

// RunBars replays the rules over an explicit bar slice. Signals on bar
// i fill at the open of bar i+1; the final bar closes any open
// position at its close.
func (e *Engine) RunBars(bars []market.Bar, rules *strategy.RuleSet, symbol string, direction strategy.Direction, quantity int64) (*Result, error) {
	if quantity <= 0 {
		quantity = 1
	}
	exec := strategy.NewExecutor(rules, direction)
	mult := market.ContractMultiplier(symbol)

	capital := e.cfg.Backtest.InitialCapital
	equity := make([]float64, 0, len(bars))
	var trades []Trade
	var pos *simPosition
	var counts SignalCounts

	closeTrade := func(price float64, at time.Time, reason string) {
		points := price - pos.entryPrice
		if pos.direction == "short" {
			points = -points
		}
		pnl := points * mult * float64(pos.quantity)
		capital += pnl
		trades = append(trades, Trade{
			Direction:  pos.direction,
			EntryTime:  pos.entryTime,
			ExitTime:   at,
			EntryPrice: pos.entryPrice,
			ExitPrice:  price,
			Quantity:   pos.quantity,
			PnL:        pnl,
			ExitReason: reason,
		})
		pos = nil
	}

	markEquity := func(bar market.Bar) {
		eq := capital
		if pos != nil {
			points := bar.Close - pos.entryPrice
			if pos.direction == "short" {
				points = -points
			}
			eq += points * mult * float64(pos.quantity)
		}
		equity = append(equity, eq)
	}

	for i := range bars {
		bar := bars[i]

		// Stop loss and take profit are checked on the bar close,
		// matching the live runner's cycle check.
		if pos != nil {
			points := bar.Close - pos.entryPrice
			if pos.direction == "short" {
				points = -points
			}
			switch {
			case rules.StopLossPoints > 0 && points <= -rules.StopLossPoints:
				closeTrade(bar.Close, bar.Timestamp, "stop_loss")
			case rules.TakeProfitPoints > 0 && points >= rules.TakeProfitPoints:
				closeTrade(bar.Close, bar.Timestamp, "take_profit")
			}
		}

		var held int64
		if pos != nil {
			held = pos.quantity
			if pos.direction == "short" {
				held = -held
			}
		}

		decision, err := exec.OnBar(bars[:i+1], held)
		if err != nil {
			return nil, fmt.Errorf("evaluate bar %d: %w", i, err)
		}

		switch decision.Signal {
		case strategy.SignalBuy:
			counts.Buy++
		case strategy.SignalSell:
			counts.Sell++
		case strategy.SignalClose:
			counts.Close++
		default:
			counts.Hold++
		}

		// Mark equity before the fill: a signal on this bar executes at
		// the next bar's open and must not move this bar's equity point.
		markEquity(bar)

		if i+1 < len(bars) {
			fill := bars[i+1].Open
			fillAt := bars[i+1].Timestamp
			switch decision.Signal {
			case strategy.SignalBuy:
				if pos == nil {
					pos = &simPosition{direction: "long", entryPrice: fill, entryTime: fillAt, quantity: quantity}
				}
			case strategy.SignalSell:
				if pos == nil {
					pos = &simPosition{direction: "short", entryPrice: fill, entryTime: fillAt, quantity: quantity}
				}
			case strategy.SignalClose:
				if pos != nil {
					closeTrade(fill, fillAt, "signal")
				}
			}
		}
	}

	if pos != nil {
		last := bars[len(bars)-1]
		closeTrade(last.Close, last.Timestamp, "end_of_data")
		equity[len(equity)-1] = capital
	}

	metrics := ComputeMetrics(e.cfg.Backtest.InitialCapital, equity, trades)

	e.logger.Info("backtest finished",
		"symbol", symbol,
		"trades", len(trades),
		"total_pnl", metrics.TotalPnL,
		"win_rate", metrics.WinRate)

	return &Result{
		Symbol:       symbol,
		Timeframe:    "",
		BarCount:     len(bars),
		TradeCount:   len(trades),
		SignalCounts: counts,
		Trades:       trades,
		Metrics:      metrics,
		Equity:       equity,
	}, nil
}

// HoldFraction reports the share of bars that produced no signal.
func (r *Result) HoldFraction() float64 {
	if r.BarCount == 0 {
		return 1
	}
	return float64(r.SignalCounts.Hold) / float64(r.BarCount)
}

// TradeFraction reports entries relative to bar count.
func (r *Result) TradeFraction() float64 {
	if r.BarCount == 0 {
		return 0
	}
	entries := r.SignalCounts.Buy + r.SignalCounts.Sell
	return float64(entries) / float64(r.BarCount)
}

// Imbalanced reports whether a both-direction run produced signals on
// only one side.
func (r *Result) Imbalanced() bool {
	total := r.SignalCounts.Buy + r.SignalCounts.Sell
	if total < 4 {
		return false
	}
	ratio := float64(r.SignalCounts.Buy) / float64(total)
	return math.Abs(ratio-0.5) > 0.45
}

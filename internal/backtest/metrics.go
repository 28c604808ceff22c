package backtest

import (
	"encoding/json"
	"math"
)

// Metrics summarizes a simulation's equity curve and trade list.
type Metrics struct {
	TotalPnL     float64 `json:"total_pnl"`
	TotalReturn  float64 `json:"total_return"`
	TradeCount   int     `json:"trade_count"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
}

// MarshalJSON renders an infinite profit factor as the string "inf";
// encoding/json refuses non-finite floats.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	if !math.IsInf(m.ProfitFactor, 1) {
		return json.Marshal(alias(m))
	}
	return json.Marshal(struct {
		alias
		ProfitFactor string `json:"profit_factor"`
	}{alias: alias(m), ProfitFactor: "inf"})
}

// ComputeMetrics derives summary statistics from an equity curve and
// its trades. ProfitFactor is +Inf when there are wins and no losers.
func ComputeMetrics(initial float64, equity []float64, trades []Trade) Metrics {
	m := Metrics{TradeCount: len(trades)}
	if len(equity) == 0 {
		return m
	}

	final := equity[len(equity)-1]
	m.TotalPnL = final - initial
	if initial != 0 {
		m.TotalReturn = m.TotalPnL / initial
	}

	var wins int
	var grossWin, grossLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			grossWin += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(wins) / float64(len(trades))
	}
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		m.ProfitFactor = math.Inf(1)
	}

	peak := equity[0]
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	m.Sharpe = sharpe(equity)
	return m
}

// sharpe computes a per-bar Sharpe ratio from the equity curve,
// unannualized. Zero when returns have no variance.
func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] != 0 {
			returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
		}
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}

package strategy

import (
	"math"

	"github.com/linchiahui/aitrader/internal/market"
)

// Indicator primitives. Each works over the full history it is handed, so
// a value computed at bar i in a simulation equals the value the runner
// would compute live with the same window.

func closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func highs(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lows(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func volumes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func highest(xs []float64) float64 {
	h := math.Inf(-1)
	for _, x := range xs {
		if x > h {
			h = x
		}
	}
	return h
}

func lowest(xs []float64) float64 {
	l := math.Inf(1)
	for _, x := range xs {
		if x < l {
			l = x
		}
	}
	return l
}

// sma over the last period values of xs.
func sma(xs []float64, period int) float64 {
	if len(xs) < period || period <= 0 {
		return math.NaN()
	}
	return mean(xs[len(xs)-period:])
}

// ema computes the full exponential moving average series.
func ema(xs []float64, period int) []float64 {
	if len(xs) == 0 {
		return nil
	}
	out := make([]float64, len(xs))
	out[0] = xs[0]
	k := 2.0 / (float64(period) + 1)
	for i := 1; i < len(xs); i++ {
		out[i] = (xs[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// rsi over the last period+1 closes, simple-average form.
func rsi(xs []float64, period int) float64 {
	if len(xs) < period+1 {
		return 50
	}
	window := xs[len(xs)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		d := window[i] - window[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	macdMin    = macdSlow + macdSignal - 1
)

// macdHist returns the MACD line, signal line and histogram series.
func macdHist(xs []float64) (macd, signal, hist []float64) {
	if len(xs) < macdMin {
		return nil, nil, nil
	}
	fast := ema(xs, macdFast)
	slow := ema(xs, macdSlow)
	macd = make([]float64, len(xs))
	for i := range xs {
		macd[i] = fast[i] - slow[i]
	}
	signal = ema(macd, macdSignal)
	hist = make([]float64, len(xs))
	for i := range xs {
		hist[i] = macd[i] - signal[i]
	}
	return macd, signal, hist
}

type bollingerZone int

const (
	bollingerMiddle bollingerZone = iota
	bollingerAtUpper
	bollingerAtLower
	bollingerAboveUpper
	bollingerBelowLower
)

func bollinger(xs []float64, period int, multiplier float64) bollingerZone {
	if len(xs) < period {
		return bollingerMiddle
	}
	recent := xs[len(xs)-period:]
	m := mean(recent)
	sd := stddev(recent)
	upper := m + multiplier*sd
	lower := m - multiplier*sd
	cur := xs[len(xs)-1]

	switch {
	case cur > upper:
		return bollingerAboveUpper
	case cur < lower:
		return bollingerBelowLower
	case math.Abs(cur-upper) < sd*0.1:
		return bollingerAtUpper
	case math.Abs(cur-lower) < sd*0.1:
		return bollingerAtLower
	}
	return bollingerMiddle
}

// stochK is the raw %K value over the last period bars.
func stochK(closeVals, highVals, lowVals []float64, period int) float64 {
	if len(closeVals) < period {
		return 50
	}
	hh := highest(highVals[len(highVals)-period:])
	ll := lowest(lowVals[len(lowVals)-period:])
	if hh == ll {
		return 50
	}
	return (closeVals[len(closeVals)-1] - ll) / (hh - ll) * 100
}

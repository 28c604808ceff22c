package strategy

import (
	"fmt"
	"strconv"

	"github.com/linchiahui/aitrader/internal/market"
)

// minEvalBars is the minimum history before any condition evaluates;
// shorter histories always hold.
const minEvalBars = 20

// Decision is one on_bar outcome together with the indicator values the
// interpreter computed to reach it.
type Decision struct {
	Signal     Signal
	Indicators map[string]float64
}

// Executor runs one strategy's rule set against bar history. It is the
// single on_bar contract shared by the execution runner, the verification
// pipeline and the backtest engine, so live and simulated behavior cannot
// diverge.
type Executor struct {
	rules     *RuleSet
	direction Direction
}

func NewExecutor(rules *RuleSet, direction Direction) *Executor {
	return &Executor{rules: rules, direction: direction}
}

// OnBar evaluates the rule set for the latest bar of bars. position is the
// strategy's current signed contract count; exits are evaluated only with
// an open position, entries only while flat.
func (e *Executor) OnBar(bars []market.Bar, position int64) (Decision, error) {
	d := Decision{Signal: SignalHold, Indicators: map[string]float64{}}
	if len(bars) < minEvalBars {
		return d, nil
	}
	d.Indicators["close"] = bars[len(bars)-1].Close

	if position != 0 {
		hit, err := e.evalGroup(e.rules.Exit, bars, d.Indicators)
		if err != nil {
			return d, err
		}
		if hit {
			d.Signal = SignalClose
		}
		return d, nil
	}

	long := e.rules.Entry
	var short []Condition
	switch e.direction {
	case DirectionShort:
		long, short = nil, e.rules.Entry
	case DirectionBoth:
		short = e.rules.ShortEntry
	}

	if len(long) > 0 {
		hit, err := e.evalGroup(long, bars, d.Indicators)
		if err != nil {
			return d, err
		}
		if hit {
			d.Signal = SignalBuy
			return d, nil
		}
	}
	if len(short) > 0 {
		hit, err := e.evalGroup(short, bars, d.Indicators)
		if err != nil {
			return d, err
		}
		if hit {
			d.Signal = SignalSell
		}
	}
	return d, nil
}

// evalGroup ANDs a condition group, recording every computed indicator
// value into snapshot even when the group does not trigger.
func (e *Executor) evalGroup(conds []Condition, bars []market.Bar, snapshot map[string]float64) (bool, error) {
	all := true
	for _, c := range conds {
		hit, err := evalCondition(c, bars, snapshot)
		if err != nil {
			return false, err
		}
		if !hit {
			all = false
		}
	}
	return all, nil
}

func evalCondition(c Condition, bars []market.Bar, snap map[string]float64) (bool, error) {
	closeVals := closes(bars)
	cur := closeVals[len(closeVals)-1]

	switch c.Indicator {
	case "price_breaks_high":
		period := int(c.param("period", 20))
		if len(bars) < period+1 {
			return false, nil
		}
		hv := highs(bars)
		hh := highest(hv[len(hv)-period-1 : len(hv)-1])
		snap[key("highest", period)] = hh
		return cur > hh, nil

	case "price_below_low":
		period := int(c.param("period", 10))
		if len(bars) < period+1 {
			return false, nil
		}
		lv := lows(bars)
		ll := lowest(lv[len(lv)-period-1 : len(lv)-1])
		snap[key("lowest", period)] = ll
		return cur < ll, nil

	case "price_breaks_ma", "price_below_ma":
		period := int(c.param("period", 20))
		ma := sma(closeVals, period)
		if isNaN(ma) {
			return false, nil
		}
		snap[key("sma", period)] = ma
		if c.Indicator == "price_breaks_ma" {
			return cur > ma, nil
		}
		return cur < ma, nil

	case "rsi_oversold":
		period := int(c.param("period", 14))
		threshold := c.param("threshold", 30)
		v := rsi(closeVals, period)
		snap[key("rsi", period)] = v
		return v < threshold, nil

	case "rsi_overbought":
		period := int(c.param("period", 14))
		threshold := c.param("threshold", 70)
		v := rsi(closeVals, period)
		snap[key("rsi", period)] = v
		return v > threshold, nil

	case "rsi_cross_up", "rsi_cross_down":
		period := int(c.param("period", 14))
		if len(closeVals) < period+2 {
			return false, nil
		}
		now := rsi(closeVals, period)
		prev := rsi(closeVals[:len(closeVals)-1], period)
		snap[key("rsi", period)] = now
		if c.Indicator == "rsi_cross_up" {
			threshold := c.param("threshold", 30)
			return prev < threshold && now >= threshold, nil
		}
		threshold := c.param("threshold", 70)
		return prev > threshold && now <= threshold, nil

	case "macd_cross_up", "macd_cross_down", "macd_histogram_positive", "macd_histogram_negative":
		_, _, hist := macdHist(closeVals)
		if len(hist) < 2 {
			return false, nil
		}
		h := hist[len(hist)-1]
		snap["macd_hist"] = h
		switch c.Indicator {
		case "macd_cross_up":
			return hist[len(hist)-2] < 0 && h >= 0, nil
		case "macd_cross_down":
			return hist[len(hist)-2] > 0 && h <= 0, nil
		case "macd_histogram_positive":
			return h > 0, nil
		default:
			return h < 0, nil
		}

	case "ma_cross_up", "ma_cross_down":
		shortP := int(c.param("short_period", 5))
		longP := int(c.param("long_period", 20))
		if len(closeVals) < longP+1 {
			return false, nil
		}
		shortNow := sma(closeVals, shortP)
		longNow := sma(closeVals, longP)
		shortPrev := sma(closeVals[:len(closeVals)-1], shortP)
		longPrev := sma(closeVals[:len(closeVals)-1], longP)
		snap[key("sma", shortP)] = shortNow
		snap[key("sma", longP)] = longNow
		if c.Indicator == "ma_cross_up" {
			return shortPrev <= longPrev && shortNow > longNow, nil
		}
		return shortPrev >= longPrev && shortNow < longNow, nil

	case "volume_surge":
		period := int(c.param("period", 20))
		multiplier := c.param("multiplier", 2.0)
		vv := volumes(bars)
		if len(vv) < period {
			return false, nil
		}
		avg := mean(vv[len(vv)-period:])
		snap["volume_avg"] = avg
		return vv[len(vv)-1] > avg*multiplier, nil

	case "volume_decline":
		period := int(c.param("period", 20))
		vv := volumes(bars)
		if len(vv) < period+1 {
			return false, nil
		}
		avg := mean(vv[len(vv)-period-1 : len(vv)-1])
		snap["volume_avg"] = avg
		return vv[len(vv)-1] < avg*0.5, nil

	case "consecutive_up", "consecutive_down":
		period := int(c.param("period", 3))
		if len(closeVals) < period+1 {
			return false, nil
		}
		up := c.Indicator == "consecutive_up"
		for i := len(closeVals) - period; i < len(closeVals); i++ {
			if up && closeVals[i] <= closeVals[i-1] {
				return false, nil
			}
			if !up && closeVals[i] >= closeVals[i-1] {
				return false, nil
			}
		}
		return true, nil

	case "price_at_upper_band", "price_at_lower_band", "price_breaks_upper", "price_breaks_lower":
		period := int(c.param("period", 20))
		multiplier := c.param("multiplier", 2.0)
		zone := bollinger(closeVals, period, multiplier)
		snap[key("bb_mid", period)] = sma(closeVals, period)
		switch c.Indicator {
		case "price_at_upper_band":
			return zone == bollingerAtUpper, nil
		case "price_at_lower_band":
			return zone == bollingerAtLower, nil
		case "price_breaks_upper":
			return zone == bollingerAboveUpper, nil
		default:
			return zone == bollingerBelowLower, nil
		}

	case "kd_oversold", "kd_overbought":
		period := int(c.param("period", 9))
		k := stochK(closeVals, highs(bars), lows(bars), period)
		snap[key("kd_k", period)] = k
		if c.Indicator == "kd_oversold" {
			return k < c.param("threshold", 20), nil
		}
		return k > c.param("threshold", 80), nil

	case "kd_cross_up", "kd_cross_down":
		period := int(c.param("period", 9))
		if len(bars) < period+1 {
			return false, nil
		}
		hv, lv := highs(bars), lows(bars)
		now := stochK(closeVals, hv, lv, period)
		prev := stochK(closeVals[:len(closeVals)-1], hv[:len(hv)-1], lv[:len(lv)-1], period)
		snap[key("kd_k", period)] = now
		if c.Indicator == "kd_cross_up" {
			threshold := c.param("threshold", 20)
			return prev < threshold && now >= threshold, nil
		}
		threshold := c.param("threshold", 80)
		return prev > threshold && now <= threshold, nil
	}

	return false, fmt.Errorf("unknown indicator %q", c.Indicator)
}

func key(name string, period int) string {
	return name + "_" + strconv.Itoa(period)
}

func isNaN(f float64) bool {
	return f != f
}

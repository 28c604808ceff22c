package strategy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Signal is the action emitted by strategy logic for one bar.
type Signal string

const (
	SignalBuy   Signal = "buy"
	SignalSell  Signal = "sell"
	SignalClose Signal = "close"
	SignalHold  Signal = "hold"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBoth  Direction = "both"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionLong, DirectionShort, DirectionBoth:
		return true
	}
	return false
}

// Condition is one instruction of the rule interpreter: an indicator
// predicate over the bar history. The interpreter exposes no other
// capability, so machine-generated logic can read bars and indicators and
// nothing else.
type Condition struct {
	Indicator string             `json:"indicator"`
	Params    map[string]float64 `json:"params,omitempty"`
}

func (c Condition) param(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return def
}

// RuleSet is the executable unit produced by the code-generation
// collaborator: a JSON document, not host-language code. Entry conditions
// are ANDed while flat, exit conditions while a position is open.
type RuleSet struct {
	Entry      []Condition `json:"entry"`
	ShortEntry []Condition `json:"short_entry,omitempty"`
	Exit       []Condition `json:"exit"`

	StopLossPoints   float64 `json:"stop_loss_points,omitempty"`
	TakeProfitPoints float64 `json:"take_profit_points,omitempty"`
}

// knownIndicators is the fixed instruction catalog. Anything outside it
// fails validation before the strategy can be verified, let alone run.
var knownIndicators = map[string]bool{
	"price_breaks_high":       true,
	"price_below_low":         true,
	"price_breaks_ma":         true,
	"price_below_ma":          true,
	"rsi_oversold":            true,
	"rsi_overbought":          true,
	"rsi_cross_up":            true,
	"rsi_cross_down":          true,
	"macd_cross_up":           true,
	"macd_cross_down":         true,
	"macd_histogram_positive": true,
	"macd_histogram_negative": true,
	"ma_cross_up":             true,
	"ma_cross_down":           true,
	"volume_surge":            true,
	"volume_decline":          true,
	"consecutive_up":          true,
	"consecutive_down":        true,
	"price_at_upper_band":     true,
	"price_at_lower_band":     true,
	"price_breaks_upper":      true,
	"price_breaks_lower":      true,
	"kd_oversold":             true,
	"kd_overbought":           true,
	"kd_cross_up":             true,
	"kd_cross_down":           true,
}

func (r *RuleSet) Validate() error {
	if len(r.Entry) == 0 {
		return fmt.Errorf("rule set has no entry conditions")
	}
	if len(r.Exit) == 0 {
		return fmt.Errorf("rule set has no exit conditions")
	}
	groups := [][]Condition{r.Entry, r.ShortEntry, r.Exit}
	for _, group := range groups {
		for _, c := range group {
			if !knownIndicators[c.Indicator] {
				return fmt.Errorf("unknown indicator %q", c.Indicator)
			}
			for key, v := range c.Params {
				switch key {
				case "period", "short_period", "long_period":
					if v < 1 || v > float64(minEvalBars)*20 {
						return fmt.Errorf("%s: %s %v out of range", c.Indicator, key, v)
					}
				case "multiplier":
					if v <= 0 {
						return fmt.Errorf("%s: multiplier must be positive", c.Indicator)
					}
				}
			}
		}
	}
	if r.StopLossPoints < 0 || r.TakeProfitPoints < 0 {
		return fmt.Errorf("stop/take-profit points must not be negative")
	}
	return nil
}

func (r *RuleSet) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ParseRuleSet extracts and validates a rule document from raw model
// output. Handles reasoning tags, markdown code fences and surrounding
// prose.
func ParseRuleSet(text string) (*RuleSet, error) {
	cleaned := strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))

	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, fmt.Errorf("empty rule document")
	}

	rules := &RuleSet{}
	if err := json.Unmarshal([]byte(cleaned), rules); err != nil {
		// Fall back to the outermost JSON object embedded in prose.
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON object in rule document: %.200s", cleaned)
		}
		rules = &RuleSet{}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), rules); err != nil {
			return nil, fmt.Errorf("parse rule document: %w", err)
		}
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

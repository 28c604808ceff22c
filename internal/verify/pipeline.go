package verify

import (
	"context"
	"fmt"

	"github.com/linchiahui/aitrader/internal/ai"
	"github.com/linchiahui/aitrader/internal/backtest"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/strategy"
)

// Collaborator is the generation and review surface the pipeline
// drives. Satisfied by ai.Client.
type Collaborator interface {
	Generate(ctx context.Context, prompt, direction string) (string, error)
	Repair(ctx context.Context, doc, prompt, reason string) (string, error)
	Review(ctx context.Context, doc, prompt string) (ai.ReviewResult, error)
}

// Outcome is the terminal result of a verification run.
type Outcome struct {
	Passed        bool
	Document      string
	Rules         *strategy.RuleSet
	Attempts      int
	FailureReason string
	Simulation    *backtest.Result
}

// Pipeline runs the two-stage verification loop: generate or repair a
// rule document, have it reviewed, then replay it over recent history
// and screen the result for anomalies. A failure at either stage feeds
// its reason into the next repair round. The loop stops at the first
// pass or when the attempt budget is spent.
type Pipeline struct {
	collab  Collaborator
	cache   *market.Cache
	history market.HistoryProvider
	engine  *backtest.Engine
	cfg     *config.Config
	logger  *logger.Logger
}

func NewPipeline(collab Collaborator, cache *market.Cache, history market.HistoryProvider, engine *backtest.Engine, cfg *config.Config, log *logger.Logger) *Pipeline {
	return &Pipeline{
		collab:  collab,
		cache:   cache,
		history: history,
		engine:  engine,
		cfg:     cfg,
		logger:  log,
	}
}

// Verify runs the full loop for a strategy record. It never returns a
// nil Outcome without an error; a failed verification is a non-error
// Outcome with Passed=false.
func (p *Pipeline) Verify(ctx context.Context, rec *store.StrategyRecord) (*Outcome, error) {
	direction := strategy.Direction(rec.Direction)
	tf, err := market.ParseTimeframe(rec.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", rec.StrategyID, err)
	}

	var (
		doc        string
		lastReason string
	)
	out := &Outcome{}

	for attempt := 1; attempt <= p.cfg.Verification.MaxAttempts; attempt++ {
		out.Attempts = attempt
		p.logger.Info("verification attempt",
			"strategy_id", rec.StrategyID,
			"version", rec.Version,
			"attempt", attempt)

		rules, newDoc, err := p.stageOne(ctx, rec.Prompt, string(direction), doc, lastReason, attempt)
		if err != nil {
			lastReason = err.Error()
			p.logger.Warn("stage 1 failed", "strategy_id", rec.StrategyID, "attempt", attempt, "reason", lastReason)
			if newDoc != "" {
				doc = newDoc
			}
			continue
		}
		doc = newDoc

		sim, err := p.stageTwo(ctx, rules, rec.Symbol, direction, tf, rec.Quantity)
		if err != nil {
			lastReason = err.Error()
			p.logger.Warn("stage 2 failed", "strategy_id", rec.StrategyID, "attempt", attempt, "reason", lastReason)
			continue
		}

		out.Passed = true
		out.Document = doc
		out.Rules = rules
		out.Simulation = sim
		p.logger.Info("verification passed",
			"strategy_id", rec.StrategyID,
			"version", rec.Version,
			"attempts", attempt,
			"sim_trades", sim.TradeCount)
		return out, nil
	}

	out.FailureReason = lastReason
	out.Document = doc
	p.logger.Warn("verification exhausted",
		"strategy_id", rec.StrategyID,
		"version", rec.Version,
		"attempts", out.Attempts,
		"reason", lastReason)
	return out, nil
}

// stageOne produces a rule document and passes it through review. On
// attempt 1 it generates fresh; later attempts repair the previous
// document with the recorded failure reason.
func (p *Pipeline) stageOne(ctx context.Context, prompt, direction, prevDoc, prevReason string, attempt int) (*strategy.RuleSet, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout())
	defer cancel()

	var (
		doc string
		err error
	)
	if attempt == 1 || prevDoc == "" {
		doc, err = p.collab.Generate(ctx, prompt, direction)
	} else {
		doc, err = p.collab.Repair(ctx, prevDoc, prompt, prevReason)
	}
	if err != nil {
		return nil, "", err
	}

	rules, err := strategy.ParseRuleSet(doc)
	if err != nil {
		return nil, doc, fmt.Errorf("rule document invalid: %w", err)
	}
	if direction == string(strategy.DirectionBoth) && len(rules.ShortEntry) == 0 {
		return nil, doc, &ReviewFailure{Reason: "both-direction strategy has no short_entry conditions"}
	}

	review, err := p.collab.Review(ctx, doc, prompt)
	if err != nil {
		return nil, doc, err
	}
	if !review.Passed {
		return nil, doc, &ReviewFailure{Reason: review.Reason, Suggestion: review.Suggestion}
	}
	return rules, doc, nil
}

// stageTwo replays the rules over the most recent cached history and
// screens the run for behavior that a plausible strategy should not
// show.
func (p *Pipeline) stageTwo(ctx context.Context, rules *strategy.RuleSet, symbol string, direction strategy.Direction, tf market.Timeframe, quantity int64) (*backtest.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout())
	defer cancel()

	want := p.cfg.Verification.SimulationBars
	if err := p.cache.EnsureHistory(ctx, p.history, symbol, tf, want); err != nil {
		return nil, &BacktestAnomaly{Kind: "insufficient_history", Detail: err.Error()}
	}
	bars := p.cache.Latest(symbol, want)
	if len(bars) < p.cfg.Verification.MinSimulationBars {
		return nil, &BacktestAnomaly{
			Kind:   "insufficient_history",
			Detail: fmt.Sprintf("only %d bars available, need %d", len(bars), p.cfg.Verification.MinSimulationBars),
		}
	}

	result, err := p.engine.RunBars(bars, rules, symbol, direction, quantity)
	if err != nil {
		return nil, &BacktestAnomaly{Kind: "evaluation_error", Detail: err.Error()}
	}

	if frac := result.TradeFraction(); frac > 0.5 {
		return nil, &BacktestAnomaly{
			Kind:   "overtrading",
			Detail: fmt.Sprintf("entries on %.0f%% of bars", frac*100),
		}
	}
	if result.HoldFraction() == 1 {
		return nil, &BacktestAnomaly{
			Kind:   "inert",
			Detail: fmt.Sprintf("no signals over %d bars", result.BarCount),
		}
	}
	if direction == strategy.DirectionBoth && result.Imbalanced() {
		return nil, &BacktestAnomaly{
			Kind:   "one_sided",
			Detail: fmt.Sprintf("buy=%d sell=%d for a both-direction strategy", result.SignalCounts.Buy, result.SignalCounts.Sell),
		}
	}
	return result, nil
}

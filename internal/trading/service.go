package trading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linchiahui/aitrader/internal/backtest"
	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/notify"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/strategy"
	"github.com/linchiahui/aitrader/internal/verify"
)

var validGoalUnits = map[string]bool{
	"": true, "daily": true, "weekly": true, "monthly": true, "quarterly": true, "yearly": true,
}

// Verifier runs the generation and verification loop for a draft.
// Satisfied by verify.Pipeline.
type Verifier interface {
	Verify(ctx context.Context, rec *store.StrategyRecord) (*verify.Outcome, error)
}

// CreateRequest is a new strategy draft.
type CreateRequest struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Timeframe string  `json:"timeframe"`
	Prompt    string  `json:"prompt"`
	Quantity  int64   `json:"quantity"`
	Goal      float64 `json:"goal"`
	GoalUnit  string  `json:"goal_unit"`
}

// Service is the strategy lifecycle facade: drafting, verification,
// versioning, enablement and teardown. The runner and web layers go
// through it. Lifecycle transitions serialize on mu so two concurrent
// enables cannot both see a free symbol.
type Service struct {
	mu        sync.Mutex
	repo      *store.Repository
	verifier  Verifier
	engine    *backtest.Engine
	broker    broker.Broker
	positions *PositionManager
	notifier  *notify.Notifier
	cfg       *config.Config
	logger    *logger.Logger
}

func NewService(repo *store.Repository, verifier Verifier, engine *backtest.Engine, bk broker.Broker, positions *PositionManager, notifier *notify.Notifier, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		verifier:  verifier,
		engine:    engine,
		broker:    bk,
		positions: positions,
		notifier:  notifier,
		cfg:       cfg,
		logger:    log,
	}
}

func validateDraft(req CreateRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return &DraftError{Field: "symbol", Reason: "is required"}
	}
	if !strategy.Direction(req.Direction).Valid() {
		return &DraftError{Field: "direction", Reason: fmt.Sprintf("%q is not one of long, short, both", req.Direction)}
	}
	if _, err := market.ParseTimeframe(req.Timeframe); err != nil {
		return &DraftError{Field: "timeframe", Reason: err.Error()}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return &DraftError{Field: "prompt", Reason: "is required"}
	}
	if req.Quantity <= 0 {
		return &DraftError{Field: "quantity", Reason: "must be positive"}
	}
	if !validGoalUnits[req.GoalUnit] {
		return &DraftError{Field: "goal_unit", Reason: fmt.Sprintf("%q is not one of daily, weekly, monthly, quarterly, yearly", req.GoalUnit)}
	}
	if req.GoalUnit != "" && req.Goal <= 0 {
		return &DraftError{Field: "goal", Reason: "must be positive when goal_unit is set"}
	}
	return nil
}

// CreateDraft validates the request, persists version 1 and runs the
// verification loop to completion before returning. The returned
// record reflects the terminal verification state.
func (s *Service) CreateDraft(ctx context.Context, req CreateRequest) (*store.StrategyRecord, error) {
	if err := validateDraft(req); err != nil {
		return nil, err
	}

	rec := &store.StrategyRecord{
		StrategyID:         fmt.Sprintf("%s-%d", strings.ToLower(req.Symbol), time.Now().Unix()),
		Version:            1,
		Symbol:             strings.ToUpper(req.Symbol),
		Direction:          req.Direction,
		Timeframe:          req.Timeframe,
		Prompt:             req.Prompt,
		Quantity:           req.Quantity,
		Goal:               req.Goal,
		GoalUnit:           req.GoalUnit,
		VerificationStatus: store.VerificationPending,
	}
	if err := s.repo.CreateStrategy(rec); err != nil {
		return nil, fmt.Errorf("create strategy: %w", err)
	}

	s.logger.Info("draft created", "strategy_id", rec.StrategyID, "symbol", rec.Symbol)
	return s.runVerification(ctx, rec)
}

// UpdatePrompt archives the current version and verifies a new one
// with the edited prompt. The new version starts disabled regardless
// of the old version's state.
func (s *Service) UpdatePrompt(ctx context.Context, strategyID, prompt string) (*store.StrategyRecord, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &DraftError{Field: "prompt", Reason: "is required"}
	}

	current, err := s.repo.GetStrategy(strategyID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("strategy %s not found", strategyID)
	}
	if current.Enabled {
		return nil, &ConfirmationRequired{
			Action: "edit prompt",
			Detail: fmt.Sprintf("strategy %s is enabled; disable it before editing", strategyID),
		}
	}

	next := &store.StrategyRecord{
		StrategyID:         current.StrategyID,
		Version:            current.Version + 1,
		Symbol:             current.Symbol,
		Direction:          current.Direction,
		Timeframe:          current.Timeframe,
		Prompt:             prompt,
		Quantity:           current.Quantity,
		Goal:               current.Goal,
		GoalUnit:           current.GoalUnit,
		VerificationStatus: store.VerificationPending,
	}
	if err := s.repo.CreateVersion(current, next); err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	s.logger.Info("new version created", "strategy_id", next.StrategyID, "version", next.Version)
	return s.runVerification(ctx, next)
}

func (s *Service) runVerification(ctx context.Context, rec *store.StrategyRecord) (*store.StrategyRecord, error) {
	outcome, err := s.verifier.Verify(ctx, rec)
	if err != nil {
		rec.VerificationStatus = store.VerificationFailed
		rec.VerificationError = err.Error()
		if saveErr := s.repo.UpdateStrategy(rec); saveErr != nil {
			s.logger.Error("save verification failure", "strategy_id", rec.StrategyID, "error", saveErr)
		}
		return rec, fmt.Errorf("verification: %w", err)
	}

	rec.VerificationAttempts = outcome.Attempts
	if outcome.Passed {
		now := time.Now()
		rec.Rules = outcome.Rules.JSON()
		rec.StopLossPoints = outcome.Rules.StopLossPoints
		rec.TakeProfitPoints = outcome.Rules.TakeProfitPoints
		rec.Verified = true
		rec.VerificationStatus = store.VerificationPassed
		rec.VerificationError = ""
		rec.VerifiedAt = &now
	} else {
		rec.Verified = false
		rec.VerificationStatus = store.VerificationFailed
		rec.VerificationError = outcome.FailureReason
	}
	if err := s.repo.UpdateStrategy(rec); err != nil {
		return nil, fmt.Errorf("save verification outcome: %w", err)
	}

	s.notifier.NotifyVerification(rec.StrategyID, rec.Version, outcome.Attempts, outcome.Passed, outcome.FailureReason)
	return rec, nil
}

func (s *Service) Get(strategyID string) (*store.StrategyRecord, error) {
	rec, err := s.repo.GetStrategy(strategyID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("strategy %s not found", strategyID)
	}
	return rec, nil
}

// GetVersion returns one specific version of a strategy, archived or
// current.
func (s *Service) GetVersion(strategyID string, version int) (*store.StrategyRecord, error) {
	rec, err := s.repo.GetStrategyVersion(strategyID, version)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("strategy %s version %d not found", strategyID, version)
	}
	return rec, nil
}

func (s *Service) List() ([]store.StrategyRecord, error) {
	return s.repo.ListStrategies()
}

func (s *Service) GetSignals(strategyID string, version int) ([]store.SignalRecord, error) {
	return s.repo.GetSignals(strategyID, version)
}

func (s *Service) GetTrades(strategyID string, version int) ([]store.TradeRecord, error) {
	return s.repo.GetTrades(strategyID, version)
}

// Enable turns a verified strategy on. At most one enabled strategy
// may trade a symbol; taking over from another requires confirm, and
// the confirmed takeover force-closes the other strategy's position
// before disabling it.
func (s *Service) Enable(ctx context.Context, strategyID string, confirm bool) (*store.StrategyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}
	if !rec.Verified {
		return nil, fmt.Errorf("strategy %s is not verified (%s)", strategyID, rec.VerificationStatus)
	}
	if rec.Enabled {
		return rec, nil
	}

	other, err := s.repo.GetEnabledBySymbol(rec.Symbol)
	if err != nil {
		return nil, err
	}
	if other != nil && other.StrategyID != rec.StrategyID {
		if !confirm {
			detail := fmt.Sprintf("strategy %s already trades %s", other.StrategyID, rec.Symbol)
			if pos, perr := s.repo.GetPosition(other.StrategyID); perr == nil && pos != nil {
				detail = fmt.Sprintf("%s with an open %s position of %d at %.2f; enabling will close it",
					detail, pos.Direction, pos.Quantity, pos.EntryPrice)
			}
			return nil, &ConfirmationRequired{Action: "enable", Detail: detail}
		}
		if err := s.takeOver(ctx, other); err != nil {
			return nil, err
		}
	}

	rec.Enabled = true
	if err := s.repo.UpdateStrategy(rec); err != nil {
		return nil, fmt.Errorf("enable strategy: %w", err)
	}

	s.logger.Info("strategy enabled", "strategy_id", rec.StrategyID, "symbol", rec.Symbol)
	s.notifier.NotifyStatus(fmt.Sprintf("▶️ Enabled %s v%d on %s", rec.StrategyID, rec.Version, rec.Symbol))
	return rec, nil
}

func (s *Service) takeOver(ctx context.Context, other *store.StrategyRecord) error {
	pos, err := s.repo.GetPosition(other.StrategyID)
	if err != nil {
		return err
	}
	if pos != nil {
		trade, err := s.positions.Close(ctx, pos, "takeover", pos.EntryPrice)
		if err != nil {
			return fmt.Errorf("close position of %s: %w", other.StrategyID, err)
		}
		s.notifier.NotifyClose(other.StrategyID, pos.Symbol, "takeover", trade.ExitPrice, trade.PnL)
	}

	other.Enabled = false
	other.IsRunning = false
	if err := s.repo.UpdateStrategy(other); err != nil {
		return fmt.Errorf("disable strategy %s: %w", other.StrategyID, err)
	}
	s.logger.Info("strategy displaced", "strategy_id", other.StrategyID)
	return nil
}

// Disable turns a strategy off. With an open position it requires
// confirm and force-closes the position.
func (s *Service) Disable(ctx context.Context, strategyID string, confirm bool) (*store.StrategyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}
	if !rec.Enabled {
		return rec, nil
	}

	pos, err := s.repo.GetPosition(strategyID)
	if err != nil {
		return nil, err
	}
	if pos != nil {
		if !confirm {
			return nil, &ConfirmationRequired{
				Action: "disable",
				Detail: fmt.Sprintf("open %s position of %d %s at %.2f will be closed",
					pos.Direction, pos.Quantity, pos.Symbol, pos.EntryPrice),
			}
		}
		trade, err := s.positions.Close(ctx, pos, "disable", pos.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("close position: %w", err)
		}
		s.notifier.NotifyClose(strategyID, pos.Symbol, "disable", trade.ExitPrice, trade.PnL)
	}

	rec.Enabled = false
	rec.IsRunning = false
	if err := s.repo.UpdateStrategy(rec); err != nil {
		return nil, fmt.Errorf("disable strategy: %w", err)
	}

	s.logger.Info("strategy disabled", "strategy_id", strategyID)
	s.notifier.NotifyStatus(fmt.Sprintf("⏸ Disabled %s", strategyID))
	return rec, nil
}

// Delete removes a strategy and its history. Refused while a position
// is open; an enabled strategy needs confirm.
func (s *Service) Delete(ctx context.Context, strategyID string, confirm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Get(strategyID)
	if err != nil {
		return err
	}

	pos, err := s.repo.GetPosition(strategyID)
	if err != nil {
		return err
	}
	if pos != nil {
		return fmt.Errorf("strategy %s has an open position; disable it first", strategyID)
	}
	if rec.Enabled && !confirm {
		return &ConfirmationRequired{
			Action: "delete",
			Detail: fmt.Sprintf("strategy %s is enabled; deleting removes it and its signal history", strategyID),
		}
	}

	if err := s.repo.DeleteStrategy(strategyID); err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	s.logger.Info("strategy deleted", "strategy_id", strategyID)
	return nil
}

// RunBacktest replays the strategy's verified rules over fresh
// history from the venue.
func (s *Service) RunBacktest(ctx context.Context, strategyID string) (*backtest.Result, error) {
	rec, err := s.Get(strategyID)
	if err != nil {
		return nil, err
	}
	if !rec.Verified || rec.Rules == "" {
		return nil, fmt.Errorf("strategy %s has no verified rules", strategyID)
	}

	rules, err := strategy.ParseRuleSet(rec.Rules)
	if err != nil {
		return nil, fmt.Errorf("stored rules for %s: %w", strategyID, err)
	}
	tf, err := market.ParseTimeframe(rec.Timeframe)
	if err != nil {
		return nil, err
	}

	return s.engine.Run(ctx, s.broker, rules, rec.Symbol, strategy.Direction(rec.Direction), tf, rec.Quantity)
}

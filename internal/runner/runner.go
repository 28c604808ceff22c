package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/notify"
	"github.com/linchiahui/aitrader/internal/risk"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/strategy"
	"github.com/linchiahui/aitrader/internal/trading"
)

// active is one enabled strategy loaded into the loop.
type active struct {
	rec  *store.StrategyRecord
	exec *strategy.Executor
	tf   market.Timeframe
}

// queuedOrder is a signal that arrived while the broker link was
// down. It waits at most one runner period; past the deadline the
// signal is rejected instead of filled at a stale price.
type queuedOrder struct {
	signalID   string
	strategyID string
	action     string // "open" or "close"
	side       broker.Side
	deadline   time.Time
}

// Runner drives all enabled strategies on one fixed-interval loop:
// refresh bars, evaluate rules, gate the signals and route the
// orders. One cycle failure never stops the loop.
type Runner struct {
	repo      *store.Repository
	cache     *market.Cache
	broker    broker.Broker
	gate      *risk.Gate
	positions *trading.PositionManager
	notifier  *notify.Notifier
	cfg       *config.Config
	logger    *logger.Logger
	loc       *time.Location

	mu        sync.Mutex
	active    map[string]*active
	queue     []queuedOrder
	lastCycle time.Time
}

func NewRunner(
	repo *store.Repository,
	cache *market.Cache,
	bk broker.Broker,
	gate *risk.Gate,
	positions *trading.PositionManager,
	notifier *notify.Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *Runner {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		loc = time.UTC
	}
	return &Runner{
		repo:      repo,
		cache:     cache,
		broker:    bk,
		gate:      gate,
		positions: positions,
		notifier:  notifier,
		cfg:       cfg,
		logger:    log,
		loc:       loc,
		active:    make(map[string]*active),
	}
}

func (r *Runner) Run(ctx context.Context) {
	interval := r.cfg.RunnerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("runner started", "interval", interval.String())

	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in runner cycle", "panic", fmt.Sprint(rec))
			r.notifier.NotifyError("runner panic", fmt.Errorf("%v", rec))
		}
	}()

	r.mu.Lock()
	r.lastCycle = time.Now()
	r.mu.Unlock()

	if !r.withinTradingHours() {
		r.logger.Debug("outside trading hours, skipping cycle")
		return
	}

	r.flushQueue(ctx)

	if err := r.syncStrategies(ctx); err != nil {
		r.logger.Error("sync strategies", "error", err)
		return
	}

	r.mu.Lock()
	loaded := make([]*active, 0, len(r.active))
	for _, a := range r.active {
		loaded = append(loaded, a)
	}
	r.mu.Unlock()

	for _, a := range loaded {
		if err := r.evaluate(ctx, a); err != nil {
			r.logger.Error("evaluate strategy", "strategy_id", a.rec.StrategyID, "error", err)
		}
	}
}

// syncStrategies reconciles the loop's active set with the enabled
// strategies in the store, subscribing and backfilling newcomers and
// dropping the disabled.
func (r *Runner) syncStrategies(ctx context.Context) error {
	enabled, err := r.repo.ListEnabled()
	if err != nil {
		return fmt.Errorf("list enabled: %w", err)
	}

	want := make(map[string]*store.StrategyRecord, len(enabled))
	for i := range enabled {
		want[enabled[i].StrategyID] = &enabled[i]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.active {
		rec, still := want[id]
		if still && rec.Version == a.rec.Version {
			continue
		}
		delete(r.active, id)
		r.broker.Unwatch(a.rec.Symbol)
		r.cache.Drop(a.rec.Symbol)
		a.rec.IsRunning = false
		if err := r.repo.UpdateStrategy(a.rec); err != nil {
			r.logger.Error("mark strategy stopped", "strategy_id", id, "error", err)
		}
		r.logger.Info("strategy unloaded", "strategy_id", id)
	}

	for id, rec := range want {
		if _, ok := r.active[id]; ok {
			continue
		}
		a, err := r.load(ctx, rec)
		if err != nil {
			r.logger.Error("load strategy", "strategy_id", id, "error", err)
			continue
		}
		r.active[id] = a
		r.logger.Info("strategy loaded", "strategy_id", id, "symbol", rec.Symbol, "version", rec.Version)
	}
	return nil
}

func (r *Runner) load(ctx context.Context, rec *store.StrategyRecord) (*active, error) {
	rules, err := strategy.ParseRuleSet(rec.Rules)
	if err != nil {
		return nil, fmt.Errorf("stored rules: %w", err)
	}
	tf, err := market.ParseTimeframe(rec.Timeframe)
	if err != nil {
		return nil, err
	}

	if err := r.cache.EnsureHistory(ctx, r.broker, rec.Symbol, tf, r.cfg.Trading.HistoryBars); err != nil {
		return nil, err
	}
	r.broker.Watch(rec.Symbol)

	rec.IsRunning = true
	if err := r.repo.UpdateStrategy(rec); err != nil {
		return nil, fmt.Errorf("mark strategy running: %w", err)
	}

	return &active{
		rec:  rec,
		exec: strategy.NewExecutor(rules, strategy.Direction(rec.Direction)),
		tf:   tf,
	}, nil
}

// refreshBars appends completed bars newer than the cached tail.
func (r *Runner) refreshBars(ctx context.Context, a *active) error {
	fresh, err := r.broker.GetHistoricalBars(ctx, a.rec.Symbol, a.tf, 3)
	if err != nil {
		return err
	}

	var lastTS time.Time
	if tail := r.cache.Latest(a.rec.Symbol, 1); len(tail) == 1 {
		lastTS = tail[0].Timestamp
	}
	for _, bar := range fresh {
		if bar.Timestamp.After(lastTS) {
			r.cache.Update(a.rec.Symbol, bar)
		}
	}
	return nil
}

func (r *Runner) evaluate(ctx context.Context, a *active) error {
	if err := r.refreshBars(ctx, a); err != nil {
		r.logger.Warn("refresh bars", "symbol", a.rec.Symbol, "error", err)
	}

	bars := r.cache.Latest(a.rec.Symbol, r.cfg.Trading.HistoryBars)
	if len(bars) == 0 {
		return fmt.Errorf("no bars cached for %s", a.rec.Symbol)
	}
	price, ok := r.cache.LastPrice(a.rec.Symbol)
	if !ok {
		price = bars[len(bars)-1].Close
	}

	pos, err := r.repo.GetPosition(a.rec.StrategyID)
	if err != nil {
		return err
	}

	if pos != nil {
		if closed, err := r.checkExits(ctx, a, pos, price); err != nil {
			return err
		} else if closed {
			pos = nil
		}
	}

	var held int64
	if pos != nil {
		held = pos.Quantity
		if pos.Direction == "short" {
			held = -held
		}
	}

	decision, err := a.exec.OnBar(bars, held)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	if decision.Signal == strategy.SignalHold {
		return nil
	}

	return r.act(ctx, a, pos, decision, price)
}

// checkExits force-closes the position when the stop or target in
// points is reached at the current price.
func (r *Runner) checkExits(ctx context.Context, a *active, pos *store.PositionRecord, price float64) (bool, error) {
	points := trading.UnrealizedPoints(pos, price)

	var reason string
	switch {
	case r.gate.StopLossHit(points, pos.StopLossPoints):
		reason = "stop_loss"
	case r.gate.TakeProfitHit(points, pos.TakeProfitPoints):
		reason = "take_profit"
	default:
		return false, nil
	}

	trade, err := r.positions.Close(ctx, pos, reason, price)
	if err != nil {
		return false, fmt.Errorf("forced close: %w", err)
	}
	r.notifier.NotifyClose(a.rec.StrategyID, pos.Symbol, reason, trade.ExitPrice, trade.PnL)
	return true, nil
}

func (r *Runner) act(ctx context.Context, a *active, pos *store.PositionRecord, decision strategy.Decision, price float64) error {
	signalID := uuid.NewString()
	indicators, _ := json.Marshal(decision.Indicators)

	sig := &store.SignalRecord{
		SignalID:        signalID,
		StrategyID:      a.rec.StrategyID,
		StrategyVersion: a.rec.Version,
		Signal:          string(decision.Signal),
		Price:           price,
		Timestamp:       time.Now(),
		IndicatorsJSON:  string(indicators),
		Status:          store.SignalStatusPending,
	}
	if err := r.repo.AppendSignal(sig); err != nil {
		return fmt.Errorf("append signal: %w", err)
	}
	r.notifier.NotifySignal(a.rec.StrategyID, string(decision.Signal), a.rec.Symbol, price)

	var (
		action string
		side   broker.Side
	)
	switch decision.Signal {
	case strategy.SignalBuy, strategy.SignalSell:
		if pos != nil {
			return r.repo.RejectSignal(signalID, "position already open")
		}
		if err := r.gate.CheckOrder(a.rec.Quantity); err != nil {
			r.logger.Warn("signal rejected", "strategy_id", a.rec.StrategyID, "reason", err.Error())
			return r.repo.RejectSignal(signalID, err.Error())
		}
		action = "open"
		side = broker.SideBuy
		if decision.Signal == strategy.SignalSell {
			side = broker.SideSell
		}
	case strategy.SignalClose:
		if pos == nil {
			return r.repo.RejectSignal(signalID, "no open position")
		}
		action = "close"
	default:
		return nil
	}

	if !r.broker.Connected() {
		r.enqueue(queuedOrder{
			signalID:   signalID,
			strategyID: a.rec.StrategyID,
			action:     action,
			side:       side,
			deadline:   time.Now().Add(r.cfg.RunnerInterval()),
		})
		r.logger.Warn("broker disconnected, order queued", "signal_id", signalID, "strategy_id", a.rec.StrategyID)
		return nil
	}

	return r.execute(ctx, a.rec, signalID, action, side, price)
}

func (r *Runner) execute(ctx context.Context, rec *store.StrategyRecord, signalID, action string, side broker.Side, price float64) error {
	switch action {
	case "open":
		pos, err := r.positions.Open(ctx, rec, side, signalID, price)
		if err != nil {
			if connErr, ok := err.(*broker.ConnectivityError); ok {
				r.enqueue(queuedOrder{
					signalID:   signalID,
					strategyID: rec.StrategyID,
					action:     action,
					side:       side,
					deadline:   time.Now().Add(r.cfg.RunnerInterval()),
				})
				r.logger.Warn("order queued after send failure", "signal_id", signalID, "error", connErr)
				return nil
			}
			return r.repo.RejectSignal(signalID, err.Error())
		}
		r.notifier.NotifyFill(rec.StrategyID, rec.Symbol, string(side), pos.Quantity, pos.EntryPrice)
	case "close":
		pos, err := r.repo.GetPosition(rec.StrategyID)
		if err != nil {
			return err
		}
		if pos == nil {
			return r.repo.RejectSignal(signalID, "no open position")
		}
		pos.SignalID = signalID
		trade, err := r.positions.Close(ctx, pos, "signal", price)
		if err != nil {
			if connErr, ok := err.(*broker.ConnectivityError); ok {
				r.enqueue(queuedOrder{
					signalID:   signalID,
					strategyID: rec.StrategyID,
					action:     action,
					deadline:   time.Now().Add(r.cfg.RunnerInterval()),
				})
				r.logger.Warn("close queued after send failure", "signal_id", signalID, "error", connErr)
				return nil
			}
			return r.repo.RejectSignal(signalID, err.Error())
		}
		r.notifier.NotifyClose(rec.StrategyID, rec.Symbol, "signal", trade.ExitPrice, trade.PnL)
	}
	return nil
}

func (r *Runner) enqueue(q queuedOrder) {
	r.mu.Lock()
	r.queue = append(r.queue, q)
	r.mu.Unlock()
}

// flushQueue retries queued orders once the link is back. Orders past
// their deadline are rejected rather than filled late.
func (r *Runner) flushQueue(ctx context.Context) {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	now := time.Now()
	for _, q := range pending {
		if now.After(q.deadline) {
			if err := r.repo.RejectSignal(q.signalID, "connectivity timeout"); err != nil {
				r.logger.Error("reject expired signal", "signal_id", q.signalID, "error", err)
			}
			r.logger.Warn("queued order expired", "signal_id", q.signalID, "strategy_id", q.strategyID)
			continue
		}
		if !r.broker.Connected() {
			r.enqueue(q)
			continue
		}

		rec, err := r.repo.GetStrategy(q.strategyID)
		if err != nil || rec == nil {
			r.logger.Error("queued order strategy missing", "strategy_id", q.strategyID, "error", err)
			continue
		}
		price, _ := r.cache.LastPrice(rec.Symbol)
		if err := r.execute(ctx, rec, q.signalID, q.action, q.side, price); err != nil {
			r.logger.Error("flush queued order", "signal_id", q.signalID, "error", err)
		}
	}
}

func (r *Runner) withinTradingHours() bool {
	now := time.Now().In(r.loc)

	weekday := now.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}

	// Main session 10:00 - 18:50 MSK.
	totalMinutes := now.Hour()*60 + now.Minute()
	return totalMinutes >= 600 && totalMinutes <= 1130
}

package analysis

import (
	"fmt"
	"time"

	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/store"
)

// Report compares a strategy version's realized PnL against its goal
// over the current goal window.
type Report struct {
	StrategyID  string    `json:"strategy_id"`
	Version     int       `json:"version"`
	Goal        float64   `json:"goal"`
	GoalUnit    string    `json:"goal_unit"`
	WindowStart time.Time `json:"window_start"`
	RealizedPnL float64   `json:"realized_pnl"`
	Progress    float64   `json:"progress"`
	TradeCount  int       `json:"trade_count"`
	WinRate     float64   `json:"win_rate"`
	OnTrack     bool      `json:"on_track"`
}

// Analyzer derives per-version performance reports from the closed
// trade log.
type Analyzer struct {
	repo   *store.Repository
	logger *logger.Logger
	now    func() time.Time
}

func NewAnalyzer(repo *store.Repository, log *logger.Logger) *Analyzer {
	return &Analyzer{repo: repo, logger: log, now: time.Now}
}

// windowStart returns the beginning of the current goal window: start
// of today, this ISO week, this month, this quarter or this year.
func windowStart(unit string, now time.Time) (time.Time, error) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	switch unit {
	case "daily":
		return today, nil
	case "weekly":
		offset := (int(today.Weekday()) + 6) % 7
		return today.AddDate(0, 0, -offset), nil
	case "monthly":
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location()), nil
	case "quarterly":
		qm := time.Month(((int(m)-1)/3)*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, now.Location()), nil
	case "yearly":
		return time.Date(y, time.January, 1, 0, 0, 0, 0, now.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("unknown goal unit %q", unit)
	}
}

// Analyze builds the goal report for the latest version of a strategy.
// Strategies without a goal report PnL over all time with no target.
func (a *Analyzer) Analyze(rec *store.StrategyRecord) (*Report, error) {
	report := &Report{
		StrategyID: rec.StrategyID,
		Version:    rec.Version,
		Goal:       rec.Goal,
		GoalUnit:   rec.GoalUnit,
	}

	var since time.Time
	if rec.GoalUnit != "" {
		start, err := windowStart(rec.GoalUnit, a.now())
		if err != nil {
			return nil, err
		}
		since = start
		report.WindowStart = start
	}

	pnl, err := a.repo.RealizedPnL(rec.StrategyID, rec.Version, since)
	if err != nil {
		return nil, fmt.Errorf("realized pnl: %w", err)
	}
	report.RealizedPnL = pnl

	trades, err := a.repo.GetTrades(rec.StrategyID, rec.Version)
	if err != nil {
		return nil, fmt.Errorf("trades: %w", err)
	}
	var wins, counted int
	for _, t := range trades {
		if !since.IsZero() && t.ClosedAt.Before(since) {
			continue
		}
		counted++
		if t.PnL > 0 {
			wins++
		}
	}
	report.TradeCount = counted
	if counted > 0 {
		report.WinRate = float64(wins) / float64(counted)
	}

	if rec.Goal > 0 {
		report.Progress = pnl / rec.Goal
		report.OnTrack = pnl >= rec.Goal
	}
	return report, nil
}

// AnalyzeAll reports on every non-archived strategy.
func (a *Analyzer) AnalyzeAll() ([]Report, error) {
	recs, err := a.repo.ListStrategies()
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(recs))
	for i := range recs {
		rep, err := a.Analyze(&recs[i])
		if err != nil {
			a.logger.Error("analyze strategy", "strategy_id", recs[i].StrategyID, "error", err)
			continue
		}
		reports = append(reports, *rep)
	}
	return reports, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/trading"
)

// Emergency flatten: close every open position and disable the
// strategies that held them.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/aitrader.db", "path to SQLite database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	db, err := store.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := store.NewRepository(db)

	ctx := context.Background()
	bk, err := broker.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("broker client init failed", "error", err)
		os.Exit(1)
	}
	defer bk.Stop()

	positions := trading.NewPositionManager(repo, bk, log)

	open, err := repo.ListPositions()
	if err != nil {
		log.Error("list positions", "error", err)
		os.Exit(1)
	}
	if len(open) == 0 {
		log.Info("no open positions")
		return
	}

	failed := 0
	for i := range open {
		pos := &open[i]
		trade, err := positions.Close(ctx, pos, "closeall", pos.EntryPrice)
		if err != nil {
			log.Error("close position", "strategy_id", pos.StrategyID, "error", err)
			failed++
			continue
		}
		log.Info("position closed", "strategy_id", pos.StrategyID, "pnl", trade.PnL)

		if rec, err := repo.GetStrategy(pos.StrategyID); err == nil && rec != nil && rec.Enabled {
			rec.Enabled = false
			rec.IsRunning = false
			if err := repo.UpdateStrategy(rec); err != nil {
				log.Error("disable strategy", "strategy_id", rec.StrategyID, "error", err)
			}
		}
	}

	if failed > 0 {
		log.Error("some positions could not be closed", "failed", failed)
		os.Exit(1)
	}
	log.Info("all positions closed", "count", len(open))
}

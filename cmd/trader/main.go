package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linchiahui/aitrader/internal/ai"
	"github.com/linchiahui/aitrader/internal/analysis"
	"github.com/linchiahui/aitrader/internal/backtest"
	"github.com/linchiahui/aitrader/internal/broker"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/market"
	"github.com/linchiahui/aitrader/internal/notify"
	"github.com/linchiahui/aitrader/internal/risk"
	"github.com/linchiahui/aitrader/internal/runner"
	"github.com/linchiahui/aitrader/internal/store"
	"github.com/linchiahui/aitrader/internal/trading"
	"github.com/linchiahui/aitrader/internal/verify"
	"github.com/linchiahui/aitrader/internal/web"
)

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

	mode := "LIVE"
	if cfg.IsSandbox() {
		mode = "SANDBOX"
	}
	log.Info("starting aitrader", "mode", mode)

	db, err := store.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := store.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bk, err := broker.NewClient(ctx, cfg, log)
	if err != nil {
		log.Error("broker client init failed", "error", err)
		os.Exit(1)
	}
	log.Info("broker connected", "account_id", bk.AccountID())

	cache := market.NewCache(log)
	aiClient := ai.NewClient(cfg, log)
	notifier := notify.NewNotifier(cfg, log)
	engine := backtest.NewEngine(cfg, log)
	pipeline := verify.NewPipeline(aiClient, cache, bk, engine, cfg, log)
	gate := risk.NewGate(cfg, repo, log)
	positions := trading.NewPositionManager(repo, bk, log)
	service := trading.NewService(repo, pipeline, engine, bk, positions, notifier, cfg, log)
	analyzer := analysis.NewAnalyzer(repo, log)
	rn := runner.NewRunner(repo, cache, bk, gate, positions, notifier, cfg, log)
	webServer := web.NewServer(service, rn, analyzer, cfg, log)

	go bk.RunPoller(ctx, cache.SetLastPrice)
	go rn.Run(ctx)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus(fmt.Sprintf("🤖 AITrader started (%s)", mode))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}
	if err := bk.Stop(); err != nil {
		log.Error("broker client stop error", "error", err)
	}

	notifier.NotifyStatus("🛑 AITrader stopped")
	log.Info("aitrader stopped")
}

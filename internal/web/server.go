package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/linchiahui/aitrader/internal/analysis"
	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
	"github.com/linchiahui/aitrader/internal/runner"
	"github.com/linchiahui/aitrader/internal/trading"
)

// Server exposes the strategy lifecycle over a JSON API.
type Server struct {
	httpServer *http.Server
	service    *trading.Service
	runner     *runner.Runner
	analyzer   *analysis.Analyzer
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(svc *trading.Service, rn *runner.Runner, analyzer *analysis.Analyzer, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		service:  svc,
		runner:   rn,
		analyzer: analyzer,
		config:   cfg,
		logger:   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	mux.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	mux.HandleFunc("PUT /api/strategies/{id}/prompt", s.handleUpdatePrompt)
	mux.HandleFunc("POST /api/strategies/{id}/enable", s.handleEnable)
	mux.HandleFunc("POST /api/strategies/{id}/disable", s.handleDisable)
	mux.HandleFunc("DELETE /api/strategies/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/strategies/{id}/signals", s.handleSignals)
	mux.HandleFunc("GET /api/strategies/{id}/trades", s.handleTrades)
	mux.HandleFunc("POST /api/strategies/{id}/backtest", s.handleBacktest)
	mux.HandleFunc("GET /api/strategies/{id}/performance", s.handlePerformance)
	mux.HandleFunc("GET /api/performance", s.handlePerformanceAll)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // draft creation blocks on verification
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

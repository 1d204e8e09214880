package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/infrastructure/storage"
	"github.com/atrex/options_exec_engine/internal/usecase"
)

// Server exposes the engine's read-only summaries plus the manual
// kill-switch. JSON only: dashboards live elsewhere.
type Server struct {
	router *http.ServeMux
	server *http.Server
	engine *usecase.Engine
	store  *storage.SQLiteStore
	logger *zap.Logger
}

func NewServer(port int, engine *usecase.Engine, store *storage.SQLiteStore, logger *zap.Logger) *Server {
	s := &Server{
		router: http.NewServeMux(),
		engine: engine,
		store:  store,
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Positions and trades
	s.router.HandleFunc("GET /api/positions", s.handlePositions)
	s.router.HandleFunc("GET /api/closed", s.handleClosedTrades)
	s.router.HandleFunc("GET /api/events", s.handleEvents)

	// Risk
	s.router.HandleFunc("GET /api/risk", s.handleRisk)

	// Control path
	s.router.HandleFunc("POST /api/signal", s.handleSignal)

	// Manual override
	s.router.HandleFunc("POST /api/kill", s.handleKillSwitch)
}

func (s *Server) Start() error {
	s.logger.Info("Status server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

package web

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	active := s.engine.ActiveSummary()
	risk := s.engine.RiskStatus()

	s.writeJSON(w, map[string]interface{}{
		"active": active,
		"risk":   risk,
		"time":   time.Now(),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.ActiveSummary())
}

func (s *Server) handleClosedTrades(w http.ResponseWriter, r *http.Request) {
	dayStart := startOfDay(time.Now())
	summary, err := s.engine.ClosedSummarySince(r.Context(), dayStart)
	if err != nil {
		s.logger.Error("Failed to summarize closed trades", zap.Error(err))
		http.Error(w, "Failed to summarize closed trades", http.StatusInternalServerError)
		return
	}

	trades, err := s.store.ListClosedTrades(r.Context(), 100)
	if err != nil {
		s.logger.Error("Failed to list closed trades", zap.Error(err))
		http.Error(w, "Failed to list closed trades", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"summary": summary,
		"trades":  trades,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListTradeEvents(r.Context(), 200)
	if err != nil {
		s.logger.Error("Failed to list trade events", zap.Error(err))
		http.Error(w, "Failed to list trade events", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.engine.RiskStatus())
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("Manual kill switch requested via API")
	closed := s.engine.KillSwitch(r.Context(), domain.KillManual)

	s.writeJSON(w, map[string]interface{}{
		"closed_positions": len(closed),
		"risk":             s.engine.RiskStatus(),
	})
}

func startOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/atrex/options_exec_engine/internal/domain"
	"github.com/atrex/options_exec_engine/internal/usecase"
)

type signalRequest struct {
	Symbol        string  `json:"symbol"`
	Direction     string  `json:"direction"`
	EntryPrice    float64 `json:"entry_price"`
	StructuralRef float64 `json:"structural_ref"`
	Confidence    float64 `json:"confidence"`
}

// handleSignal is the control-path entry point: the upstream decision
// engine (or an operator) posts a trade signal here and gets back either a
// trade ID or the audited rejection reason.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid signal payload", http.StatusBadRequest)
		return
	}

	signal := domain.TradeSignal{
		Symbol:        req.Symbol,
		Direction:     domain.Direction(req.Direction),
		EntryPrice:    req.EntryPrice,
		StructuralRef: req.StructuralRef,
		Confidence:    req.Confidence,
		GeneratedAt:   time.Now(),
	}

	tradeID, err := s.engine.TryEnter(r.Context(), signal)
	if err != nil {
		var rej *usecase.Rejection
		if errors.As(err, &rej) {
			s.writeJSON(w, map[string]interface{}{
				"accepted": false,
				"code":     rej.Code,
				"reason":   rej.Reason,
			})
			return
		}
		s.logger.Error("Placement failed", zap.Error(err))
		s.writeJSON(w, map[string]interface{}{
			"accepted": false,
			"code":     "PLACEMENT_FAILED",
			"reason":   err.Error(),
		})
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"accepted": true,
		"trade_id": tradeID,
	})
}

package usecase

import (
	"errors"
	"fmt"
	"math"

	"github.com/atrex/options_exec_engine/internal/domain"
)

var (
	ErrRiskBudgetTooSmall = errors.New("risk budget too small for minimum lot")
	ErrInvalidEntry       = errors.New("entry price must be positive")
	ErrInvalidRiskAmount  = errors.New("risk amount must be positive")
	ErrStopEqualsEntry    = errors.New("stop price must differ from entry price")
)

// SizePosition converts a fixed risk budget into a whole-lot quantity:
// floor(risk / (|entry-stop| * lotMultiplier)). Anything below one lot is a
// rejection, never a rounded-up order.
func SizePosition(entry, riskAmount, stop float64, lotMultiplier int) (int, error) {
	if entry <= 0 || stop <= 0 {
		return 0, ErrInvalidEntry
	}
	if riskAmount <= 0 {
		return 0, ErrInvalidRiskAmount
	}
	perLot := math.Abs(entry-stop) * float64(lotMultiplier)
	if perLot == 0 {
		return 0, ErrStopEqualsEntry
	}
	qty := int(math.Floor(riskAmount / perLot))
	if qty < 1 {
		return 0, fmt.Errorf("%w: %.2f per lot vs budget %.2f", ErrRiskBudgetTooSmall, perLot, riskAmount)
	}
	return qty, nil
}

// ComputeStop picks a stop for the trade. A structural reference (e.g. a
// delta-flip level) wins when it sits on the protective side of entry and
// within the configured distance band; otherwise the fixed fallback
// percentage applies.
func ComputeStop(entry, structuralRef float64, direction domain.Direction, cfg Config) (float64, error) {
	if entry <= 0 {
		return 0, ErrInvalidEntry
	}
	if direction != domain.DirectionLong && direction != domain.DirectionShort {
		return 0, fmt.Errorf("cannot compute stop for direction %s", direction)
	}

	if structuralRef > 0 && structuralUsable(entry, structuralRef, direction, cfg) {
		return structuralRef, nil
	}

	if direction == domain.DirectionLong {
		return entry * (1 - cfg.FallbackStopPct), nil
	}
	return entry * (1 + cfg.FallbackStopPct), nil
}

func structuralUsable(entry, ref float64, direction domain.Direction, cfg Config) bool {
	if direction == domain.DirectionLong && ref >= entry {
		return false
	}
	if direction == domain.DirectionShort && ref <= entry {
		return false
	}
	dist := math.Abs(entry-ref) / entry
	return dist >= cfg.MinStopDistancePct && dist <= cfg.MaxStopDistancePct
}

// ComputeTarget is a plain percentage offset from entry. Deliberately
// conservative: the monitor's trailing stop does the rest on a runner.
func ComputeTarget(entry float64, direction domain.Direction, targetPct float64) (float64, error) {
	if entry <= 0 {
		return 0, ErrInvalidEntry
	}
	if targetPct <= 0 {
		return 0, fmt.Errorf("target pct must be positive, got %f", targetPct)
	}
	switch direction {
	case domain.DirectionLong:
		return entry * (1 + targetPct), nil
	case domain.DirectionShort:
		return entry * (1 - targetPct), nil
	}
	return 0, fmt.Errorf("cannot compute target for direction %s", direction)
}

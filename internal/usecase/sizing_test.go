package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrex/options_exec_engine/internal/domain"
)

func TestSizePosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entry   float64
		risk    float64
		stop    float64
		lot     int
		want    int
		wantErr error
	}{
		{"exact one lot", 100, 500, 95, 100, 1, nil},
		{"floors partial lots", 100, 1100, 95, 100, 2, nil},
		{"short side stop above entry", 100, 1000, 105, 100, 2, nil},
		{"budget below one lot", 100, 400, 95, 100, 0, ErrRiskBudgetTooSmall},
		{"zero risk", 100, 0, 95, 100, 0, ErrInvalidRiskAmount},
		{"negative entry", -1, 500, 95, 100, 0, ErrInvalidEntry},
		{"stop equals entry", 100, 500, 100, 100, 0, ErrStopEqualsEntry},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SizePosition(tt.entry, tt.risk, tt.stop, tt.lot)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// The risk bound must hold for every admissible sizing: quantity times the
// stop distance times the lot multiplier never exceeds the budget.
func TestSizePosition_RiskBound(t *testing.T) {
	t.Parallel()

	cases := []struct {
		entry, risk, stop float64
		lot               int
	}{
		{100, 500, 95, 100},
		{250, 10000, 230, 50},
		{18.5, 750, 17.2, 75},
		{100, 499.99, 99, 100},
	}

	for _, c := range cases {
		qty, err := SizePosition(c.entry, c.risk, c.stop, c.lot)
		if err != nil {
			continue
		}
		exposure := float64(qty) * (c.entry - c.stop) * float64(c.lot)
		if exposure < 0 {
			exposure = -exposure
		}
		assert.LessOrEqual(t, exposure, c.risk,
			"entry %f stop %f risk %f lot %d", c.entry, c.stop, c.risk, c.lot)
	}
}

func TestComputeStop(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MinStopDistancePct = 0.01
	cfg.MaxStopDistancePct = 0.10
	cfg.FallbackStopPct = 0.03

	t.Run("structural level within band wins", func(t *testing.T) {
		stop, err := ComputeStop(100, 95, domain.DirectionLong, cfg)
		require.NoError(t, err)
		assert.Equal(t, 95.0, stop)
	})

	t.Run("structural level too close falls back", func(t *testing.T) {
		stop, err := ComputeStop(100, 99.5, domain.DirectionLong, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 97.0, stop, 1e-9)
	})

	t.Run("structural level too far falls back", func(t *testing.T) {
		stop, err := ComputeStop(100, 80, domain.DirectionLong, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 97.0, stop, 1e-9)
	})

	t.Run("structural level on wrong side falls back", func(t *testing.T) {
		// A long cannot use a stop above entry.
		stop, err := ComputeStop(100, 105, domain.DirectionLong, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 97.0, stop, 1e-9)
	})

	t.Run("short uses level above entry", func(t *testing.T) {
		stop, err := ComputeStop(100, 104, domain.DirectionShort, cfg)
		require.NoError(t, err)
		assert.Equal(t, 104.0, stop)
	})

	t.Run("no structural reference", func(t *testing.T) {
		stop, err := ComputeStop(100, 0, domain.DirectionShort, cfg)
		require.NoError(t, err)
		assert.InDelta(t, 103.0, stop, 1e-9)
	})

	t.Run("hold direction rejected", func(t *testing.T) {
		_, err := ComputeStop(100, 95, domain.DirectionHold, cfg)
		assert.Error(t, err)
	})
}

func TestComputeTarget(t *testing.T) {
	t.Parallel()

	target, err := ComputeTarget(100, domain.DirectionLong, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 105.0, target, 1e-9)

	target, err = ComputeTarget(100, domain.DirectionShort, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 95.0, target, 1e-9)

	_, err = ComputeTarget(100, domain.DirectionLong, 0)
	assert.Error(t, err)

	_, err = ComputeTarget(0, domain.DirectionLong, 0.05)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

package usecase

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every threshold the engine consults. Loaded once at session
// start and treated as immutable afterwards.
type Config struct {
	// Sizing
	RiskPerTrade  float64 `yaml:"risk_per_trade"` // account currency risked per trade
	LotMultiplier int     `yaml:"lot_multiplier"` // contract multiplier per lot

	// Stops and targets
	MinStopDistancePct float64 `yaml:"min_stop_distance_pct"`
	MaxStopDistancePct float64 `yaml:"max_stop_distance_pct"`
	FallbackStopPct    float64 `yaml:"fallback_stop_pct"`
	TargetPct          float64 `yaml:"target_pct"`

	// Daily risk limits
	MaxTradesPerDay      int           `yaml:"max_trades_per_day"`
	MaxDailyLoss         float64       `yaml:"max_daily_loss"`
	ConsecutiveLossLimit int           `yaml:"consecutive_loss_limit"`
	CooldownAfterLoss    time.Duration `yaml:"cooldown_after_loss"`
	LossLockDuration     time.Duration `yaml:"loss_lock_duration"`

	// Trailing stop
	TrailingActivatePct float64 `yaml:"trailing_activate_pct"`
	TrailingOffsetPct   float64 `yaml:"trailing_offset_pct"`

	// Forced-exit / data-health thresholds
	MaxSpreadPct     float64       `yaml:"max_spread_pct"`
	StaleDataTimeout time.Duration `yaml:"stale_data_timeout"`
	MarketClose      string        `yaml:"market_close"` // "15:20" local session time

	// Structural invalidation
	GammaExhaustionFloor float64 `yaml:"gamma_exhaustion_floor"`
	ThetaSpikeLimit      float64 `yaml:"theta_spike_limit"`

	// Execution
	MaxConcurrentPositions  int           `yaml:"max_concurrent_positions"`
	BrokerTimeout           time.Duration `yaml:"broker_timeout"`
	ExitRetryLimit          int           `yaml:"exit_retry_limit"`
	ExitRetryBackoff        time.Duration `yaml:"exit_retry_backoff"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold"`
	KillSwitchLockDuration  time.Duration `yaml:"kill_switch_lock_duration"`
}

// DefaultConfig returns conservative session defaults. Values mirror a
// single-lot intraday options book: one position at a time, small fixed
// risk, hard daily loss cap.
func DefaultConfig() Config {
	return Config{
		RiskPerTrade:            500,
		LotMultiplier:           100,
		MinStopDistancePct:      0.005,
		MaxStopDistancePct:      0.10,
		FallbackStopPct:         0.03,
		TargetPct:               0.05,
		MaxTradesPerDay:         5,
		MaxDailyLoss:            1500,
		ConsecutiveLossLimit:    3,
		CooldownAfterLoss:       15 * time.Minute,
		LossLockDuration:        24 * time.Hour,
		TrailingActivatePct:     0.03,
		TrailingOffsetPct:       0.015,
		MaxSpreadPct:            0.02,
		StaleDataTimeout:        10 * time.Second,
		MarketClose:             "15:20",
		GammaExhaustionFloor:    0.0005,
		ThetaSpikeLimit:         50,
		MaxConcurrentPositions:  1,
		BrokerTimeout:           5 * time.Second,
		ExitRetryLimit:          3,
		ExitRetryBackoff:        500 * time.Millisecond,
		CircuitBreakerThreshold: 3,
		KillSwitchLockDuration:  24 * time.Hour,
	}
}

// UnmarshalYAML accepts Go duration strings ("15m", "500ms") for the
// time-valued thresholds. Keys absent from the document keep the values
// already present in the receiver, so partial files overlay the defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type plainConfig struct {
		RiskPerTrade            float64 `yaml:"risk_per_trade"`
		LotMultiplier           int     `yaml:"lot_multiplier"`
		MinStopDistancePct      float64 `yaml:"min_stop_distance_pct"`
		MaxStopDistancePct      float64 `yaml:"max_stop_distance_pct"`
		FallbackStopPct         float64 `yaml:"fallback_stop_pct"`
		TargetPct               float64 `yaml:"target_pct"`
		MaxTradesPerDay         int     `yaml:"max_trades_per_day"`
		MaxDailyLoss            float64 `yaml:"max_daily_loss"`
		ConsecutiveLossLimit    int     `yaml:"consecutive_loss_limit"`
		CooldownAfterLoss       string  `yaml:"cooldown_after_loss"`
		LossLockDuration        string  `yaml:"loss_lock_duration"`
		TrailingActivatePct     float64 `yaml:"trailing_activate_pct"`
		TrailingOffsetPct       float64 `yaml:"trailing_offset_pct"`
		MaxSpreadPct            float64 `yaml:"max_spread_pct"`
		StaleDataTimeout        string  `yaml:"stale_data_timeout"`
		MarketClose             string  `yaml:"market_close"`
		GammaExhaustionFloor    float64 `yaml:"gamma_exhaustion_floor"`
		ThetaSpikeLimit         float64 `yaml:"theta_spike_limit"`
		MaxConcurrentPositions  int     `yaml:"max_concurrent_positions"`
		BrokerTimeout           string  `yaml:"broker_timeout"`
		ExitRetryLimit          int     `yaml:"exit_retry_limit"`
		ExitRetryBackoff        string  `yaml:"exit_retry_backoff"`
		CircuitBreakerThreshold int     `yaml:"circuit_breaker_threshold"`
		KillSwitchLockDuration  string  `yaml:"kill_switch_lock_duration"`
	}

	plain := plainConfig{
		RiskPerTrade:            c.RiskPerTrade,
		LotMultiplier:           c.LotMultiplier,
		MinStopDistancePct:      c.MinStopDistancePct,
		MaxStopDistancePct:      c.MaxStopDistancePct,
		FallbackStopPct:         c.FallbackStopPct,
		TargetPct:               c.TargetPct,
		MaxTradesPerDay:         c.MaxTradesPerDay,
		MaxDailyLoss:            c.MaxDailyLoss,
		ConsecutiveLossLimit:    c.ConsecutiveLossLimit,
		CooldownAfterLoss:       c.CooldownAfterLoss.String(),
		LossLockDuration:        c.LossLockDuration.String(),
		TrailingActivatePct:     c.TrailingActivatePct,
		TrailingOffsetPct:       c.TrailingOffsetPct,
		MaxSpreadPct:            c.MaxSpreadPct,
		StaleDataTimeout:        c.StaleDataTimeout.String(),
		MarketClose:             c.MarketClose,
		GammaExhaustionFloor:    c.GammaExhaustionFloor,
		ThetaSpikeLimit:         c.ThetaSpikeLimit,
		MaxConcurrentPositions:  c.MaxConcurrentPositions,
		BrokerTimeout:           c.BrokerTimeout.String(),
		ExitRetryLimit:          c.ExitRetryLimit,
		ExitRetryBackoff:        c.ExitRetryBackoff.String(),
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		KillSwitchLockDuration:  c.KillSwitchLockDuration.String(),
	}
	if err := node.Decode(&plain); err != nil {
		return err
	}

	c.RiskPerTrade = plain.RiskPerTrade
	c.LotMultiplier = plain.LotMultiplier
	c.MinStopDistancePct = plain.MinStopDistancePct
	c.MaxStopDistancePct = plain.MaxStopDistancePct
	c.FallbackStopPct = plain.FallbackStopPct
	c.TargetPct = plain.TargetPct
	c.MaxTradesPerDay = plain.MaxTradesPerDay
	c.MaxDailyLoss = plain.MaxDailyLoss
	c.ConsecutiveLossLimit = plain.ConsecutiveLossLimit
	c.TrailingActivatePct = plain.TrailingActivatePct
	c.TrailingOffsetPct = plain.TrailingOffsetPct
	c.MaxSpreadPct = plain.MaxSpreadPct
	c.MarketClose = plain.MarketClose
	c.GammaExhaustionFloor = plain.GammaExhaustionFloor
	c.ThetaSpikeLimit = plain.ThetaSpikeLimit
	c.MaxConcurrentPositions = plain.MaxConcurrentPositions
	c.ExitRetryLimit = plain.ExitRetryLimit
	c.CircuitBreakerThreshold = plain.CircuitBreakerThreshold

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{plain.CooldownAfterLoss, &c.CooldownAfterLoss},
		{plain.LossLockDuration, &c.LossLockDuration},
		{plain.StaleDataTimeout, &c.StaleDataTimeout},
		{plain.BrokerTimeout, &c.BrokerTimeout},
		{plain.ExitRetryBackoff, &c.ExitRetryBackoff},
		{plain.KillSwitchLockDuration, &c.KillSwitchLockDuration},
	} {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate rejects configurations the engine cannot trade safely with.
func (c Config) Validate() error {
	if c.RiskPerTrade <= 0 {
		return fmt.Errorf("risk_per_trade must be positive, got %f", c.RiskPerTrade)
	}
	if c.LotMultiplier <= 0 {
		return fmt.Errorf("lot_multiplier must be positive, got %d", c.LotMultiplier)
	}
	if c.MinStopDistancePct <= 0 || c.MaxStopDistancePct <= c.MinStopDistancePct {
		return fmt.Errorf("stop distance band invalid: min %f, max %f", c.MinStopDistancePct, c.MaxStopDistancePct)
	}
	if c.FallbackStopPct <= 0 || c.TargetPct <= 0 {
		return fmt.Errorf("fallback_stop_pct and target_pct must be positive")
	}
	if c.MaxTradesPerDay <= 0 || c.MaxDailyLoss <= 0 || c.ConsecutiveLossLimit <= 0 {
		return fmt.Errorf("daily limits must be positive")
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max_concurrent_positions must be positive, got %d", c.MaxConcurrentPositions)
	}
	if c.BrokerTimeout <= 0 || c.ExitRetryLimit <= 0 {
		return fmt.Errorf("broker_timeout and exit_retry_limit must be positive")
	}
	if c.CircuitBreakerThreshold <= 0 {
		return fmt.Errorf("circuit_breaker_threshold must be positive, got %d", c.CircuitBreakerThreshold)
	}
	if _, err := parseSessionTime(c.MarketClose); err != nil {
		return fmt.Errorf("market_close: %w", err)
	}
	return nil
}

// parseSessionTime parses an "HH:MM" session-local time of day.
func parseSessionTime(s string) (time.Duration, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}

// afterMarketClose reports whether now is at or past the configured
// force-exit time for its session day.
func (c Config) afterMarketClose(now time.Time) bool {
	closeOffset, err := parseSessionTime(c.MarketClose)
	if err != nil {
		return false
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return !now.Before(dayStart.Add(closeOffset))
}

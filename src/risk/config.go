package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is the immutable risk limit snapshot for a trading session. It is
// loaded once at startup and only ever replaced wholesale, never mutated in
// place.
type Config struct {
	StartingCapital decimal.Decimal `envconfig:"STARTING_CAPITAL" default:"1000000"`

	// Hard limits
	MaxPositionSize   int64           `envconfig:"MAX_POSITION_SIZE" default:"1000"`
	MaxTotalExposure  decimal.Decimal `envconfig:"MAX_TOTAL_EXPOSURE" default:"5000000"`
	MaxLeverage       decimal.Decimal `envconfig:"MAX_LEVERAGE" default:"10"`
	MaxConcentration  decimal.Decimal `envconfig:"MAX_CONCENTRATION" default:"0.25"`
	MaxDailyLoss      decimal.Decimal `envconfig:"MAX_DAILY_LOSS" default:"50000"`
	MaxDrawdown       decimal.Decimal `envconfig:"MAX_DRAWDOWN" default:"0.10"`
	StopLossThreshold decimal.Decimal `envconfig:"STOP_LOSS_THRESHOLD" default:"0.02"`
	MaxVolatility     decimal.Decimal `envconfig:"MAX_VOLATILITY" default:"35"`

	// Rate limits
	MaxTradesPerDay    int           `envconfig:"MAX_TRADES_PER_DAY" default:"200"`
	MinTradeInterval   time.Duration `envconfig:"MIN_TRADE_INTERVAL" default:"1s"`
	MaxOrdersPerSecond int           `envconfig:"MAX_ORDERS_PER_SECOND" default:"10"`

	// When true, an order that would only breach the per-symbol position
	// limit is clamped to the remaining headroom instead of rejected.
	ClampOversizedOrders bool `envconfig:"CLAMP_OVERSIZED_ORDERS" default:"true"`

	// Circuit breaker levels
	Level1Threshold       decimal.Decimal `envconfig:"BREAKER_LEVEL1_THRESHOLD" default:"0.05"`
	Level1ReductionFactor decimal.Decimal `envconfig:"BREAKER_LEVEL1_REDUCTION_FACTOR" default:"0.5"`
	Level2Threshold       decimal.Decimal `envconfig:"BREAKER_LEVEL2_THRESHOLD" default:"0.08"`
	Level2Duration        time.Duration   `envconfig:"BREAKER_LEVEL2_DURATION" default:"1h"`
	Level3Threshold       decimal.Decimal `envconfig:"BREAKER_LEVEL3_THRESHOLD" default:"0.10"`

	// Recovery mode
	RecoveryActivationThreshold decimal.Decimal `envconfig:"RECOVERY_ACTIVATION_THRESHOLD" default:"-20000"`
	RecoverySizeFactor          decimal.Decimal `envconfig:"RECOVERY_SIZE_FACTOR" default:"0.5"`
	RecoveryMinPeriod           time.Duration   `envconfig:"RECOVERY_MIN_PERIOD" default:"30m"`
	RecoveryProfitTarget        decimal.Decimal `envconfig:"RECOVERY_PROFIT_TARGET" default:"10000"`
	RecoveryTimeTarget          time.Duration   `envconfig:"RECOVERY_TIME_TARGET" default:"24h"`

	// Periodic breaker/recovery evaluation cadence
	EvalInterval time.Duration `envconfig:"RISK_EVAL_INTERVAL" default:"5s"`

	// Optional symbol allow-list (comma separated). Empty accepts any symbol.
	Symbols []string `envconfig:"SYMBOLS"`

	// Bound on in-memory equity curve samples
	EquityCurveCapacity int `envconfig:"EQUITY_CURVE_CAPACITY" default:"10000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Validate rejects partial or inconsistent limit configuration. The engine
// refuses to start on error rather than run with partial limits.
func (c Config) Validate() error {
	if c.StartingCapital.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk config: starting capital must be positive, got %s", c.StartingCapital)
	}
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("risk config: max position size must be positive, got %d", c.MaxPositionSize)
	}
	if c.MaxTotalExposure.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk config: max total exposure must be positive, got %s", c.MaxTotalExposure)
	}
	if c.MaxLeverage.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk config: max leverage must be positive, got %s", c.MaxLeverage)
	}
	if c.MaxConcentration.LessThanOrEqual(decimal.Zero) || c.MaxConcentration.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk config: max concentration must be in (0,1], got %s", c.MaxConcentration)
	}
	if c.MaxTradesPerDay <= 0 {
		return fmt.Errorf("risk config: max trades per day must be positive, got %d", c.MaxTradesPerDay)
	}
	if c.MaxOrdersPerSecond <= 0 {
		return fmt.Errorf("risk config: max orders per second must be positive, got %d", c.MaxOrdersPerSecond)
	}
	if c.MinTradeInterval < 0 {
		return fmt.Errorf("risk config: min trade interval must not be negative, got %s", c.MinTradeInterval)
	}

	one := decimal.NewFromInt(1)
	if c.Level1ReductionFactor.LessThanOrEqual(decimal.Zero) || c.Level1ReductionFactor.GreaterThan(one) {
		return fmt.Errorf("risk config: level1 reduction factor must be in (0,1], got %s", c.Level1ReductionFactor)
	}
	if c.Level1Threshold.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk config: level1 threshold must be positive, got %s", c.Level1Threshold)
	}
	if !c.Level1Threshold.LessThan(c.Level2Threshold) || !c.Level2Threshold.LessThan(c.Level3Threshold) {
		return fmt.Errorf("risk config: breaker thresholds must be strictly increasing (%s, %s, %s)",
			c.Level1Threshold, c.Level2Threshold, c.Level3Threshold)
	}
	if c.Level2Duration <= 0 {
		return fmt.Errorf("risk config: level2 duration must be positive, got %s", c.Level2Duration)
	}

	if c.RecoveryActivationThreshold.GreaterThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk config: recovery activation threshold must be negative, got %s", c.RecoveryActivationThreshold)
	}
	if c.RecoverySizeFactor.LessThanOrEqual(decimal.Zero) || c.RecoverySizeFactor.GreaterThan(one) {
		return fmt.Errorf("risk config: recovery size factor must be in (0,1], got %s", c.RecoverySizeFactor)
	}
	if c.RecoveryProfitTarget.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("risk config: recovery profit target must be positive, got %s", c.RecoveryProfitTarget)
	}
	if c.RecoveryMinPeriod < 0 || c.RecoveryTimeTarget <= 0 {
		return fmt.Errorf("risk config: recovery periods invalid (min=%s target=%s)", c.RecoveryMinPeriod, c.RecoveryTimeTarget)
	}

	if c.EvalInterval <= 0 {
		return fmt.Errorf("risk config: eval interval must be positive, got %s", c.EvalInterval)
	}
	if c.EquityCurveCapacity <= 0 {
		return fmt.Errorf("risk config: equity curve capacity must be positive, got %d", c.EquityCurveCapacity)
	}

	return nil
}

// BreakerConfig returns the typed per-level action records derived from the
// flat env snapshot.
func (c Config) BreakerConfig() BreakerConfig {
	return BreakerConfig{
		Level1: LevelAction{
			DrawdownThreshold: c.Level1Threshold,
			ReductionFactor:   c.Level1ReductionFactor,
		},
		Level2: LevelAction{
			DrawdownThreshold: c.Level2Threshold,
			Duration:          c.Level2Duration,
		},
		Level3: LevelAction{
			DrawdownThreshold:   c.Level3Threshold,
			ManualResetRequired: true,
		},
	}
}

// RecoveryConfig returns the recovery controller settings.
func (c Config) RecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		ActivationThreshold: c.RecoveryActivationThreshold,
		SizeFactor:          c.RecoverySizeFactor,
		MinRecoveryPeriod:   c.RecoveryMinPeriod,
		ProfitTarget:        c.RecoveryProfitTarget,
		TimeTarget:          c.RecoveryTimeTarget,
	}
}

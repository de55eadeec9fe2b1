package risk

import (
	"testing"
	"time"

	"riskexecutor/src/ledger"
	"riskexecutor/src/model"
)

func testRiskConfig() Config {
	return Config{
		StartingCapital:             dd("1000000"),
		MaxPositionSize:             1000,
		MaxTotalExposure:            dd("5000000"),
		MaxLeverage:                 dd("10"),
		MaxConcentration:            dd("1"),
		MaxDailyLoss:                dd("50000"),
		MaxDrawdown:                 dd("0.10"),
		StopLossThreshold:           dd("0.02"),
		MaxVolatility:               dd("35"),
		MaxTradesPerDay:             1000,
		MinTradeInterval:            0,
		MaxOrdersPerSecond:          1000,
		ClampOversizedOrders:        true,
		Level1Threshold:             dd("0.05"),
		Level1ReductionFactor:       dd("0.5"),
		Level2Threshold:             dd("0.08"),
		Level2Duration:              time.Hour,
		Level3Threshold:             dd("0.10"),
		RecoveryActivationThreshold: dd("-20000"),
		RecoverySizeFactor:          dd("0.5"),
		RecoveryMinPeriod:           30 * time.Minute,
		RecoveryProfitTarget:        dd("10000"),
		RecoveryTimeTarget:          24 * time.Hour,
		EvalInterval:                5 * time.Second,
		EquityCurveCapacity:         1000,
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return e
}

func buyOrder(id string, qty int64) *model.Order {
	return &model.Order{
		ID:        id,
		Symbol:    "BTCUSDT",
		Side:      model.OrderSideBuy,
		OrderType: model.OrderTypeMarket,
		Quantity:  qty,
	}
}

func vctx(price string) ValidationContext {
	return ValidationContext{Price: dd(price), Now: time.Now()}
}

func seedPosition(t *testing.T, book *ledger.PositionLedger, symbol string, qty int64, price string) {
	t.Helper()
	side := model.OrderSideBuy
	if qty < 0 {
		side = model.OrderSideSell
		qty = -qty
	}
	_, err := book.ApplyFill(model.Fill{
		OrderID:   "seed",
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     dd(price),
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("seeding position: %v", err)
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero position size", func(c *Config) { c.MaxPositionSize = 0 }},
		{"thresholds not increasing", func(c *Config) { c.Level2Threshold = dd("0.04") }},
		{"reduction factor above one", func(c *Config) { c.Level1ReductionFactor = dd("1.5") }},
		{"positive activation threshold", func(c *Config) { c.RecoveryActivationThreshold = dd("5") }},
		{"zero eval interval", func(c *Config) { c.EvalInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testRiskConfig()
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); err == nil {
				t.Fatal("expected config validation error")
			}
		})
	}
}

func TestValidateClampsToPositionHeadroom(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())
	book := ledger.New()
	seedPosition(t, book, "BTCUSDT", 900, "10")

	d := e.ValidateOrder(buyOrder("o1", 200), book, vctx("10"))
	if !d.Approved {
		t.Fatalf("expected approval, got %s (%s)", d.Reason, d.Detail)
	}
	if d.Quantity != 100 {
		t.Fatalf("expected clamp to 100, got %d", d.Quantity)
	}
}

func TestValidateRejectsOversizedWhenClampDisabled(t *testing.T) {
	cfg := testRiskConfig()
	cfg.ClampOversizedOrders = false
	e := newTestEngine(t, cfg)
	book := ledger.New()
	seedPosition(t, book, "BTCUSDT", 900, "10")

	d := e.ValidateOrder(buyOrder("o1", 200), book, vctx("10"))
	if d.Approved || d.Reason != ReasonPositionLimitExceeded {
		t.Fatalf("expected PositionLimitExceeded, got %+v", d)
	}
}

func TestValidateExposureLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxTotalExposure = dd("5000")
	e := newTestEngine(t, cfg)
	book := ledger.New()

	d := e.ValidateOrder(buyOrder("o1", 100), book, vctx("100"))
	if d.Approved || d.Reason != ReasonExposureLimitExceeded {
		t.Fatalf("expected ExposureLimitExceeded, got %+v", d)
	}

	// Within the limit it passes untouched.
	d = e.ValidateOrder(buyOrder("o2", 40), book, vctx("100"))
	if !d.Approved || d.Quantity != 40 {
		t.Fatalf("expected approval of 40, got %+v", d)
	}
}

func TestReservationsCountTowardExposure(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxTotalExposure = dd("10000")
	e := newTestEngine(t, cfg)
	book := ledger.New()

	d := e.ValidateAndReserve(buyOrder("o1", 60), book, vctx("100"))
	if !d.Approved {
		t.Fatalf("first order should pass: %+v", d)
	}

	// 6000 reserved; another 6000 would jointly breach the limit.
	d = e.ValidateAndReserve(buyOrder("o2", 60), book, vctx("100"))
	if d.Approved || d.Reason != ReasonExposureLimitExceeded {
		t.Fatalf("expected ExposureLimitExceeded for joint breach, got %+v", d)
	}

	// Releasing the reservation frees the headroom again.
	e.Release("o1")
	d = e.ValidateAndReserve(buyOrder("o3", 60), book, vctx("100"))
	if !d.Approved {
		t.Fatalf("expected approval after release, got %+v", d)
	}
}

func TestValidateConcentrationLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxConcentration = dd("0.25")
	e := newTestEngine(t, cfg)
	book := ledger.New()
	seedPosition(t, book, "ETHUSDT", 100, "100") // 10000 exposure elsewhere

	// 5000/15000 = 0.33 > 0.25
	d := e.ValidateOrder(buyOrder("o1", 50), book, vctx("100"))
	if d.Approved || d.Reason != ReasonConcentrationLimitExceeded {
		t.Fatalf("expected ConcentrationLimitExceeded, got %+v", d)
	}
}

func TestValidateLeverageLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxTotalExposure = dd("20000000")
	e := newTestEngine(t, cfg)
	book := ledger.New()

	// 1000 * 15000 = 15M notional on 1M equity: 15x > 10x max.
	d := e.ValidateOrder(buyOrder("o1", 1000), book, vctx("15000"))
	if d.Approved || d.Reason != ReasonLeverageLimitExceeded {
		t.Fatalf("expected LeverageLimitExceeded, got %+v", d)
	}
}

func TestValidateRateLimits(t *testing.T) {
	t.Run("orders per second", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.MaxOrdersPerSecond = 1
		e := newTestEngine(t, cfg)
		book := ledger.New()

		now := time.Now().Truncate(time.Second)
		v := ValidationContext{Price: dd("100"), Now: now}

		if d := e.ValidateAndReserve(buyOrder("o1", 1), book, v); !d.Approved {
			t.Fatalf("first order should pass: %+v", d)
		}
		if d := e.ValidateAndReserve(buyOrder("o2", 1), book, v); d.Approved || d.Reason != ReasonRateLimited {
			t.Fatalf("expected RateLimited, got %+v", d)
		}
	})

	t.Run("min trade interval", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.MinTradeInterval = 10 * time.Second
		e := newTestEngine(t, cfg)
		book := ledger.New()

		now := time.Now()
		if d := e.ValidateAndReserve(buyOrder("o1", 1), book, ValidationContext{Price: dd("100"), Now: now}); !d.Approved {
			t.Fatalf("first order should pass: %+v", d)
		}
		d := e.ValidateAndReserve(buyOrder("o2", 1), book, ValidationContext{Price: dd("100"), Now: now.Add(2 * time.Second)})
		if d.Approved || d.Reason != ReasonRateLimited {
			t.Fatalf("expected RateLimited inside interval, got %+v", d)
		}
		d = e.ValidateAndReserve(buyOrder("o3", 1), book, ValidationContext{Price: dd("100"), Now: now.Add(11 * time.Second)})
		if !d.Approved {
			t.Fatalf("expected approval after interval, got %+v", d)
		}
	})

	t.Run("max trades per day", func(t *testing.T) {
		cfg := testRiskConfig()
		cfg.MaxTradesPerDay = 2
		e := newTestEngine(t, cfg)
		book := ledger.New()

		now := time.Now()
		for i := 0; i < 2; i++ {
			v := ValidationContext{Price: dd("100"), Now: now.Add(time.Duration(i) * 2 * time.Second)}
			if d := e.ValidateAndReserve(buyOrder(string(rune('a'+i)), 1), book, v); !d.Approved {
				t.Fatalf("order %d should pass: %+v", i, d)
			}
		}
		d := e.ValidateAndReserve(buyOrder("z", 1), book, ValidationContext{Price: dd("100"), Now: now.Add(time.Minute)})
		if d.Approved || d.Reason != ReasonRateLimited {
			t.Fatalf("expected RateLimited at daily cap, got %+v", d)
		}
	})
}

func TestLevel1ScalesApprovedQuantity(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())
	book := ledger.New()

	// 5% drawdown trips NORMAL -> LEVEL1.
	upd := e.UpdateRiskMetrics(dd("950000"), time.Now())
	if upd.Breaker.Level != Level1 {
		t.Fatalf("expected LEVEL1 at 5%% drawdown, got %s", upd.Breaker.Level)
	}

	d := e.ValidateOrder(buyOrder("o1", 10), book, vctx("100"))
	if !d.Approved || d.Quantity != 5 {
		t.Fatalf("expected approval with quantity 5, got %+v", d)
	}
}

func TestLevel3RejectsUntilManualReset(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())
	book := ledger.New()
	now := time.Now()

	// Walk the breaker to LEVEL3 one tick at a time.
	e.UpdateRiskMetrics(dd("880000"), now)
	e.UpdateRiskMetrics(dd("880000"), now.Add(5*time.Second))
	upd := e.UpdateRiskMetrics(dd("880000"), now.Add(10*time.Second))
	if upd.Breaker.Level != Level3 {
		t.Fatalf("expected LEVEL3 at 12%% drawdown, got %s", upd.Breaker.Level)
	}

	d := e.ValidateOrder(buyOrder("o1", 1), book, vctx("100"))
	if d.Approved || d.Reason != ReasonCircuitBreakerTripped {
		t.Fatalf("expected CircuitBreakerTripped, got %+v", d)
	}

	if !e.ManualReset(now.Add(time.Minute)) {
		t.Fatal("manual reset should succeed")
	}
	d = e.ValidateOrder(buyOrder("o2", 1), book, vctx("100"))
	if !d.Approved {
		t.Fatalf("expected approval after manual reset, got %+v", d)
	}
}

func TestRecoveryScalesMultiplicativelyWithLevel1(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())
	book := ledger.New()

	// 5% drawdown trips LEVEL1 and -50000 activates recovery.
	upd := e.UpdateRiskMetrics(dd("950000"), time.Now())
	if upd.Breaker.Level != Level1 || !upd.Recovery.Active {
		t.Fatalf("expected LEVEL1 + recovery, got level=%s active=%v", upd.Breaker.Level, upd.Recovery.Active)
	}

	// 40 -> 20 (LEVEL1 0.5) -> 10 (recovery 0.5)
	d := e.ValidateOrder(buyOrder("o1", 40), book, vctx("100"))
	if !d.Approved || d.Quantity != 10 {
		t.Fatalf("expected approval with quantity 10, got %+v", d)
	}
}

func TestValidateVolatilityGuard(t *testing.T) {
	e := newTestEngine(t, testRiskConfig())
	book := ledger.New()

	vol := dd("40")
	d := e.ValidateOrder(buyOrder("o1", 1), book, ValidationContext{Price: dd("100"), Volatility: &vol, Now: time.Now()})
	if d.Approved || d.Reason != ReasonVolatilityLimitExceeded {
		t.Fatalf("expected VolatilityLimitExceeded, got %+v", d)
	}
}

func TestApprovedNeverExceedsExposureLimit(t *testing.T) {
	cfg := testRiskConfig()
	cfg.MaxTotalExposure = dd("100000")
	e := newTestEngine(t, cfg)
	book := ledger.New()

	prices := []string{"99", "250", "1000", "12.5"}
	for i, p := range prices {
		d := e.ValidateAndReserve(buyOrder(string(rune('a'+i)), 500), book, vctx(p))
		if !d.Approved {
			continue
		}
		projected := e.ReservedExposure().Add(book.TotalExposure())
		if projected.GreaterThan(cfg.MaxTotalExposure) {
			t.Fatalf("approved order pushed exposure to %s above limit %s", projected, cfg.MaxTotalExposure)
		}
	}
}

package risk

import "time"

// rateCounters tracks the account-wide trade pacing state. It is not
// self-locking: the engine reads and records under its own mutex so that the
// check and the reservation form one critical section.
type rateCounters struct {
	day         time.Time // UTC midnight of the counting day
	tradesToday int

	lastTradeAt time.Time

	second      time.Time // start of the current one-second window
	ordersInSec int
}

// allow reports whether a new order is admissible at now, and the limit that
// blocks it otherwise.
func (r *rateCounters) allow(now time.Time, cfg *Config) (bool, string) {
	r.roll(now)

	if r.tradesToday >= cfg.MaxTradesPerDay {
		return false, "max trades per day reached"
	}
	if !r.lastTradeAt.IsZero() && now.Sub(r.lastTradeAt) < cfg.MinTradeInterval {
		return false, "min trade interval not elapsed"
	}
	if r.ordersInSec >= cfg.MaxOrdersPerSecond {
		return false, "orders per second limit reached"
	}
	return true, ""
}

// record counts an approved order at now.
func (r *rateCounters) record(now time.Time) {
	r.roll(now)
	r.tradesToday++
	r.lastTradeAt = now
	r.ordersInSec++
}

// roll resets the daily counter at UTC midnight and the per-second window.
func (r *rateCounters) roll(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.day) {
		r.day = day
		r.tradesToday = 0
	}

	sec := now.Truncate(time.Second)
	if !sec.Equal(r.second) {
		r.second = sec
		r.ordersInSec = 0
	}
}

package models

import "time"

// RiskState is the engine's running daily/session risk ledger. It resets at
// the UTC day boundary.
type RiskState struct {
	DailyRealizedPnL   float64
	DailyTradeCount    int
	PeakEquity         float64
	CurrentDrawdownPct float64
	LastResetDateUTC   time.Time
}

// MaybeResetForNewDay resets the daily counters if now has crossed the UTC
// day boundary since LastResetDateUTC. Returns true if a reset occurred.
func (r *RiskState) MaybeResetForNewDay(now time.Time) bool {
	now = now.UTC()
	if r.LastResetDateUTC.IsZero() || now.YearDay() != r.LastResetDateUTC.YearDay() ||
		now.Year() != r.LastResetDateUTC.Year() {
		r.DailyRealizedPnL = 0
		r.DailyTradeCount = 0
		r.LastResetDateUTC = now
		return true
	}
	return false
}

// UpdatePeakEquity keeps PeakEquity monotonically non-decreasing and
// recomputes CurrentDrawdownPct.
func (r *RiskState) UpdatePeakEquity(equity float64) {
	if equity > r.PeakEquity {
		r.PeakEquity = equity
	}
	if r.PeakEquity > 0 {
		r.CurrentDrawdownPct = ((r.PeakEquity - equity) / r.PeakEquity) * 100
		if r.CurrentDrawdownPct < 0 {
			r.CurrentDrawdownPct = 0
		}
	}
}

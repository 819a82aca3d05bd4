// Package models provides the core data structures shared across the trading
// engine: bar series, indicator snapshots, signals, positions, account and
// risk state, and exit decisions.
package models

import "time"

// Bar is a single OHLCV candle for a (symbol, timeframe) pair.
type Bar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Series is an ordered, strictly-ascending-by-time sequence of Bars for a
// single symbol/timeframe.
type Series struct {
	Symbol    string
	Timeframe string
	Bars      []Bar
}

// Tail returns the last n bars, or the whole series if it is shorter than n.
func (s Series) Tail(n int) []Bar {
	if n <= 0 || len(s.Bars) == 0 {
		return nil
	}
	if n >= len(s.Bars) {
		return s.Bars
	}
	return s.Bars[len(s.Bars)-n:]
}

// Closes extracts the close prices of the series in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent bar and whether the series is non-empty.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

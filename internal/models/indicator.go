package models

// MACDValue holds the three parallel outputs of a MACD computation.
type MACDValue struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// BollingerValue holds the three bands of a Bollinger computation.
type BollingerValue struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// StochasticValue holds %K and %D.
type StochasticValue struct {
	K float64
	D float64
}

// SupertrendValue holds the trailing band value and the side it currently
// favors.
type SupertrendValue struct {
	Value     float64
	Bullish   bool
	FlippedAt int // index into the series at which the side last flipped, -1 if never
}

// IndicatorSnapshot is the pure-function output of IndicatorSet for the tail
// of a Series. It never carries state across cycles.
type IndicatorSnapshot struct {
	RSI        float64
	ATR        float64
	EMAFast    float64
	EMASlow    float64
	SMAFast    float64
	SMASlow    float64
	MACD       MACDValue
	Bollinger  BollingerValue
	Stochastic StochasticValue
	ADX        float64
	Supertrend SupertrendValue
	VWAP       float64
	AvgVolume  float64
	PriorHighN float64
	PriorLowN  float64
}

// Package market computes a directional bias for the underlying from 1m and
// 5m RSI.
package market

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Bias is the directional read of two RSI values.
type Bias string

const (
	Bullish Bias = "BULLISH"
	Bearish Bias = "BEARISH"
	Neutral Bias = "NEUTRAL"
)

// NeutralRSI is returned when there is not enough data.
const NeutralRSI = 50.0

// Classify returns BULLISH when both readings are above 50, BEARISH when
// both are below, and NEUTRAL otherwise.
func Classify(rsi1m, rsi5m float64) Bias {
	switch {
	case rsi1m > 50 && rsi5m > 50:
		return Bullish
	case rsi1m < 50 && rsi5m < 50:
		return Bearish
	}
	return Neutral
}

// Strength is STRONG outside the 30..70 band and MILD inside it.
func Strength(rsi float64) string {
	if rsi < 30 || rsi > 70 {
		return "STRONG"
	}
	return "MILD"
}

// RSI returns the latest RSI over closes, or NeutralRSI when there are not
// more than period closes.
func RSI(closes []float64, period int) float64 {
	if period < 2 {
		period = 14
	}
	if len(closes) <= period {
		return NeutralRSI
	}
	series := talib.Rsi(closes, period)
	last := series[len(series)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return NeutralRSI
	}
	return last
}

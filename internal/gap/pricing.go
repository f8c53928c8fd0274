// Package gap computes locking prices from a detected session gap.
package gap

import (
	"math"

	"github.com/sawpanic/gaplocker/internal/model"
)

// Prices holds the independently evaluated lock prices for one candidate.
// Either side may be absent when its movement stays under the threshold.
type Prices struct {
	Buy  *float64
	Sell *float64
}

// Empty reports whether neither side produced a price.
func (p Prices) Empty() bool {
	return p.Buy == nil && p.Sell == nil
}

// Price evaluates a gap candidate against the instrument's point size.
// The movement runs from the prior session's closing tick (SessionEnd) to
// the new session's opening tick (SessionStart); a lock price sits one
// threshold inside the post-gap reference. The bid movement prices the sell
// lock (against buy exposure), the ask movement the buy lock (against sell
// exposure).
func Price(candidate model.GapCandidate, instrument model.Instrument, gapPoints int64) Prices {
	threshold := float64(gapPoints) * instrument.PointSize
	prevClose := candidate.SessionEnd
	newOpen := candidate.SessionStart

	var prices Prices
	if price, ok := lockPrice(prevClose.Bid, newOpen.Bid, threshold); ok {
		rounded := roundTo(price, instrument.Digits)
		prices.Sell = &rounded
	}
	if price, ok := lockPrice(prevClose.Ask, newOpen.Ask, threshold); ok {
		rounded := roundTo(price, instrument.Digits)
		prices.Buy = &rounded
	}
	return prices
}

// lockPrice returns the post-gap price pulled one threshold back toward the
// pre-gap price, or false when the movement stays under the threshold.
func lockPrice(pre, post, threshold float64) (float64, bool) {
	delta := post - pre
	if math.Abs(delta) < threshold {
		return 0, false
	}
	if delta > 0 {
		return post - threshold, true
	}
	return post + threshold, true
}

func roundTo(price float64, digits int) float64 {
	factor := math.Pow10(digits)
	return math.Round(price*factor) / factor
}

// Package validator decides whether a candidate trend value may replace the
// accepted one, using a live price sample as the sanity reference.
package validator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trend-oracle/internal/domain"
)

// Verdict is the outcome of a successful validation. The zero Verdict is a
// rejection, so a Verdict obtained any other way than from Validate cannot
// authorise a state change.
type Verdict struct {
	candidate uint64
	accepted  bool
}

// Accepted reports whether the verdict authorises an update.
func (v Verdict) Accepted() bool {
	return v.accepted
}

// Candidate returns the accepted value, or zero for a rejection.
func (v Verdict) Candidate() uint64 {
	if !v.accepted {
		return 0
	}
	return v.candidate
}

// Validate checks candidate against sample under bounds. Checks run in a fixed
// order: confidence, sign of the reference price, then the ratio band.
func Validate(candidate uint64, sample domain.PriceSample, bounds domain.BoundsConfig) (Verdict, error) {
	price := decimal.NewFromInt(sample.Price)
	confidence := decimal.NewFromUint64(sample.Confidence)

	maxConfidence := price.Abs().Mul(bounds.ConfidenceRatio)
	if confidence.GreaterThanOrEqual(maxConfidence) {
		return Verdict{}, fmt.Errorf("%w: confidence %s >= %s (ratio %s of |%s|)",
			domain.ErrLowConfidence, confidence, maxConfidence, bounds.ConfidenceRatio, price)
	}

	if sample.Price < 0 {
		return Verdict{}, fmt.Errorf("%w: %d", domain.ErrInvalidReferencePrice, sample.Price)
	}

	lower, upper := Band(sample.Price, bounds)
	value := decimal.NewFromUint64(candidate)
	if !value.GreaterThan(lower) || !value.LessThan(upper) {
		return Verdict{}, fmt.Errorf("%w: %d not in (%s, %s)", domain.ErrOutOfBounds, candidate, lower, upper)
	}

	return Verdict{candidate: candidate, accepted: true}, nil
}

// Band returns the exclusive interval a candidate must fall in for price.
func Band(price int64, bounds domain.BoundsConfig) (lower, upper decimal.Decimal) {
	p := decimal.NewFromInt(price)
	return bounds.LowerRatio.Mul(p), bounds.UpperRatio.Mul(p)
}

package validator

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"trend-oracle/internal/domain"
)

func testBounds() domain.BoundsConfig {
	return domain.BoundsConfig{
		LowerRatio:      decimal.RequireFromString("0.5"),
		UpperRatio:      decimal.RequireFromString("2.0"),
		MaxAgeSeconds:   60,
		ConfidenceRatio: decimal.RequireFromString("0.001"),
	}
}

func TestValidateAcceptsWithinBand(t *testing.T) {
	sample := domain.PriceSample{Price: 100000, Confidence: 50, SampledAt: 1000}

	verdict, err := Validate(95000, sample, testBounds())
	require.NoError(t, err)
	require.True(t, verdict.Accepted())
	require.Equal(t, uint64(95000), verdict.Candidate())
}

func TestValidateRejectsAboveBand(t *testing.T) {
	sample := domain.PriceSample{Price: 100000, Confidence: 50, SampledAt: 1000}

	verdict, err := Validate(250000, sample, testBounds())
	require.ErrorIs(t, err, domain.ErrOutOfBounds)
	require.False(t, verdict.Accepted())
	require.Zero(t, verdict.Candidate())
}

func TestValidateLowConfidenceBeforeBounds(t *testing.T) {
	// 200 / 100000 = 0.2% > 0.1%; the candidate would also be out of bounds.
	sample := domain.PriceSample{Price: 100000, Confidence: 200, SampledAt: 1000}

	_, err := Validate(250000, sample, testBounds())
	require.ErrorIs(t, err, domain.ErrLowConfidence)
	require.False(t, errors.Is(err, domain.ErrOutOfBounds))
}

func TestValidateConfidenceAtThresholdRejected(t *testing.T) {
	sample := domain.PriceSample{Price: 100000, Confidence: 100, SampledAt: 1000}

	_, err := Validate(95000, sample, testBounds())
	require.ErrorIs(t, err, domain.ErrLowConfidence)
}

func TestValidateNegativePrice(t *testing.T) {
	sample := domain.PriceSample{Price: -100000, Confidence: 50, SampledAt: 1000}

	_, err := Validate(95000, sample, testBounds())
	require.ErrorIs(t, err, domain.ErrInvalidReferencePrice)
}

func TestValidateZeroPriceIsLowConfidence(t *testing.T) {
	sample := domain.PriceSample{Price: 0, Confidence: 0, SampledAt: 1000}

	_, err := Validate(1, sample, testBounds())
	require.ErrorIs(t, err, domain.ErrLowConfidence)
}

func TestValidateBandEdgesAreExclusive(t *testing.T) {
	sample := domain.PriceSample{Price: 100000, Confidence: 0, SampledAt: 1000}
	bounds := testBounds()

	cases := []struct {
		name      string
		candidate uint64
		accepted  bool
	}{
		{"at lower", 50000, false},
		{"just above lower", 50001, true},
		{"just below upper", 199999, true},
		{"at upper", 200000, false},
		{"zero", 0, false},
		{"max", math.MaxUint64, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := Validate(tc.candidate, sample, bounds)
			if tc.accepted {
				require.NoError(t, err)
				require.True(t, verdict.Accepted())
				return
			}
			require.ErrorIs(t, err, domain.ErrOutOfBounds)
			require.False(t, verdict.Accepted())
		})
	}
}

func TestValidateOutOfBoundsProperty(t *testing.T) {
	bounds := testBounds()
	prices := []int64{1000, 4242, 100000, 6_500_000_000, math.MaxInt64 / 4}

	for _, price := range prices {
		sample := domain.PriceSample{Price: price, Confidence: 0, SampledAt: 0}
		lower, upper := Band(price, bounds)

		below := lower.Floor().BigInt().Uint64()
		_, err := Validate(below, sample, bounds)
		require.ErrorIs(t, err, domain.ErrOutOfBounds, "price %d candidate %d", price, below)

		above := upper.Ceil().BigInt().Uint64()
		_, err = Validate(above, sample, bounds)
		require.ErrorIs(t, err, domain.ErrOutOfBounds, "price %d candidate %d", price, above)

		_, err = Validate(uint64(price), sample, bounds)
		require.NoError(t, err, "price %d should accept itself", price)
	}
}

func TestValidateFractionalRatios(t *testing.T) {
	bounds := testBounds()
	bounds.LowerRatio = decimal.RequireFromString("0.9")
	bounds.UpperRatio = decimal.RequireFromString("1.1")
	sample := domain.PriceSample{Price: 1001, Confidence: 0}

	// 0.9 * 1001 = 900.9, 1.1 * 1001 = 1101.1
	_, err := Validate(900, sample, bounds)
	require.ErrorIs(t, err, domain.ErrOutOfBounds)
	_, err = Validate(901, sample, bounds)
	require.NoError(t, err)
	_, err = Validate(1101, sample, bounds)
	require.NoError(t, err)
	_, err = Validate(1102, sample, bounds)
	require.ErrorIs(t, err, domain.ErrOutOfBounds)
}

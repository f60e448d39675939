package domain

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// PriceSample is a normalized reading from the price oracle. Price and Confidence
// share the same fixed-point scale; SampledAt is epoch seconds.
type PriceSample struct {
	Price      int64
	Confidence uint64
	SampledAt  int64
}

// Age returns how many seconds old the sample is at now. Samples stamped in the
// future report a negative age.
func (p PriceSample) Age(now int64) int64 {
	return now - p.SampledAt
}

// OracleState is the single accepted trend value of a deployment.
type OracleState struct {
	CurrentValue uint64 `json:"current_value"`
	LastUpdate   int64  `json:"last_update"`
}

// DatapointID identifies a ledger entry. IDs are allocated in insertion order.
type DatapointID uint64

// String renders the id in decimal.
func (id DatapointID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseDatapointID parses a decimal datapoint id.
func ParseDatapointID(s string) (DatapointID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse datapoint id %q: %w", s, err)
	}
	return DatapointID(v), nil
}

// Datapoint pairs a derived value with the reference price and sample count
// used to compute it. Immutable once appended.
type Datapoint struct {
	ID             DatapointID `json:"id"`
	ObservedAt     int64       `json:"observed_at"`
	DerivedValue   uint64      `json:"derived_value"`
	ReferencePrice uint64      `json:"reference_price"`
	SampleCount    uint64      `json:"sample_count"`
}

// BoundsConfig is the acceptance policy for candidate values.
type BoundsConfig struct {
	LowerRatio      decimal.Decimal
	UpperRatio      decimal.Decimal
	MaxAgeSeconds   uint64
	ConfidenceRatio decimal.Decimal
}

// Validate rejects policies that could never accept a candidate or that
// would silently disable a check.
func (b BoundsConfig) Validate() error {
	if b.LowerRatio.IsNegative() {
		return fmt.Errorf("lower ratio %s cannot be negative", b.LowerRatio)
	}
	if !b.UpperRatio.GreaterThan(b.LowerRatio) {
		return fmt.Errorf("upper ratio %s must be greater than lower ratio %s", b.UpperRatio, b.LowerRatio)
	}
	if !b.ConfidenceRatio.IsPositive() {
		return fmt.Errorf("confidence ratio %s must be positive", b.ConfidenceRatio)
	}
	if b.MaxAgeSeconds == 0 {
		return fmt.Errorf("max age must be greater than zero")
	}
	return nil
}

// Package pricefeed reads the reference price from an external oracle and
// normalizes it into a domain.PriceSample.
package pricefeed

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trend-oracle/internal/domain"
)

// DefaultDecimals scales samples to cents.
const DefaultDecimals = 2

// Adapter wraps a Source and applies scale normalization and the freshness check.
type Adapter struct {
	source   Source
	decimals int32
	logger   zerolog.Logger
}

// NewAdapter builds an adapter that rescales quotes to decimals places.
// A negative decimals value selects DefaultDecimals.
func NewAdapter(source Source, decimals int32, logger zerolog.Logger) *Adapter {
	if decimals < 0 {
		decimals = DefaultDecimals
	}
	return &Adapter{
		source:   source,
		decimals: decimals,
		logger:   logger.With().Str("component", "pricefeed").Str("source", source.Name()).Logger(),
	}
}

// Decimals returns the fixed-point scale of produced samples.
func (a *Adapter) Decimals() int32 { return a.decimals }

// GetCurrentPrice loads the current quote and returns it as a sample, failing
// with domain.ErrUpstreamUnavailable when the quote cannot be read or
// represented, and domain.ErrStaleData when it is older than maxAgeSeconds at now.
func (a *Adapter) GetCurrentPrice(ctx context.Context, now int64, maxAgeSeconds uint64) (domain.PriceSample, error) {
	quote, err := a.source.LatestQuote(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("price source unavailable")
		return domain.PriceSample{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	sample, err := Normalize(quote, a.decimals)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}

	age := sample.Age(now)
	if age > 0 && uint64(age) > maxAgeSeconds {
		return domain.PriceSample{}, fmt.Errorf("%w: sample is %ds old, limit %ds", domain.ErrStaleData, age, maxAgeSeconds)
	}

	return sample, nil
}

// Normalize rescales q from 10^Expo to decimals places, truncating toward zero.
func Normalize(q Quote, decimals int32) (domain.PriceSample, error) {
	price := decimal.New(q.Price, q.Expo).Shift(decimals).Truncate(0).BigInt()
	if !price.IsInt64() {
		return domain.PriceSample{}, fmt.Errorf("price %s does not fit int64 at %d decimals", price, decimals)
	}

	conf := decimal.NewFromBigInt(new(big.Int).SetUint64(q.Conf), q.Expo).Shift(decimals).Truncate(0).BigInt()
	if !conf.IsUint64() {
		return domain.PriceSample{}, fmt.Errorf("confidence %s does not fit uint64 at %d decimals", conf, decimals)
	}

	return domain.PriceSample{
		Price:      price.Int64(),
		Confidence: conf.Uint64(),
		SampledAt:  q.PublishTime,
	}, nil
}

package app

import (
	"context"
	"errors"
	"time"

	"trend-oracle/internal/domain"
	"trend-oracle/internal/pricefeed"
	"trend-oracle/internal/validator"
)

// ValidateOptions describe a dry run of the acceptance checks.
type ValidateOptions struct {
	Candidate uint64
	Quote     pricefeed.Quote
	// Now defaults to the wall clock.
	Now time.Time
}

// ValidateResult is the outcome of a dry run.
type ValidateResult struct {
	Accepted   bool   `json:"accepted"`
	Candidate  uint64 `json:"candidate"`
	Price      int64  `json:"price"`
	Confidence uint64 `json:"confidence"`
	Lower      string `json:"lower_bound,omitempty"`
	Upper      string `json:"upper_bound,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Validate runs a candidate through normalization, staleness and the
// validator against a fixed quote without touching storage.
func (a *App) Validate(ctx context.Context, opts ValidateOptions) (ValidateResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	bounds := a.Config.Bounds.Domain()
	if err := bounds.Validate(); err != nil {
		return ValidateResult{}, err
	}

	adapter := pricefeed.NewAdapter(pricefeed.NewStatic(opts.Quote), a.Config.PriceFeed.Decimals, a.Logger)
	result := ValidateResult{Candidate: opts.Candidate}

	sample, err := adapter.GetCurrentPrice(ctx, now.Unix(), bounds.MaxAgeSeconds)
	if err != nil {
		if !errors.Is(err, domain.ErrStaleData) && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			return ValidateResult{}, err
		}
		result.Reason = err.Error()
		return result, a.printJSON(result)
	}
	result.Price = sample.Price
	result.Confidence = sample.Confidence

	lower, upper := validator.Band(sample.Price, bounds)
	result.Lower = lower.String()
	result.Upper = upper.String()

	verdict, err := validator.Validate(opts.Candidate, sample, bounds)
	if err != nil {
		result.Reason = err.Error()
	}
	result.Accepted = verdict.Accepted()
	return result, a.printJSON(result)
}

package pricefeed

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trend-oracle/internal/domain"
)

type failingSource struct{}

func (failingSource) Name() string { return "failing" }

func (failingSource) LatestQuote(context.Context) (Quote, error) {
	return Quote{}, errors.New("connection refused")
}

func TestNormalizeRescalesToCents(t *testing.T) {
	sample, err := Normalize(Quote{Price: 6512345678901, Conf: 2345678, Expo: -8, PublishTime: 42}, 2)
	require.NoError(t, err)
	require.Equal(t, domain.PriceSample{Price: 6512345, Confidence: 2, SampledAt: 42}, sample)
}

func TestNormalizeTruncatesTowardZero(t *testing.T) {
	sample, err := Normalize(Quote{Price: -199, Expo: -3}, 2)
	require.NoError(t, err)
	require.Equal(t, int64(-19), sample.Price)
}

func TestNormalizeUpscales(t *testing.T) {
	sample, err := Normalize(Quote{Price: 5, Conf: 1, Expo: 1}, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5000), sample.Price)
	require.Equal(t, uint64(1000), sample.Confidence)
}

func TestNormalizeOverflow(t *testing.T) {
	_, err := Normalize(Quote{Price: math.MaxInt64, Expo: 0}, 2)
	require.Error(t, err, "price beyond int64 should fail")

	_, err = Normalize(Quote{Price: 1, Conf: math.MaxUint64, Expo: 0}, 2)
	require.Error(t, err, "confidence beyond uint64 should fail")
}

func TestGetCurrentPriceFresh(t *testing.T) {
	a := NewAdapter(NewStatic(Quote{Price: 100000, Conf: 50, Expo: -2, PublishTime: 1000}), 2, noopLogger())

	sample, err := a.GetCurrentPrice(context.Background(), 1060, 60)
	require.NoError(t, err, "sample exactly at the age limit must pass")
	require.Equal(t, int64(100000), sample.Price)
	require.Equal(t, uint64(50), sample.Confidence)
}

func TestGetCurrentPriceStale(t *testing.T) {
	a := NewAdapter(NewStatic(Quote{Price: 100000, Expo: -2, PublishTime: 1000}), 2, noopLogger())

	_, err := a.GetCurrentPrice(context.Background(), 1061, 60)
	require.ErrorIs(t, err, domain.ErrStaleData)
}

func TestGetCurrentPriceFutureSample(t *testing.T) {
	a := NewAdapter(NewStatic(Quote{Price: 1, PublishTime: 2000}), 2, noopLogger())
	_, err := a.GetCurrentPrice(context.Background(), 1000, 60)
	require.NoError(t, err, "future-stamped sample should not be stale")
}

func TestGetCurrentPriceUpstreamFailure(t *testing.T) {
	a := NewAdapter(failingSource{}, 2, noopLogger())
	_, err := a.GetCurrentPrice(context.Background(), 0, 60)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestGetCurrentPriceUnrepresentable(t *testing.T) {
	a := NewAdapter(NewStatic(Quote{Price: math.MaxInt64, Expo: 5}), 2, noopLogger())
	_, err := a.GetCurrentPrice(context.Background(), 0, 60)
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestNewAdapterDefaultDecimals(t *testing.T) {
	a := NewAdapter(NewStatic(Quote{}), -1, noopLogger())
	require.Equal(t, int32(DefaultDecimals), a.Decimals())
}

func TestStaticStampsUnsetPublishTime(t *testing.T) {
	s := NewStatic(Quote{Price: 1})
	s.now = func() time.Time { return time.Unix(1234, 0) }

	q, err := s.LatestQuote(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1234), q.PublishTime)
}

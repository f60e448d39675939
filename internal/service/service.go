// Package service exposes the oracle's caller operations on top of the price
// feed, the validator, the state repository and the datapoint ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trend-oracle/internal/alerting"
	"trend-oracle/internal/authority"
	"trend-oracle/internal/domain"
	"trend-oracle/internal/ledger"
	"trend-oracle/internal/metrics"
	"trend-oracle/internal/scheduler"
	"trend-oracle/internal/state"
	"trend-oracle/internal/storage"
	"trend-oracle/internal/trendsource"
	"trend-oracle/internal/validator"
)

// PriceFeed yields the current reference price sample.
type PriceFeed interface {
	GetCurrentPrice(ctx context.Context, now int64, maxAgeSeconds uint64) (domain.PriceSample, error)
}

// TrendSource yields the next relay reading.
type TrendSource interface {
	Fetch(ctx context.Context) (trendsource.Reading, error)
}

// Deps are the collaborators of a Service. Feed, States and Ledger are required.
type Deps struct {
	Feed      PriceFeed
	States    *state.Repository
	Ledger    *ledger.Ledger
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
	Trend     TrendSource
	Scheduler *scheduler.Scheduler
}

// Options carry policy and tuning.
type Options struct {
	Bounds domain.BoundsConfig
	// Decimals is the fixed-point scale of prices and trend values.
	Decimals int32
	// LockKey selects the advisory lock serialising updates across processes.
	// Zero disables cross-process locking.
	LockKey int64
	Now     func() time.Time
}

// Service orchestrates trend updates and datapoint recording.
type Service struct {
	feed      PriceFeed
	states    *state.Repository
	ledger    *ledger.Ledger
	locker    storage.AdvisoryLocker
	notifier  alerting.Notifier
	metrics   *metrics.Metrics
	trend     TrendSource
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger

	bounds   domain.BoundsConfig
	decimals int32
	lockKey  int64
	now      func() time.Time

	updateMu sync.Mutex
}

// New constructs the oracle service.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Service, error) {
	if deps.Feed == nil || deps.States == nil || deps.Ledger == nil {
		return nil, errors.New("service requires a price feed, a state repository and a ledger")
	}
	if err := opts.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("bounds: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		feed:      deps.Feed,
		states:    deps.States,
		ledger:    deps.Ledger,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		trend:     deps.Trend,
		scheduler: deps.Scheduler,
		logger:    logger.With().Str("component", "service").Logger(),
		bounds:    opts.Bounds,
		decimals:  opts.Decimals,
		lockKey:   opts.LockKey,
		now:       now,
	}, nil
}

// Bounds returns the acceptance policy in force.
func (s *Service) Bounds() domain.BoundsConfig { return s.bounds }

// Initialize creates the oracle state at {0, 0}.
func (s *Service) Initialize(ctx context.Context, grant authority.Grant) (domain.OracleState, error) {
	if err := authority.Require(grant); err != nil {
		return domain.OracleState{}, err
	}
	st, err := s.states.Create(ctx)
	if err != nil {
		return domain.OracleState{}, err
	}
	s.logger.Info().Str("subject", grant.Subject()).Msg("oracle state initialized")
	return st, nil
}

// UpdateTrend validates candidate against a fresh price sample and, if it is
// accepted, persists it as the current value. Any error leaves the persisted
// state unchanged.
func (s *Service) UpdateTrend(ctx context.Context, grant authority.Grant, candidate uint64) (domain.OracleState, error) {
	if err := authority.Require(grant); err != nil {
		return domain.OracleState{}, err
	}

	started := time.Now()
	st, sample, err := s.updateTrend(ctx, candidate)
	if err != nil {
		if reason, ok := rejectionReason(err); ok {
			s.observe("rejected", started)
			s.reject(ctx, reason, candidate, sample, err)
		} else {
			s.observe("error", started)
			s.logger.Error().Err(err).Uint64("candidate", candidate).Msg("trend update failed")
		}
		return domain.OracleState{}, err
	}

	s.observe("accepted", started)
	if s.metrics != nil {
		s.metrics.CurrentValue.Set(float64(st.CurrentValue))
		s.metrics.LastUpdate.Set(float64(st.LastUpdate))
	}
	s.logger.Info().
		Str("subject", grant.Subject()).
		Uint64("value", st.CurrentValue).
		Int64("reference_price", sample.Price).
		Int64("last_update", st.LastUpdate).
		Msg("trend updated")
	return st, nil
}

func (s *Service) updateTrend(ctx context.Context, candidate uint64) (domain.OracleState, domain.PriceSample, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return domain.OracleState{}, domain.PriceSample{}, err
	}
	defer unlock()

	cur, err := s.states.Load(ctx)
	if err != nil {
		return domain.OracleState{}, domain.PriceSample{}, err
	}

	now := s.now().Unix()
	sample, err := s.feed.GetCurrentPrice(ctx, now, s.bounds.MaxAgeSeconds)
	if err != nil {
		return domain.OracleState{}, domain.PriceSample{}, err
	}
	if s.metrics != nil {
		s.metrics.ReferencePrice.Set(float64(sample.Price))
		s.metrics.SampleAge.Set(float64(sample.Age(now)))
	}

	verdict, err := validator.Validate(candidate, sample, s.bounds)
	if err != nil {
		return domain.OracleState{}, sample, err
	}
	if now < cur.LastUpdate {
		return domain.OracleState{}, sample, fmt.Errorf("%w: now %d, last update %d", domain.ErrClockRegression, now, cur.LastUpdate)
	}

	next := state.Update(cur, verdict, now)
	if err := s.states.Save(ctx, next); err != nil {
		return domain.OracleState{}, sample, err
	}
	return next, sample, nil
}

// GetTrend returns the current oracle state.
func (s *Service) GetTrend(ctx context.Context) (domain.OracleState, error) {
	return s.states.Load(ctx)
}

// StoreDatapoint appends an observation stamped with the current time.
func (s *Service) StoreDatapoint(ctx context.Context, grant authority.Grant, derived, reference, count uint64) (domain.DatapointID, error) {
	if err := authority.Require(grant); err != nil {
		return 0, err
	}

	entry := domain.Datapoint{
		ObservedAt:     s.now().Unix(),
		DerivedValue:   derived,
		ReferencePrice: reference,
		SampleCount:    count,
	}
	id, err := s.ledger.Append(ctx, entry)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.DatapointsTotal.Inc()
	}
	s.logger.Info().
		Stringer("id", id).
		Int64("observed_at", entry.ObservedAt).
		Uint64("derived_value", derived).
		Msg("datapoint stored")
	return id, nil
}

// GetDatapoint returns one datapoint or domain.ErrNotFound.
func (s *Service) GetDatapoint(ctx context.Context, id domain.DatapointID) (domain.Datapoint, error) {
	return s.ledger.Get(ctx, id)
}

// QueryDatapoints returns the datapoints observed in [start, end].
func (s *Service) QueryDatapoints(ctx context.Context, start, end int64) (iter.Seq2[domain.Datapoint, error], error) {
	if end < start {
		return nil, fmt.Errorf("%w: end %d before start %d", domain.ErrInvalidRange, end, start)
	}
	return s.ledger.QueryRange(ctx, start, end), nil
}

// LatestDatapoint returns the most recent observation or domain.ErrNotFound.
func (s *Service) LatestDatapoint(ctx context.Context) (domain.Datapoint, error) {
	dp, ok, err := s.ledger.Latest(ctx)
	if err != nil {
		return domain.Datapoint{}, err
	}
	if !ok {
		return domain.Datapoint{}, fmt.Errorf("ledger is empty: %w", domain.ErrNotFound)
	}
	return dp, nil
}

// RecentDatapoints returns up to limit datapoints, newest first.
func (s *Service) RecentDatapoints(ctx context.Context, limit int) ([]domain.Datapoint, error) {
	return s.ledger.Recent(ctx, limit)
}

func (s *Service) acquireLock(ctx context.Context) (func(), error) {
	if s.lockKey == 0 || s.locker == nil {
		return func() {}, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, domain.ErrBusy
	}
	return unlock, nil
}

func (s *Service) observe(outcome string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveUpdate(outcome, started)
	}
}

func (s *Service) reject(ctx context.Context, reason string, candidate uint64, sample domain.PriceSample, cause error) {
	s.logger.Warn().Err(cause).Str("reason", reason).Uint64("candidate", candidate).Msg("trend update rejected")
	if s.metrics != nil {
		s.metrics.RejectionsTotal.WithLabelValues(reason).Inc()
	}
	if s.notifier == nil {
		return
	}

	note := alerting.Notification{
		At:             s.now(),
		Reason:         reason,
		Candidate:      candidate,
		ReferencePrice: sample.Price,
		Confidence:     sample.Confidence,
		Decimals:       s.decimals,
		Detail:         cause.Error(),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("reason", reason).Msg("failed to dispatch alert")
	}
}

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{domain.ErrStaleData, "stale_data"},
	{domain.ErrLowConfidence, "low_confidence"},
	{domain.ErrInvalidReferencePrice, "invalid_reference_price"},
	{domain.ErrOutOfBounds, "out_of_bounds"},
	{domain.ErrUpstreamUnavailable, "upstream_unavailable"},
	{domain.ErrClockRegression, "clock_regression"},
}

// rejectionReason classifies errors that stem from the price feed or the
// validator, as opposed to storage or coordination failures.
func rejectionReason(err error) (string, bool) {
	for _, r := range rejectionReasons {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}
	return "", false
}

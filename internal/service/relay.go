package service

import (
	"context"
	"fmt"
	"time"

	"trend-oracle/internal/authority"
)

const relaySubject = "relay"

// RunRelay blocks, pushing upstream trend readings on every scheduler tick.
func (s *Service) RunRelay(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if s.trend == nil {
		return fmt.Errorf("trend source not configured")
	}
	s.logger.Info().Dur("interval", s.scheduler.Interval()).Msg("relay started")
	return s.scheduler.Run(ctx, s.RelayTick)
}

// RelayTick fetches one reading, submits it as a trend update and records it
// in the ledger when accepted.
func (s *Service) RelayTick(ctx context.Context, bucket time.Time) error {
	if s.trend == nil {
		return fmt.Errorf("trend source not configured")
	}

	reading, err := s.trend.Fetch(ctx)
	if err != nil {
		s.relayResult("fetch_error")
		return fmt.Errorf("fetch trend reading: %w", err)
	}

	grant := authority.Local(relaySubject)
	st, err := s.UpdateTrend(ctx, grant, reading.Candidate)
	if err != nil {
		if _, rejected := rejectionReason(err); rejected {
			s.relayResult("rejected")
			s.logger.Info().Time("bucket", bucket).Uint64("candidate", reading.Candidate).Msg("relay reading rejected")
			return nil
		}
		s.relayResult("update_error")
		return fmt.Errorf("update trend: %w", err)
	}

	id, err := s.StoreDatapoint(ctx, grant, reading.Candidate, reading.ReferencePrice, reading.SampleCount)
	if err != nil {
		s.relayResult("store_error")
		return fmt.Errorf("store datapoint: %w", err)
	}

	s.relayResult("accepted")
	s.logger.Info().
		Time("bucket", bucket).
		Uint64("value", st.CurrentValue).
		Stringer("datapoint", id).
		Msg("relay tick complete")
	return nil
}

func (s *Service) relayResult(result string) {
	if s.metrics != nil {
		s.metrics.RelayTicksTotal.WithLabelValues(result).Inc()
	}
}

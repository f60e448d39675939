// Package api serves the oracle over HTTP.
package api

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"trend-oracle/internal/authority"
	"trend-oracle/internal/domain"
	"trend-oracle/internal/metrics"
)

// Oracle is the caller surface served by the API.
type Oracle interface {
	UpdateTrend(ctx context.Context, grant authority.Grant, candidate uint64) (domain.OracleState, error)
	GetTrend(ctx context.Context) (domain.OracleState, error)
	StoreDatapoint(ctx context.Context, grant authority.Grant, derived, reference, count uint64) (domain.DatapointID, error)
	GetDatapoint(ctx context.Context, id domain.DatapointID) (domain.Datapoint, error)
	QueryDatapoints(ctx context.Context, start, end int64) (iter.Seq2[domain.Datapoint, error], error)
	LatestDatapoint(ctx context.Context) (domain.Datapoint, error)
}

// Options tune the API.
type Options struct {
	// Decimals is the fixed-point scale used to render human-readable values.
	Decimals  int32
	RateLimit float64
	RateBurst int
	Metrics   *metrics.Metrics
	// Health reports backend reachability. Nil means always healthy.
	Health func(ctx context.Context) error
}

// Server routes HTTP requests to the oracle.
type Server struct {
	oracle Oracle
	authz  authority.Authorizer
	opts   Options
	logger zerolog.Logger
	router *mux.Router
}

// New builds the router.
func New(oracle Oracle, authz authority.Authorizer, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		oracle: oracle,
		authz:  authz,
		opts:   opts,
		logger: logger.With().Str("component", "api").Logger(),
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID, s.accessLog)
	if s.opts.RateLimit > 0 {
		r.Use(newRateLimiter(s.opts.RateLimit, s.opts.RateBurst, s.opts.Metrics, s.logger).middleware)
	}

	r.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/trend", s.handleGetTrend).Methods(http.MethodGet)
	v1.HandleFunc("/trend", s.handleUpdateTrend).Methods(http.MethodPost)
	v1.HandleFunc("/datapoints", s.handleStoreDatapoint).Methods(http.MethodPost)
	v1.HandleFunc("/datapoints", s.handleQueryDatapoints).Methods(http.MethodGet)
	v1.HandleFunc("/datapoints/latest", s.handleLatestDatapoint).Methods(http.MethodGet)
	v1.HandleFunc("/datapoints/{id:[0-9]+}", s.handleGetDatapoint).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ServerOptions are the http.Server settings.
type ServerOptions struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, opts ServerOptions) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trend-oracle/internal/alerting"
	"trend-oracle/internal/api"
	"trend-oracle/internal/authority"
	"trend-oracle/internal/config"
	"trend-oracle/internal/domain"
	"trend-oracle/internal/ledger"
	"trend-oracle/internal/metrics"
	"trend-oracle/internal/pricefeed"
	"trend-oracle/internal/scheduler"
	"trend-oracle/internal/service"
	"trend-oracle/internal/state"
	"trend-oracle/internal/storage"
	"trend-oracle/internal/storage/memory"
	"trend-oracle/internal/storage/postgres"
	"trend-oracle/internal/storage/redis"
	"trend-oracle/internal/trendsource"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// Source overrides the configured price source when set.
	Source pricefeed.Source

	mu      sync.Mutex
	rt      *runtime
	metrics *metrics.Metrics
}

type runtime struct {
	svc      *service.Service
	decimals int32
	health   func(ctx context.Context) error
	close    func()
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config:  cfg,
		Logger:  logger.With().Str("component", "app").Logger(),
		Out:     os.Stdout,
		metrics: metrics.New(),
	}
}

// Close releases storage connections.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		a.rt.close()
		a.rt = nil
	}
}

type storeHandle struct {
	kv     storage.KV
	locker storage.AdvisoryLocker
	health func(ctx context.Context) error
}

func (a *App) openStore(ctx context.Context) (storeHandle, error) {
	cfg := a.Config.Storage
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return storeHandle{}, err
		}
		kv := postgres.New(pool)
		if err := kv.EnsureSchema(ctx); err != nil {
			_ = kv.Close()
			return storeHandle{}, err
		}
		return storeHandle{kv: kv, locker: kv, health: pool.Ping}, nil

	case config.DriverRedis:
		kv, err := redis.New(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			LockTTL:   cfg.Redis.LockTTL,
		})
		if err != nil {
			return storeHandle{}, err
		}
		health := func(ctx context.Context) error { return kv.Client().Ping(ctx).Err() }
		return storeHandle{kv: kv, locker: kv, health: health}, nil

	default:
		a.Logger.Warn().Msg("storage.driver is memory; oracle state lives only as long as this process")
		kv := memory.New()
		return storeHandle{kv: kv, locker: kv}, nil
	}
}

func (a *App) newSource() pricefeed.Source {
	if a.Source != nil {
		return a.Source
	}
	cfg := a.Config.PriceFeed
	switch cfg.Source {
	case config.SourceChainlink:
		return pricefeed.NewChainlink(pricefeed.ChainlinkOptions{
			RPCURL:      cfg.Chainlink.RPCURL,
			FeedAddress: cfg.Chainlink.FeedAddress,
			Timeout:     cfg.Chainlink.RequestTimeout,
		}, a.Logger)
	case config.SourceStatic:
		return pricefeed.NewStatic(pricefeed.Quote{
			Price:       cfg.Static.Price,
			Conf:        cfg.Static.Conf,
			Expo:        cfg.Static.Expo,
			PublishTime: cfg.Static.PublishTime,
		})
	default:
		return pricefeed.NewHermes(pricefeed.HermesOptions{
			BaseURL:   cfg.Hermes.BaseURL,
			FeedID:    cfg.Hermes.FeedID,
			Timeout:   cfg.Hermes.RequestTimeout,
			UserAgent: cfg.Hermes.UserAgent,
		}, a.Logger)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	telegram := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	return alerting.NewThrottled(telegram, a.Config.Alerting.Cooldown)
}

func (a *App) newAuthorizer() (authority.Authorizer, error) {
	cfg := a.Config.Authority
	switch cfg.Mode {
	case config.AuthorityJWT:
		return authority.NewJWT(authority.JWTOptions{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		})
	case config.AuthorityToken:
		if len(cfg.Tokens) == 0 {
			a.Logger.Warn().Msg("authority.tokens is empty; mutating API routes are disabled")
			return authority.Deny{}, nil
		}
		return authority.NewTokens(cfg.Tokens)
	default:
		return authority.Deny{}, nil
	}
}

func (a *App) newRelay() (service.TrendSource, *scheduler.Scheduler) {
	cfg := a.Config.Relay
	if !cfg.Enabled {
		return nil, nil
	}
	client := trendsource.New(trendsource.Options{
		URL:           cfg.URL,
		SuccessPath:   cfg.SuccessPath,
		CandidatePath: cfg.CandidatePath,
		ReferencePath: cfg.ReferencePath,
		CountPath:     cfg.CountPath,
		Shift:         cfg.Shift,
		Timeout:       cfg.RequestTimeout,
	}, a.Logger)
	sched := scheduler.New(scheduler.Options{
		Interval:       cfg.Interval,
		AlignToBucket:  cfg.AlignToBucket,
		StartupDelay:   cfg.StartupDelay,
		RunImmediately: cfg.RunImmediately,
		TickTimeout:    cfg.RequestTimeout + 30*time.Second,
	}, a.Logger)
	return client, sched
}

// service lazily wires the oracle service and keeps it for the App's lifetime.
func (a *App) service(ctx context.Context) (*service.Service, error) {
	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, err
	}
	return rt.svc, nil
}

func (a *App) runtime(ctx context.Context) (*runtime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		return a.rt, nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	closeStore := func() {
		if err := store.kv.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close storage")
		}
	}

	led, err := ledger.Open(ctx, store.kv)
	if err != nil {
		closeStore()
		return nil, err
	}

	feed := pricefeed.NewAdapter(a.newSource(), a.Config.PriceFeed.Decimals, a.Logger)
	trend, sched := a.newRelay()

	deps := service.Deps{
		Feed:      feed,
		States:    state.NewRepository(store.kv),
		Ledger:    led,
		Locker:    store.locker,
		Metrics:   a.metrics,
		Trend:     trend,
		Scheduler: sched,
	}
	if n := a.newNotifier(); n != nil {
		deps.Notifier = n
	}

	svc, err := service.New(deps, service.Options{
		Bounds:   a.Config.Bounds.Domain(),
		Decimals: feed.Decimals(),
		LockKey:  a.Config.Storage.AdvisoryLockKey,
	}, a.Logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	if a.Config.Oracle.AutoInitialize {
		if _, err := svc.Initialize(ctx, authority.Local("bootstrap")); err != nil && !errors.Is(err, domain.ErrAlreadyInitialized) {
			closeStore()
			return nil, fmt.Errorf("auto initialize: %w", err)
		}
	}

	a.rt = &runtime{svc: svc, decimals: feed.Decimals(), health: store.health, close: closeStore}
	return a.rt, nil
}

// Serve runs the HTTP API and, when enabled, the relay job until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	authz, err := a.newAuthorizer()
	if err != nil {
		return err
	}

	server := api.New(rt.svc, authz, api.Options{
		Decimals:  rt.decimals,
		RateLimit: a.Config.Server.RateLimit,
		RateBurst: a.Config.Server.RateBurst,
		Metrics:   a.metrics,
		Health:    rt.health,
	}, a.Logger)

	errCh := make(chan error, 2)
	running := 1
	go func() {
		errCh <- server.ListenAndServe(ctx, api.ServerOptions{
			Addr:            a.Config.Server.Addr,
			ReadTimeout:     a.Config.Server.ReadTimeout,
			WriteTimeout:    a.Config.Server.WriteTimeout,
			ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		})
	}()
	if a.Config.Relay.Enabled {
		running++
		go func() { errCh <- rt.svc.RunRelay(ctx) }()
	}

	a.Logger.Info().Bool("relay", a.Config.Relay.Enabled).Msg("trend oracle started")

	var firstErr error
	for i := 0; i < running; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			a.Logger.Error().Err(err).Msg("component terminated with error")
			cancel()
		}
	}

	a.Logger.Info().Msg("trend oracle stopped")
	return firstErr
}

// ExportOptions hold parameters for exporting datapoints.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

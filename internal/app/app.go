// Package app builds the per-process dependency handle shared by every binary.
package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/config"
	"github.com/SirClappington/autobook/internal/lease"
	"github.com/SirClappington/autobook/internal/logging"
	"github.com/SirClappington/autobook/internal/monitor"
	"github.com/SirClappington/autobook/internal/notify"
	"github.com/SirClappington/autobook/internal/provider"
	"github.com/SirClappington/autobook/internal/provider/duffel"
	"github.com/SirClappington/autobook/internal/provider/stripe"
	"github.com/SirClappington/autobook/internal/queue"
	"github.com/SirClappington/autobook/internal/saga"
	"github.com/SirClappington/autobook/internal/stages"
	"github.com/SirClappington/autobook/internal/storage"
)

type App struct {
	Cfg   config.Config
	Log   *zap.Logger
	Redis *r.Client
	DB    *pgxpool.Pool

	Queue  *queue.RedisQ
	Leases *lease.Store
	Ledger *monitor.Ledger
	Store  *storage.Store

	closers []func() error
}

// New connects to Redis and Postgres and fails if either is unreachable.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	log, err := logging.New(cfg.Production(), service)
	if err != nil {
		return nil, errors.Wrap(err, "logger")
	}
	a := &App{Cfg: cfg, Log: log}

	a.Redis = r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	a.closers = append(a.closers, a.Redis.Close)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "redis ping"), a.Close())
	}

	a.DB, err = pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, multierr.Append(errors.Wrap(err, "postgres pool"), a.Close())
	}
	a.closers = append(a.closers, func() error { a.DB.Close(); return nil })
	if err := a.DB.Ping(ctx); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "postgres ping"), a.Close())
	}

	a.Queue = queue.New(a.Redis)
	a.Leases = lease.New(a.Redis, log)
	a.Ledger = monitor.NewLedger(a.Redis)
	a.Store = storage.New(a.DB)
	return a, nil
}

// Handlers wires the stage handlers with the live providers and a Kafka publisher.
func (a *App) Handlers() *stages.Handlers {
	flights := duffel.New(a.Cfg.DuffelBaseURL, a.Cfg.DuffelToken)
	retry := provider.NewRetrier(a.Cfg.ProviderMaxAttempts)
	orchestrator := saga.New(a.Store, flights, stripe.New(a.Cfg.StripeSecretKey), saga.Options{
		PricingCandidates: a.Cfg.PricingCandidates,
		ErrorMessageLimit: a.Cfg.ErrorMessageLimit,
		Retry:             retry,
	}, a.Log)

	events := notify.NewPublisher(notify.NewWriter(a.Cfg.KafkaBrokers, a.Cfg.KafkaTopic, a.Log), a.Log)
	a.closers = append(a.closers, events.Close)

	return &stages.Handlers{
		Store:           a.Store,
		Flights:         flights,
		Ledger:          a.Ledger,
		Queue:           a.Queue,
		Saga:            orchestrator,
		Events:          events,
		Retry:           retry,
		MonitorInterval: a.Cfg.MonitorInterval,
		Log:             a.Log.Named("stages"),
	}
}

// Close releases everything New and Handlers opened, newest first.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	if a.Log != nil {
		_ = a.Log.Sync()
	}
	return err
}

package bootstrap

import (
	"context"
	"fmt"

	"github.com/Domenick1991/airbooking-payments/config"
	"github.com/Domenick1991/airbooking-payments/internal/cache"
	"github.com/Domenick1991/airbooking-payments/internal/db"
	"github.com/Domenick1991/airbooking-payments/internal/gateway"
	"github.com/Domenick1991/airbooking-payments/internal/kafka"
	"github.com/Domenick1991/airbooking-payments/internal/logger"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/Domenick1991/airbooking-payments/internal/service/booking"
	"github.com/Domenick1991/airbooking-payments/internal/service/payment"
	"github.com/Domenick1991/airbooking-payments/internal/service/reconcile"
	"github.com/sirupsen/logrus"
)

// Deps holds the long-lived components shared by the api server, the worker
// and the operator CLI.
type Deps struct {
	Log      *logrus.Logger
	Store    repository.Store
	Gateway  *gateway.Client
	Verifier gateway.Verifier
	Engine   *reconcile.Engine
	// Cache and Events are nil when redis or kafka are not configured.
	Cache  *cache.RedisCache
	Events *kafka.EventBus

	closers []func() error
}

func Build(ctx context.Context, cfg *config.Config) (*Deps, error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	d := &Deps{Log: log}

	store, closeStore, err := OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	d.Store = store
	d.closers = append(d.closers, closeStore)

	d.Gateway = gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		SecretKey:   cfg.Gateway.SecretKey,
		Timeout:     cfg.Gateway.Timeout,
		CallbackURL: cfg.Gateway.CallbackURL,
		ReturnURL:   cfg.Gateway.ReturnURL,
		RetryCount:  cfg.Gateway.RetryCount,
	}, log.WithField("component", "gateway"))
	d.Verifier = d.Gateway

	if cfg.Redis.Addr != "" {
		d.Cache = cache.NewRedisCache(cfg.Redis)
		d.closers = append(d.closers, d.Cache.Close)
		if err := d.Cache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unreachable, verification cache and sweep lock will degrade")
		}
		d.Verifier = gateway.NewCachedVerifier(d.Gateway, d.Cache, log.WithField("component", "verification_cache"))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log.WithField("component", "kafka"))
		d.closers = append(d.closers, producer.Close)
		if err := producer.CheckConnection(ctx); err != nil {
			log.WithError(err).Warn("kafka unreachable, events will be dropped until it recovers")
		}
		d.Events = kafka.NewEventBus(producer, cfg.Kafka.PaymentEventsTopic, cfg.Kafka.NotificationsTopic)
	}

	var engineOpts []reconcile.Option
	if d.Events != nil {
		engineOpts = append(engineOpts, reconcile.WithEvents(d.Events))
	}
	d.Engine = reconcile.NewEngine(d.Store, log.WithField("component", "reconcile"), engineOpts...)

	return d, nil
}

// OpenStore connects the configured driver. Postgres is migrated on open;
// sqlite creates its schema itself.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (repository.Store, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DSN(), cfg.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return repository.NewPGStore(pool), func() error { pool.Close(); return nil }, nil
	case "sqlite":
		store, err := repository.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, store.Close, nil
	case "memory":
		log.Warn("using in-memory store, state is lost on exit")
		return repository.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (d *Deps) BookingService() *booking.BookingService {
	var opts []booking.BookingServiceOption
	if d.Events != nil {
		opts = append(opts, booking.WithEvents(d.Events))
	}
	return booking.NewBookingService(d.Store, d.Engine, d.Log.WithField("component", "bookings"), opts...)
}

func (d *Deps) PaymentService(cfg *config.Config) *payment.PaymentService {
	opts := []payment.PaymentServiceOption{payment.WithVerifier(d.Verifier)}
	if cfg.Gateway.VerifyTimeout > 0 {
		opts = append(opts, payment.WithVerifyTimeout(cfg.Gateway.VerifyTimeout))
	}
	if d.Events != nil {
		opts = append(opts, payment.WithEvents(d.Events))
	}
	return payment.NewPaymentService(d.Store, d.Gateway, d.Engine, d.Log.WithField("component", "payments"), opts...)
}

func (d *Deps) Sweeper(cfg config.SweepConfig) *reconcile.Sweeper {
	opts := []reconcile.SweeperOption{reconcile.WithVerifier(d.Verifier)}
	if d.Cache != nil {
		opts = append(opts, reconcile.WithLocker(d.Cache))
	}
	return reconcile.NewSweeper(d.Engine, d.Store, reconcile.SweepConfig{
		BatchSize:   cfg.BatchSize,
		StaleAfter:  cfg.StaleAfter,
		Concurrency: cfg.Concurrency,
		LockTTL:     cfg.LockTTL,
	}, d.Log.WithField("component", "sweep"), opts...)
}

// Close releases resources in reverse order of acquisition.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.Log.WithError(err).Warn("close failed")
		}
	}
}

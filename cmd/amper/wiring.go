package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/amper"
	"github.com/layer-3/amper/adapters/events"
	"github.com/layer-3/amper/adapters/payment"
	"github.com/layer-3/amper/adapters/store"
	"github.com/layer-3/amper/config"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"github.com/layer-3/amper/service"
	"github.com/redis/go-redis/v9"
)

// app holds the components shared by the commands.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	storage ports.Storage
	events  ports.EventPublisher
	// subscriber is set for the in-memory event bus.
	subscriber message.Subscriber

	redisClient redis.UniversalClient
	closers     []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openEvents(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.Storage {
	case config.StorageRedis:
		redisStore, err := store.NewRedisStoreFromURL(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.redisClient = redisStore.GetClient()
		a.closers = append(a.closers, redisStore.Close)
		a.storage = redisStore
	case config.StorageSQLite:
		sqliteStore, err := store.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sqliteStore.Close)
		a.storage = sqliteStore
	default:
		a.storage = store.NewMemoryStore()
	}
	a.logger.Debug("Token storage ready", "backend", a.cfg.Storage)
	return nil
}

func (a *app) openEvents(ctx context.Context) error {
	wmLogger := watermill.NewSlogLogger(a.logger)

	switch a.cfg.Events {
	case config.EventsMemory:
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		a.closers = append(a.closers, pubSub.Close)
		a.subscriber = pubSub
		a.events = events.NewWatermillPublisher(pubSub, a.cfg.EventsTopicPrefix)
	case config.EventsRedis:
		client := a.redisClient
		if client == nil {
			opts, err := redis.ParseURL(a.cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("failed to parse redis url: %w", err)
			}
			c := redis.NewClient(opts)
			if err := c.Ping(ctx).Err(); err != nil {
				_ = c.Close()
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			a.closers = append(a.closers, c.Close)
			client = c
		}
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: client,
			},
			wmLogger,
		)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		a.events = events.NewWatermillPublisher(publisher, a.cfg.EventsTopicPrefix)
	}
	return nil
}

// paymentBackend returns the configured node client, or a backend that
// refuses every payment when none is configured.
func (a *app) paymentBackend() (ports.PaymentBackend, error) {
	if a.cfg.LNDURL == "" {
		return unconfiguredBackend{}, nil
	}
	return payment.NewLNDClientFromFiles(a.cfg.LNDURL, a.cfg.LNDMacaroonPath, a.cfg.LNDTLSCertPath,
		payment.WithLogger(a.logger))
}

func (a *app) engine() (*amper.Engine, error) {
	backend, err := a.paymentBackend()
	if err != nil {
		return nil, err
	}
	granularity, err := a.cfg.Granularity()
	if err != nil {
		return nil, err
	}
	return amper.New(a.storage, backend,
		amper.WithLogger(a.logger),
		amper.WithGranularity(granularity),
		amper.WithServiceOptions(
			service.WithEvents(a.events),
			service.WithPaymentTimeout(a.cfg.PaymentTimeout),
			service.WithTokenTTL(a.cfg.TokenTTL),
			service.WithMaxInvoiceSats(a.cfg.MaxInvoiceSats),
		),
	), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

type unconfiguredBackend struct{}

func (unconfiguredBackend) PayInvoice(context.Context, string) (core.PaymentResult, error) {
	return core.PaymentResult{}, core.NewPaymentError(core.ErrBackendUnavailable, "no payment backend configured")
}

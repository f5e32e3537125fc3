package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/alert"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/connectors"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/connectors/salesforce"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/events"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/kafka"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/sercha-poller/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/sercha-poller/internal/adapters/driven/queue/redis"
	redisadapter "github.com/custodia-labs/sercha-poller/internal/adapters/driven/redis"
	"github.com/custodia-labs/sercha-poller/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-poller/internal/config"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-poller/internal/core/services"
	"github.com/custodia-labs/sercha-poller/internal/worker"
)

type mode string

const (
	modeAll    mode = "all"
	modeAPI    mode = "api"
	modeWorker mode = "worker"
	modePoll   mode = "poll"
)

func (m mode) runsWorker() bool { return m == modeAll || m == modeWorker }
func (m mode) runsAPI() bool    { return m == modeAll || m == modeAPI }

// app holds the wired components for one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client

	queue     driven.TaskQueue
	lock      driven.DistributedLock
	poller    *services.SubscriptionPoller
	scheduler *services.Scheduler

	authService         driving.AuthService
	subscriptionService driving.SubscriptionService

	closers []func() error
}

func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", "sercha-poller", "version", version)
}

func dbConfig(cfg *config.Config) postgres.Config {
	dbCfg := postgres.DefaultConfig(cfg.DatabaseURL)
	dbCfg.MaxOpenConns = cfg.DBMaxOpenConns
	dbCfg.MaxIdleConns = cfg.DBMaxIdleConns
	dbCfg.ConnMaxLifetime = cfg.DBConnMaxLifetime
	return dbCfg
}

func newAuthService(cfg *config.Config) driving.AuthService {
	return services.NewAuthService(services.AuthServiceConfig{
		Adapter:    auth.NewAdapter(cfg.JWTSecret),
		DefaultTTL: cfg.TokenTTL,
	})
}

// newApp connects every backend the configuration names and wires the services.
func newApp(ctx context.Context, configFile string, m mode) (a *app, err error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("sercha-poller starting", "mode", m)
	logger.Debug("configuration", "config", cfg.String())

	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// ===== PostgreSQL =====
	a.db, err = postgres.Connect(ctx, dbConfig(cfg))
	if err != nil {
		return a, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	if cfg.DBMigrateOnStart {
		schema, err := a.db.Migrate(postgres.MigrateUp)
		if err != nil {
			return a, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database schema current", "version", schema)
	}

	encryptor, err := postgres.NewSecretEncryptorFromSecret(cfg.EncryptionSecret)
	if err != nil {
		return a, fmt.Errorf("credential encryption: %w", err)
	}
	subscriptions := postgres.NewSubscriptionStore(a.db, encryptor)

	// ===== Redis (optional) =====
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return a, fmt.Errorf("parse redis URL: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		a.closers = append(a.closers, a.redisClient.Close)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return a, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("redis connected")
	}

	// ===== Watermarks =====
	var watermarks driven.WatermarkStore
	if cfg.WatermarkBackend == config.BackendRedis {
		watermarks = redisadapter.NewWatermarkStore(a.redisClient, cfg.RedisNamespace)
		logger.Info("using redis watermark store")
	} else {
		watermarks = postgres.NewWatermarkStore(a.db)
		logger.Info("using postgres watermark store")
	}

	// ===== Task queue and lock (Redis if available, otherwise PostgreSQL) =====
	if a.redisClient != nil {
		q, err := redisqueue.NewQueue(ctx, a.redisClient, redisqueue.Config{
			ConsumerName: consumerName(),
			Namespace:    cfg.RedisNamespace,
		})
		if err != nil {
			return a, fmt.Errorf("create task queue: %w", err)
		}
		a.queue = q
		a.closers = append(a.closers, q.Close)
		a.lock = redisadapter.NewLock(a.redisClient, cfg.RedisNamespace)
		logger.Info("using redis task queue and lock")
	} else {
		q := postgresqueue.NewQueue(a.db.DB)
		a.queue = q
		a.closers = append(a.closers, q.Close)
		a.lock = postgres.NewAdvisoryLock(a.db)
		logger.Info("using postgres task queue and advisory lock")
	}

	// ===== Event sinks =====
	sink, err := a.newEventSink()
	if err != nil {
		return a, err
	}

	// ===== Gateways =====
	gateways := connectors.NewFactory(
		salesforce.NewBuilderWithConfig(&salesforce.Config{
			ClientID:     cfg.SalesforceClientID,
			ClientSecret: cfg.SalesforceClientSecret,
			APIVersion:   cfg.SalesforceAPIVersion,
			MaxRetries:   cfg.SalesforceMaxRetries,
			Timeout:      cfg.SalesforceTimeout,
		}, nil),
	)

	// ===== Services =====
	a.poller = services.NewSubscriptionPoller(services.SubscriptionPollerConfig{
		Subscriptions:         subscriptions,
		Watermarks:            watermarks,
		Gateways:              gateways,
		Sink:                  sink,
		Alerter:               alert.NewLogAlerter(logger),
		Logger:                logger,
		PollInterval:          cfg.PollInterval,
		MaxConcurrentEntities: cfg.MaxConcurrentEntities,
		EmitConcurrency:       cfg.EmitConcurrency,
	})

	if cfg.SchedulerEnabled && m.runsWorker() {
		a.scheduler = services.NewScheduler(services.SchedulerConfig{
			Subscriptions: subscriptions,
			TaskQueue:     a.queue,
			Lock:          a.lock,
			Logger:        logger,
			Interval:      cfg.SchedulerInterval,
			ClaimFor:      cfg.PollInterval,
			TaskRetention: cfg.TaskRetention,
		})
	}

	a.authService = newAuthService(cfg)
	a.subscriptionService = services.NewSubscriptionService(subscriptions, watermarks, gateways, a.queue)

	return a, nil
}

// newEventSink builds the configured sinks. Multiple sinks receive every event.
func (a *app) newEventSink() (driven.EventSink, error) {
	var sinks []driven.EventSink
	for _, name := range a.cfg.EventSinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, events.NewLogSink(a.logger))
		case config.SinkRedis:
			s := redisadapter.NewStreamSink(a.redisClient, a.cfg.RedisNamespace, a.cfg.EventStreamMaxLen)
			sinks = append(sinks, s)
		case config.SinkKafka:
			s, err := kafka.NewSink(kafka.Config{
				Brokers:       a.cfg.KafkaBrokers,
				Topic:         a.cfg.KafkaTopic,
				BatchSize:     a.cfg.KafkaBatchSize,
				BatchTimeout:  a.cfg.KafkaBatchTimeout,
				SASLMechanism: a.cfg.KafkaSASLMechanism,
				Username:      a.cfg.KafkaUsername,
				Password:      a.cfg.KafkaPassword,
				TLS:           a.cfg.KafkaTLS,
			})
			if err != nil {
				return nil, fmt.Errorf("kafka sink: %w", err)
			}
			a.closers = append(a.closers, s.Close)
			sinks = append(sinks, s)
		}
		a.logger.Info("event sink enabled", "sink", name)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return events.NewMultiSink(sinks...), nil
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// run starts the components of the given mode and blocks until ctx is cancelled.
func run(ctx context.Context, configFile string, m mode) error {
	a, err := newApp(ctx, configFile, m)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	var runner http.Runner
	if m.runsWorker() {
		w := worker.NewWorker(worker.WorkerConfig{
			TaskQueue:      a.queue,
			Poller:         a.poller,
			Scheduler:      schedulerOrNil(a.scheduler),
			Lock:           a.lock,
			Logger:         a.logger,
			Concurrency:    a.cfg.WorkerConcurrency,
			DequeueTimeout: a.cfg.WorkerDequeueTimeout,
			LockTTL:        a.cfg.PollLockTTL,
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		runner = w
		g.Go(func() error {
			<-ctx.Done()
			w.Stop()
			return nil
		})
	}

	if m.runsAPI() {
		var redisPing http.Pinger
		if a.redisClient != nil {
			redisPing = redisPinger{a.redisClient}
		}
		server := http.NewServer(
			http.Config{
				Host:    a.cfg.HTTPHost,
				Port:    a.cfg.HTTPPort,
				Version: version,
				Logger:  a.logger,
				Worker:  runner,
			},
			a.authService,
			a.subscriptionService,
			a.queue,
			a.db,
			redisPing,
		)
		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	err = g.Wait()
	a.logger.Info("sercha-poller stopped", "mode", m)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// schedulerOrNil avoids handing the worker a typed nil interface.
func schedulerOrNil(s *services.Scheduler) driving.Scheduler {
	if s == nil {
		return nil
	}
	return s
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

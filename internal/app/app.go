/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package app assembles the queubious service from its components and runs it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/profserver"
	"github.com/acronis/go-appkit/retry"
	"github.com/acronis/go-appkit/service"

	"github.com/queubious/queubious/internal/audit"
	"github.com/queubious/queubious/internal/config"
	"github.com/queubious/queubious/internal/egress"
	"github.com/queubious/queubious/internal/httpapi"
	"github.com/queubious/queubious/internal/session"
	"github.com/queubious/queubious/internal/waitingroom"
)

const (
	storePingRetryInterval = time.Second
	storePingRetryAttempts = 10

	reconcilerStopTimeout = 10 * time.Second
)

// Run loads the configuration and runs the service until a shutdown signal
// or a fatal error.
func Run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	svc, cleanup, err := buildService(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return svc.Start()
}

// buildService wires the store, the audit sink, the admission engine, the
// reconciliation loop, and the HTTP server into a single supervised service.
func buildService(cfg *config.AppConfig, logger log.FieldLogger) (*service.Service, func(), error) {
	noop := func() {}

	store, err := makeStore(cfg, logger)
	if err != nil {
		return nil, noop, err
	}

	emitter, err := makeAuditEmitter(cfg, logger)
	if err != nil {
		return nil, noop, err
	}
	cleanup := emitter.Close

	activeSessionTTL := time.Duration(cfg.WaitingRoom.ActiveSessionTimeout)

	issuer, err := egress.NewIssuer(
		cfg.Auth.DecodedSigningKey(), cfg.WaitingRoom.AppURL, cfg.WaitingRoom.DestinationURL, activeSessionTTL)
	if err != nil {
		return nil, cleanup, fmt.Errorf("create egress token issuer: %w", err)
	}

	sessions, err := session.NewManager(cfg.Auth.DecodedSessionHashKey(), cfg.Auth.DecodedSessionBlockKey())
	if err != nil {
		return nil, cleanup, fmt.Errorf("create session manager: %w", err)
	}

	metrics := waitingroom.NewPrometheusMetrics()
	engine := waitingroom.NewEngine(store, emitter, activeSessionTTL, metrics)
	reporter := waitingroom.NewReporter(store)

	httpServer, err := makeHTTPServer(cfg, logger, engine, reporter, store, issuer, sessions, emitter)
	if err != nil {
		return nil, cleanup, err
	}

	reconcilerUnit := makeReconcilerUnit(cfg, logger, store, metrics)

	units := []service.Unit{httpServer, reconcilerUnit}
	if cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger))
	}

	return service.New(logger, service.NewCompositeUnit(units...)), cleanup, nil
}

// makeStore connects to Redis, waits for it to become reachable, and seeds
// the shared capacity value from the configuration.
func makeStore(cfg *config.AppConfig, logger log.FieldLogger) (waitingroom.Store, error) {
	redisOpts, err := redis.ParseURL(cfg.Redis.URI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	client := redis.NewClient(redisOpts)
	store := waitingroom.NewRedisStore(client, waitingroom.WithOpTimeout(time.Duration(cfg.Redis.OpTimeout)))

	ctx := context.Background()
	err = retry.DoWithRetry(ctx, retry.NewConstantBackoffPolicy(storePingRetryInterval, storePingRetryAttempts),
		nil, nil, func(ctx context.Context) error {
			if pingErr := store.Ping(ctx); pingErr != nil {
				logger.Warn("state store is not reachable yet", log.Error(pingErr))
				return pingErr
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("connect to state store: %w", err)
	}

	if err = store.SetCapacity(ctx, int64(cfg.WaitingRoom.Capacity)); err != nil {
		return nil, fmt.Errorf("seed capacity: %w", err)
	}
	logger.Info("state store ready", log.Int("capacity", cfg.WaitingRoom.Capacity))

	return store, nil
}

func makeAuditEmitter(cfg *config.AppConfig, logger log.FieldLogger) (audit.Emitter, error) {
	if !cfg.Audit.Enabled {
		return audit.NewDisabledEmitter(), nil
	}
	emitter, err := audit.NewKafkaEmitter(
		cfg.Audit.Brokers,
		int(time.Duration(cfg.Audit.MessageTimeout)/time.Millisecond),
		audit.KafkaEmitterOpts{
			EnqueuedTopic:   cfg.Audit.Topics.Enqueued,
			TerminatedTopic: cfg.Audit.Topics.Terminated,
		},
		log.NewPrefixedLogger(logger, "audit: "),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit emitter: %w", err)
	}
	return emitter, nil
}

func makeHTTPServer(
	cfg *config.AppConfig,
	logger log.FieldLogger,
	engine *waitingroom.Engine,
	reporter *waitingroom.Reporter,
	store waitingroom.Store,
	issuer *egress.Issuer,
	sessions *session.Manager,
	emitter audit.Emitter,
) (*httpserver.HTTPServer, error) {
	handlers, err := httpapi.NewHandlers(engine, reporter, store, issuer, sessions, emitter, httpapi.Opts{
		ActiveSessionTTL: time.Duration(cfg.WaitingRoom.ActiveSessionTimeout),
		DestinationURL:   cfg.WaitingRoom.DestinationURL,
		AppURL:           cfg.WaitingRoom.AppURL,
		StaticDir:        cfg.WaitingRoom.StaticDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create http handlers: %w", err)
	}

	httpServer, err := httpserver.New(cfg.Server, logger, httpserver.Opts{
		ErrorDomain: httpapi.ErrorDomain,
		HealthCheckContext: func(ctx context.Context) (httpserver.HealthCheckResult, error) {
			status := httpserver.HealthCheckStatusOK
			if pingErr := store.Ping(ctx); pingErr != nil {
				status = httpserver.HealthCheckStatusFail
			}
			return httpserver.HealthCheckResult{"state-store": status}, nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create http server: %w", err)
	}
	handlers.RegisterRoutes(httpServer.HTTPRouter)

	return httpServer, nil
}

// makeReconcilerUnit wraps the reconciler into a supervised periodic worker.
// Per-tick errors are contained by the periodic worker: a failed tick is
// logged and the next tick runs on schedule, so the loop never dies while
// the process is up.
func makeReconcilerUnit(
	cfg *config.AppConfig, logger log.FieldLogger, store waitingroom.Store, metrics *waitingroom.PrometheusMetrics,
) service.Unit {
	reconcilerLogger := log.NewPrefixedLogger(logger, "reconciler: ")
	reconciler := waitingroom.NewReconciler(
		store,
		time.Duration(cfg.WaitingRoom.ActiveSessionTimeout),
		reconcilerLogger,
		metrics,
		waitingroom.ReconcilerOpts{PruneWindow: int64(cfg.WaitingRoom.PruneWindow)},
	)
	periodicWorker := service.NewPeriodicWorker(
		reconciler, time.Duration(cfg.WaitingRoom.TickInterval), reconcilerLogger)
	return service.NewWorkerUnitWithOpts(periodicWorker, service.WorkerUnitOpts{
		MetricsRegisterer:   metrics,
		GracefulStopTimeout: reconcilerStopTimeout,
	})
}

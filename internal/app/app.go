// Package app wires configuration, infrastructure and the domain
// packages into the runnable modes: api, worker, migrate and seed.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/redbutton/internal/auth"
	"github.com/wisbric/redbutton/internal/config"
	"github.com/wisbric/redbutton/internal/httpserver"
	"github.com/wisbric/redbutton/internal/platform"
	"github.com/wisbric/redbutton/internal/queue"
	"github.com/wisbric/redbutton/internal/seed"
	"github.com/wisbric/redbutton/internal/telemetry"
	"github.com/wisbric/redbutton/pkg/ack"
	"github.com/wisbric/redbutton/pkg/admin"
	"github.com/wisbric/redbutton/pkg/alarm"
	"github.com/wisbric/redbutton/pkg/connector"
	"github.com/wisbric/redbutton/pkg/directory"
	"github.com/wisbric/redbutton/pkg/escalation"
	"github.com/wisbric/redbutton/pkg/notify"
	"github.com/wisbric/redbutton/pkg/simulation"
	"github.com/wisbric/redbutton/pkg/trigger"
)

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the requested mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting redbutton",
		"mode", cfg.Mode,
		"listen", cfg.ListenAddr(),
		"simulation", cfg.SimulationEnabled,
	)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	switch cfg.Mode {
	case "migrate":
		return nil
	case "seed":
		return runSeed(ctx, cfg, logger, db)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// eventQueue bridges the domain event sinks onto the task queue.
type eventQueue struct {
	q *queue.Queue
}

func (e *eventQueue) AlarmCreated(ctx context.Context, alarmID uuid.UUID) error {
	return e.q.Enqueue(ctx, queue.TaskAlarmCreated, queue.CreatedPayload{AlarmID: alarmID.String()})
}

func (e *eventQueue) AlarmAcked(ctx context.Context, alarmID uuid.UUID) error {
	return e.q.Enqueue(ctx, queue.TaskAlarmAcked, queue.CreatedPayload{AlarmID: alarmID.String()})
}

func (e *eventQueue) AlarmStateChanged(ctx context.Context, alarmID uuid.UUID, oldStatus, newStatus alarm.Status, actor string) error {
	return e.q.Enqueue(ctx, queue.TaskAlarmStateChanged, queue.StateChangedPayload{
		AlarmID:   alarmID.String(),
		OldStatus: string(oldStatus),
		NewStatus: string(newStatus),
		Actor:     actor,
	})
}

// channels bundles the outbound side: the registry used for step
// dispatch plus the two adapters the worker calls directly.
type channels struct {
	registry *connector.Registry
	mock     *connector.MockStore
	ticketer escalation.Ticketer
	webhook  escalation.StateDeliverer
}

// buildChannels constructs real adapters, or mock ones capturing into a
// shared ring when simulation mode is on.
func buildChannels(cfg *config.Config, logger *slog.Logger) channels {
	if cfg.SimulationEnabled {
		mock := connector.NewMockStore(0)
		return channels{
			registry: connector.NewRegistry(
				mock.Sender(connector.ChannelTicket),
				mock.Sender(connector.ChannelSMS),
				mock.Sender(connector.ChannelGroupChat),
				mock.Sender(connector.ChannelWebhook),
			),
			mock: mock,
		}
	}

	var senders []connector.Sender
	var ticketer escalation.Ticketer
	var deliverer escalation.StateDeliverer

	if cfg.Zammad().Enabled() {
		zammad := connector.NewZammad(cfg.Zammad(), logger)
		senders = append(senders, zammad)
		ticketer = zammad
	}
	if cfg.SMS().Enabled {
		senders = append(senders, connector.NewSendXMS(cfg.SMS(), logger))
	}
	if cfg.Signal().Enabled {
		senders = append(senders, connector.NewSignal(cfg.Signal(), logger))
	}
	if cfg.Webhook().Enabled {
		hook := connector.NewWebhook(cfg.Webhook(), logger)
		senders = append(senders, hook)
		deliverer = hook
	}

	return channels{
		registry: connector.NewRegistry(senders...),
		ticketer: ticketer,
		webhook:  deliverer,
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	producer, err := queue.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("creating queue producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("closing queue producer", "error", err)
		}
	}()
	events := &eventQueue{q: producer}

	alarmStore := alarm.NewStore(db)
	dirStore := directory.NewStore(db)
	escStore := escalation.NewStore(db)

	alarmSvc := alarm.NewService(db, alarmStore, events, logger)
	escSvc := escalation.NewService(db, escStore, logger)

	ch := buildChannels(cfg, logger)

	kv := trigger.NewKV(rdb)
	triggerSvc := trigger.NewService(db, kv, alarmStore, dirStore, events, trigger.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		IPAllowlist:        httpserver.ParsePrefixes(cfg.IPAllowlist),
		Simulation:         cfg.SimulationEnabled,
	}, logger)

	trustedProxies := httpserver.ParsePrefixes(cfg.TrustedProxyCIDRs)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)

	triggerHandler := trigger.NewHandler(triggerSvc, cfg.TokenQueryParam, trustedProxies, logger)
	srv.Router.Mount("/v1/yealink", triggerHandler.Routes())

	ackHandler := ack.NewHandler(alarmStore, alarmSvc, dirStore, logger)
	srv.Router.Mount("/a", ackHandler.Routes())

	requireAdmin := auth.RequireAdmin(cfg.AdminAPIKey)

	alarmHandler := alarm.NewHandler(alarmSvc, alarmStore, logger)
	srv.Router.Route("/v1/alarms", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Mount("/", alarmHandler.Routes())
	})

	adminHandler := admin.NewHandler(db, dirStore, escSvc, logger)
	srv.Router.Route("/v1/admin", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Mount("/", adminHandler.Routes())
	})

	simHandler := simulation.NewHandler(ch.mock)
	srv.Router.Route("/v1/simulation", func(r chi.Router) {
		r.Use(requireAdmin)
		r.Mount("/", simHandler.Routes())
	})

	// Simulation runs the worker in-process so captured notifications
	// land in the same mock store the inspection API reads.
	workerErr := make(chan error, 1)
	if cfg.SimulationEnabled {
		go func() {
			workerErr <- serveWorker(ctx, cfg, logger, db, ch, producer)
		}()
	}

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	case err := <-workerErr:
		return fmt.Errorf("embedded worker: %w", err)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	producer, err := queue.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("creating queue producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("closing queue producer", "error", err)
		}
	}()

	ch := buildChannels(cfg, logger)
	return serveWorker(ctx, cfg, logger, db, ch, producer)
}

// serveWorker runs the queue consumer until the context is cancelled.
func serveWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, ch channels, producer *queue.Queue) error {
	alarmStore := alarm.NewStore(db)
	dirStore := directory.NewStore(db)
	escStore := escalation.NewStore(db)

	orch := notify.NewOrchestrator(ch.registry, alarmStore, logger)
	worker := escalation.NewWorker(escalation.WorkerDeps{
		Alarms:    alarmStore,
		Audit:     alarmStore,
		Directory: dirStore,
		Steps:     escStore,
		Orch:      orch,
		Ticketer:  ch.ticketer,
		Webhook:   ch.webhook,
		Producer:  producer,
		AckURL:    cfg.AckURL,
		Fallback:  cfg.Escalation().StepDelays,
		Logger:    logger,
	})

	srv, mux, err := queue.NewServer(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		return fmt.Errorf("creating queue consumer: %w", err)
	}
	worker.Register(mux)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("starting queue consumer: %w", err)
	}
	logger.Info("worker consuming", "concurrency", cfg.WorkerConcurrency)

	<-ctx.Done()
	logger.Info("shutting down worker")
	srv.Shutdown()
	return nil
}

// runSeed applies the configured seed file and exits.
func runSeed(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool) error {
	data, err := os.ReadFile(cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	payload, err := seed.Parse(data, contentTypeFor(cfg.SeedFile))
	if err != nil {
		return err
	}
	summary, err := seed.Apply(ctx, db, payload, logger)
	if err != nil {
		return err
	}
	logger.Info("seed mode finished", "summary", summary)
	return nil
}

func contentTypeFor(path string) string {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		return "application/yaml"
	}
	return "application/json"
}

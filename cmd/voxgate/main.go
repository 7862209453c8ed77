// Package main provides the entrypoint for the voxgate provider gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/api"
	"github.com/voxgate/voxgate/internal/api/handler"
	"github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/auth"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/events"
	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
	"github.com/voxgate/voxgate/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "voxgate"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("voxgate stopped with error")
	}
	log.Info().Msg("voxgate stopped")
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	log = log.Level(level)

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Str("strategy", string(cfg.Orchestrator.Strategy)).
		Int("providers", len(cfg.Providers)).
		Msg("starting voxgate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	var sinks []events.Sink

	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.Config)
		if err != nil {
			return err
		}
		defer pool.Close()

		sink, err := auditSink(ctx, pool)
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		log.Info().Str("database", cfg.Database.Redacted()).Msg("switch audit sink enabled")
	}

	var psClient *pubsub.Client
	if cfg.PubSub.Enabled() {
		psClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return err
		}
		defer psClient.Close()

		if cfg.PubSub.EventsTopic != "" {
			sink := events.NewPubSubSink(psClient, cfg.PubSub.EventsTopic)
			defer sink.Close()
			sinks = append(sinks, sink)
			log.Info().Str("topic", cfg.PubSub.EventsTopic).Msg("switch event publishing enabled")
		}
	}

	dispatcher, err := events.NewDispatcher(events.DispatcherConfig{
		QueueSize:    cfg.Events.QueueSize,
		DrainTimeout: cfg.Events.DrainTimeout,
		Sinks:        sinks,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	targets, skipped := config.Targets(cfg.Providers)
	for _, id := range skipped {
		log.Warn().Str("provider_id", id).Msg("provider has no health check url, not monitored")
	}

	monitor, err := health.NewMonitor(health.MonitorConfig{
		Config:  cfg.Health,
		Logger:  log,
		Targets: targets,
	})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config:   cfg.Orchestrator,
		Logger:   log,
		Health:   monitor,
		Notifier: dispatcher,
	})
	if err != nil {
		return err
	}

	var jwtService *auth.JWTService
	if cfg.Auth.SigningKey != "" {
		jwtService, err = auth.NewJWTService(auth.JWTConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		})
		if err != nil {
			return err
		}
	} else {
		log.Warn().Msg("no operator signing key configured - control endpoints are unauthenticated")
	}

	var stats handler.DispatcherStats
	if len(sinks) > 0 {
		stats = dispatcher
	}

	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		Metrics:      metrics,
		JWT:          jwtService,
		RequireTLS:   cfg.Server.RequireTLS,
		Monitor:      monitor,
		Orchestrator: orch,
		Dispatcher:   stats,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer dispatcher.Stop()

	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if psClient != nil && cfg.PubSub.CommandsSubscription != "" {
		subscriber := events.NewCommandSubscriber(psClient, events.CommandSubscriberConfig{
			Subscription: cfg.PubSub.CommandsSubscription,
			Handler:      events.NewCommandHandler(orch, monitor, log),
			Logger:       log,
		})
		g.Go(func() error {
			return subscriber.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func auditSink(ctx context.Context, pool *pgxpool.Pool) (*events.PostgresSink, error) {
	sink := events.NewPostgresSink(pool)
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/logging"
	"recoveryops/internal/common/middleware"
	"recoveryops/internal/common/nats"
	"recoveryops/internal/ledger"
	ledgerapi "recoveryops/internal/ledger/api"
	"recoveryops/internal/notify"
	"recoveryops/internal/processor"
	"recoveryops/internal/reconcile"
	reconcileapi "recoveryops/internal/reconcile/api"
	"recoveryops/internal/webhook"
	webhookapi "recoveryops/internal/webhook/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"WEBHOOK_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	WebhookSecret    string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	OperatorToken    string        `envconfig:"OPERATOR_API_TOKEN"`

	Database  database.Config
	NATS      nats.Config
	Notify    notify.Config
	Processor processor.Config
}

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Notify.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("webhook service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	var natsClient *nats.Client
	if cfg.Notify.Mode == notify.ModeNATS {
		natsClient, err = nats.New(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		if _, err := natsClient.EnsureStream(ctx, nats.NotificationStreamConfig()); err != nil {
			return err
		}
	}
	var publisher notify.EventPublisher
	if natsClient != nil {
		publisher = nats.NewPublisher(natsClient, logger)
	}
	notifier := notify.NewNotifier(cfg.Notify, publisher, logger)

	if cfg.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be refused")
	}

	// A typed nil would defeat the engine's nil check
	var refunds processor.RefundLister
	if client := processor.NewStripeClient(cfg.Processor, logger); client != nil {
		refunds = client
	} else {
		logger.Warn("STRIPE_API_KEY is not set, refunds missing from payloads will be derived from charge totals")
	}

	engine := reconcile.NewEngine(
		reconcile.NewPostgresUnitOfWork(db, cfg.Database.TxRetries),
		refunds,
		logger,
	)

	webhookHandler := webhookapi.NewHandler(
		webhook.NewAuthenticator(cfg.WebhookSecret, cfg.WebhookTolerance),
		engine,
		notifier,
		cfg.Notify.Timeout,
		logger,
	)
	eventsHandler := reconcileapi.NewHandler(engine, notifier, cfg.Notify.Timeout, logger)
	ledgerHandler := ledgerapi.NewHandler(ledger.NewService(db, logger))

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if natsClient != nil {
			if err := natsClient.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Method(http.MethodPost, "/webhooks/stripe", webhookHandler)

	r.Route("/api/v1/ledger", func(r chi.Router) {
		r.Use(middleware.TenantExtractor)
		r.Use(chimw.Compress(5))
		r.Mount("/", ledgerHandler.Routes())
	})

	r.Route("/api/v1/events", func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.OperatorToken))
		r.Mount("/", eventsHandler.Routes())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting webhook service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"notify_mode", cfg.Notify.Mode,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

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

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"recoveryops/internal/common/events"
	"recoveryops/internal/common/logging"
	"recoveryops/internal/common/nats"
	"recoveryops/internal/notify"
)

// Config holds notifier configuration
type Config struct {
	MetricsPort int    `envconfig:"NOTIFIER_METRICS_PORT" default:"9091"`
	Consumer    string `envconfig:"NOTIFIER_CONSUMER" default:"recoveryops-notifier"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	NATS   nats.Config
	Notify notify.Config
}

func main() {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("notifier failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.EnsureStream(ctx, nats.NotificationStreamConfig()); err != nil {
		return err
	}
	consumer, err := client.EnsureConsumer(ctx, nats.DefaultConsumerConfig(
		cfg.Consumer,
		nats.NotificationStream,
		events.SubjectPrefix+"notification.>",
	))
	if err != nil {
		return err
	}

	// The notifier always delivers by email; NOTIFY_MODE only matters to the
	// webhook service.
	notifier := notify.NewEmailNotifier(notify.NewSender(cfg.Notify, logger), cfg.Notify.From, cfg.Notify.OperatorEmail, logger)
	handler := notify.Handler(notify.NotifierFunc(func(ctx context.Context, n notify.Notification) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Notify.Timeout)
		defer cancel()
		return notifier.Notify(ctx, n)
	}), logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("consuming notifications", "consumer", cfg.Consumer, "stream", nats.NotificationStream)
		return nats.NewSubscriber(client, consumer, logger).Start(gctx, handler)
	})

	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

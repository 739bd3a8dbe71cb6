package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/logging"
	"recoveryops/internal/common/nats"
	"recoveryops/internal/notify"
	"recoveryops/internal/processor"
)

var Version = "dev"

// Config holds the settings the operator commands share with the services
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"warn"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	Database  database.Config
	NATS      nats.Config
	Notify    notify.Config
	Processor processor.Config
}

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "reconctl",
		Short:         "Operator tooling for payment reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(ledgerCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (Config, *slog.Logger, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("processing config: %w", err)
	}
	return cfg, logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat), nil
}

func connect(ctx context.Context) (Config, *database.DB, *slog.Logger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return Config{}, nil, nil, err
	}
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return Config{}, nil, nil, err
	}
	return cfg, db, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

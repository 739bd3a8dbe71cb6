package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recoveryops/internal/common/nats"
	"recoveryops/internal/notify"
	"recoveryops/internal/processor"
	"recoveryops/internal/reconcile"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay processor events",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [event-id]",
		Short: "Show the recorded outcome of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			engine := reconcile.NewEngine(reconcile.NewPostgresUnitOfWork(db, cfg.Database.TxRetries), nil, logger)
			marker, err := engine.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), marker)
		},
	})

	cmd.AddCommand(replayCmd())

	return cmd
}

func replayCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "replay [event-id]",
		Short: "Re-apply an orphan, unknown-account or alarmed event",
		Long: `Re-apply an event that was acknowledged without being applied.

Only events recorded as orphan, unknown_account or alarm can be replayed,
using the payload stored when they were first received. Correct the
underlying data first; a replay that fails the same way raises the alarm
again.

Examples:
  reconctl events replay evt_1Nv0FGQ9RKHgCVdK
  reconctl events replay evt_1Nv0FGQ9RKHgCVdK --quiet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			var refunds processor.RefundLister
			if client := processor.NewStripeClient(cfg.Processor, logger); client != nil {
				refunds = client
			}
			engine := reconcile.NewEngine(reconcile.NewPostgresUnitOfWork(db, cfg.Database.TxRetries), refunds, logger)

			out, err := engine.Replay(ctx, args[0])
			if err != nil {
				return err
			}

			if !quiet {
				var publisher notify.EventPublisher
				if cfg.Notify.Mode == notify.ModeNATS {
					client, err := nats.New(ctx, cfg.NATS, logger)
					if err != nil {
						return fmt.Errorf("event replayed as %s but notifications were not sent: %w", out.Status, err)
					}
					defer client.Close()
					publisher = nats.NewPublisher(client, logger)
				}
				notify.Fire(ctx, notify.NewNotifier(cfg.Notify, publisher, logger), logger, cfg.Notify.Timeout, out.Notifications)
			}

			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "skip notifications produced by the replay")

	return cmd
}

package main

import (
	"strings"

	"github.com/spf13/cobra"

	"recoveryops/internal/common/money"
	"recoveryops/internal/ledger"
	"recoveryops/internal/ledger/domain"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Read organization ledger balances",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "balances [organization-id]",
		Short: "List every account balance of an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			balances, err := ledger.NewService(db, logger).GetBalances(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balances)
		},
	})

	cmd.AddCommand(balanceCmd())

	return cmd
}

func balanceCmd() *cobra.Command {
	var currency string

	cmd := &cobra.Command{
		Use:   "balance [organization-id] [account-code]",
		Short: "Show one account balance",
		Long: `Show one account balance.

Account codes: ` + strings.Join([]string{
			string(domain.CashInTransit),
			string(domain.AccountsReceivable),
			string(domain.RefundExpense),
		}, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := domain.AccountCode(args[1])
			if _, err := domain.LookupAccountCode(code); err != nil {
				return err
			}

			ctx := cmd.Context()
			_, db, logger, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			balance, err := ledger.NewService(db, logger).GetAccountBalance(ctx, args[0], code, money.ParseCurrency(currency))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), balance)
		},
	}

	cmd.Flags().StringVar(&currency, "currency", string(money.USD), "account currency")

	return cmd
}

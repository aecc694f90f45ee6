package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every leg group sums to zero",
		Long:  `Runs the double-entry check over the whole ledger. Exit status is 2 when any group is imbalanced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				ok, err := b.Ledger.ValidateDoubleEntry(cmd.Context())

				var imbalance *domain.ImbalanceError
				if err != nil && !errors.As(err, &imbalance) {
					return err
				}

				if err := c.printJSON(dto.ValidateFromResult(ok, imbalance)); err != nil {
					return err
				}
				if !ok {
					return &exitCodeError{code: exitAttention}
				}
				return nil
			})
		},
	}
}

func (c *cli) balancesCmd() *cobra.Command {
	var asOf, root string

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Print the trial balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := optionalEndTime(asOf)
			if err != nil {
				return err
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				report, err := b.Ledger.AccountBalances(cmd.Context(), usecase.BalanceFilter{AsOf: at, Root: root})
				if err != nil {
					return err
				}
				return c.printJSON(dto.BalanceReportFromUseCase(report))
			})
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "Only legs at or before this time")
	cmd.Flags().StringVar(&root, "root", "", "Restrict to one chart root (Assets, Liabilities, Equity, Income, Expenses)")

	return cmd
}

func (c *cli) postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <file.json>",
		Short: "Post one leg group from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var req dto.PostGroupRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			input, err := req.ToUseCaseInput(c.actor)
			if err != nil {
				return err
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				result, err := b.Ledger.Post(cmd.Context(), input)
				if err != nil {
					return err
				}
				return c.printJSON(dto.PostGroupFromResult(result))
			})
		},
	}
}

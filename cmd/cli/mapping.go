package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func (c *cli) mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Chart-of-accounts mapping operations",
	}

	cmd.AddCommand(
		c.mappingShowCmd(),
		c.mappingHistoryCmd(),
		c.mappingUpsertCmd(),
		c.mappingRollbackCmd(),
		c.mappingExportCmd(),
		c.mappingImportCmd(),
	)
	return cmd
}

func (c *cli) mappingShowCmd() *cobra.Command {
	var version int64

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current (or a historical) mapping table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				var (
					table *domain.MappingTable
					err   error
				)
				if cmd.Flags().Changed("version") {
					table, err = b.Mapping.GetVersion(cmd.Context(), version)
				} else {
					table, err = b.Mapping.LoadMappingTable(cmd.Context())
				}
				if err != nil {
					return err
				}
				return c.printJSON(table)
			})
		},
	}

	cmd.Flags().Int64Var(&version, "version", 0, "Historical version to show")
	return cmd
}

func (c *cli) mappingHistoryCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List mapping versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				versions, err := b.Mapping.History(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}

				for _, v := range versions {
					reason := truncate(v.Reason, 40)
					fmt.Fprintf(c.stdout, "%-6d %-25s %-16s %5d  %s\n",
						v.Version, v.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), truncate(v.CreatedBy, 16), v.RuleCount, reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", usecase.DefaultListLimit, "Maximum versions to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Versions to skip")
	return cmd
}

func (c *cli) mappingUpsertCmd() *cobra.Command {
	var (
		ruleKey, account, reason string
		fields                   []string
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Add or replace one mapping rule",
		Long: `Writes a new mapping version with one rule added or replaced. The rule key is
either given with --rule-key or derived from --field key=value pairs
(broker, type, symbol, memo, strategy).`,
		Example: `  botledger mapping upsert --field broker=ALPACA --field type=dividend --account Income:Dividends --reason "initial"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			txn, err := parseFields(fields)
			if err != nil {
				return err
			}

			input := usecase.UpsertRuleInput{
				Context:     txn,
				RuleKey:     ruleKey,
				AccountCode: account,
				Actor:       c.actor,
				Reason:      reason,
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				version, err := b.Mapping.UpsertRule(cmd.Context(), input)
				if err != nil {
					return err
				}
				return c.printJSON(dto.VersionResponse{Version: version})
			})
		},
	}

	cmd.Flags().StringVar(&ruleKey, "rule-key", "", "Explicit rule key")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Transaction field as key=value (repeatable)")
	cmd.Flags().StringVar(&account, "account", "", "Target account code")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the version")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagsOneRequired("rule-key", "field")

	return cmd
}

// parseFields turns key=value pairs into a transaction context.
func parseFields(pairs []string) (domain.TransactionContext, error) {
	if len(pairs) == 0 {
		return domain.TransactionContext{}, nil
	}

	fields := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return domain.TransactionContext{}, fmt.Errorf("invalid field %q: want key=value", p)
		}
		fields[strings.TrimSpace(k)] = v
	}
	return domain.ContextFromFields(fields), nil
}

func (c *cli) mappingRollbackCmd() *cobra.Command {
	var (
		version int64
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore an earlier version's rules as a new version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				v, err := b.Mapping.RollbackMappingVersion(cmd.Context(), version, c.actor, reason)
				if err != nil {
					return err
				}
				return c.printJSON(dto.VersionResponse{Version: v})
			})
		},
	}

	cmd.Flags().Int64Var(&version, "version", 0, "Version to restore")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the new version")
	cmd.MarkFlagRequired("version")

	return cmd
}

func (c *cli) mappingExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current mapping table as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				data, err := b.Mapping.ExportYAML(cmd.Context())
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = c.stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func (c *cli) mappingImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Replace the mapping rules with a YAML document as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				version, err := b.Mapping.ImportYAML(cmd.Context(), data, c.actor)
				if err != nil {
					return err
				}
				return c.printJSON(dto.VersionResponse{Version: version})
			})
		},
	}
}

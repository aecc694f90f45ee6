package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func (c *cli) reconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recon",
		Aliases: []string{"reconciliation"},
		Short:   "Reconciliation log operations",
	}
	cmd.AddCommand(c.reconListCmd(), c.reconSnapshotCmd(), c.reconExportCmd(), c.reconResolveCmd())
	return cmd
}

func (c *cli) reconListCmd() *cobra.Command {
	var (
		start, end, status        string
		syncRunID, tradeID, group string
		limit, offset             int
		asJSON                    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reconciliation entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.ReconFilter{
				SyncRunID: syncRunID,
				TradeID:   tradeID,
				GroupID:   group,
				Limit:     limit,
				Offset:    offset,
			}
			var err error
			if filter.Start, err = optionalTime(start); err != nil {
				return err
			}
			if filter.End, err = optionalEndTime(end); err != nil {
				return err
			}
			if status != "" {
				if filter.Status, err = domain.ParseReconStatus(status); err != nil {
					return err
				}
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				records, err := b.Recon.GetEntries(cmd.Context(), filter)
				if err != nil {
					return err
				}

				if asJSON {
					views := make([]usecase.RecordView, len(records))
					for i, r := range records {
						views[i] = usecase.NewRecordView(r)
					}
					return c.printJSON(views)
				}

				for _, r := range records {
					fmt.Fprintf(c.stdout, "%-26s %-20s %-11s %-20s %s\n",
						r.ID, r.TimestampUTC.UTC().Format(time.RFC3339), r.Status, truncate(r.TradeID, 20), truncate(r.Notes, 50))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Entries at or after this time")
	cmd.Flags().StringVar(&end, "end", "", "Entries at or before this time")
	cmd.Flags().StringVar(&status, "status", "", "ok, mismatch, local-only, broker-only, resolved or rejected")
	cmd.Flags().StringVar(&syncRunID, "sync-run-id", "", "Entries of one sync run")
	cmd.Flags().StringVar(&tradeID, "trade-id", "", "Entries of one trade")
	cmd.Flags().StringVar(&group, "group-id", "", "Entries of one leg group")
	cmd.Flags().IntVar(&limit, "limit", usecase.DefaultListLimit, "Maximum entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func (c *cli) reconSnapshotCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the whole reconciliation log as a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				if out == "" || out == "-" {
					_, err := b.Recon.SnapshotLog(cmd.Context(), c.stdout)
					return err
				}

				f, err := os.Create(out)
				if err != nil {
					return err
				}
				w := bufio.NewWriter(f)

				n, err := b.Recon.SnapshotLog(cmd.Context(), w)
				if err == nil {
					err = w.Flush()
				}
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}

				fmt.Fprintf(c.stderr, "wrote %d entries to %s\n", n, out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func (c *cli) reconExportCmd() *cobra.Command {
	var start, end, syncRunID, group string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export entries of a time window as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := optionalTime(start)
			if err != nil {
				return err
			}
			if from == nil {
				return fmt.Errorf("--start is required")
			}
			to, err := optionalEndTime(end)
			if err != nil {
				return err
			}
			window := usecase.DiffWindow{Start: *from, End: time.Now().UTC(), SyncRunID: syncRunID, GroupID: group}
			if to != nil {
				window.End = *to
			}

			return c.withBackend(cmd, nil, func(b *backend) error {
				data, err := b.Recon.ExportDiffsByWindow(cmd.Context(), window)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.stdout, string(data))
				return err
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start")
	cmd.Flags().StringVar(&end, "end", "", "Window end (default now)")
	cmd.Flags().StringVar(&syncRunID, "sync-run-id", "", "Only one sync run")
	cmd.Flags().StringVar(&group, "group-id", "", "Only one leg group")
	return cmd
}

func (c *cli) reconResolveCmd() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "resolve <entry-id>",
		Short: "Append a resolution for one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				rec, err := b.Recon.Resolve(cmd.Context(), args[0], c.actor, notes)
				if err != nil {
					return err
				}
				return c.printJSON(usecase.NewRecordView(rec))
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Resolution notes")
	return cmd
}

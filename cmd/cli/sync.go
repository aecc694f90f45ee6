package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/adapter/http/handler"
	"github.com/iho/botledger/internal/infrastructure/config"
	"github.com/iho/botledger/internal/usecase"
)

func (c *cli) syncCmd() *cobra.Command {
	var (
		start, end        string
		feedFile, feedURL string
		dryRun            bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch broker activity and book it into the ledger",
		Long: `Fetches trades and cash activity for the window, posts balanced leg groups,
maintains lots and appends reconciliation entries. Prints the run summary as JSON.

Exit status is 0 when everything was posted, 2 when the run was partial or had
rejects, and 1 on error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := usecase.SyncInput{Actor: c.actor, DryRun: dryRun}
			var err error
			if input.Start, err = optionalTime(start); err != nil {
				return err
			}
			if input.End, err = optionalEndTime(end); err != nil {
				return err
			}

			tweak := func(cfg *config.Config) {
				if feedFile != "" {
					cfg.BrokerFeedFile = feedFile
					cfg.BrokerFeedURL = ""
				}
				if feedURL != "" {
					cfg.BrokerFeedURL = feedURL
					cfg.BrokerFeedFile = ""
				}
			}

			return c.withBackend(cmd, tweak, func(b *backend) error {
				summary, err := b.Sync.SyncBrokerLedger(cmd.Context(), input)
				if err != nil {
					return err
				}
				if err := c.printJSON(summary); err != nil {
					return err
				}
				if code := syncExitCode(summary); code != exitOK {
					return &exitCodeError{code: code}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Window start (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&feedFile, "feed-file", "", "Read broker records from a JSON or YAML export")
	cmd.Flags().StringVar(&feedURL, "feed-url", "", "Read broker records from an HTTP feed")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify and reconcile without writing legs or lots")
	cmd.MarkFlagsMutuallyExclusive("feed-file", "feed-url")

	return cmd
}

// syncExitCode is 0 for a fully posted run and for a clean dry run, 2
// otherwise.
func syncExitCode(s *usecase.SyncSummary) int {
	if s.FullyPosted() {
		return exitOK
	}
	if s.Status == usecase.SyncStatusDryRun && s.Rejected == 0 && len(s.Errors) == 0 {
		return exitOK
	}
	return exitAttention
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := handler.ParseTime(s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &t, nil
}

// optionalEndTime parses an inclusive upper bound; a bare date covers the
// whole day.
func optionalEndTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := handler.ParseEndTime(s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &t, nil
}

package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/app"
	"github.com/iho/botledger/internal/infrastructure/config"
	"github.com/iho/botledger/internal/infrastructure/postgres"
)

func (c *cli) snapshotCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Copy every ledger table to CSV files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, nil, func(b *backend) error {
				path, err := b.Snapshots.Snapshot(cmd.Context(), tag)
				if err != nil {
					return err
				}
				return c.printJSON(map[string]string{"path": path})
			})
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "manual", "Label appended to the snapshot directory")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the identity's schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.config()
			if err != nil {
				return err
			}
			return c.migrate(cmd.Context(), cfg, log, down)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back the last migration instead")
	return cmd
}

func runMigrations(ctx context.Context, cfg *config.Config, log zerolog.Logger, down bool) error {
	if !down {
		return app.Migrate(ctx, cfg, log)
	}

	identity, err := cfg.Identity()
	if err != nil {
		return err
	}
	return postgres.RunMigrationsDown(cfg.DatabaseURL, identity.SchemaName(), log)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/botledger/internal/app"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/infrastructure/config"
	"github.com/iho/botledger/internal/infrastructure/logger"
	"github.com/iho/botledger/internal/usecase"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitAttention = 2
)

// exitCodeError carries a non-zero exit code for a command that otherwise
// succeeded and already printed its result.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type ledgerService interface {
	Post(ctx context.Context, input usecase.PostInput) (*usecase.PostResult, error)
	AccountBalances(ctx context.Context, filter usecase.BalanceFilter) (*usecase.BalanceReport, error)
	ValidateDoubleEntry(ctx context.Context) (bool, error)
}

type lotService interface {
	RecordOpen(ctx context.Context, input usecase.OpenLotInput) (string, error)
	Close(ctx context.Context, input usecase.CloseInput) (*domain.CloseSummary, error)
	ListOpenLots(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error)
}

type mappingService interface {
	LoadMappingTable(ctx context.Context) (*domain.MappingTable, error)
	GetVersion(ctx context.Context, version int64) (*domain.MappingTable, error)
	History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error)
	UpsertRule(ctx context.Context, input usecase.UpsertRuleInput) (int64, error)
	RollbackMappingVersion(ctx context.Context, target int64, actor, reason string) (int64, error)
	ExportYAML(ctx context.Context) ([]byte, error)
	ImportYAML(ctx context.Context, data []byte, actor string) (int64, error)
}

type reconService interface {
	GetEntries(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error)
	SnapshotLog(ctx context.Context, w io.Writer) (int, error)
	ExportDiffsByWindow(ctx context.Context, window usecase.DiffWindow) ([]byte, error)
	Resolve(ctx context.Context, entryID, actor, notes string) (*domain.ReconciliationRecord, error)
}

type syncService interface {
	SyncBrokerLedger(ctx context.Context, input usecase.SyncInput) (*usecase.SyncSummary, error)
}

type snapshotter interface {
	Snapshot(ctx context.Context, tag string) (string, error)
}

// backend is the part of a wired ledger the commands use.
type backend struct {
	Ledger    ledgerService
	Lots      lotService
	Mapping   mappingService
	Recon     reconService
	Sync      syncService
	Snapshots snapshotter
	Close     func()
}

// cli holds global flags and the collaborators commands run against.
type cli struct {
	identity string
	actor    string
	logLevel string

	stdout io.Writer
	stderr io.Writer

	loadConfig  func() (*config.Config, error)
	openBackend func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error)
	migrate     func(ctx context.Context, cfg *config.Config, log zerolog.Logger, down bool) error
}

func main() {
	c := newCLI(os.Stdout, os.Stderr)
	os.Exit(c.execute(context.Background(), os.Args[1:]))
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{
		stdout:      stdout,
		stderr:      stderr,
		loadConfig:  config.Load,
		openBackend: openAppBackend,
		migrate:     runMigrations,
	}
}

func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	fmt.Fprintln(c.stderr, "Error:", err)
	return exitError
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "botledger",
		Short:         "Trading bot accounting ledger",
		Long:          `Books broker trades and cash activity into a double-entry ledger with lot tracking, a versioned chart-of-accounts mapping and a reconciliation log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.identity, "identity", "", "Bot identity ENTITY_JURISDICTION_BROKER_BOTID (overrides BOT_IDENTITY)")
	root.PersistentFlags().StringVar(&c.actor, "actor", defaultActor(), "Actor recorded in audit trails")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	root.AddCommand(
		c.syncCmd(),
		c.validateCmd(),
		c.balancesCmd(),
		c.postCmd(),
		c.mappingCmd(),
		c.lotsCmd(),
		c.reconCmd(),
		c.snapshotCmd(),
		c.migrateCmd(),
	)

	return root
}

func defaultActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

// config loads configuration and applies global flag overrides.
func (c *cli) config() (*config.Config, zerolog.Logger, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if c.identity != "" {
		cfg.BotIdentity = c.identity
		if _, err := cfg.Identity(); err != nil {
			return nil, zerolog.Nop(), err
		}
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: c.stderr})
	return cfg, log, nil
}

// withBackend runs fn against a backend opened for the current flags.
// tweak, when set, adjusts the configuration first.
func (c *cli) withBackend(cmd *cobra.Command, tweak func(*config.Config), fn func(*backend) error) error {
	cfg, log, err := c.config()
	if err != nil {
		return err
	}
	if tweak != nil {
		tweak(cfg)
	}

	b, err := c.openBackend(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	if b.Close != nil {
		defer b.Close()
	}

	return fn(b)
}

func openAppBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return nil, err
	}

	return &backend{
		Ledger:    a.Posting,
		Lots:      a.Lots,
		Mapping:   a.Mapping,
		Recon:     a.Reconciliation,
		Sync:      a.Sync,
		Snapshots: a.Snapshots,
		Close:     a.Close,
	}, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

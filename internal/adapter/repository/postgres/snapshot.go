package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SnapshotTables are copied by every snapshot, in this order.
var SnapshotTables = []string{
	"trade_legs",
	"lots",
	"lot_closures",
	"coa_mapping_versions",
	"reconciliation_log",
	"audit_log",
}

const snapshotTimeLayout = "20060102T150405.000000000Z"

var snapshotTagRegex = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// copyFunc streams one table as CSV into w and returns the row count.
type copyFunc func(ctx context.Context, table string, w io.Writer) (int64, error)

// copySession runs fn with a copier whose tables all read from one snapshot
// of the database.
type copySession func(ctx context.Context, fn func(copyFunc) error) error

// SnapshotStore implements usecase.SnapshotStore by copying every ledger
// table of one schema to CSV files under a timestamped directory, next to a
// JSON manifest with the row counts.
type SnapshotStore struct {
	dir       string
	schema    string
	keep      int
	session   copySession
	logger    zerolog.Logger
	now       func() time.Time
	removeAll func(string) error
}

// SnapshotManifest describes one snapshot directory.
type SnapshotManifest struct {
	CreatedAt time.Time        `json:"created_at"`
	Tables    map[string]int64 `json:"tables"`
	Schema    string           `json:"schema"`
	Tag       string           `json:"tag"`
}

// NewSnapshotStore creates a SnapshotStore writing under dir/schema and
// keeping the newest keep snapshots (keep <= 0 keeps all).
func NewSnapshotStore(pool *pgxpool.Pool, schema, dir string, keep int, logger zerolog.Logger) *SnapshotStore {
	return newSnapshotStore(schema, dir, keep, txSession(pool, schema), logger)
}

func newSnapshotStore(schema, dir string, keep int, session copySession, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		dir:       dir,
		schema:    schema,
		keep:      keep,
		session:   session,
		logger:    logger.With().Str("component", "snapshot").Str("schema", schema).Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		removeAll: os.RemoveAll,
	}
}

// txSession copies every table inside one read-only REPEATABLE READ
// transaction, so the files describe a single point in time.
func txSession(pool *pgxpool.Pool, schema string) copySession {
	return func(ctx context.Context, fn func(copyFunc) error) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		conn := tx.Conn().PgConn()
		err = fn(func(ctx context.Context, table string, w io.Writer) (int64, error) {
			sql := fmt.Sprintf(`COPY (SELECT * FROM %s ORDER BY 1) TO STDOUT WITH (FORMAT csv, HEADER true)`,
				pgx.Identifier{schema, table}.Sanitize())
			tag, err := conn.CopyTo(ctx, w, sql)
			if err != nil {
				return 0, err
			}
			return tag.RowsAffected(), nil
		})
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	}
}

// Snapshot copies the store and returns the snapshot directory.
func (s *SnapshotStore) Snapshot(ctx context.Context, tag string) (string, error) {
	created := s.now()
	name := created.Format(snapshotTimeLayout)
	if clean := strings.Trim(snapshotTagRegex.ReplaceAllString(tag, "-"), "-"); clean != "" {
		name += "-" + clean
	}

	root := filepath.Join(s.dir, s.schema)
	path := filepath.Join(root, name)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	manifest := SnapshotManifest{CreatedAt: created, Tables: make(map[string]int64), Schema: s.schema, Tag: tag}
	err := s.session(ctx, func(cp copyFunc) error {
		for _, table := range SnapshotTables {
			n, err := copyTable(ctx, cp, table, filepath.Join(path, table+".csv"))
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", table, err)
			}
			manifest.Tables[table] = n
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(path)
		return "", err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(path, "manifest.json"), data, 0o640); err != nil {
		_ = os.RemoveAll(path)
		return "", fmt.Errorf("write snapshot manifest: %w", err)
	}

	// The snapshot is complete at this point; a failed prune only leaves
	// extra directories behind.
	if err := s.prune(); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("prune snapshots")
	}
	return path, nil
}

func copyTable(ctx context.Context, cp copyFunc, table, file string) (int64, error) {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, err
	}
	n, err := cp(ctx, table, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// List returns snapshot directories, oldest first.
func (s *SnapshotStore) List() ([]string, error) {
	root := filepath.Join(s.dir, s.schema)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Names start with a fixed-width UTC timestamp, so lexical order is
	// chronological.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(root, n)
	}
	return paths, nil
}

func (s *SnapshotStore) prune() error {
	if s.keep <= 0 {
		return nil
	}
	paths, err := s.List()
	if err != nil {
		return err
	}
	for len(paths) > s.keep {
		if err := s.removeAll(paths[0]); err != nil {
			return err
		}
		paths = paths[1:]
	}
	return nil
}

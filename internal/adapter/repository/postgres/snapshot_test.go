package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSession counts sessions so tests can check that one snapshot reads
// every table through the same one.
type fakeSession struct {
	fail     string
	sessions int
}

func (f *fakeSession) run(ctx context.Context, fn func(copyFunc) error) error {
	f.sessions++
	return fn(func(_ context.Context, table string, w io.Writer) (int64, error) {
		if table == f.fail {
			return 0, errors.New("copy failed")
		}
		_, err := fmt.Fprintf(w, "id\n%s-1\n%s-2\n", table, table)
		return 2, err
	})
}

func newTestSnapshotStore(t *testing.T, keep int, fail string) (*SnapshotStore, *time.Time, *fakeSession) {
	t.Helper()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &fakeSession{fail: fail}
	s := newSnapshotStore("ledger_acme_us_alpaca_bot1", t.TempDir(), keep, session.run, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s, &now, session
}

func TestSnapshotStore_Snapshot(t *testing.T) {
	s, _, session := newTestSnapshotStore(t, 0, "")

	path, err := s.Snapshot(context.Background(), "pre sync/1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !strings.HasSuffix(path, "-pre-sync-1") {
		t.Fatalf("unexpected snapshot path %s", path)
	}

	for _, table := range SnapshotTables {
		data, err := os.ReadFile(filepath.Join(path, table+".csv"))
		if err != nil {
			t.Fatalf("read %s: %v", table, err)
		}
		if !strings.Contains(string(data), table+"-2") {
			t.Fatalf("%s.csv missing rows: %q", table, data)
		}
	}

	raw, err := os.ReadFile(filepath.Join(path, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m SnapshotManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.Tag != "pre sync/1" || m.Tables["trade_legs"] != 2 || len(m.Tables) != len(SnapshotTables) {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if session.sessions != 1 {
		t.Fatalf("expected all tables copied in one session, got %d", session.sessions)
	}
}

func TestSnapshotStore_KeepsNewest(t *testing.T) {
	s, now, _ := newTestSnapshotStore(t, 2, "")

	var paths []string
	for i := 0; i < 4; i++ {
		*now = now.Add(time.Minute)
		p, err := s.Snapshot(context.Background(), "sync")
		if err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		paths = append(paths, p)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != paths[2] || got[1] != paths[3] {
		t.Fatalf("expected the two newest snapshots, got %v", got)
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Fatalf("oldest snapshot should be pruned, stat err=%v", err)
	}
}

func TestSnapshotStore_CopyFailureRemovesDirectory(t *testing.T) {
	s, _, _ := newTestSnapshotStore(t, 0, "lots")

	if _, err := s.Snapshot(context.Background(), "sync"); err == nil {
		t.Fatal("expected copy error")
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("partial snapshot left behind: %v", got)
	}
}

func TestSnapshotStore_ListMissingDir(t *testing.T) {
	s := newSnapshotStore("schema", filepath.Join(t.TempDir(), "missing"), 3, (&fakeSession{}).run, zerolog.Nop())

	got, err := s.List()
	if err != nil || got != nil {
		t.Fatalf("expected empty list, got %v, %v", got, err)
	}
}

func TestSnapshotStore_PruneFailureKeepsSnapshot(t *testing.T) {
	s, now, _ := newTestSnapshotStore(t, 1, "")
	var logs strings.Builder
	s.logger = zerolog.New(&logs)
	s.removeAll = func(string) error { return errors.New("device busy") }

	first, err := s.Snapshot(context.Background(), "sync")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	*now = now.Add(time.Minute)
	second, err := s.Snapshot(context.Background(), "sync")
	if err != nil {
		t.Fatalf("prune failure should not fail the snapshot: %v", err)
	}
	if second == "" || second == first {
		t.Fatalf("unexpected snapshot path %q", second)
	}
	if _, err := os.Stat(filepath.Join(second, "manifest.json")); err != nil {
		t.Fatalf("snapshot incomplete: %v", err)
	}
	if !strings.Contains(logs.String(), "device busy") {
		t.Fatalf("expected prune warning, got %q", logs.String())
	}
}

// Package counterdb persists the per-split batch sequence counters that name
// batch files, backed by a sqlite database stored alongside the output
// directory. The central invariant: after any Resync, next_sequence equals
// 1 + max(sequence numbers of batch files on disk for that split), which is
// what prevents filename collisions or gaps after manual file deletion or a
// directory switch.
package counterdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skyward-data/depthcap/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFileName is the counter database filename, created alongside the output
// directory.
const DBFileName = "counters.db"

// Store is the persisted counter store. Safe for concurrent use; the writer
// goroutines call Next while the admin surface reads Counters.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the counter database at path and runs any
// pending schema migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create counter db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open counter db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// Note: we don't close m because it would close the underlying DB
	// connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Next returns the next sequence number for split and persists the
// increment, in one transaction. Called by the batch writer immediately
// before naming a batch file.
func (s *Store) Next(split string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRow(`SELECT next_sequence FROM split_counters WHERE split = ?`, split).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		seq = 1
		if _, err := tx.Exec(`INSERT INTO split_counters (split, next_sequence) VALUES (?, ?)`, split, seq+1); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if _, err := tx.Exec(
			`UPDATE split_counters SET next_sequence = ?, updated_at = CURRENT_TIMESTAMP WHERE split = ?`,
			seq+1, split); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// Peek returns the next sequence number for split without consuming it.
func (s *Store) Peek(split string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int64
	err := s.db.QueryRow(`SELECT next_sequence FROM split_counters WHERE split = ?`, split).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Resync reconciles the persisted counter for split against the batch files
// actually present in dir, setting next_sequence to 1 + the highest sequence
// found (1 if none). Idempotent. Must run whenever a new capture session
// begins, the output directory changes, or batches are removed.
func (s *Store) Resync(split, dir string) (int64, error) {
	matches, err := filepath.Glob(batchGlob(dir, split))
	if err != nil {
		return 0, fmt.Errorf("scan %s for %s batches: %w", dir, split, err)
	}
	var maxSeq int64
	for _, m := range matches {
		if seq, ok := parseBatchSeq(m, split); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	next := maxSeq + 1

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO split_counters (split, next_sequence) VALUES (?, ?)
		ON CONFLICT(split) DO UPDATE SET next_sequence = excluded.next_sequence, updated_at = CURRENT_TIMESTAMP`,
		split, next)
	if err != nil {
		return 0, fmt.Errorf("persist resynced counter for %s: %w", split, err)
	}
	monitoring.Logf("counterdb: resynced %s counter to %d against %s", split, next, dir)
	return next, nil
}

// ClearSplit removes every batch file of split from dir and resyncs the
// counter. Returns the number of files removed. The caller is responsible for
// the stopped-simulation interlock; this function only does the removal and
// the mandatory resync that follows it.
func (s *Store) ClearSplit(split, dir string) (int, error) {
	matches, err := filepath.Glob(batchGlob(dir, split))
	if err != nil {
		return 0, fmt.Errorf("scan %s for %s batches: %w", dir, split, err)
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return removed, fmt.Errorf("remove %s: %w", m, err)
		}
		removed++
	}
	if _, err := s.Resync(split, dir); err != nil {
		return removed, err
	}
	monitoring.Logf("counterdb: removed %d %s batch files from %s", removed, split, dir)
	return removed, nil
}

// BeginSession records a new capture session and returns its identifier.
func (s *Store) BeginSession(outputDir string) (uuid.UUID, error) {
	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`INSERT INTO sessions (id, output_dir) VALUES (?, ?)`, id.String(), outputDir); err != nil {
		return uuid.Nil, fmt.Errorf("record session: %w", err)
	}
	return id, nil
}

// Counters returns the current next_sequence for every known split.
func (s *Store) Counters() (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT split, next_sequence FROM split_counters ORDER BY split`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var split string
		var seq int64
		if err := rows.Scan(&split, &seq); err != nil {
			return nil, err
		}
		out[split] = seq
	}
	return out, rows.Err()
}

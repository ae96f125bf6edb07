// Package sqlite persists offsets in an embedded SQLite database. Reads are
// served from memory; every change is written through before it returns.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"offsetcore/internal/infra/persistence/memory"
	"offsetcore/pkg/domain"
)

var _ domain.OffsetRepository = (*Store)(nil)

const schema = `CREATE TABLE IF NOT EXISTS labware_offsets (
	id TEXT PRIMARY KEY,
	definition_uri TEXT NOT NULL,
	location TEXT NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	z REAL NOT NULL,
	created_at TEXT NOT NULL
)`

// Store is a write-through SQLite offset repository.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) the database at path and loads every
// stored offset.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "offsetcore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create offsets table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, definition_uri, location, x, y, z, created_at FROM labware_offsets`)
	if err != nil {
		return fmt.Errorf("select offsets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Offsets: make(map[string]domain.PersistedOffset)}
	for rows.Next() {
		var (
			p        domain.PersistedOffset
			location string
			created  string
		)
		if err := rows.Scan(&p.ID, &p.DefinitionURI, &location, &p.Vector.X, &p.Vector.Y, &p.Vector.Z, &created); err != nil {
			return fmt.Errorf("scan offset: %w", err)
		}
		var rec domain.LocationRecord
		if err := json.Unmarshal([]byte(location), &rec); err != nil {
			return fmt.Errorf("decode location of %s: %w", p.ID, err)
		}
		if p.Location, err = rec.Location(); err != nil {
			return fmt.Errorf("decode location of %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return fmt.Errorf("decode created_at of %s: %w", p.ID, err)
		}
		snapshot.Offsets[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate offsets: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// ApplyOffsets stores reqs and writes them through to SQLite. If the write
// fails the in-memory state is restored.
func (s *Store) ApplyOffsets(ctx context.Context, reqs []domain.OffsetApplyRequest) ([]domain.PersistedOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	applied, err := s.Apply(ctx, reqs)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, applied.Replaced, applied.Offsets); err != nil {
		s.ImportState(before)
		return nil, err
	}
	return applied.Offsets, nil
}

// DeleteOffsets removes ids from memory and SQLite.
func (s *Store) DeleteOffsets(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	removed, err := s.Delete(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.write(ctx, removed, nil); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, deletes []string, inserts []domain.PersistedOffset) (retErr error) {
	if len(deletes) == 0 && len(inserts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM labware_offsets WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	for _, p := range inserts {
		location, err := json.Marshal(domain.RecordFor(p.Location))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO labware_offsets(id, definition_uri, location, x, y, z, created_at) VALUES(?,?,?,?,?,?,?)`,
			p.ID, p.DefinitionURI, string(location), p.Vector.X, p.Vector.Y, p.Vector.Z, p.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Package postgres persists offsets in PostgreSQL through the pgx
// database/sql driver, serving reads from memory like the SQLite store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"offsetcore/internal/infra/persistence/memory"
	"offsetcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.OffsetRepository = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/offsetcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists offsets to Postgres while reusing the in-memory repository
// for reads and validation.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed repository using dsn (falls back to
// defaultDSN), ensures the offsets table exists and loads its rows.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS labware_offsets (
		id TEXT PRIMARY KEY,
		definition_uri TEXT NOT NULL,
		location JSONB NOT NULL,
		x DOUBLE PRECISION NOT NULL,
		y DOUBLE PRECISION NOT NULL,
		z DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure offsets table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, definition_uri, location, x, y, z, created_at FROM labware_offsets`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select offsets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Offsets: make(map[string]domain.PersistedOffset)}
	for rows.Next() {
		var (
			p        domain.PersistedOffset
			location []byte
		)
		if err := rows.Scan(&p.ID, &p.DefinitionURI, &location, &p.Vector.X, &p.Vector.Y, &p.Vector.Z, &p.CreatedAt); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan offset: %w", err)
		}
		var rec domain.LocationRecord
		if err := json.Unmarshal(location, &rec); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode location of %s: %w", p.ID, err)
		}
		if p.Location, err = rec.Location(); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode location of %s: %w", p.ID, err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		snapshot.Offsets[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate offsets: %w", err)
	}
	return snapshot, nil
}

// ApplyOffsets stores reqs and writes them through to Postgres. If the
// write fails the in-memory state is restored.
func (s *Store) ApplyOffsets(ctx context.Context, reqs []domain.OffsetApplyRequest) ([]domain.PersistedOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	applied, err := s.Apply(ctx, reqs)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, applied.Replaced, applied.Offsets); err != nil {
		s.ImportState(before)
		return nil, err
	}
	return applied.Offsets, nil
}

// DeleteOffsets removes ids from memory and Postgres.
func (s *Store) DeleteOffsets(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	removed, err := s.Delete(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.persist(ctx, removed, nil); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

func (s *Store) persist(ctx context.Context, deletes []string, inserts []domain.PersistedOffset) error {
	if len(deletes) == 0 && len(inserts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM labware_offsets WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	for _, p := range inserts {
		location, err := json.Marshal(domain.RecordFor(p.Location))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO labware_offsets(id, definition_uri, location, x, y, z, created_at) VALUES($1,$2,$3,$4,$5,$6,$7) ON CONFLICT(id) DO UPDATE SET location=EXCLUDED.location, x=EXCLUDED.x, y=EXCLUDED.y, z=EXCLUDED.z, created_at=EXCLUDED.created_at`,
			p.ID, p.DefinitionURI, location, p.Vector.X, p.Vector.Y, p.Vector.Z, p.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding recent directories and the
// history of started renders.
type Store struct {
	mu   sync.Mutex // pgx.Conn is not safe for concurrent use
	conn *pgx.Conn
}

// SessionRecord is one selection handed to the start collaborator.
type SessionRecord struct {
	ID         string
	Source     string
	Target     string
	Output     string
	Kind       string
	Processors []string
	StartedAt  time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS recent_directories (
			profile TEXT NOT NULL,
			slot TEXT NOT NULL,
			dir TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (profile, slot)
		);
		CREATE TABLE IF NOT EXISTS preview_sessions (
			id TEXT PRIMARY KEY,
			source_path TEXT NOT NULL,
			target_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			kind TEXT NOT NULL,
			processors TEXT[] NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS preview_sessions_started_at_idx ON preview_sessions (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// RecentDirectory is one remembered directory.
type RecentDirectory struct {
	Profile   string
	Slot      preview.Slot
	Dir       string
	UpdatedAt time.Time
}

// Remember stores dir as the most recent directory for slot under profile.
func (s *Store) Remember(ctx context.Context, profile string, slot preview.Slot, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO recent_directories (profile, slot, dir, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (profile, slot) DO UPDATE SET dir = EXCLUDED.dir, updated_at = NOW()
	`, profile, string(slot), dir)
	return err
}

// Recent returns the last directory remembered for slot under profile, or "" if none.
func (s *Store) Recent(ctx context.Context, profile string, slot preview.Slot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dir string
	err := s.conn.QueryRow(ctx, "SELECT dir FROM recent_directories WHERE profile = $1 AND slot = $2",
		profile, string(slot)).Scan(&dir)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return dir, err
}

// ListRecent returns every remembered directory ordered by profile and slot.
func (s *Store) ListRecent(ctx context.Context) ([]RecentDirectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, "SELECT profile, slot, dir, updated_at FROM recent_directories ORDER BY profile, slot")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecentDirectory
	for rows.Next() {
		var r RecentDirectory
		var slot string
		if err := rows.Scan(&r.Profile, &slot, &r.Dir, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Slot = preview.Slot(slot)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Directories scopes the recent-directory memory to one profile.
func (s *Store) Directories(profile string) *ProfileDirectories {
	return &ProfileDirectories{store: s, profile: profile}
}

// ProfileDirectories is the preview.DirectoryMemory of a single profile.
type ProfileDirectories struct {
	store   *Store
	profile string
}

func (d *ProfileDirectories) Remember(ctx context.Context, slot preview.Slot, dir string) error {
	return d.store.Remember(ctx, d.profile, slot, dir)
}

func (d *ProfileDirectories) Recent(ctx context.Context, slot preview.Slot) (string, error) {
	return d.store.Recent(ctx, d.profile, slot)
}

// RecordSession saves a started render under id.
func (s *Store) RecordSession(ctx context.Context, id string, sel preview.Selection) error {
	processors := sel.Settings.Processors
	if processors == nil {
		processors = []string{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO preview_sessions (id, source_path, target_path, output_path, kind, processors)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, sel.Source, sel.Target, sel.Output, sel.Kind.String(), processors)
	return err
}

// ListSessions returns up to limit sessions, newest first. limit <= 0 means all.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := `SELECT id, source_path, target_path, output_path, kind, processors, started_at
		FROM preview_sessions ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.Source, &r.Target, &r.Output, &r.Kind, &r.Processors, &r.StartedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS preview_sessions CASCADE;
		DROP TABLE IF EXISTS recent_directories CASCADE;
	`)
	return err
}

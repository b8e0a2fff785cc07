package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/sensecraft-core/internal/session"
)

// Repository persists entries.
type Repository interface {
	// Get returns ErrEntryNotFound if id does not exist.
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	// Create returns ErrEntryExists if id is taken.
	Create(ctx context.Context, e *Entry) error
	// Upsert creates the entry or replaces its kind, title and data.
	Upsert(ctx context.Context, e *Entry) error
	// UpdateData replaces an entry's data. Returns ErrEntryNotFound if id does not exist.
	UpdateData(ctx context.Context, id string, data []byte) error
	// Delete returns ErrEntryNotFound if id does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository over the config_entries table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const selectEntry = `SELECT id, kind, title, data, disabled, created_at, updated_at FROM config_entries`

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectEntry+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("querying entry %s: %w", id, err)
	}
	return e, nil
}

// List implements Repository, ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntry+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return out, nil
}

// Create implements Repository.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := r.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config_entries (id, kind, title, data, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Title, string(e.data()), boolInt(e.Disabled),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEntryExists
		}
		return fmt.Errorf("inserting entry %s: %w", e.ID, err)
	}
	return nil
}

// Upsert implements Repository. Disabled and CreatedAt of an existing row are kept.
func (r *SQLiteRepository) Upsert(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config_entries (id, kind, title, data, disabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		e.ID, string(e.Kind), e.Title, string(e.data()), boolInt(e.Disabled),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting entry %s: %w", e.ID, err)
	}
	return nil
}

// UpdateData implements Repository.
func (r *SQLiteRepository) UpdateData(ctx context.Context, id string, data []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE config_entries SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating entry %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM config_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows for %s: %w", id, err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                Entry
		kind, data       string
		disabled         int
		created, updated string
	)
	if err := s.Scan(&e.ID, &kind, &e.Title, &data, &disabled, &created, &updated); err != nil {
		return nil, err
	}
	e.Kind = session.Kind(kind)
	e.Data = []byte(data)
	e.Disabled = disabled != 0
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created) //nolint:errcheck // written by formatTime
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated) //nolint:errcheck // written by formatTime
	return &e, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

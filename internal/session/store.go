package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/store"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions in Postgres.
type Store struct {
	db store.Querier
}

// NewStore creates a store.
func NewStore(db store.Querier) *Store {
	return &Store{db: db}
}

const sessionColumns = `id, title, policy, require_location, start_at, end_at, expires_at, created_by, created_at`

// Create opens a new session. The ttl is clamped to [1, 1440] minutes and
// unknown policies default to whitelist.
func (s *Store) Create(ctx context.Context, title string, policy Policy, requireLocation bool, ttlMinutes int, createdBy string) (*Session, error) {
	ttl := ClampTTLMinutes(ttlMinutes)
	if createdBy == "" {
		createdBy = "admin"
	}
	sess := &Session{
		ID:              uuid.NewString(),
		Title:           title,
		Policy:          policy,
		RequireLocation: requireLocation,
		ExpiresAt:       time.Now().Add(time.Duration(ttl) * time.Minute),
		CreatedBy:       createdBy,
	}
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO sessions (id, title, policy, require_location, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING start_at, created_at
	`, sess.ID, sess.Title, sess.Policy, sess.RequireLocation, sess.ExpiresAt, sess.CreatedBy)
	if err := row.Scan(&sess.StartAt, &sess.CreatedAt); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a session by id, ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	return scanSession(row)
}

// FindActive returns the most recently created session that is neither
// closed nor expired, or nil when there is none. More than one session may
// technically be active; the newest wins.
func (s *Store) FindActive(ctx context.Context) (*Session, error) {
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE end_at IS NULL AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`)
	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// Close marks the session ended now. Closing an already-closed session just
// rewrites end_at.
func (s *Store) Close(ctx context.Context, id string) (*Session, error) {
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		UPDATE sessions SET end_at = NOW() WHERE id = $1
		RETURNING `+sessionColumns+`
	`, id)
	return scanSession(row)
}

// List returns sessions newest-first.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := store.From(ctx, s.db).QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Policy, &sess.RequireLocation,
			&sess.StartAt, &sess.EndAt, &sess.ExpiresAt, &sess.CreatedBy, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.Title, &sess.Policy, &sess.RequireLocation,
		&sess.StartAt, &sess.EndAt, &sess.ExpiresAt, &sess.CreatedBy, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Package settings holds the singleton course configuration row.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"qrattend/internal/store"
)

// Settings is the single course/location configuration record.
type Settings struct {
	OrgTitle        string    `json:"orgTitle"`
	CourseTitle     string    `json:"courseTitle"`
	RequireLocation bool      `json:"requireLocation"`
	ClassLat        float64   `json:"classLat"`
	ClassLng        float64   `json:"classLng"`
	RadiusMeters    float64   `json:"radiusMeters"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Defaults seeds the row when it does not exist yet.
type Defaults struct {
	OrgTitle        string
	CourseTitle     string
	RequireLocation bool
	ClassLat        float64
	ClassLng        float64
	RadiusMeters    float64
}

// Store reads and writes the settings singleton.
type Store struct {
	db       store.Querier
	defaults Defaults
}

// NewStore creates a store seeded with defaults for lazy creation.
func NewStore(db store.Querier, defaults Defaults) *Store {
	return &Store{db: db, defaults: defaults}
}

const settingsColumns = `org_title, course_title, require_location, class_lat, class_lng, radius_meters, updated_at`

// Current returns the settings row, creating it with defaults when absent.
func (s *Store) Current(ctx context.Context) (Settings, error) {
	q := store.From(ctx, s.db)
	row := q.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`)
	cfg, err := scanSettings(row)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, err
	}

	// Lazily seed; a concurrent seeder may win, so read back on conflict.
	row = q.QueryRowContext(ctx, `
		INSERT INTO settings (id, org_title, course_title, require_location, class_lat, class_lng, radius_meters)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET id = settings.id
		RETURNING `+settingsColumns,
		s.defaults.OrgTitle, s.defaults.CourseTitle, s.defaults.RequireLocation,
		s.defaults.ClassLat, s.defaults.ClassLng, s.defaults.RadiusMeters)
	return scanSettings(row)
}

// Update patches provided fields and returns the new state.
type Update struct {
	OrgTitle        *string  `json:"orgTitle"`
	CourseTitle     *string  `json:"courseTitle"`
	RequireLocation *bool    `json:"requireLocation"`
	ClassLat        *float64 `json:"classLat"`
	ClassLng        *float64 `json:"classLng"`
	RadiusMeters    *float64 `json:"radiusMeters"`
}

// Apply writes an update to the singleton, creating it first if needed.
func (s *Store) Apply(ctx context.Context, u Update) (Settings, error) {
	if _, err := s.Current(ctx); err != nil {
		return Settings{}, err
	}
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		UPDATE settings SET
			org_title = COALESCE($1, org_title),
			course_title = COALESCE($2, course_title),
			require_location = COALESCE($3, require_location),
			class_lat = COALESCE($4, class_lat),
			class_lng = COALESCE($5, class_lng),
			radius_meters = COALESCE($6, radius_meters),
			updated_at = NOW()
		WHERE id = 1
		RETURNING `+settingsColumns,
		u.OrgTitle, u.CourseTitle, u.RequireLocation, u.ClassLat, u.ClassLng, u.RadiusMeters)
	return scanSettings(row)
}

func scanSettings(row *sql.Row) (Settings, error) {
	var cfg Settings
	err := row.Scan(&cfg.OrgTitle, &cfg.CourseTitle, &cfg.RequireLocation,
		&cfg.ClassLat, &cfg.ClassLng, &cfg.RadiusMeters, &cfg.UpdatedAt)
	return cfg, err
}

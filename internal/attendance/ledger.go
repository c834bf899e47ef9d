package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"qrattend/internal/store"
)

// Ledger persists attendance records in Postgres. The unique indexes on
// (session_id, university_roll_no) and (session_id, device_fingerprint) are
// the authority on duplicates; pre-checks only exist for friendlier errors.
type Ledger struct {
	db store.Querier
}

// NewLedger creates a ledger.
func NewLedger(db store.Querier) *Ledger {
	return &Ledger{db: db}
}

const recordColumns = `id, session_id, name, university_roll_no, section, class_roll_no,
	date, time, lat, lng, device_fingerprint, status, student_id, distance_from_class, manual, note, created_at`

// Exists reports whether the student already has a record in the session.
func (l *Ledger) Exists(ctx context.Context, sessionID, rollNo string) (bool, error) {
	var found bool
	err := store.From(ctx, l.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE session_id = $1 AND university_roll_no = $2)
	`, sessionID, rollNo).Scan(&found)
	return found, err
}

// DeviceExists reports whether the fingerprint already checked in to the session.
func (l *Ledger) DeviceExists(ctx context.Context, sessionID, fingerprint string) (bool, error) {
	var found bool
	err := store.From(ctx, l.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE session_id = $1 AND device_fingerprint = $2)
	`, sessionID, fingerprint).Scan(&found)
	return found, err
}

// Insert writes a record. Unique-index violations come back as typed
// duplicate errors so a race between pre-check and insert still yields the
// right kind.
func (l *Ledger) Insert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = "present"
	}
	var lat, lng *float64
	if rec.Location != nil {
		lat, lng = &rec.Location.Lat, &rec.Location.Lng
	}
	row := store.From(ctx, l.db).QueryRowContext(ctx, `
		INSERT INTO attendance (id, session_id, name, university_roll_no, section, class_roll_no,
			date, time, lat, lng, device_fingerprint, status, student_id, distance_from_class, manual, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.Name, rec.UniversityRollNo, rec.Section, rec.ClassRollNo,
		rec.Date, rec.Time, lat, lng, rec.DeviceFingerprint, rec.Status, rec.StudentID,
		rec.DistanceFromClass, rec.Manual, rec.Note)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return translateUnique(err)
	}
	return nil
}

// Get returns a record by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	row := store.From(ctx, l.db).QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance WHERE id = $1
	`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(KindNotFound, "attendance record not found")
	}
	return rec, err
}

// UpdateFields is the set of admin-correctable columns; nil leaves a column as is.
type UpdateFields struct {
	Name        *string `json:"name"`
	Section     *string `json:"section"`
	ClassRollNo *string `json:"classRollNo"`
	Status      *string `json:"status"`
	Time        *string `json:"time"`
	Date        *string `json:"date"`
	Note        *string `json:"note"`
}

// Empty reports whether the update changes nothing.
func (u UpdateFields) Empty() bool {
	return u.Name == nil && u.Section == nil && u.ClassRollNo == nil &&
		u.Status == nil && u.Time == nil && u.Date == nil && u.Note == nil
}

// Update applies an admin correction.
func (l *Ledger) Update(ctx context.Context, id string, u UpdateFields) (*Record, error) {
	row := store.From(ctx, l.db).QueryRowContext(ctx, `
		UPDATE attendance SET
			name = COALESCE($2, name),
			section = COALESCE($3, section),
			class_roll_no = COALESCE($4, class_roll_no),
			status = COALESCE($5, status),
			time = COALESCE($6, time),
			date = COALESCE($7, date),
			note = COALESCE($8, note)
		WHERE id = $1
		RETURNING `+recordColumns+`
	`, id, u.Name, u.Section, u.ClassRollNo, u.Status, u.Time, u.Date, u.Note)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(KindNotFound, "attendance record not found")
	}
	if err != nil {
		return nil, translateUnique(err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	res, err := store.From(ctx, l.db).ExecContext(ctx, `DELETE FROM attendance WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return newError(KindNotFound, "attendance record not found")
	}
	return nil
}

// ListFilter narrows List results; zero values match everything.
type ListFilter struct {
	SessionID string
	RollNo    string
	Date      string
	Status    string
	Limit     int
}

// List returns records newest-first.
func (l *Ledger) List(ctx context.Context, f ListFilter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	query := `SELECT ` + recordColumns + ` FROM attendance`
	var clauses []string
	var args []any
	add := func(clause string, val any) {
		args = append(args, val)
		clauses = append(clauses, strings.Replace(clause, "?", placeholder(len(args)), 1))
	}
	if f.SessionID != "" {
		add("session_id = ?", f.SessionID)
	}
	if f.RollNo != "" {
		add("university_roll_no = ?", f.RollNo)
	}
	if f.Date != "" {
		add("date = ?", f.Date)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, f.Limit)
	query += " ORDER BY date DESC, time DESC LIMIT " + placeholder(len(args))

	rows, err := store.From(ctx, l.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// FingerprintReuse returns the distinct roll numbers other than rollNo that
// used the same device fingerprint in any session. Consumed by the audit
// worker to flag device sharing across students.
func (l *Ledger) FingerprintReuse(ctx context.Context, fingerprint, rollNo string) ([]string, error) {
	rows, err := store.From(ctx, l.db).QueryContext(ctx, `
		SELECT DISTINCT university_roll_no FROM attendance
		WHERE device_fingerprint = $1 AND university_roll_no <> $2
		ORDER BY university_roll_no
	`, fingerprint, rollNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var roll string
		if err := rows.Scan(&roll); err != nil {
			return nil, err
		}
		out = append(out, roll)
	}
	return out, rows.Err()
}

// SetNote stores an audit annotation on a record.
func (l *Ledger) SetNote(ctx context.Context, id, note string) error {
	_, err := store.From(ctx, l.db).ExecContext(ctx, `
		UPDATE attendance SET note = $2 WHERE id = $1
	`, id, note)
	return err
}

// Dates returns the distinct calendar dates that have records.
func (l *Ledger) Dates(ctx context.Context) ([]string, error) {
	rows, err := store.From(ctx, l.db).QueryContext(ctx, `
		SELECT DISTINCT date FROM attendance ORDER BY date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Purge deletes all attendance records and returns the count.
func (l *Ledger) Purge(ctx context.Context) (int64, error) {
	res, err := store.From(ctx, l.db).ExecContext(ctx, `DELETE FROM attendance`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecord(scan func(...any) error) (*Record, error) {
	var rec Record
	var lat, lng *float64
	err := scan(&rec.ID, &rec.SessionID, &rec.Name, &rec.UniversityRollNo, &rec.Section,
		&rec.ClassRollNo, &rec.Date, &rec.Time, &lat, &lng, &rec.DeviceFingerprint,
		&rec.Status, &rec.StudentID, &rec.DistanceFromClass, &rec.Manual, &rec.Note, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		rec.Location = &Location{Lat: *lat, Lng: *lng}
	}
	return &rec, nil
}

// translateUnique maps unique-index violations to the duplicate kinds the
// coordinator treats as authoritative.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "attendance_session_roll_uq":
		return newError(KindDuplicateCheckIn, "attendance already recorded for this session")
	case "attendance_session_device_uq":
		return newError(KindDuplicateDevice, "this device already checked in for this session")
	default:
		return newError(KindConflict, "attendance record conflicts with an existing one")
	}
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

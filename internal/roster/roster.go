// Package roster is the directory of registered students.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"qrattend/internal/store"
)

var (
	// ErrNotFound is returned when a roll number is not registered.
	ErrNotFound = errors.New("student not found")
	// ErrDuplicate is returned when a roll number is already registered.
	ErrDuplicate = errors.New("student already registered")
	// ErrBadRollNo is returned for roll numbers that are not 9 digits.
	ErrBadRollNo = errors.New("roll number must be a 9-digit number")
)

var rollRe = regexp.MustCompile(`^\d{9}$`)

// ValidRollNo reports whether s is a well-formed university roll number.
func ValidRollNo(s string) bool {
	return rollRe.MatchString(s)
}

// Student is one roster entry.
type Student struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	UniversityRollNo string    `json:"universityRollNo"`
	Section          string    `json:"section"`
	ClassRollNo      string    `json:"classRollNo"`
	RegisteredAt     time.Time `json:"registeredAt"`
}

// Store persists the roster in Postgres.
type Store struct {
	db store.Querier
}

// NewStore creates a store.
func NewStore(db store.Querier) *Store {
	return &Store{db: db}
}

const studentColumns = `id, name, university_roll_no, section, class_roll_no, registered_at`

// FindByRollNo looks a student up by roll number. This is the single lookup
// the check-in path consumes.
func (s *Store) FindByRollNo(ctx context.Context, rollNo string) (*Student, error) {
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+studentColumns+` FROM students WHERE university_roll_no = $1
	`, rollNo)
	return scanStudent(row)
}

// Create registers a student.
func (s *Store) Create(ctx context.Context, st *Student) (*Student, error) {
	if !ValidRollNo(st.UniversityRollNo) {
		return nil, ErrBadRollNo
	}
	st.ID = uuid.NewString()
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO students (id, name, university_roll_no, section, class_roll_no)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING registered_at
	`, st.ID, strings.TrimSpace(st.Name), st.UniversityRollNo, strings.TrimSpace(st.Section), strings.TrimSpace(st.ClassRollNo))
	if err := row.Scan(&st.RegisteredAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return st, nil
}

// Update modifies an existing student addressed by roll number.
func (s *Store) Update(ctx context.Context, rollNo string, name, section, classRollNo *string) (*Student, error) {
	row := store.From(ctx, s.db).QueryRowContext(ctx, `
		UPDATE students SET
			name = COALESCE($2, name),
			section = COALESCE($3, section),
			class_roll_no = COALESCE($4, class_roll_no)
		WHERE university_roll_no = $1
		RETURNING `+studentColumns+`
	`, rollNo, trimmed(name), trimmed(section), trimmed(classRollNo))
	return scanStudent(row)
}

// Delete removes a student.
func (s *Store) Delete(ctx context.Context, rollNo string) error {
	res, err := store.From(ctx, s.db).ExecContext(ctx, `
		DELETE FROM students WHERE university_roll_no = $1
	`, rollNo)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns students filtered by section and a name/roll substring search.
func (s *Store) List(ctx context.Context, section, search string) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	var clauses []string
	var args []any
	if section != "" {
		args = append(args, section)
		clauses = append(clauses, "section = $1")
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		pos := "$2"
		if len(args) == 1 {
			pos = "$1"
		}
		clauses = append(clauses, "(name ILIKE "+pos+" OR university_roll_no LIKE "+pos+")")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY university_roll_no"

	rows, err := store.From(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.UniversityRollNo, &st.Section, &st.ClassRollNo, &st.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Sections returns the distinct non-empty section names.
func (s *Store) Sections(ctx context.Context) ([]string, error) {
	rows, err := store.From(ctx, s.db).QueryContext(ctx, `
		SELECT DISTINCT section FROM students WHERE section <> '' ORDER BY section
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sec string
		if err := rows.Scan(&sec); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// ImportRow is one row of a bulk import.
type ImportRow struct {
	Name             string `json:"name"`
	UniversityRollNo string `json:"universityRollNo"`
	Section          string `json:"section"`
	ClassRollNo      string `json:"classRollNo"`
}

// Import upserts rows by roll number and reports how many were written and
// which rows were rejected for malformed roll numbers.
func (s *Store) Import(ctx context.Context, rows []ImportRow) (written int, rejected []string, err error) {
	q := store.From(ctx, s.db)
	for _, r := range rows {
		if !ValidRollNo(r.UniversityRollNo) || strings.TrimSpace(r.Name) == "" {
			rejected = append(rejected, r.UniversityRollNo)
			continue
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO students (id, name, university_roll_no, section, class_roll_no)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (university_roll_no) DO UPDATE SET
				name = EXCLUDED.name,
				section = EXCLUDED.section,
				class_roll_no = EXCLUDED.class_roll_no
		`, uuid.NewString(), strings.TrimSpace(r.Name), r.UniversityRollNo,
			strings.TrimSpace(r.Section), strings.TrimSpace(r.ClassRollNo))
		if err != nil {
			return written, rejected, err
		}
		written++
	}
	return written, rejected, nil
}

// Purge deletes every student and returns the count.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := store.From(ctx, s.db).ExecContext(ctx, `DELETE FROM students`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanStudent(row *sql.Row) (*Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.Name, &st.UniversityRollNo, &st.Section, &st.ClassRollNo, &st.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}

package attendance

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/geo"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/settings"
)

// TokenValidator is the scan-token registry as the coordinator sees it.
type TokenValidator interface {
	Validate(token string) bool
	ResolveSession(token string) string
}

// SessionGetter resolves durable sessions.
type SessionGetter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// RosterLookup resolves students by roll number.
type RosterLookup interface {
	FindByRollNo(ctx context.Context, rollNo string) (*roster.Student, error)
}

// SettingsSource provides the current course settings.
type SettingsSource interface {
	Current(ctx context.Context) (settings.Settings, error)
}

// LedgerStore is the duplicate-guarded record store.
type LedgerStore interface {
	Exists(ctx context.Context, sessionID, rollNo string) (bool, error)
	DeviceExists(ctx context.Context, sessionID, fingerprint string) (bool, error)
	Insert(ctx context.Context, rec *Record) error
}

// TxRunner scopes a function to one storage transaction. The pre-checks and
// the final insert must observe a consistent view; the store's unique
// constraints close the remaining race window.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Coordinator validates and commits check-in attempts.
type Coordinator struct {
	tx       TxRunner
	tokens   TokenValidator
	sessions SessionGetter
	roster   RosterLookup
	settings SettingsSource
	ledger   LedgerStore
	now      func() time.Time
}

// NewCoordinator wires the check-in transaction.
func NewCoordinator(tx TxRunner, tokens TokenValidator, sessions SessionGetter, ros RosterLookup, cfg SettingsSource, ledger LedgerStore) *Coordinator {
	return &Coordinator{
		tx:       tx,
		tokens:   tokens,
		sessions: sessions,
		roster:   ros,
		settings: cfg,
		ledger:   ledger,
		now:      time.Now,
	}
}

// CheckInRequest is a student's self-check-in submission. SessionID may be a
// durable session id or, for older clients, a scan token.
type CheckInRequest struct {
	UniversityRollNo  string    `json:"universityRollNo"`
	SessionID         string    `json:"sessionId"`
	QRToken           string    `json:"qrToken"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	Location          *Location `json:"location"`
	Name              string    `json:"name"`
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CheckIn runs the full capture transaction: token check, session check,
// duplicate checks, geofence, policy, insert. Any failure aborts with no
// partial record.
func (c *Coordinator) CheckIn(ctx context.Context, req CheckInRequest) (*Record, error) {
	if !roster.ValidRollNo(req.UniversityRollNo) {
		return nil, newError(KindValidation, "roll number must be a 9-digit number")
	}
	if req.SessionID == "" {
		return nil, newError(KindValidation, "session id is required")
	}

	var rec *Record
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Step 1: scan token, when one was presented.
		if req.QRToken != "" && !c.tokens.Validate(req.QRToken) {
			return newError(KindTokenInvalid, "QR code expired or invalid, scan a fresh one")
		}

		// Step 2: durable session must be active.
		sess, err := c.activeSession(ctx, req.SessionID)
		if err != nil {
			return err
		}

		// Step 3: duplicate pre-checks. The insert below re-verifies via
		// unique constraints; these exist to fail early with a clear kind.
		if exists, err := c.ledger.Exists(ctx, sess.ID, req.UniversityRollNo); err != nil {
			return err
		} else if exists {
			return newError(KindDuplicateCheckIn, "attendance already recorded for this session")
		}
		if req.DeviceFingerprint != "" {
			if exists, err := c.ledger.DeviceExists(ctx, sess.ID, req.DeviceFingerprint); err != nil {
				return err
			} else if exists {
				return newError(KindDuplicateDevice, "this device already checked in for this session")
			}
		}

		// Step 4: geofence.
		cfg, err := c.settings.Current(ctx)
		if err != nil {
			return err
		}
		distance, err := resolveDistance(sess, cfg, req.Location)
		if err != nil {
			return err
		}

		// Step 5: policy.
		name, section, classRoll, studentID, err := c.resolveIdentity(ctx, sess.Policy, req.UniversityRollNo, req.Name)
		if err != nil {
			return err
		}

		// Step 6: commit exactly one record.
		now := c.now()
		rec = &Record{
			ID:                uuid.NewString(),
			SessionID:         sess.ID,
			Name:              name,
			UniversityRollNo:  req.UniversityRollNo,
			Section:           section,
			ClassRollNo:       classRoll,
			Date:              now.Format("2006-01-02"),
			Time:              now.Format("15:04:05"),
			Location:          validLocation(req.Location),
			Status:            "present",
			StudentID:         studentID,
			DistanceFromClass: distance,
		}
		if req.DeviceFingerprint != "" {
			rec.DeviceFingerprint = &req.DeviceFingerprint
		}
		return c.ledger.Insert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ManualRequest is a trusted admin entry: no token, no geofence, still
// policy-checked and still unique per session.
type ManualRequest struct {
	SessionID        string `json:"sessionId"`
	UniversityRollNo string `json:"universityRollNo"`
	Name             string `json:"name"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	Status           string `json:"status"`
	Note             string `json:"note"`
}

// ManualEntry records attendance on a student's behalf.
func (c *Coordinator) ManualEntry(ctx context.Context, req ManualRequest) (*Record, error) {
	if !roster.ValidRollNo(req.UniversityRollNo) {
		return nil, newError(KindValidation, "roll number must be a 9-digit number")
	}
	if req.SessionID == "" {
		return nil, newError(KindValidation, "session id is required, open a session first")
	}
	if !dateRe.MatchString(req.Date) {
		return nil, newError(KindValidation, "date must be in YYYY-MM-DD format")
	}

	var rec *Record
	err := c.tx.RunInTx(ctx, func(ctx context.Context) error {
		sess, err := c.activeSession(ctx, req.SessionID)
		if err != nil {
			return err
		}

		if exists, err := c.ledger.Exists(ctx, sess.ID, req.UniversityRollNo); err != nil {
			return err
		} else if exists {
			return newError(KindDuplicateCheckIn, "attendance already recorded for this student in this session")
		}

		name, section, classRoll, studentID, err := c.resolveIdentity(ctx, sess.Policy, req.UniversityRollNo, req.Name)
		if err != nil {
			return err
		}

		status := req.Status
		if status == "" {
			status = "present"
		}
		recTime := req.Time
		if recTime == "" {
			recTime = c.now().Format("15:04:05")
		}
		rec = &Record{
			ID:               uuid.NewString(),
			SessionID:        sess.ID,
			Name:             name,
			UniversityRollNo: req.UniversityRollNo,
			Section:          section,
			ClassRollNo:      classRoll,
			Date:             req.Date,
			Time:             recTime,
			Status:           status,
			StudentID:        studentID,
			Manual:           true,
		}
		if req.Note != "" {
			rec.Note = &req.Note
		}
		return c.ledger.Insert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// activeSession resolves the caller's session identifier and requires the
// session to be open and unexpired.
func (c *Coordinator) activeSession(ctx context.Context, raw string) (*session.Session, error) {
	sess, err := c.sessions.Get(ctx, c.resolveSessionID(raw))
	if errors.Is(err, session.ErrNotFound) {
		return nil, newError(KindSessionInactive, "attendance session not found or expired")
	}
	if err != nil {
		return nil, err
	}
	if !sess.Active(c.now()) {
		return nil, newError(KindSessionInactive, "attendance session not found or expired")
	}
	return sess, nil
}

// resolveSessionID is the compatibility shim for the legacy single-field
// flow: older clients put the scan token in the sessionId field. Anything
// that is not a durable id is tried against the token registry; the raw
// value falls through so unknown ids fail the session lookup, not here.
func (c *Coordinator) resolveSessionID(raw string) string {
	if _, err := uuid.Parse(raw); err == nil {
		return raw
	}
	if mapped := c.tokens.ResolveSession(raw); mapped != "" {
		return mapped
	}
	return raw
}

// resolveIdentity applies the session policy to decide whose name goes on
// the record. Roster data always wins over caller-supplied fields.
func (c *Coordinator) resolveIdentity(ctx context.Context, policy session.Policy, rollNo, sentName string) (name, section, classRoll string, studentID *string, err error) {
	student, err := c.roster.FindByRollNo(ctx, rollNo)
	if err != nil && !errors.Is(err, roster.ErrNotFound) {
		return "", "", "", nil, err
	}

	switch policy {
	case session.PolicyWhitelist:
		if student == nil {
			return "", "", "", nil, newError(KindNotRegistered, "student is not registered, contact the course instructor")
		}
		return student.Name, student.Section, student.ClassRollNo, &student.ID, nil
	case session.PolicyOpen:
		if student != nil {
			return student.Name, student.Section, student.ClassRollNo, &student.ID, nil
		}
		trimmedName := strings.TrimSpace(sentName)
		if trimmedName == "" {
			return "", "", "", nil, newError(KindNameRequired, "full name is required in open registration mode")
		}
		return trimmedName, "", "", nil, nil
	default:
		return "", "", "", nil, newError(KindValidation, "unknown session policy")
	}
}

// resolveDistance enforces the geofence. Requirement is the OR of the
// session flag and the global setting; distance equal to the radius passes.
// A location supplied when not required is still measured for telemetry.
func resolveDistance(sess *session.Session, cfg settings.Settings, loc *Location) (*float64, error) {
	required := sess.RequireLocation || cfg.RequireLocation
	valid := validLocation(loc)

	if required && valid == nil {
		return nil, newError(KindLocationRequired, "location (lat, lng) is required")
	}
	if valid == nil {
		return nil, nil
	}

	d := geo.DistanceMeters(valid.Lat, valid.Lng, cfg.ClassLat, cfg.ClassLng)
	if required && d > cfg.RadiusMeters {
		e := newError(KindOutOfRange, "you must be within %.0fm of the class location, current distance: %.0fm", cfg.RadiusMeters, d)
		e.Distance = d
		e.Radius = cfg.RadiusMeters
		return nil, e
	}
	return &d, nil
}

// validLocation filters out missing and non-finite coordinates.
func validLocation(loc *Location) *Location {
	if loc == nil {
		return nil
	}
	if math.IsNaN(loc.Lat) || math.IsInf(loc.Lat, 0) || math.IsNaN(loc.Lng) || math.IsInf(loc.Lng, 0) {
		return nil
	}
	return loc
}

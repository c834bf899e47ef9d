package attendance

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qrattend/internal/geo"
	"qrattend/internal/roster"
	"qrattend/internal/session"
	"qrattend/internal/settings"
)

// passTx runs the transaction body directly; uniqueness is enforced by the
// in-memory ledger the same way the unique indexes do in Postgres.
type passTx struct{}

func (passTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeTokens struct {
	mu       sync.Mutex
	sessions map[string]string // token -> bound session id
}

func (f *fakeTokens) Validate(tok string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[tok]
	return ok
}

func (f *fakeTokens) ResolveSession(tok string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[tok]
}

type fakeSessions struct {
	byID map[string]*session.Session
}

func (f *fakeSessions) Get(_ context.Context, id string) (*session.Session, error) {
	sess, ok := f.byID[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

type fakeRoster struct {
	byRoll map[string]*roster.Student
}

func (f *fakeRoster) FindByRollNo(_ context.Context, rollNo string) (*roster.Student, error) {
	st, ok := f.byRoll[rollNo]
	if !ok {
		return nil, roster.ErrNotFound
	}
	return st, nil
}

type fakeSettings struct {
	cfg settings.Settings
}

func (f *fakeSettings) Current(context.Context) (settings.Settings, error) {
	return f.cfg, nil
}

// memLedger enforces the same uniqueness the Postgres indexes do.
type memLedger struct {
	mu      sync.Mutex
	byRoll  map[string]bool
	byDev   map[string]bool
	records []Record
}

func newMemLedger() *memLedger {
	return &memLedger{byRoll: make(map[string]bool), byDev: make(map[string]bool)}
}

func (m *memLedger) Exists(_ context.Context, sessionID, rollNo string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byRoll[sessionID+"|"+rollNo], nil
}

func (m *memLedger) DeviceExists(_ context.Context, sessionID, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byDev[sessionID+"|"+fp], nil
}

func (m *memLedger) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rollKey := rec.SessionID + "|" + rec.UniversityRollNo
	if m.byRoll[rollKey] {
		return &Error{Kind: KindDuplicateCheckIn, Message: "attendance already recorded for this session"}
	}
	if rec.DeviceFingerprint != nil {
		devKey := rec.SessionID + "|" + *rec.DeviceFingerprint
		if m.byDev[devKey] {
			return &Error{Kind: KindDuplicateDevice, Message: "this device already checked in for this session"}
		}
		m.byDev[devKey] = true
	}
	m.byRoll[rollKey] = true
	rec.CreatedAt = time.Now()
	m.records = append(m.records, *rec)
	return nil
}

type fixture struct {
	coord    *Coordinator
	tokens   *fakeTokens
	sessions *fakeSessions
	roster   *fakeRoster
	settings *fakeSettings
	ledger   *memLedger
}

func newFixture() *fixture {
	f := &fixture{
		tokens:   &fakeTokens{sessions: make(map[string]string)},
		sessions: &fakeSessions{byID: make(map[string]*session.Session)},
		roster:   &fakeRoster{byRoll: make(map[string]*roster.Student)},
		settings: &fakeSettings{cfg: settings.Settings{RadiusMeters: 50}},
		ledger:   newMemLedger(),
	}
	f.coord = NewCoordinator(passTx{}, f.tokens, f.sessions, f.roster, f.settings, f.ledger)
	return f
}

func (f *fixture) addSession(id string, policy session.Policy, requireLocation bool) *session.Session {
	sess := &session.Session{
		ID:              id,
		Title:           "test session",
		Policy:          policy,
		RequireLocation: requireLocation,
		StartAt:         time.Now(),
		ExpiresAt:       time.Now().Add(15 * time.Minute),
	}
	f.sessions.byID[id] = sess
	return sess
}

const (
	classLat = 40.98620
	classLng = 35.64790
)

func TestCheckIn_OpenSessionWithoutLocation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)

	req := CheckInRequest{
		UniversityRollNo: "123456789",
		Name:             "Ada Lovelace",
		SessionID:        "sess-1",
	}
	rec, err := f.coord.CheckIn(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "present", rec.Status)
	require.Equal(t, "Ada Lovelace", rec.Name)
	require.Nil(t, rec.DistanceFromClass)
	require.Nil(t, rec.StudentID)
	require.False(t, rec.Manual)

	// The identical second attempt must lose.
	_, err = f.coord.CheckIn(context.Background(), req)
	require.Equal(t, KindDuplicateCheckIn, KindOf(err))
}

func TestCheckIn_WhitelistWithLocation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyWhitelist, true)
	f.settings.cfg = settings.Settings{RequireLocation: true, ClassLat: classLat, ClassLng: classLng, RadiusMeters: 50}
	f.roster.byRoll["987654321"] = &roster.Student{ID: "stu-1", Name: "Grace Hopper", UniversityRollNo: "987654321", Section: "A", ClassRollNo: "17"}

	rec, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "987654321",
		SessionID:        "sess-1",
		Location:         &Location{Lat: 40.98629, Lng: classLng}, // ~10m north
	})
	require.NoError(t, err)
	require.Equal(t, "Grace Hopper", rec.Name)
	require.Equal(t, "A", rec.Section)
	require.NotNil(t, rec.StudentID)
	require.NotNil(t, rec.DistanceFromClass)
	require.InDelta(t, 10, *rec.DistanceFromClass, 0.5)
}

func TestCheckIn_GeofenceBoundary(t *testing.T) {
	t.Parallel()

	loc := &Location{Lat: 40.98629, Lng: classLng}
	exact := geo.DistanceMeters(loc.Lat, loc.Lng, classLat, classLng)

	// Distance exactly equal to the radius is inside the fence.
	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, true)
	f.settings.cfg = settings.Settings{ClassLat: classLat, ClassLng: classLng, RadiusMeters: exact}
	rec, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "111111111", Name: "Edge Case", SessionID: "sess-1", Location: loc,
	})
	require.NoError(t, err)
	require.InDelta(t, exact, *rec.DistanceFromClass, 1e-9)

	// One meter beyond the radius is out, and the error carries both numbers.
	f2 := newFixture()
	f2.addSession("sess-1", session.PolicyOpen, true)
	f2.settings.cfg = settings.Settings{ClassLat: classLat, ClassLng: classLng, RadiusMeters: exact - 1}
	_, err = f2.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "111111111", Name: "Edge Case", SessionID: "sess-1", Location: loc,
	})
	require.Equal(t, KindOutOfRange, KindOf(err))
	var oor *Error
	require.ErrorAs(t, err, &oor)
	require.InDelta(t, exact, oor.Distance, 1e-9)
	require.InDelta(t, exact-1, oor.Radius, 1e-9)
	require.Contains(t, oor.Message, "current distance")
}

func TestCheckIn_LocationRequired(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, true)

	_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "123456789", Name: "Ada", SessionID: "sess-1",
	})
	require.Equal(t, KindLocationRequired, KindOf(err))

	// Non-finite coordinates count as missing.
	_, err = f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "123456789", Name: "Ada", SessionID: "sess-1",
		Location: &Location{Lat: math.NaN(), Lng: 0},
	})
	require.Equal(t, KindLocationRequired, KindOf(err))
}

func TestCheckIn_OptionalLocationStillMeasured(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)
	// Far outside the radius, but location is not required: telemetry only.
	f.settings.cfg = settings.Settings{ClassLat: classLat, ClassLng: classLng, RadiusMeters: 50}

	rec, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "123456789", Name: "Ada", SessionID: "sess-1",
		Location: &Location{Lat: classLat + 1, Lng: classLng},
	})
	require.NoError(t, err)
	require.NotNil(t, rec.DistanceFromClass)
	require.Greater(t, *rec.DistanceFromClass, 50.0)
}

func TestCheckIn_PolicyBranching(t *testing.T) {
	t.Parallel()

	t.Run("whitelist rejects unregistered", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.addSession("sess-1", session.PolicyWhitelist, false)
		_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
			UniversityRollNo: "123456789", SessionID: "sess-1", Name: "Self Declared",
		})
		require.Equal(t, KindNotRegistered, KindOf(err))
	})

	t.Run("open requires name for unregistered", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.addSession("sess-1", session.PolicyOpen, false)
		_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
			UniversityRollNo: "123456789", SessionID: "sess-1", Name: "   ",
		})
		require.Equal(t, KindNameRequired, KindOf(err))
	})

	t.Run("open prefers roster data over sent name", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		f.addSession("sess-1", session.PolicyOpen, false)
		f.roster.byRoll["123456789"] = &roster.Student{ID: "stu-9", Name: "Registered Name", Section: "B"}
		rec, err := f.coord.CheckIn(context.Background(), CheckInRequest{
			UniversityRollNo: "123456789", SessionID: "sess-1", Name: "Spoofed Name",
		})
		require.NoError(t, err)
		require.Equal(t, "Registered Name", rec.Name)
		require.Equal(t, "B", rec.Section)
		require.NotNil(t, rec.StudentID)
	})
}

func TestCheckIn_TokenChecks(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)
	f.tokens.sessions["tok-valid"] = "sess-1"

	// Presented token must validate.
	_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "123456789", Name: "Ada", SessionID: "sess-1", QRToken: "tok-stale",
	})
	require.Equal(t, KindTokenInvalid, KindOf(err))

	// Legacy flow: the sessionId field holds the scan token.
	rec, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "123456789", Name: "Ada", SessionID: "tok-valid",
	})
	require.NoError(t, err)
	require.Equal(t, "sess-1", rec.SessionID)
}

func TestCheckIn_SessionInactive(t *testing.T) {
	t.Parallel()

	f := newFixture()
	closed := f.addSession("sess-closed", session.PolicyOpen, false)
	endAt := time.Now()
	closed.EndAt = &endAt
	expired := f.addSession("sess-expired", session.PolicyOpen, false)
	expired.ExpiresAt = time.Now().Add(-time.Minute)

	for _, id := range []string{"sess-closed", "sess-expired", "sess-unknown"} {
		_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
			UniversityRollNo: "123456789", Name: "Ada", SessionID: id,
		})
		require.Equal(t, KindSessionInactive, KindOf(err), "session %s", id)
	}
}

func TestCheckIn_DuplicateDevice(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)

	_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "123456789", Name: "Ada", SessionID: "sess-1", DeviceFingerprint: "device-a",
	})
	require.NoError(t, err)

	_, err = f.coord.CheckIn(context.Background(), CheckInRequest{
		UniversityRollNo: "987654321", Name: "Grace", SessionID: "sess-1", DeviceFingerprint: "device-a",
	})
	require.Equal(t, KindDuplicateDevice, KindOf(err))
}

func TestCheckIn_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)

	_, err := f.coord.CheckIn(context.Background(), CheckInRequest{UniversityRollNo: "12345", SessionID: "sess-1"})
	require.Equal(t, KindValidation, KindOf(err))

	_, err = f.coord.CheckIn(context.Background(), CheckInRequest{UniversityRollNo: "123456789"})
	require.Equal(t, KindValidation, KindOf(err))
}

func TestCheckIn_ConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)

	const attempts = 16
	results := make(chan error, attempts)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			_, err := f.coord.CheckIn(context.Background(), CheckInRequest{
				UniversityRollNo: "123456789", Name: "Ada", SessionID: "sess-1",
			})
			results <- err
		}()
	}
	start.Done()

	var successes, duplicates int
	for i := 0; i < attempts; i++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case KindOf(err) == KindDuplicateCheckIn:
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, successes, "exactly one concurrent attempt must win")
	require.Equal(t, attempts-1, duplicates)
	require.Len(t, f.ledger.records, 1)
}

func TestManualEntry(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyWhitelist, true) // geofence is skipped for manual entries
	f.roster.byRoll["987654321"] = &roster.Student{ID: "stu-1", Name: "Grace Hopper"}

	rec, err := f.coord.ManualEntry(context.Background(), ManualRequest{
		SessionID:        "sess-1",
		UniversityRollNo: "987654321",
		Date:             "2026-08-31",
		Note:             "arrived late, excused",
	})
	require.NoError(t, err)
	require.True(t, rec.Manual)
	require.Equal(t, "present", rec.Status)
	require.Equal(t, "Grace Hopper", rec.Name)
	require.Nil(t, rec.DistanceFromClass)
	require.NotNil(t, rec.Note)

	_, err = f.coord.ManualEntry(context.Background(), ManualRequest{
		SessionID: "sess-1", UniversityRollNo: "987654321", Date: "2026-08-31",
	})
	require.Equal(t, KindDuplicateCheckIn, KindOf(err))
}

func TestManualEntry_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.addSession("sess-1", session.PolicyOpen, false)

	tests := []struct {
		name string
		req  ManualRequest
		kind Kind
	}{
		{"bad roll", ManualRequest{SessionID: "sess-1", UniversityRollNo: "abc", Date: "2026-08-31"}, KindValidation},
		{"missing session", ManualRequest{UniversityRollNo: "123456789", Date: "2026-08-31"}, KindValidation},
		{"bad date", ManualRequest{SessionID: "sess-1", UniversityRollNo: "123456789", Date: "31-08-2026"}, KindValidation},
		{"open name missing", ManualRequest{SessionID: "sess-1", UniversityRollNo: "123456789", Date: "2026-08-31"}, KindNameRequired},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := f.coord.ManualEntry(context.Background(), tc.req)
			require.Equal(t, tc.kind, KindOf(err))
		})
	}
}

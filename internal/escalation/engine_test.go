package escalation

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/audit"
	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/db"
	"github.com/strefethen/medassist-go/internal/doselog"
	"github.com/strefethen/medassist-go/internal/feed"
	"github.com/strefethen/medassist-go/internal/gateway"
	"github.com/strefethen/medassist-go/internal/medication"
	"github.com/strefethen/medassist-go/internal/notify"
)

const (
	testDay   = "2026-02-14"
	demoPhone = "+91 99887 76655"
)

var (
	guardian = auth.User{ID: db.DemoGuardianID, Email: db.DemoGuardianEmail, Role: auth.RoleGuardian}
	patient  = auth.User{ID: db.DemoPatientID, Email: db.DemoPatientEmail, Role: auth.RolePatient}
)

type fakeGateway struct {
	mu       sync.Mutex
	failSMS  bool
	failCall bool
	panicOn  string
	sms      []string
	calls    []string
}

func (g *fakeGateway) SendSMS(_ context.Context, to, body string) gateway.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sms = append(g.sms, body)
	if g.failSMS {
		return gateway.Result{Provider: gateway.ProviderTwilio, Status: gateway.StatusFailed, Message: "unreachable"}
	}
	return gateway.Result{OK: true, Provider: gateway.ProviderTwilio, Status: gateway.StatusQueued, Reference: "SM1"}
}

func (g *fakeGateway) PlaceCall(_ context.Context, to string, call gateway.CallContext) gateway.Result {
	if call.ScheduleID == g.panicOn {
		panic("gateway exploded")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, to)
	if g.failCall {
		return gateway.Result{Provider: gateway.ProviderTwilio, Status: gateway.StatusFailed, Message: "busy"}
	}
	return gateway.Result{OK: true, Provider: gateway.ProviderTwilio, Status: gateway.StatusQueued, Reference: "CA1"}
}

func (g *fakeGateway) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sms), len(g.calls)
}

type testEnv struct {
	engine        *Engine
	clock         *clock.Fixed
	loc           *time.Location
	gateway       *fakeGateway
	schedules     *medication.Repository
	logs          *doselog.Repository
	notifications *notify.Repository
	audit         *audit.Service
	hub           *feed.Hub
	registry      *prometheus.Registry
}

func setupEngine(t *testing.T, gw *fakeGateway) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	clk := clock.NewFixed(time.Date(2026, 2, 14, 7, 0, 0, 0, loc))
	require.NoError(t, db.SeedDemo(dbPair, "hash", clk.Now()))

	authService := auth.NewService(auth.NewRepository(dbPair), auth.NewBcryptHasher(bcrypt.MinCost), clk,
		auth.ServiceConfig{JWTSecret: "0123456789abcdef0123456789abcdef", SessionTTL: time.Hour}, nil)
	auditService := audit.NewService(dbPair, clk, 90, nil)
	scheduleRepo := medication.NewRepository(dbPair)
	notifications := notify.NewRepository(dbPair)
	logs := doselog.NewRepository(dbPair)
	hub := feed.NewHub(64)
	registry := prometheus.NewRegistry()

	engine := NewEngine(Deps{
		Schedules:     medication.NewService(scheduleRepo, authService, auditService, clk, nil),
		Logs:          logs,
		Notifications: notifications,
		Notifier:      notify.NewDeduplicator(notifications, gw, nil),
		Gateway:       gw,
		Patients:      authService,
		Audit:         auditService,
		Feed:          hub,
		Metrics:       NewMetrics(registry),
		Clock:         clk,
	}, Config{Location: loc, ThresholdMinutes: 15})

	return &testEnv{
		engine:        engine,
		clock:         clk,
		loc:           loc,
		gateway:       gw,
		schedules:     scheduleRepo,
		logs:          logs,
		notifications: notifications,
		audit:         auditService,
		hub:           hub,
		registry:      registry,
	}
}

func (env *testEnv) at(hour, minute int) {
	env.clock.Set(time.Date(2026, 2, 14, hour, minute, 0, 0, env.loc))
}

func (env *testEnv) eventTypes(t *testing.T, scheduleID string) []string {
	t.Helper()
	records, err := env.notifications.ListForSchedule(context.Background(), scheduleID, testDay)
	require.NoError(t, err)
	types := make([]string, 0, len(records))
	for _, record := range records {
		types = append(types, string(record.EventType))
	}
	sort.Strings(types)
	return types
}

func (env *testEnv) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := env.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestSweep_UpcomingDoesNothing(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(7, 59)

	report, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Upcoming)
	require.Equal(t, testDay, report.DateKey)
	require.Equal(t, 7*60+59, report.MinutesNow)

	sms, calls := env.gateway.counts()
	require.Zero(t, sms)
	require.Zero(t, calls)
}

func TestSweep_DueWindowSendsRemindersOnly(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(8, 10)

	report, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Checked)
	require.Equal(t, 1, report.Due)

	require.Equal(t, []string{"due_caretaker", "due_patient"}, env.eventTypes(t, db.DemoScheduleID))

	log, err := env.logs.Get(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Nil(t, log)

	sms, calls := env.gateway.counts()
	require.Equal(t, 2, sms)
	require.Zero(t, calls)
	require.Contains(t, env.gateway.sms, "Reminder: Take Paracetamol (500 mg) at 08:00 AM.")
	require.Contains(t, env.gateway.sms, "Reminder: patient@medassist.com should take Paracetamol (500 mg) at 08:00 AM.")
}

func TestSweep_MissedEscalatesAndCallsOnce(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	sub := env.hub.Subscribe(nil)
	env.at(8, 20)

	report, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Escalated)

	log, err := env.logs.Get(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusEscalated, log.Status)
	require.NotNil(t, log.EscalatedAt)
	require.NotNil(t, log.CaretakerCalledAt)
	require.Equal(t, gateway.StatusQueued, log.CallStatus)
	require.Equal(t, "CA1", log.CallReference)
	require.Equal(t, demoPhone, log.CaretakerContact)
	require.NotNil(t, log.ScheduledAt)
	require.True(t, log.ScheduledAt.Equal(time.Date(2026, 2, 14, 8, 0, 0, 0, env.loc)))

	require.Equal(t, []string{"missed_caretaker", "missed_patient"}, env.eventTypes(t, db.DemoScheduleID))
	require.Contains(t, env.gateway.sms, "Missed alert: Paracetamol (500 mg) at 08:00 AM is overdue by 15+ minutes. Please take it now.")
	require.Contains(t, env.gateway.sms, "Alert: patient@medassist.com missed Paracetamol (500 mg) at 08:00 AM. Escalation workflow started.")

	_, calls := env.gateway.counts()
	require.Equal(t, 1, calls)

	first := <-sub.C
	require.Equal(t, feed.EventDoseEscalated, first.Type)
	require.Equal(t, db.DemoGuardianID, first.OwnerID)

	escalatedType := string(audit.EventDoseEscalated)
	events, total, _, err := env.audit.QueryEvents(context.Background(), audit.EventQueryFilters{Type: &escalatedType})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, db.DemoScheduleID, *events[0].ScheduleID)

	require.Equal(t, float64(1), env.counter(t, "medassist_escalation_sweeps_total", nil))
	require.Equal(t, float64(1), env.counter(t, "medassist_escalation_caretaker_calls_total", map[string]string{"status": "queued"}))
	require.Equal(t, float64(1), env.counter(t, "medassist_escalation_schedule_outcomes_total", map[string]string{"state": "escalated"}))
}

func TestSweep_IdempotentWithinMinute(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(8, 20)

	_, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	before, err := env.logs.Get(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	smsBefore, callsBefore := env.gateway.counts()

	report, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Escalated)

	after, err := env.logs.Get(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Equal(t, before, after)

	smsAfter, callsAfter := env.gateway.counts()
	require.Equal(t, smsBefore, smsAfter)
	require.Equal(t, callsBefore, callsAfter)
	require.Len(t, env.eventTypes(t, db.DemoScheduleID), 2)
	require.Equal(t, float64(2), env.counter(t, "medassist_escalation_notifications_total",
		map[string]string{"event_type": "missed_patient", "outcome": "sent"})+
		env.counter(t, "medassist_escalation_notifications_total",
			map[string]string{"event_type": "missed_caretaker", "outcome": "sent"}))
}

func TestOnDoseTaken_AfterEscalation(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(8, 20)
	_, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)

	env.at(8, 5)
	result, err := env.engine.OnDoseTaken(context.Background(), patient, db.DemoScheduleID)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusTaken, result.Log.Status)
	require.Nil(t, result.Log.EscalatedAt)
	require.Nil(t, result.Log.CaretakerCalledAt)
	require.Empty(t, result.Log.CallStatus)
	require.True(t, result.Notification.Sent)
	require.Equal(t, notify.EventTakenCaretaker, result.Notification.EventType)
	require.Contains(t, env.gateway.sms, "Update: patient@medassist.com marked Paracetamol as taken at 08:05 AM.")

	again, err := env.engine.OnDoseTaken(context.Background(), patient, db.DemoScheduleID)
	require.NoError(t, err)
	require.True(t, again.Notification.Skipped)
	require.Equal(t, notify.ReasonAlreadySent, again.Notification.Reason)
}

func TestSweep_TakenIsTerminal(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(8, 5)
	_, err := env.engine.OnDoseTaken(context.Background(), patient, db.DemoScheduleID)
	require.NoError(t, err)
	smsBefore, _ := env.gateway.counts()

	for _, minute := range []int{10, 20, 45} {
		env.at(8, minute)
		report, err := env.engine.RunSweepOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, report.SkippedTaken)
	}

	log, err := env.logs.Get(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusTaken, log.Status)

	smsAfter, calls := env.gateway.counts()
	require.Equal(t, smsBefore, smsAfter)
	require.Zero(t, calls)

	// A forced escalation cannot reopen the day either.
	escalated, err := env.engine.OnEscalateRequested(context.Background(), guardian, db.DemoScheduleID)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusTaken, escalated.Log.Status)
	require.Nil(t, escalated.Call)
	require.Empty(t, escalated.Notifications)
	require.Equal(t, ReasonAlreadyTaken, escalated.Reason)
}

func TestSweep_MissingCaretakerContact(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	require.NoError(t, env.schedules.Create(context.Background(), medication.Schedule{
		ID:              "med-no-caretaker",
		OwnerID:         db.DemoGuardianID,
		PatientIdentity: db.DemoPatientEmail,
		MedicineName:    "Vitamin D",
		Dosage:          "1 tab",
		TimeOfDay:       "09:00",
		CreatedAt:       env.clock.Now(),
	}))
	env.at(9, 30)

	report, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Escalated)

	require.Equal(t, []string{"missed_patient"}, env.eventTypes(t, "med-no-caretaker"))

	log, err := env.logs.Get(context.Background(), "med-no-caretaker", testDay)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusEscalated, log.Status)
	require.Nil(t, log.CaretakerCalledAt)
	require.Empty(t, log.CaretakerContact)

	// Only the demo schedule has someone to call.
	_, calls := env.gateway.counts()
	require.Equal(t, 1, calls)
	require.Equal(t, float64(1), env.counter(t, "medassist_escalation_notifications_total",
		map[string]string{"event_type": "missed_caretaker", "outcome": "missing_phone"}))
}

func TestSweep_FailingGatewayIsRecordedNotRetried(t *testing.T) {
	env := setupEngine(t, &fakeGateway{failSMS: true, failCall: true})
	env.at(8, 20)

	report, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Escalated)
	require.Zero(t, report.Failed)

	records, err := env.notifications.ListForSchedule(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		require.Equal(t, gateway.StatusFailed, record.DeliveryStatus)
	}

	log, err := env.logs.Get(context.Background(), db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusFailed, log.CallStatus)

	env.at(8, 30)
	_, err = env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)

	sms, calls := env.gateway.counts()
	require.Equal(t, 2, sms)
	require.Equal(t, 1, calls)

	// A manual escalation is the only way to retry the call.
	result, err := env.engine.OnEscalateRequested(context.Background(), guardian, db.DemoScheduleID)
	require.NoError(t, err)
	require.NotNil(t, result.Call)
	require.False(t, result.Call.OK)
	for _, outcome := range result.Notifications {
		require.True(t, outcome.Skipped)
		require.Equal(t, notify.ReasonAlreadySent, outcome.Reason)
	}
	_, calls = env.gateway.counts()
	require.Equal(t, 2, calls)
}

func TestOnEscalateRequested_ForcesCallEachTime(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(7, 30)

	first, err := env.engine.OnEscalateRequested(context.Background(), patient, db.DemoScheduleID)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusEscalated, first.Log.Status)
	require.NotNil(t, first.Call)
	require.Len(t, first.Notifications, 2)
	require.True(t, first.Notifications[0].Sent)
	firstEscalatedAt := *first.Log.EscalatedAt

	env.at(7, 40)
	second, err := env.engine.OnEscalateRequested(context.Background(), guardian, db.DemoScheduleID)
	require.NoError(t, err)
	require.NotNil(t, second.Call)
	require.True(t, second.Log.EscalatedAt.Equal(firstEscalatedAt))
	require.True(t, second.Log.CaretakerCalledAt.After(firstEscalatedAt))

	_, calls := env.gateway.counts()
	require.Equal(t, 2, calls)
}

func TestDoseActions_Authorization(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	ctx := context.Background()

	_, err := env.engine.OnDoseTaken(ctx, guardian, db.DemoScheduleID)
	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	require.Equal(t, apperrors.ErrorCodeRoleRequired, appErr.Code)

	stranger := auth.User{ID: "p2", Email: "someone@example.com", Role: auth.RolePatient}
	_, err = env.engine.OnDoseTaken(ctx, stranger, db.DemoScheduleID)
	require.ErrorIs(t, err, medication.ErrScheduleNotFound)

	otherGuardian := auth.User{ID: "g2", Email: "other@example.com", Role: auth.RoleGuardian}
	_, err = env.engine.OnEscalateRequested(ctx, otherGuardian, db.DemoScheduleID)
	require.ErrorIs(t, err, medication.ErrScheduleNotFound)

	_, err = env.engine.OnEscalateRequested(ctx, guardian, "missing")
	require.ErrorIs(t, err, medication.ErrScheduleNotFound)

	_, calls := env.gateway.counts()
	require.Zero(t, calls)
}

func TestSweep_IsolatesScheduleFailures(t *testing.T) {
	gw := &fakeGateway{panicOn: "med-panics"}
	env := setupEngine(t, gw)
	ctx := context.Background()
	for _, schedule := range []medication.Schedule{
		{ID: "med-bad-time", TimeOfDay: "25:99", CaretakerContact: "+1555"},
		{ID: "med-panics", TimeOfDay: "06:00", CaretakerContact: "+1666"},
	} {
		schedule.OwnerID = db.DemoGuardianID
		schedule.PatientIdentity = db.DemoPatientEmail
		schedule.MedicineName = "Test"
		schedule.Dosage = "1"
		schedule.CreatedAt = env.clock.Now()
		require.NoError(t, env.schedules.Create(ctx, schedule))
	}
	env.at(8, 20)

	report, err := env.engine.RunSweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.Checked)
	require.Equal(t, 2, report.Failed)
	require.Equal(t, 1, report.Escalated)
	require.Len(t, report.Errors, 2)

	log, err := env.logs.Get(ctx, db.DemoScheduleID, testDay)
	require.NoError(t, err)
	require.Equal(t, doselog.StatusEscalated, log.Status)

	failedType := string(audit.EventSweepFailed)
	_, total, _, err := env.audit.QueryEvents(ctx, audit.EventQueryFilters{Type: &failedType})
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

type brokenSource struct{}

func (brokenSource) ListAll(context.Context) ([]medication.Schedule, error) {
	return nil, errors.New("disk on fire")
}

func (brokenSource) Get(context.Context, string) (*medication.Schedule, error) {
	return nil, medication.ErrScheduleNotFound
}

func TestSweep_LoadFailureIsReported(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.registry = prometheus.NewRegistry()
	engine := NewEngine(Deps{
		Schedules: brokenSource{},
		Logs:      env.logs,
		Audit:     env.audit,
		Metrics:   NewMetrics(env.registry),
		Clock:     env.clock,
	}, Config{Location: env.loc})

	_, err := engine.RunSweepOnce(context.Background())
	require.ErrorContains(t, err, "disk on fire")
	require.Equal(t, float64(1), env.counter(t, "medassist_escalation_sweeps_failed_total", nil))

	errorType := string(audit.EventSystemError)
	_, total, _, err := env.audit.QueryEvents(context.Background(), audit.EventQueryFilters{Type: &errorType})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestListing_ScopedToCaller(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(8, 20)
	_, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)

	for _, user := range []auth.User{guardian, patient} {
		logs, err := env.engine.ListLogs(context.Background(), user)
		require.NoError(t, err)
		require.Len(t, logs, 1)

		records, err := env.engine.ListNotifications(context.Background(), user, 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "Paracetamol", records[0].MedicineName)
	}

	stranger := auth.User{ID: "g2", Email: "other@example.com", Role: auth.RoleGuardian}
	logs, err := env.engine.ListLogs(context.Background(), stranger)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestSweep_DurationUsesEngineClock(t *testing.T) {
	env := setupEngine(t, &fakeGateway{})
	env.at(8, 20)

	_, err := env.engine.RunSweepOnce(context.Background())
	require.NoError(t, err)

	families, err := env.registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, family := range families {
		if family.GetName() != "medassist_escalation_sweep_duration_seconds" {
			continue
		}
		found = true
		histogram := family.GetMetric()[0].GetHistogram()
		require.Equal(t, uint64(1), histogram.GetSampleCount())
		// The fixed clock never moves during the sweep.
		require.Zero(t, histogram.GetSampleSum())
	}
	require.True(t, found)
}

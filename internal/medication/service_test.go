package medication

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/audit"
	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/db"
)

type stubPatients map[string]bool

func (s stubPatients) PatientExists(_ context.Context, identity string) (bool, error) {
	return s[identity], nil
}

var (
	guardian = auth.User{ID: db.DemoGuardianID, Email: db.DemoGuardianEmail, Role: auth.RoleGuardian}
	patient  = auth.User{ID: db.DemoPatientID, Email: db.DemoPatientEmail, Role: auth.RolePatient}
)

func setupService(t *testing.T) (*Service, *audit.Service) {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	require.NoError(t, db.SeedDemo(dbPair, "hash", time.Now()))

	clk := clock.NewFixed(time.Date(2026, 2, 14, 3, 0, 0, 0, time.UTC))
	auditService := audit.NewService(dbPair, clk, 0, nil)
	service := NewService(NewRepository(dbPair), stubPatients{db.DemoPatientEmail: true}, auditService, clk, nil)
	return service, auditService
}

func validInput() CreateScheduleInput {
	return CreateScheduleInput{
		PatientIdentity:  " Patient@MedAssist.com ",
		MedicineName:     "Metformin",
		Dosage:           "250 mg",
		TimeOfDay:        "21:30",
		Notes:            "After dinner",
		CaretakerContact: "+91 90000 00000",
	}
}

func TestCreate_StoresNormalizedSchedule(t *testing.T) {
	service, auditService := setupService(t)
	ctx := context.Background()

	schedule, err := service.Create(ctx, guardian, validInput())
	require.NoError(t, err)
	require.Equal(t, db.DemoPatientEmail, schedule.PatientIdentity)
	require.Equal(t, guardian.ID, schedule.OwnerID)

	stored, err := service.Get(ctx, schedule.ID)
	require.NoError(t, err)
	require.Equal(t, "21:30", stored.TimeOfDay)
	require.Equal(t, "+91 90000 00000", stored.CaretakerContact)

	eventType := string(audit.EventScheduleCreated)
	events, _, _, err := auditService.QueryEvents(ctx, audit.EventQueryFilters{Type: &eventType})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, schedule.ID, *events[0].ScheduleID)
}

func TestCreate_TruncatesLongFields(t *testing.T) {
	service, _ := setupService(t)
	input := validInput()
	input.MedicineName = strings.Repeat("m", 100)
	input.Notes = strings.Repeat("n", 300)

	schedule, err := service.Create(context.Background(), guardian, input)
	require.NoError(t, err)
	require.Len(t, schedule.MedicineName, MaxMedicineLength)
	require.Len(t, schedule.Notes, MaxNotesLength)
}

func TestCreate_Rejections(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, patient, validInput())
	require.Equal(t, apperrors.ErrorCodeRoleRequired, apperrors.EnsureAppError(err).Code)

	for _, badTime := range []string{"8:00", "24:00", "08:60", "0800", ""} {
		input := validInput()
		input.TimeOfDay = badTime
		_, err := service.Create(ctx, guardian, input)
		require.Error(t, err, badTime)
		require.Equal(t, apperrors.ErrorCodeValidationError, apperrors.EnsureAppError(err).Code, badTime)
	}

	input := validInput()
	input.Dosage = "   "
	_, err = service.Create(ctx, guardian, input)
	require.Equal(t, apperrors.ErrorCodeValidationError, apperrors.EnsureAppError(err).Code)

	input = validInput()
	input.PatientIdentity = "stranger@example.com"
	_, err = service.Create(ctx, guardian, input)
	require.ErrorIs(t, err, ErrPatientNotFound)
}

func TestListFor(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, guardian, validInput())
	require.NoError(t, err)

	owned, err := service.ListFor(ctx, guardian)
	require.NoError(t, err)
	require.Len(t, owned, 2)

	addressed, err := service.ListFor(ctx, patient)
	require.NoError(t, err)
	require.Len(t, addressed, 2)

	other, err := service.ListFor(ctx, auth.User{ID: "g2", Email: "g2@example.com", Role: auth.RoleGuardian})
	require.NoError(t, err)
	require.Empty(t, other)

	all, err := service.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "08:00", all[0].TimeOfDay)
}

func TestDelete(t *testing.T) {
	service, _ := setupService(t)
	ctx := context.Background()

	err := service.Delete(ctx, auth.User{ID: "g2", Role: auth.RoleGuardian}, db.DemoScheduleID)
	require.ErrorIs(t, err, ErrNotOwner)

	err = service.Delete(ctx, guardian, "missing")
	require.ErrorIs(t, err, ErrScheduleNotFound)

	require.NoError(t, service.Delete(ctx, guardian, db.DemoScheduleID))
	_, err = service.Get(ctx, db.DemoScheduleID)
	require.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestRoutes(t *testing.T) {
	service, _ := setupService(t)
	router := chi.NewRouter()
	RegisterRoutes(router, service)

	serve := func(user auth.User, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(auth.WithUser(req.Context(), user))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(guardian, http.MethodPost, "/v1/medications",
		`{"patient_email":"patient@medassist.com","medicine_name":"Aspirin","dosage":"75 mg","time":"07:15"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"medicine_name":"Aspirin"`)

	rec = serve(patient, http.MethodGet, "/v1/medications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"object":"list"`)

	rec = serve(patient, http.MethodDelete, "/v1/medications/"+db.DemoScheduleID, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(guardian, http.MethodDelete, "/v1/medications/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "SCHEDULE_NOT_FOUND")

	rec = serve(guardian, http.MethodPost, "/v1/medications", `{"patient_email":"nobody@example.com","medicine_name":"A","dosage":"1","time":"07:15"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "PATIENT_NOT_FOUND")
}

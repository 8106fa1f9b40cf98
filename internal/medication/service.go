package medication

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/audit"
	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/gateway"
	"github.com/strefethen/medassist-go/internal/logging"
	"github.com/strefethen/medassist-go/internal/validation"
)

// Service creates, lists and deletes schedules on behalf of authenticated users.
type Service struct {
	repo     *Repository
	patients PatientLookup
	audit    *audit.Service
	clock    clock.Clock
	validate *validator.Validate
	logger   *zerolog.Logger
}

// NewService creates a Service. auditService may be nil.
func NewService(repo *Repository, patients PatientLookup, auditService *audit.Service, clk clock.Clock, logger *zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		repo:     repo,
		patients: patients,
		audit:    auditService,
		clock:    clk,
		validate: validation.New(),
		logger:   logging.OrNop(logger),
	}
}

// Get returns a schedule by id.
func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	schedule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, ErrScheduleNotFound
	}
	return schedule, nil
}

// ListAll returns every schedule.
func (s *Service) ListAll(ctx context.Context) ([]Schedule, error) {
	return s.repo.ListAll(ctx)
}

// ListFor returns the schedules a user can see: owned ones for guardians,
// addressed ones for patients.
func (s *Service) ListFor(ctx context.Context, user auth.User) ([]Schedule, error) {
	if user.IsGuardian() {
		return s.repo.ListForOwner(ctx, user.ID)
	}
	return s.repo.ListForPatient(ctx, auth.NormalizeEmail(user.Email))
}

// Create validates input and stores a new schedule owned by a guardian.
func (s *Service) Create(ctx context.Context, user auth.User, input CreateScheduleInput) (*Schedule, error) {
	if !user.IsGuardian() {
		return nil, apperrors.NewRoleRequiredError(string(auth.RoleGuardian))
	}

	input.PatientIdentity = auth.NormalizeEmail(input.PatientIdentity)
	input.MedicineName = gateway.CleanText(input.MedicineName, MaxMedicineLength)
	input.Dosage = gateway.CleanText(input.Dosage, MaxDosageLength)
	input.TimeOfDay = strings.TrimSpace(input.TimeOfDay)
	input.Notes = gateway.CleanText(input.Notes, MaxNotesLength)
	input.CaretakerContact = gateway.CleanRecipient(input.CaretakerContact)

	if err := validation.Check(s.validate, input); err != nil {
		return nil, err
	}
	if _, err := clock.ParseTimeOfDay(input.TimeOfDay); err != nil {
		return nil, apperrors.NewValidationError("Time must be in HH:MM format.", map[string]any{"time": "datetime=15:04"})
	}

	exists, err := s.patients.PatientExists(ctx, input.PatientIdentity)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	schedule := Schedule{
		ID:               uuid.New().String(),
		OwnerID:          user.ID,
		PatientIdentity:  input.PatientIdentity,
		MedicineName:     input.MedicineName,
		Dosage:           input.Dosage,
		TimeOfDay:        input.TimeOfDay,
		Notes:            input.Notes,
		CaretakerContact: input.CaretakerContact,
		CreatedAt:        s.clock.Now().UTC(),
	}
	if err := s.repo.Create(ctx, schedule); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("owner_id", schedule.OwnerID).
		Str("time", schedule.TimeOfDay).
		Msg("schedule created")
	s.emit(ctx, audit.WriteEventInput{
		Type:       audit.EventScheduleCreated,
		OwnerID:    schedule.OwnerID,
		ScheduleID: schedule.ID,
		Message:    "Schedule created for " + schedule.MedicineName,
		Payload: map[string]any{
			"patient_identity": schedule.PatientIdentity,
			"time":             schedule.TimeOfDay,
		},
	})

	return &schedule, nil
}

// Delete removes a schedule owned by user.
func (s *Service) Delete(ctx context.Context, user auth.User, id string) error {
	if !user.IsGuardian() {
		return apperrors.NewRoleRequiredError(string(auth.RoleGuardian))
	}

	schedule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if schedule.OwnerID != user.ID {
		return ErrNotOwner
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrScheduleNotFound
	}

	s.logger.Info().Str("schedule_id", id).Msg("schedule deleted")
	s.emit(ctx, audit.WriteEventInput{
		Type:       audit.EventScheduleDeleted,
		OwnerID:    schedule.OwnerID,
		ScheduleID: schedule.ID,
		Message:    "Schedule deleted for " + schedule.MedicineName,
	})
	return nil
}

func (s *Service) emit(ctx context.Context, input audit.WriteEventInput) {
	if s.audit != nil {
		s.audit.Emit(ctx, input)
	}
}

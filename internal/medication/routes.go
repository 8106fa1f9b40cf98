package medication

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/auth"
)

// RegisterRoutes wires schedule routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/medications", api.Handler(listSchedules(service)))
	router.Method(http.MethodPost, "/v1/medications", api.Handler(createSchedule(service)))
	router.Method(http.MethodDelete, "/v1/medications/{schedule_id}", api.Handler(deleteSchedule(service)))
}

func listSchedules(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		schedules, err := service.ListFor(r.Context(), user)
		if err != nil {
			return apperrors.NewInternalError("Failed to list medications")
		}

		formatted := make([]map[string]any, 0, len(schedules))
		for i := range schedules {
			formatted = append(formatted, FormatSchedule(&schedules[i]))
		}
		return api.WriteList(w, "/v1/medications", formatted, false)
	}
}

func createSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		var input CreateScheduleInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}

		schedule, err := service.Create(r.Context(), user, input)
		if err != nil {
			return ToAppError(err, "")
		}

		return api.WriteResource(w, http.StatusCreated, FormatSchedule(schedule))
	}
}

func deleteSchedule(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		scheduleID := chi.URLParam(r, "schedule_id")
		if err := service.Delete(r.Context(), user, scheduleID); err != nil {
			return ToAppError(err, scheduleID)
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "medication",
			"id":      scheduleID,
			"deleted": true,
		})
	}
}

// ToAppError maps schedule errors onto HTTP errors.
func ToAppError(err error, scheduleID string) error {
	switch {
	case errors.Is(err, ErrScheduleNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodeScheduleNotFound, "Medication not found", http.StatusNotFound, map[string]any{"schedule_id": scheduleID})
	case errors.Is(err, ErrNotOwner):
		return apperrors.NewForbiddenError("Not allowed.")
	case errors.Is(err, ErrPatientNotFound):
		return apperrors.NewAppError(apperrors.ErrorCodePatientNotFound, "Selected patient account not found. Register patient first.", http.StatusBadRequest, nil)
	default:
		return err
	}
}

// FormatSchedule renders a schedule for responses.
func FormatSchedule(schedule *Schedule) map[string]any {
	return map[string]any{
		"object":          "medication",
		"id":              schedule.ID,
		"owner_id":        schedule.OwnerID,
		"patient_email":   schedule.PatientIdentity,
		"medicine_name":   schedule.MedicineName,
		"dosage":          schedule.Dosage,
		"time":            schedule.TimeOfDay,
		"notes":           schedule.Notes,
		"caretaker_phone": schedule.CaretakerContact,
		"created_at":      schedule.CreatedAt,
	}
}

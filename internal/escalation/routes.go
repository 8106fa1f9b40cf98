package escalation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/medication"
	"github.com/strefethen/medassist-go/internal/notify"
)

// RegisterRoutes wires dose actions, history and manual sweeps to the router.
func RegisterRoutes(router chi.Router, engine *Engine) {
	router.Method(http.MethodPost, "/v1/medications/{schedule_id}/taken", api.Handler(markTaken(engine)))
	router.Method(http.MethodPost, "/v1/medications/{schedule_id}/escalate", api.Handler(escalateNow(engine)))
	router.Method(http.MethodGet, "/v1/logs", api.Handler(listLogs(engine)))
	router.Method(http.MethodGet, "/v1/notifications", api.Handler(listNotifications(engine)))
	router.Method(http.MethodPost, "/v1/escalation/sweep", api.Handler(runSweep(engine)))
}

func markTaken(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		scheduleID := chi.URLParam(r, "schedule_id")
		result, err := engine.OnDoseTaken(r.Context(), user, scheduleID)
		if err != nil {
			return medication.ToAppError(err, scheduleID)
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":     "dose_taken",
			"log":        result.Log,
			"sms_result": result.Notification,
		})
	}
}

func escalateNow(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		scheduleID := chi.URLParam(r, "schedule_id")
		result, err := engine.OnEscalateRequested(r.Context(), user, scheduleID)
		if err != nil {
			return medication.ToAppError(err, scheduleID)
		}

		body := map[string]any{
			"object":      "escalation",
			"log":         result.Log,
			"call_result": result.Call,
			"sms_results": result.Notifications,
		}
		if result.Reason != "" {
			body["reason"] = result.Reason
		}
		return api.WriteResource(w, http.StatusOK, body)
	}
}

func listLogs(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		logs, err := engine.ListLogs(r.Context(), user)
		if err != nil {
			return apperrors.NewInternalError("Failed to list dose logs")
		}
		return api.WriteList(w, "/v1/logs", logs, false)
	}
}

func listNotifications(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		limit := notify.DefaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > notify.DefaultListLimit {
				return apperrors.NewValidationError("limit must be between 1 and 200", map[string]any{"limit": raw})
			}
			limit = parsed
		}

		records, err := engine.ListNotifications(r.Context(), user, limit)
		if err != nil {
			return apperrors.NewInternalError("Failed to list notifications")
		}
		return api.WriteList(w, "/v1/notifications", records, false)
	}
}

func runSweep(engine *Engine) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		if _, err := auth.RequireRole(r, auth.RoleGuardian); err != nil {
			return err
		}

		report, err := engine.RunSweepOnce(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Escalation sweep failed")
		}
		return api.WriteResource(w, http.StatusOK, report)
	}
}

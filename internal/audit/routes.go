package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/auth"
)

// RegisterRoutes wires audit routes to the router. Guardians only see events
// about their own schedules.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/events", api.Handler(queryEvents(service)))
	router.Method(http.MethodGet, "/v1/audit/events/{event_id}", api.Handler(getEvent(service)))
}

// GET /v1/audit/events
func queryEvents(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireRole(r, auth.RoleGuardian)
		if err != nil {
			return err
		}

		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}
		filters.OwnerID = &user.ID

		events, _, hasMore, err := service.QueryEvents(r.Context(), filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query audit events")
		}

		formatted := make([]map[string]any, 0, len(events))
		for _, event := range events {
			formatted = append(formatted, formatEvent(&event))
		}
		return api.WriteList(w, "/v1/audit/events", formatted, hasMore)
	}
}

// GET /v1/audit/events/{event_id}
func getEvent(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireRole(r, auth.RoleGuardian)
		if err != nil {
			return err
		}

		eventID := chi.URLParam(r, "event_id")
		notFound := apperrors.NewAppError(apperrors.ErrorCodeEventNotFound, "Event not found", http.StatusNotFound, map[string]any{
			"event_id": eventID,
		})

		event, err := service.GetEvent(r.Context(), eventID)
		if err != nil {
			var notFoundErr *EventNotFoundError
			if errors.As(err, &notFoundErr) {
				return notFound
			}
			return apperrors.NewInternalError("Failed to get audit event")
		}
		if event.OwnerID == nil || *event.OwnerID != user.ID {
			return notFound
		}

		return api.WriteResource(w, http.StatusOK, formatEvent(event))
	}
}

func parseQueryFilters(r *http.Request) (EventQueryFilters, error) {
	filters := EventQueryFilters{Limit: DefaultQueryLimit}
	query := r.URL.Query()

	if from := query.Get("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid 'from' datetime format, expected ISO 8601", map[string]any{"from": from})
		}
		filters.StartDate = &parsed
	}
	if to := query.Get("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filters, apperrors.NewValidationError("invalid 'to' datetime format, expected ISO 8601", map[string]any{"to": to})
		}
		filters.EndDate = &parsed
	}

	if eventType := query.Get("type"); eventType != "" {
		filters.Type = &eventType
	}
	if level := query.Get("level"); level != "" {
		parsedLevel, ok := validEventLevels[level]
		if !ok {
			return filters, apperrors.NewValidationError("invalid level", map[string]any{
				"level":        level,
				"valid_levels": []string{"INFO", "WARN", "ERROR"},
			})
		}
		filters.Level = &parsedLevel
	}
	if scheduleID := query.Get("schedule_id"); scheduleID != "" {
		filters.ScheduleID = &scheduleID
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{"limit": limitStr})
		}
		filters.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{"offset": offsetStr})
		}
		filters.Offset = offset
	}

	return filters, nil
}

func formatEvent(event *AuditEvent) map[string]any {
	result := map[string]any{
		"object":    "audit_event",
		"event_id":  event.EventID,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
		"type":      event.Type,
		"level":     string(event.Level),
		"message":   event.Message,
	}

	correlation := map[string]any{}
	if event.RequestID != nil {
		correlation["request_id"] = *event.RequestID
	}
	if event.ScheduleID != nil {
		correlation["schedule_id"] = *event.ScheduleID
	}
	if len(correlation) > 0 {
		result["correlation"] = correlation
	}

	if len(event.Payload) > 0 {
		result["payload"] = event.Payload
	}
	return result
}

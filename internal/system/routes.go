package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/auth"
)

// RegisterRoutes wires system routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
	router.Method(http.MethodGet, "/v1/dashboard", api.Handler(getDashboard(service)))
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		if _, err := auth.RequireRole(r, auth.RoleGuardian); err != nil {
			return err
		}

		info, err := service.GetSystemInfo(r.Context())
		if err != nil {
			return apperrors.NewInternalError("Failed to get system info")
		}
		return api.WriteResource(w, http.StatusOK, info)
	}
}

// getDashboard handles GET /v1/dashboard
func getDashboard(service *Service) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		user, err := auth.RequireUser(r)
		if err != nil {
			return err
		}

		data, err := service.GetDashboardData(r.Context(), user)
		if err != nil {
			return apperrors.NewInternalError("Failed to get dashboard data")
		}
		return api.WriteResource(w, http.StatusOK, data)
	}
}

package auth

import (
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
)

// RegisterRoutes wires auth routes to the router.
func RegisterRoutes(router chi.Router, service *Service, limiter *AttemptLimiter) {
	router.Method(http.MethodPost, "/v1/auth/register", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if !limiter.Allow(clientKey(r)) {
			return apperrors.NewRateLimitError("Too many attempts. Try again later.")
		}

		var input RegisterInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}

		session, err := service.Register(r.Context(), input)
		if err != nil {
			if errors.Is(err, ErrEmailTaken) {
				return apperrors.NewAppError(apperrors.ErrorCodeEmailTaken, "Email already registered.", http.StatusConflict, nil)
			}
			return err
		}

		return api.WriteResource(w, http.StatusCreated, formatSession(session))
	}))

	router.Method(http.MethodPost, "/v1/auth/login", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if !limiter.Allow(clientKey(r)) {
			return apperrors.NewRateLimitError("Too many attempts. Try again later.")
		}

		var input LoginInput
		if err := api.DecodeJSON(r, &input); err != nil {
			return err
		}

		session, err := service.Login(r.Context(), input)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				return apperrors.NewUnauthorizedError("Invalid email or password.", apperrors.ErrorCodeInvalidCredentials)
			}
			return err
		}

		return api.WriteResource(w, http.StatusOK, formatSession(session))
	}))

	router.Method(http.MethodGet, "/v1/auth/me", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		user, err := RequireUser(r)
		if err != nil {
			return err
		}

		account, err := service.Me(r.Context(), user)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return apperrors.NewUnauthorizedError("Account no longer exists", apperrors.ErrorCodeSessionRevoked)
			}
			return err
		}

		return api.WriteResource(w, http.StatusOK, formatAccount(*account))
	}))

	router.Method(http.MethodPost, "/v1/auth/logout", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		user, err := RequireUser(r)
		if err != nil {
			return err
		}
		if err := service.Logout(r.Context(), user); err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{"object": "logout", "ok": true})
	}))

	router.Method(http.MethodGet, "/v1/users/patients", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if _, err := RequireRole(r, RoleGuardian); err != nil {
			return err
		}

		patients, err := service.ListPatients(r.Context())
		if err != nil {
			return err
		}

		formatted := make([]map[string]any, 0, len(patients))
		for _, patient := range patients {
			formatted = append(formatted, formatAccount(patient))
		}
		return api.WriteList(w, "/v1/users/patients", formatted, false)
	}))
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func formatAccount(account Account) map[string]any {
	return map[string]any{
		"object":     "user",
		"id":         account.ID,
		"name":       account.Name,
		"email":      account.Email,
		"role":       account.Role,
		"city":       account.City,
		"phone":      account.Phone,
		"created_at": account.CreatedAt,
	}
}

func formatSession(session *Session) map[string]any {
	return map[string]any{
		"object":     "session",
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"user":       formatAccount(session.User),
	}
}

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/apperrors"
)

var publicRoutes = map[string]struct{}{
	"/v1/auth/register": {},
	"/v1/auth/login":    {},
	"/metrics":          {},
}

var publicPrefixes = []string{
	"/v1/health",
	"/v1/openapi",
}

// Middleware validates bearer tokens for protected routes.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, appErr := bearerToken(r)
			if appErr != nil {
				api.WriteError(w, r, appErr)
				return
			}

			user, err := service.Authenticate(r.Context(), token)
			if err != nil {
				api.WriteError(w, r, authError(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(r *http.Request) (string, *apperrors.AppError) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// Browsers cannot set headers on WebSocket upgrades.
		if token := r.URL.Query().Get("access_token"); token != "" && isWebSocketUpgrade(r) {
			return token, nil
		}
		return "", apperrors.NewUnauthorizedError("Missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	return token, nil
}

func authError(err error) error {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired)
	case errors.Is(err, ErrTokenInvalid):
		return apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid)
	case errors.Is(err, ErrSessionRevoked):
		return apperrors.NewUnauthorizedError("Session expired. Please login again.", apperrors.ErrorCodeSessionRevoked)
	default:
		return err
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RequireUser returns the authenticated user or a 401 error.
func RequireUser(r *http.Request) (User, error) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		return User{}, apperrors.NewUnauthorizedError("Authentication required")
	}
	return user, nil
}

// RequireRole returns the authenticated user when it has role.
func RequireRole(r *http.Request, role Role) (User, error) {
	user, err := RequireUser(r)
	if err != nil {
		return User{}, err
	}
	if user.Role != role {
		return User{}, apperrors.NewRoleRequiredError(string(role))
	}
	return user, nil
}

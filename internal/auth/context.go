package auth

import "context"

type contextKey string

const userKey contextKey = "authUser"

// User represents an authenticated account.
type User struct {
	ID        string
	Email     string
	Role      Role
	SessionID string
}

// IsGuardian reports whether the account manages schedules.
func (u User) IsGuardian() bool { return u.Role == RoleGuardian }

// IsPatient reports whether the account takes doses.
func (u User) IsPatient() bool { return u.Role == RolePatient }

// WithUser stores an authenticated user in the context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if present.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	value := ctx.Value(userKey)
	if value == nil {
		return User{}, false
	}
	user, ok := value.(User)
	return user, ok
}

package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/medassist-go/internal/apperrors"
)

type sample struct {
	Email string `json:"email" validate:"required,email"`
	Time  string `json:"time" validate:"required,datetime=15:04"`
	Role  string `json:"role" validate:"omitempty,oneof=guardian patient"`
}

func TestCheck_Valid(t *testing.T) {
	require.NoError(t, Check(New(), sample{Email: "a@b.com", Time: "08:00", Role: "patient"}))
}

func TestCheck_ReportsJSONFieldNames(t *testing.T) {
	err := Check(New(), sample{Email: "nope", Time: "8am"})
	require.Error(t, err)

	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodeValidationError, appErr.Code)
	require.Equal(t, 400, appErr.StatusCode)
	require.Equal(t, "email", appErr.Details["email"])
	require.Equal(t, "datetime=15:04", appErr.Details["time"])
	require.Equal(t, "email must be a valid email", appErr.Message)
}

func TestCheck_OneOf(t *testing.T) {
	err := Check(New(), sample{Email: "a@b.com", Time: "23:59", Role: "admin"})
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, "oneof=guardian patient", appErr.Details["role"])
}

// Package medication stores the daily dose schedules guardians create for patients.
package medication

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Field limits applied when a schedule is created.
const (
	MaxMedicineLength  = 80
	MaxDosageLength    = 60
	MaxNotesLength     = 220
	MaxCaretakerLength = 30
)

// Schedule is one daily dose plan.
type Schedule struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	PatientIdentity  string    `json:"patient_identity"`
	MedicineName     string    `json:"medicine_name"`
	Dosage           string    `json:"dosage"`
	TimeOfDay        string    `json:"time"`
	Notes            string    `json:"notes"`
	CaretakerContact string    `json:"caretaker_contact"`
	CreatedAt        time.Time `json:"created_at"`
}

// VisibleTo reports whether a user may see the schedule: the owning guardian
// or the patient it is addressed to.
func (s *Schedule) VisibleTo(userID, email string) bool {
	return s.OwnerID == userID || s.PatientIdentity == email
}

// CreateScheduleInput is the body of POST /v1/medications.
type CreateScheduleInput struct {
	PatientIdentity  string `json:"patient_email" validate:"required,email"`
	MedicineName     string `json:"medicine_name" validate:"required"`
	Dosage           string `json:"dosage" validate:"required"`
	TimeOfDay        string `json:"time" validate:"required,datetime=15:04"`
	Notes            string `json:"notes"`
	CaretakerContact string `json:"caretaker_phone"`
}

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrNotOwner         = errors.New("schedule belongs to another guardian")
	ErrPatientNotFound  = errors.New("patient account not found")
)

// PatientLookup confirms that a patient account exists.
type PatientLookup interface {
	PatientExists(ctx context.Context, identity string) (bool, error)
}

// DBPair interface for dependency injection (matches db.DBPair)
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

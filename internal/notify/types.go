// Package notify records SMS notifications and guarantees that each
// (schedule, day, event, recipient) key is attempted at most once.
package notify

import (
	"database/sql"
	"time"

	"github.com/strefethen/medassist-go/internal/gateway"
)

// EventType names the reason a notification is sent.
type EventType string

const (
	EventDuePatient      EventType = "due_patient"
	EventDueCaretaker    EventType = "due_caretaker"
	EventMissedPatient   EventType = "missed_patient"
	EventMissedCaretaker EventType = "missed_caretaker"
	EventTakenCaretaker  EventType = "taken_caretaker"
)

// RecipientRole returns who receives this event type.
func (e EventType) RecipientRole() string {
	switch e {
	case EventDuePatient, EventMissedPatient:
		return "patient"
	default:
		return "caretaker"
	}
}

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventDuePatient, EventDueCaretaker, EventMissedPatient, EventMissedCaretaker, EventTakenCaretaker:
		return true
	}
	return false
}

// Skip reasons reported in SendResult.Reason.
const (
	ReasonMissingPhone = "missing_phone"
	ReasonAlreadySent  = "already_sent"
)

// StatusPending marks a claimed key whose delivery attempt has not finished.
const StatusPending = "pending"

// Record is one stored notification attempt.
type Record struct {
	ID                string    `json:"id"`
	ScheduleID        string    `json:"schedule_id"`
	DateKey           string    `json:"date_key"`
	EventType         EventType `json:"event_type"`
	RecipientRole     string    `json:"recipient_role"`
	RecipientContact  string    `json:"recipient_contact"`
	Message           string    `json:"message"`
	Provider          string    `json:"provider"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	DeliveryStatus    string    `json:"delivery_status"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListedRecord is a Record joined with the schedule it belongs to.
type ListedRecord struct {
	Record
	MedicineName    string `json:"medicine_name"`
	PatientIdentity string `json:"patient_identity"`
	TimeOfDay       string `json:"time"`
}

// SendRequest describes one deduplicated SMS. Message is only called once
// the key has been claimed.
type SendRequest struct {
	ScheduleID string
	DateKey    string
	EventType  EventType
	Recipient  string
	Message    func() string
}

// SendResult reports what SendOnce did.
type SendResult struct {
	Sent    bool            `json:"sent"`
	Skipped bool            `json:"skipped"`
	Reason  string          `json:"reason,omitempty"`
	Result  *gateway.Result `json:"result,omitempty"`
	Record  *Record         `json:"record,omitempty"`
}

// DBPair interface for dependency injection (matches db.DBPair)
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

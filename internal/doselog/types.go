// Package doselog persists the per-day outcome of every schedule: one row per
// (schedule, date key) holding either taken or escalated state.
package doselog

import (
	"database/sql"
	"time"
)

// Status is the outcome of a dose for one day.
type Status string

const (
	StatusTaken     Status = "taken"
	StatusEscalated Status = "escalated"
)

// DoseLog is the stored state of one schedule on one civil day.
type DoseLog struct {
	ID                string     `json:"id"`
	ScheduleID        string     `json:"schedule_id"`
	DateKey           string     `json:"date_key"`
	Status            Status     `json:"status"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	TakenAt           *time.Time `json:"taken_at,omitempty"`
	EscalatedAt       *time.Time `json:"escalated_at,omitempty"`
	CaretakerContact  string     `json:"caretaker_contact"`
	CaretakerCalledAt *time.Time `json:"caretaker_called_at,omitempty"`
	CallProvider      string     `json:"call_provider,omitempty"`
	CallReference     string     `json:"call_reference,omitempty"`
	CallStatus        string     `json:"call_status,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// IsTaken reports whether the day is closed.
func (l *DoseLog) IsTaken() bool {
	return l != nil && l.Status == StatusTaken
}

// CallPlaced reports whether a caretaker call was already attempted for the day.
func (l *DoseLog) CallPlaced() bool {
	return l != nil && l.CaretakerCalledAt != nil
}

// CallInfo is the outcome of one caretaker call attempt.
type CallInfo struct {
	CalledAt  time.Time
	Provider  string
	Reference string
	Status    string
}

// MarkTakenInput closes a day as taken.
type MarkTakenInput struct {
	ScheduleID       string
	DateKey          string
	TakenAt          time.Time
	ScheduledAt      *time.Time
	CaretakerContact string
}

// MarkEscalatedInput opens or refreshes an escalation. Call is nil unless a
// caretaker call was just attempted.
type MarkEscalatedInput struct {
	ScheduleID       string
	DateKey          string
	EscalatedAt      time.Time
	ScheduledAt      *time.Time
	CaretakerContact string
	Call             *CallInfo
}

// DBPair interface for dependency injection (matches db.DBPair)
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

package audit

import (
	"database/sql"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventScheduleCreated  EventType = "SCHEDULE_CREATED"
	EventScheduleDeleted  EventType = "SCHEDULE_DELETED"
	EventDoseTaken        EventType = "DOSE_TAKEN"
	EventDoseEscalated    EventType = "DOSE_ESCALATED"
	EventCaretakerCalled  EventType = "CARETAKER_CALLED"
	EventEscalationForced EventType = "ESCALATION_FORCED"
	EventSweepFailed      EventType = "SWEEP_FAILED"
	EventSystemStartup    EventType = "SYSTEM_STARTUP"
	EventSystemError      EventType = "SYSTEM_ERROR"
)

// EventLevel represents the severity level of an audit event.
type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

var validEventLevels = map[string]EventLevel{
	"INFO":  EventLevelInfo,
	"WARN":  EventLevelWarn,
	"ERROR": EventLevelError,
}

// AuditEvent represents a single audit event.
type AuditEvent struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Type       EventType      `json:"type"`
	Level      EventLevel     `json:"level"`
	RequestID  *string        `json:"request_id,omitempty"`
	OwnerID    *string        `json:"owner_id,omitempty"`
	ScheduleID *string        `json:"schedule_id,omitempty"`
	Message    string         `json:"message"`
	Payload    map[string]any `json:"payload"`
}

// WriteEventInput contains the fields for creating a new audit event.
// RequestID is taken from the context when left empty.
type WriteEventInput struct {
	Type       EventType
	Level      EventLevel
	RequestID  string
	OwnerID    string
	ScheduleID string
	Message    string
	Payload    map[string]any
}

// EventQueryFilters contains optional filters for querying events.
type EventQueryFilters struct {
	Type       *string
	Level      *EventLevel
	OwnerID    *string
	ScheduleID *string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

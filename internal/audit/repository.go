package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/medassist-go/internal/db"
)

const eventColumns = `event_id, timestamp, type, level, request_id, owner_id, schedule_id, message, payload`

// Repository handles database operations for audit events.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/UPDATE/DELETE
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// InsertEvent writes a new audit event stamped at now.
func (r *Repository) InsertEvent(ctx context.Context, input WriteEventInput, now time.Time) (*AuditEvent, error) {
	level := input.Level
	if level == "" {
		level = EventLevelInfo
	}

	payload := input.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	eventID := uuid.New().String()
	_, err = r.writer.ExecContext(ctx, `
		INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, db.FormatTime(now), string(input.Type), string(level),
		nullable(input.RequestID), nullable(input.OwnerID), nullable(input.ScheduleID),
		input.Message, string(payloadJSON))
	if err != nil {
		return nil, err
	}

	row := r.writer.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE event_id = ?`, eventID)
	return scanEvent(row)
}

// GetEvent retrieves a single event by ID.
// Returns nil, nil if not found.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	row := r.reader.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events WHERE event_id = ?`, eventID)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

// QueryEvents retrieves events matching filters, newest first, with the
// total count of matches.
func (r *Repository) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := r.reader.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		`+whereClause+`
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []AuditEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// Prune deletes events older than cutoff and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.writer.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, db.FormatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func buildWhereClause(filters EventQueryFilters) (string, []any) {
	conditions := []string{}
	args := []any{}

	if filters.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		conditions = append(conditions, "level = ?")
		args = append(args, string(*filters.Level))
	}
	if filters.OwnerID != nil {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, *filters.OwnerID)
	}
	if filters.ScheduleID != nil {
		conditions = append(conditions, "schedule_id = ?")
		args = append(args, *filters.ScheduleID)
	}
	if filters.StartDate != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, db.FormatTime(*filters.StartDate))
	}
	if filters.EndDate != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, db.FormatTime(*filters.EndDate))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*AuditEvent, error) {
	var event AuditEvent
	var timestamp, eventType, level, payloadJSON string
	var requestID, ownerID, scheduleID sql.NullString

	if err := row.Scan(&event.EventID, &timestamp, &eventType, &level, &requestID, &ownerID, &scheduleID, &event.Message, &payloadJSON); err != nil {
		return nil, err
	}

	parsed, err := db.ParseTime(timestamp)
	if err != nil {
		return nil, err
	}
	event.Timestamp = parsed
	event.Type = EventType(eventType)
	event.Level = EventLevel(level)

	if requestID.Valid {
		event.RequestID = &requestID.String
	}
	if ownerID.Valid {
		event.OwnerID = &ownerID.String
	}
	if scheduleID.Valid {
		event.ScheduleID = &scheduleID.String
	}

	if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
		return nil, err
	}
	return &event, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

package doselog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/medassist-go/internal/db"
)

const logColumns = `id, schedule_id, date_key, status, scheduled_at, taken_at, escalated_at,
	caretaker_contact, caretaker_called_at, call_provider, call_reference, call_status,
	created_at, updated_at`

// Repository stores dose logs. Every write is a single upsert on the
// (schedule_id, date_key) unique key, so concurrent writers for the same day
// never interleave.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer(), now: time.Now}
}

// Get returns the log for a schedule and day, or nil when none exists.
func (r *Repository) Get(ctx context.Context, scheduleID, dateKey string) (*DoseLog, error) {
	return r.get(ctx, r.reader, scheduleID, dateKey)
}

func (r *Repository) get(ctx context.Context, conn *sql.DB, scheduleID, dateKey string) (*DoseLog, error) {
	row := conn.QueryRowContext(ctx, `
		SELECT `+logColumns+`
		FROM dose_logs
		WHERE schedule_id = ? AND date_key = ?
	`, scheduleID, dateKey)

	log, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dose log: %w", err)
	}
	return log, nil
}

// Upsert writes every mutable field of log, inserting the row if needed.
// created_at survives updates; updated_at is bumped.
func (r *Repository) Upsert(ctx context.Context, log DoseLog) (*DoseLog, error) {
	if log.ScheduleID == "" || log.DateKey == "" {
		return nil, errors.New("dose log requires schedule id and date key")
	}
	if log.Status != StatusTaken && log.Status != StatusEscalated {
		return nil, fmt.Errorf("invalid dose log status %q", log.Status)
	}

	now := db.FormatTime(r.now())
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO dose_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id, date_key) DO UPDATE SET
			status = excluded.status,
			scheduled_at = excluded.scheduled_at,
			taken_at = excluded.taken_at,
			escalated_at = excluded.escalated_at,
			caretaker_contact = excluded.caretaker_contact,
			caretaker_called_at = excluded.caretaker_called_at,
			call_provider = excluded.call_provider,
			call_reference = excluded.call_reference,
			call_status = excluded.call_status,
			updated_at = excluded.updated_at
	`,
		uuid.New().String(), log.ScheduleID, log.DateKey, string(log.Status),
		db.NullTime(log.ScheduledAt), db.NullTime(log.TakenAt), db.NullTime(log.EscalatedAt),
		log.CaretakerContact, db.NullTime(log.CaretakerCalledAt),
		nullString(log.CallProvider), nullString(log.CallReference), nullString(log.CallStatus),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert dose log: %w", err)
	}

	return r.get(ctx, r.writer, log.ScheduleID, log.DateKey)
}

// MarkTaken closes the day. It overwrites any escalation unconditionally and
// clears escalated_at and the call fields.
func (r *Repository) MarkTaken(ctx context.Context, input MarkTakenInput) (*DoseLog, error) {
	now := db.FormatTime(r.now())
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO dose_logs (`+logColumns+`)
		VALUES (?, ?, ?, 'taken', ?, ?, NULL, ?, NULL, NULL, NULL, NULL, ?, ?)
		ON CONFLICT(schedule_id, date_key) DO UPDATE SET
			status = 'taken',
			scheduled_at = COALESCE(excluded.scheduled_at, dose_logs.scheduled_at),
			taken_at = excluded.taken_at,
			escalated_at = NULL,
			caretaker_contact = excluded.caretaker_contact,
			caretaker_called_at = NULL,
			call_provider = NULL,
			call_reference = NULL,
			call_status = NULL,
			updated_at = excluded.updated_at
	`,
		uuid.New().String(), input.ScheduleID, input.DateKey,
		db.NullTime(input.ScheduledAt), db.FormatTime(input.TakenAt),
		input.CaretakerContact, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark dose taken: %w", err)
	}

	return r.get(ctx, r.writer, input.ScheduleID, input.DateKey)
}

// MarkEscalated moves the day to escalated unless it is already taken, and
// returns the row as stored afterwards (which may be the untouched taken log).
// An existing escalated_at is kept. Call fields are only replaced when
// input.Call is set.
func (r *Repository) MarkEscalated(ctx context.Context, input MarkEscalatedInput) (*DoseLog, error) {
	var calledAt, provider, reference, status sql.NullString
	if input.Call != nil {
		calledAt = sql.NullString{String: db.FormatTime(input.Call.CalledAt), Valid: true}
		provider = sql.NullString{String: input.Call.Provider, Valid: true}
		reference = sql.NullString{String: input.Call.Reference, Valid: true}
		status = sql.NullString{String: input.Call.Status, Valid: true}
	}

	now := db.FormatTime(r.now())
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO dose_logs (`+logColumns+`)
		VALUES (?, ?, ?, 'escalated', ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id, date_key) DO UPDATE SET
			status = 'escalated',
			scheduled_at = COALESCE(dose_logs.scheduled_at, excluded.scheduled_at),
			escalated_at = COALESCE(dose_logs.escalated_at, excluded.escalated_at),
			caretaker_contact = excluded.caretaker_contact,
			caretaker_called_at = COALESCE(excluded.caretaker_called_at, dose_logs.caretaker_called_at),
			call_provider = COALESCE(excluded.call_provider, dose_logs.call_provider),
			call_reference = COALESCE(excluded.call_reference, dose_logs.call_reference),
			call_status = COALESCE(excluded.call_status, dose_logs.call_status),
			updated_at = excluded.updated_at
		WHERE dose_logs.status <> 'taken'
	`,
		uuid.New().String(), input.ScheduleID, input.DateKey,
		db.NullTime(input.ScheduledAt), db.FormatTime(input.EscalatedAt),
		input.CaretakerContact, calledAt, provider, reference, status,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark dose escalated: %w", err)
	}

	return r.get(ctx, r.writer, input.ScheduleID, input.DateKey)
}

// ListForOwner returns logs of every schedule a guardian owns, newest day first.
func (r *Repository) ListForOwner(ctx context.Context, ownerID string) ([]DoseLog, error) {
	return r.list(ctx, "s.owner_id = ?", ownerID)
}

// ListForPatient returns logs of every schedule addressed to a patient identity.
func (r *Repository) ListForPatient(ctx context.Context, patientIdentity string) ([]DoseLog, error) {
	return r.list(ctx, "s.patient_identity = ?", patientIdentity)
}

func (r *Repository) list(ctx context.Context, where string, arg string) ([]DoseLog, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT l.id, l.schedule_id, l.date_key, l.status, l.scheduled_at, l.taken_at, l.escalated_at,
			l.caretaker_contact, l.caretaker_called_at, l.call_provider, l.call_reference, l.call_status,
			l.created_at, l.updated_at
		FROM dose_logs l
		INNER JOIN schedules s ON s.id = l.schedule_id
		WHERE `+where+`
		ORDER BY l.date_key DESC, l.updated_at DESC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list dose logs: %w", err)
	}
	defer rows.Close()

	logs := []DoseLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dose log: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*DoseLog, error) {
	var log DoseLog
	var status string
	var scheduledAt, takenAt, escalatedAt, calledAt sql.NullString
	var provider, reference, callStatus sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&log.ID, &log.ScheduleID, &log.DateKey, &status,
		&scheduledAt, &takenAt, &escalatedAt,
		&log.CaretakerContact, &calledAt, &provider, &reference, &callStatus,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	log.Status = Status(status)
	log.CallProvider = provider.String
	log.CallReference = reference.String
	log.CallStatus = callStatus.String

	var err error
	if log.ScheduledAt, err = db.ParseNullTime(scheduledAt); err != nil {
		return nil, err
	}
	if log.TakenAt, err = db.ParseNullTime(takenAt); err != nil {
		return nil, err
	}
	if log.EscalatedAt, err = db.ParseNullTime(escalatedAt); err != nil {
		return nil, err
	}
	if log.CaretakerCalledAt, err = db.ParseNullTime(calledAt); err != nil {
		return nil, err
	}
	if log.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if log.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &log, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

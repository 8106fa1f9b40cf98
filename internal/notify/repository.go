package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strefethen/medassist-go/internal/db"
)

// DefaultListLimit caps notification listings.
const DefaultListLimit = 200

const recordColumns = `id, schedule_id, date_key, event_type, recipient_role, recipient_contact,
	message, provider, provider_reference, delivery_status, created_at`

// Repository stores notification records.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
	now    func() time.Time
}

// NewRepository creates a new Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer(), now: time.Now}
}

// Claim inserts a pending record for the key unless one already exists.
// created is false when another attempt owns the key; the returned record is
// the stored one in both cases.
func (r *Repository) Claim(ctx context.Context, scheduleID, dateKey string, eventType EventType, recipient string) (record *Record, created bool, err error) {
	res, err := r.writer.ExecContext(ctx, `
		INSERT INTO notifications (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, '', '', '', ?, ?)
		ON CONFLICT(schedule_id, date_key, event_type, recipient_contact) DO NOTHING
	`, uuid.New().String(), scheduleID, dateKey, string(eventType), eventType.RecipientRole(),
		recipient, StatusPending, db.FormatTime(r.now()))
	if err != nil {
		return nil, false, fmt.Errorf("claim notification: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim notification: %w", err)
	}

	record, err = r.get(ctx, r.writer, scheduleID, dateKey, eventType, recipient)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, errors.New("claimed notification not found")
	}
	return record, affected == 1, nil
}

// Complete stores the message and delivery outcome of a claimed record.
func (r *Repository) Complete(ctx context.Context, id, message, provider, reference, status string) error {
	_, err := r.writer.ExecContext(ctx, `
		UPDATE notifications
		SET message = ?, provider = ?, provider_reference = ?, delivery_status = ?
		WHERE id = ?
	`, message, provider, reference, status, id)
	if err != nil {
		return fmt.Errorf("complete notification: %w", err)
	}
	return nil
}

// Get returns the record for a dedup key, or nil.
func (r *Repository) Get(ctx context.Context, scheduleID, dateKey string, eventType EventType, recipient string) (*Record, error) {
	return r.get(ctx, r.reader, scheduleID, dateKey, eventType, recipient)
}

func (r *Repository) get(ctx context.Context, conn *sql.DB, scheduleID, dateKey string, eventType EventType, recipient string) (*Record, error) {
	row := conn.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM notifications
		WHERE schedule_id = ? AND date_key = ? AND event_type = ? AND recipient_contact = ?
	`, scheduleID, dateKey, string(eventType), recipient)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return record, nil
}

// ListForSchedule returns every record of a schedule and day, oldest first.
func (r *Repository) ListForSchedule(ctx context.Context, scheduleID, dateKey string) ([]Record, error) {
	rows, err := r.reader.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM notifications
		WHERE schedule_id = ? AND date_key = ?
		ORDER BY created_at ASC
	`, scheduleID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ListForOwner returns the newest records across a guardian's schedules.
func (r *Repository) ListForOwner(ctx context.Context, ownerID string, limit int) ([]ListedRecord, error) {
	return r.listJoined(ctx, "s.owner_id = ?", ownerID, limit)
}

// ListForPatient returns the newest records across a patient's schedules.
func (r *Repository) ListForPatient(ctx context.Context, patientIdentity string, limit int) ([]ListedRecord, error) {
	return r.listJoined(ctx, "s.patient_identity = ?", patientIdentity, limit)
}

func (r *Repository) listJoined(ctx context.Context, where, arg string, limit int) ([]ListedRecord, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	rows, err := r.reader.QueryContext(ctx, `
		SELECT n.id, n.schedule_id, n.date_key, n.event_type, n.recipient_role, n.recipient_contact,
			n.message, n.provider, n.provider_reference, n.delivery_status, n.created_at,
			s.medicine_name, s.patient_identity, s.time_of_day
		FROM notifications n
		INNER JOIN schedules s ON s.id = n.schedule_id
		WHERE `+where+`
		ORDER BY n.created_at DESC
		LIMIT ?
	`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	records := []ListedRecord{}
	for rows.Next() {
		var listed ListedRecord
		var eventType, createdAt string
		if err := rows.Scan(
			&listed.ID, &listed.ScheduleID, &listed.DateKey, &eventType, &listed.RecipientRole,
			&listed.RecipientContact, &listed.Message, &listed.Provider, &listed.ProviderReference,
			&listed.DeliveryStatus, &createdAt,
			&listed.MedicineName, &listed.PatientIdentity, &listed.TimeOfDay,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		listed.EventType = EventType(eventType)
		if listed.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		records = append(records, listed)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var eventType, createdAt string
	if err := row.Scan(
		&record.ID, &record.ScheduleID, &record.DateKey, &eventType, &record.RecipientRole,
		&record.RecipientContact, &record.Message, &record.Provider, &record.ProviderReference,
		&record.DeliveryStatus, &createdAt,
	); err != nil {
		return nil, err
	}
	record.EventType = EventType(eventType)

	parsed, err := db.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	record.CreatedAt = parsed
	return &record, nil
}

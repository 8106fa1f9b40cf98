package medication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/strefethen/medassist-go/internal/db"
)

const scheduleColumns = `id, owner_id, patient_identity, medicine_name, dosage, time_of_day, notes, caretaker_contact, created_at`

// Repository handles database operations for schedules.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// Create inserts a schedule.
func (r *Repository) Create(ctx context.Context, schedule Schedule) error {
	_, err := r.writer.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, schedule.ID, schedule.OwnerID, schedule.PatientIdentity, schedule.MedicineName, schedule.Dosage,
		schedule.TimeOfDay, schedule.Notes, schedule.CaretakerContact, db.FormatTime(schedule.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID returns a schedule, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id string) (*Schedule, error) {
	row := r.reader.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)

	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return schedule, nil
}

// ListAll returns every schedule, ordered by dose time.
func (r *Repository) ListAll(ctx context.Context) ([]Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY time_of_day ASC, id ASC`)
}

// ListForOwner returns a guardian's schedules, newest first.
func (r *Repository) ListForOwner(ctx context.Context, ownerID string) ([]Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
}

// ListForPatient returns the schedules addressed to a patient, newest first.
func (r *Repository) ListForPatient(ctx context.Context, patientIdentity string) ([]Schedule, error) {
	return r.list(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE patient_identity = ? ORDER BY created_at DESC`, patientIdentity)
}

// Delete removes a schedule and, through the foreign keys, its dose logs and
// notification records. It reports whether a row was deleted.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.writer.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := r.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []Schedule{}
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var schedule Schedule
	var createdAt string
	if err := row.Scan(
		&schedule.ID, &schedule.OwnerID, &schedule.PatientIdentity, &schedule.MedicineName,
		&schedule.Dosage, &schedule.TimeOfDay, &schedule.Notes, &schedule.CaretakerContact, &createdAt,
	); err != nil {
		return nil, err
	}

	parsed, err := db.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	schedule.CreatedAt = parsed
	return &schedule, nil
}

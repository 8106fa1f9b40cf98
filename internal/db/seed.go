package db

import (
	"fmt"
	"time"
)

// Demo account identities created by SeedDemo.
const (
	DemoGuardianID    = "guardian-demo-1"
	DemoGuardianEmail = "guardian@medassist.com"
	DemoPatientID     = "patient-demo-1"
	DemoPatientEmail  = "patient@medassist.com"
	DemoScheduleID    = "med-demo-1"
	demoPhone         = "+91 99887 76655"
	demoCity          = "Hassan, Karnataka"
)

// SeedDemo inserts a guardian, a patient, and one morning schedule when they
// are missing. passwordHash is stored for both accounts.
func SeedDemo(pair *DBPair, passwordHash string, now time.Time) error {
	createdAt := FormatTime(now)
	writer := pair.Writer()

	users := []struct {
		id, name, email, role string
	}{
		{DemoGuardianID, "Anita Rao", DemoGuardianEmail, "guardian"},
		{DemoPatientID, "Ravi Kumar", DemoPatientEmail, "patient"},
	}
	for _, u := range users {
		_, err := writer.Exec(`
			INSERT INTO users (id, name, email, password_hash, role, city, phone, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, u.id, u.name, u.email, passwordHash, u.role, demoCity, demoPhone, createdAt)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.email, err)
		}
	}

	_, err := writer.Exec(`
		INSERT INTO schedules (id, owner_id, patient_identity, medicine_name, dosage, time_of_day, notes, caretaker_contact, created_at)
		SELECT ?, id, ?, 'Paracetamol', '500 mg', '08:00', 'After breakfast', ?, ?
		FROM users WHERE email = ?
		ON CONFLICT DO NOTHING
	`, DemoScheduleID, DemoPatientEmail, demoPhone, createdAt, DemoGuardianEmail)
	if err != nil {
		return fmt.Errorf("seed schedule: %w", err)
	}

	return nil
}

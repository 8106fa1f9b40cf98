package escalation

import (
	"fmt"
	"time"

	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/medication"
)

// scheduleLabel renders "Paracetamol (500 mg) at 08:00 AM".
func scheduleLabel(s *medication.Schedule) string {
	return fmt.Sprintf("%s (%s) at %s", s.MedicineName, s.Dosage, clock.FormatTimeOfDay(s.TimeOfDay))
}

func duePatientMessage(s *medication.Schedule) string {
	return fmt.Sprintf("Reminder: Take %s.", scheduleLabel(s))
}

func dueCaretakerMessage(s *medication.Schedule) string {
	return fmt.Sprintf("Reminder: %s should take %s.", s.PatientIdentity, scheduleLabel(s))
}

func missedPatientMessage(s *medication.Schedule, thresholdMinutes int) string {
	return fmt.Sprintf("Missed alert: %s is overdue by %d+ minutes. Please take it now.", scheduleLabel(s), thresholdMinutes)
}

func missedCaretakerMessage(s *medication.Schedule) string {
	return fmt.Sprintf("Alert: %s missed %s. Escalation workflow started.", s.PatientIdentity, scheduleLabel(s))
}

func takenCaretakerMessage(s *medication.Schedule, takenAt time.Time, loc *time.Location) string {
	return fmt.Sprintf("Update: %s marked %s as taken at %s.", s.PatientIdentity, s.MedicineName, takenAt.In(loc).Format("03:04 PM"))
}

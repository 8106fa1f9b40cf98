package system

import (
	"context"
	"database/sql"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/doselog"
	"github.com/strefethen/medassist-go/internal/escalation"
	"github.com/strefethen/medassist-go/internal/gateway"
	"github.com/strefethen/medassist-go/internal/logging"
	"github.com/strefethen/medassist-go/internal/medication"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// Dose states shown on the dashboard. Overdue means past the escalation
// threshold while no sweep has escalated the day yet.
const (
	DoseUpcoming  = "upcoming"
	DoseDue       = "due"
	DoseOverdue   = "overdue"
	DoseTaken     = "taken"
	DoseEscalated = "escalated"
)

// SweepStatus reports background sweep progress.
type SweepStatus interface {
	Runs() int64
	Failures() int64
	LastSweep() (escalation.SweepReport, time.Time)
}

// ScheduleLister returns the schedules a user may see.
type ScheduleLister interface {
	ListFor(ctx context.Context, user auth.User) ([]medication.Schedule, error)
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Config is the subset of hub settings the system routes report.
type Config struct {
	Timezone          string
	Location          *time.Location
	EscalationMinutes int
}

// Service provides system information and the per-user dashboard.
// Uses the reader connection only.
type Service struct {
	cfg       Config
	reader    *sql.DB
	schedules ScheduleLister
	logs      *doselog.Repository
	sweeps    SweepStatus
	clock     clock.Clock
	logger    *zerolog.Logger
	startTime time.Time
}

// NewService creates a new system service.
func NewService(cfg Config, dbPair DBPair, schedules ScheduleLister, logs *doselog.Repository, sweeps SweepStatus, clk clock.Clock, logger *zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.EscalationMinutes <= 0 {
		cfg.EscalationMinutes = escalation.DefaultThresholdMinutes
	}
	return &Service{
		cfg:       cfg,
		reader:    dbPair.Reader(),
		schedules: schedules,
		logs:      logs,
		sweeps:    sweeps,
		clock:     clk,
		logger:    logging.OrNop(logger),
		startTime: clk.Now(),
	}
}

// SystemInfo holds hub health and sweep progress.
type SystemInfo struct {
	Object            string                  `json:"object"`
	HubVersion        string                  `json:"hub_version"`
	Uptime            int64                   `json:"uptime_seconds"`
	MemoryUsageMB     float64                 `json:"memory_mb"`
	SQLiteConnected   bool                    `json:"sqlite_connected"`
	Timezone          string                  `json:"timezone"`
	EscalationMinutes int                     `json:"escalation_minutes"`
	SweepRuns         int64                   `json:"sweep_runs"`
	SweepFailures     int64                   `json:"sweep_failures"`
	LastSweepAt       *time.Time              `json:"last_sweep_at"`
	LastSweep         *escalation.SweepReport `json:"last_sweep,omitempty"`
}

// DoseSummary is one schedule's state for today.
type DoseSummary struct {
	ScheduleID       string     `json:"schedule_id"`
	MedicineName     string     `json:"medicine_name"`
	Dosage           string     `json:"dosage"`
	PatientIdentity  string     `json:"patient_identity"`
	Time             string     `json:"time"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	State            string     `json:"state"`
	CaretakerContact string     `json:"caretaker_contact"`
	CallStatus       string     `json:"call_status,omitempty"`

	dueMinutes int
}

// AttentionItem is something on the dashboard that needs a human.
type AttentionItem struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResolveHint string         `json:"resolve_hint,omitempty"`
}

// DashboardData is today's overview for one user.
type DashboardData struct {
	Object         string          `json:"object"`
	DateKey        string          `json:"date_key"`
	Doses          []DoseSummary   `json:"doses"`
	NextUp         *DoseSummary    `json:"next_up"`
	AttentionItems []AttentionItem `json:"attention_items"`
}

// GetSystemInfo returns runtime and sweep information.
func (s *Service) GetSystemInfo(ctx context.Context) (*SystemInfo, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := &SystemInfo{
		Object:            "system_info",
		HubVersion:        Version,
		Uptime:            int64(s.clock.Now().Sub(s.startTime).Seconds()),
		MemoryUsageMB:     float64(mem.Alloc) / 1024 / 1024,
		SQLiteConnected:   s.checkSQLite(ctx),
		Timezone:          s.cfg.Timezone,
		EscalationMinutes: s.cfg.EscalationMinutes,
	}

	if s.sweeps != nil {
		info.SweepRuns = s.sweeps.Runs()
		info.SweepFailures = s.sweeps.Failures()
		if report, at := s.sweeps.LastSweep(); !at.IsZero() {
			info.LastSweepAt = &at
			info.LastSweep = &report
		}
	}
	return info, nil
}

func (s *Service) checkSQLite(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	if err := s.reader.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		s.logger.Warn().Err(err).Msg("sqlite health check failed")
		return false
	}
	return one == 1
}

// GetDashboardData classifies every visible schedule for the current day.
func (s *Service) GetDashboardData(ctx context.Context, user auth.User) (*DashboardData, error) {
	schedules, err := s.schedules.ListFor(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	dateKey := clock.DateKey(now, s.cfg.Location)
	minutesNow := clock.MinutesSinceMidnight(now, s.cfg.Location)

	data := &DashboardData{
		Object:         "dashboard",
		DateKey:        dateKey,
		Doses:          make([]DoseSummary, 0, len(schedules)),
		AttentionItems: []AttentionItem{},
	}

	for i := range schedules {
		schedule := &schedules[i]
		dueMinutes, err := clock.ParseTimeOfDay(schedule.TimeOfDay)
		if err != nil {
			s.logger.Warn().Err(err).Str("schedule_id", schedule.ID).Msg("skipping schedule with invalid time")
			continue
		}

		log, err := s.logs.Get(ctx, schedule.ID, dateKey)
		if err != nil {
			return nil, err
		}

		summary := DoseSummary{
			ScheduleID:       schedule.ID,
			MedicineName:     schedule.MedicineName,
			Dosage:           schedule.Dosage,
			PatientIdentity:  schedule.PatientIdentity,
			Time:             schedule.TimeOfDay,
			State:            s.classify(log, minutesNow-dueMinutes),
			CaretakerContact: schedule.CaretakerContact,
			dueMinutes:       dueMinutes,
		}
		if at, err := clock.ScheduledAt(dateKey, schedule.TimeOfDay, s.cfg.Location); err == nil {
			summary.ScheduledAt = &at
		}
		if log != nil {
			summary.CallStatus = log.CallStatus
		}
		data.Doses = append(data.Doses, summary)
		data.AttentionItems = append(data.AttentionItems, attentionFor(schedule, summary, log)...)
	}

	sort.SliceStable(data.Doses, func(i, j int) bool {
		return data.Doses[i].dueMinutes < data.Doses[j].dueMinutes
	})
	for i := range data.Doses {
		if state := data.Doses[i].State; state == DoseUpcoming || state == DoseDue {
			next := data.Doses[i]
			data.NextUp = &next
			break
		}
	}

	return data, nil
}

func (s *Service) classify(log *doselog.DoseLog, overdue int) string {
	switch {
	case log.IsTaken():
		return DoseTaken
	case log != nil && log.Status == doselog.StatusEscalated:
		return DoseEscalated
	case overdue < 0:
		return DoseUpcoming
	case overdue < s.cfg.EscalationMinutes:
		return DoseDue
	default:
		return DoseOverdue
	}
}

func attentionFor(schedule *medication.Schedule, summary DoseSummary, log *doselog.DoseLog) []AttentionItem {
	var items []AttentionItem
	details := map[string]any{
		"schedule_id":   schedule.ID,
		"medicine_name": schedule.MedicineName,
		"patient":       schedule.PatientIdentity,
	}

	if summary.State == DoseEscalated || summary.State == DoseOverdue {
		items = append(items, AttentionItem{
			Type:        "dose_missed",
			Severity:    "critical",
			Message:     schedule.MedicineName + " was not taken at " + clock.FormatTimeOfDay(schedule.TimeOfDay),
			Details:     details,
			ResolveHint: "Contact the patient or mark the dose as taken",
		})
	}

	if log.CallPlaced() && log.CallStatus != gateway.StatusQueued {
		items = append(items, AttentionItem{
			Type:        "caretaker_call_failed",
			Severity:    "critical",
			Message:     "Caretaker call for " + schedule.MedicineName + " did not go through",
			Details:     map[string]any{"schedule_id": schedule.ID, "call_status": log.CallStatus},
			ResolveHint: "Retry with a manual escalation",
		})
	}

	if schedule.CaretakerContact == "" && summary.State != DoseTaken {
		items = append(items, AttentionItem{
			Type:        "missing_caretaker",
			Severity:    "warning",
			Message:     schedule.MedicineName + " has no caretaker contact",
			Details:     details,
			ResolveHint: "Recreate the schedule with a caretaker phone number",
		})
	}
	return items
}

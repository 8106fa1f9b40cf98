// Package escalation decides, per schedule and civil day, whether a dose is
// upcoming, due or missed, and drives reminders, caretaker calls and the dose
// log accordingly.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/apperrors"
	"github.com/strefethen/medassist-go/internal/audit"
	"github.com/strefethen/medassist-go/internal/auth"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/doselog"
	"github.com/strefethen/medassist-go/internal/feed"
	"github.com/strefethen/medassist-go/internal/gateway"
	"github.com/strefethen/medassist-go/internal/logging"
	"github.com/strefethen/medassist-go/internal/medication"
	"github.com/strefethen/medassist-go/internal/notify"
)

// DefaultThresholdMinutes is how long a dose may be overdue before it counts as missed.
const DefaultThresholdMinutes = 15

// State is the sweep classification of one schedule.
type State string

const (
	StateTaken     State = "taken"
	StateUpcoming  State = "upcoming"
	StateDue       State = "due"
	StateEscalated State = "escalated"
	StateFailed    State = "failed"
)

// ScheduleSource supplies schedules to the engine.
type ScheduleSource interface {
	ListAll(ctx context.Context) ([]medication.Schedule, error)
	Get(ctx context.Context, id string) (*medication.Schedule, error)
}

// PatientDirectory resolves a patient identity to an SMS number.
type PatientDirectory interface {
	PatientPhone(ctx context.Context, identity string) (string, error)
}

// Deps are the collaborators of an Engine. Audit, Feed, Metrics, Clock and
// Logger are optional.
type Deps struct {
	Schedules     ScheduleSource
	Logs          *doselog.Repository
	Notifications *notify.Repository
	Notifier      *notify.Deduplicator
	Gateway       gateway.Gateway
	Patients      PatientDirectory
	Audit         *audit.Service
	Feed          *feed.Hub
	Metrics       *Metrics
	Clock         clock.Clock
	Logger        *zerolog.Logger
}

// Config holds the engine's time settings.
type Config struct {
	Location         *time.Location
	ThresholdMinutes int
}

// Engine runs sweeps and the user-triggered dose actions.
type Engine struct {
	schedules     ScheduleSource
	logs          *doselog.Repository
	notifications *notify.Repository
	notifier      *notify.Deduplicator
	gateway       gateway.Gateway
	patients      PatientDirectory
	audit         *audit.Service
	feed          *feed.Hub
	metrics       *Metrics
	clock         clock.Clock
	loc           *time.Location
	threshold     int
	logger        *zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ThresholdMinutes <= 0 {
		cfg.ThresholdMinutes = DefaultThresholdMinutes
	}
	return &Engine{
		schedules:     deps.Schedules,
		logs:          deps.Logs,
		notifications: deps.Notifications,
		notifier:      deps.Notifier,
		gateway:       deps.Gateway,
		patients:      deps.Patients,
		audit:         deps.Audit,
		feed:          deps.Feed,
		metrics:       deps.Metrics,
		clock:         deps.Clock,
		loc:           cfg.Location,
		threshold:     cfg.ThresholdMinutes,
		logger:        logging.OrNop(deps.Logger),
	}
}

// ScheduleError records a schedule the sweep could not process.
type ScheduleError struct {
	ScheduleID string `json:"schedule_id"`
	Error      string `json:"error"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	DateKey      string          `json:"date_key"`
	MinutesNow   int             `json:"minutes_now"`
	Checked      int             `json:"checked"`
	SkippedTaken int             `json:"skipped_taken"`
	Upcoming     int             `json:"upcoming"`
	Due          int             `json:"due"`
	Escalated    int             `json:"escalated"`
	Failed       int             `json:"failed"`
	Errors       []ScheduleError `json:"errors,omitempty"`
}

// NotificationOutcome is the result of one SendOnce on behalf of the engine.
type NotificationOutcome struct {
	EventType notify.EventType `json:"event_type"`
	notify.SendResult
}

// EscalationOutcome is the dose log after an escalation, and the call placed
// during it, if any.
type EscalationOutcome struct {
	Log  *doselog.DoseLog `json:"log"`
	Call *gateway.Result  `json:"call_result,omitempty"`
}

// TakenResult is returned by OnDoseTaken.
type TakenResult struct {
	Log          *doselog.DoseLog    `json:"log"`
	Notification NotificationOutcome `json:"sms_result"`
}

// EscalateResult is returned by OnEscalateRequested.
type EscalateResult struct {
	EscalationOutcome
	Notifications []NotificationOutcome `json:"sms_results"`
	// Reason explains an escalation that did nothing.
	Reason string `json:"reason,omitempty"`
}

// ReasonAlreadyTaken marks a manual escalation of a day that is already taken.
const ReasonAlreadyTaken = "already_taken"

// RunSweepOnce evaluates every schedule for the current civil day. A failure
// on one schedule is recorded in the report and never stops the others; the
// returned error only covers failing to load schedules.
func (e *Engine) RunSweepOnce(ctx context.Context) (SweepReport, error) {
	started := e.clock.Now()
	defer func() { e.metrics.SweepDuration.Observe(e.clock.Now().Sub(started).Seconds()) }()
	e.metrics.SweepsTotal.Inc()

	now := e.clock.Now()
	report := SweepReport{
		DateKey:    clock.DateKey(now, e.loc),
		MinutesNow: clock.MinutesSinceMidnight(now, e.loc),
	}

	schedules, err := e.schedules.ListAll(ctx)
	if err != nil {
		e.metrics.SweepsFailed.Inc()
		e.emit(ctx, audit.WriteEventInput{
			Type:    audit.EventSystemError,
			Level:   audit.EventLevelError,
			Message: "Escalation sweep could not load schedules",
			Payload: map[string]any{"date_key": report.DateKey, "error": err.Error()},
		})
		return report, fmt.Errorf("load schedules: %w", err)
	}

	for i := range schedules {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		schedule := &schedules[i]
		report.Checked++

		// Once started, a schedule runs to completion; gateway calls carry their own timeout.
		state, err := e.processSchedule(context.WithoutCancel(ctx), schedule, report.DateKey, report.MinutesNow)
		if err != nil {
			state = StateFailed
			report.Errors = append(report.Errors, ScheduleError{ScheduleID: schedule.ID, Error: err.Error()})
			e.logger.Error().Err(err).Str("schedule_id", schedule.ID).Str("date_key", report.DateKey).Msg("sweep failed for schedule")
			e.emit(ctx, audit.WriteEventInput{
				Type:       audit.EventSweepFailed,
				Level:      audit.EventLevelError,
				OwnerID:    schedule.OwnerID,
				ScheduleID: schedule.ID,
				Message:    "Escalation sweep failed for schedule",
				Payload:    map[string]any{"date_key": report.DateKey, "error": err.Error()},
			})
		}
		e.metrics.ScheduleOutcomes.WithLabelValues(string(state)).Inc()

		switch state {
		case StateTaken:
			report.SkippedTaken++
		case StateUpcoming:
			report.Upcoming++
		case StateDue:
			report.Due++
		case StateEscalated:
			report.Escalated++
		case StateFailed:
			report.Failed++
		}
	}

	e.logger.Debug().
		Str("date_key", report.DateKey).
		Int("checked", report.Checked).
		Int("due", report.Due).
		Int("escalated", report.Escalated).
		Int("failed", report.Failed).
		Msg("sweep completed")

	return report, nil
}

func (e *Engine) processSchedule(ctx context.Context, schedule *medication.Schedule, dateKey string, minutesNow int) (state State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	dueMinutes, err := clock.ParseTimeOfDay(schedule.TimeOfDay)
	if err != nil {
		return StateFailed, err
	}

	prior, err := e.logs.Get(ctx, schedule.ID, dateKey)
	if err != nil {
		return StateFailed, err
	}
	if prior.IsTaken() {
		return StateTaken, nil
	}

	overdue := minutesNow - dueMinutes
	switch {
	case overdue < 0:
		return StateUpcoming, nil
	case overdue < e.threshold:
		if _, err := e.notifyDue(ctx, schedule, dateKey); err != nil {
			return StateFailed, err
		}
		return StateDue, nil
	}

	outcome, err := e.escalate(ctx, schedule, dateKey, prior, false)
	if err != nil {
		return StateFailed, err
	}
	if outcome.Log.IsTaken() {
		return StateTaken, nil
	}
	if _, err := e.notifyMissed(ctx, schedule, dateKey); err != nil {
		return StateFailed, err
	}
	return StateEscalated, nil
}

// escalate marks the day escalated and places a caretaker call when one is
// configured and none was placed yet. forceCall ignores the earlier call.
// A log that is already taken is returned untouched.
func (e *Engine) escalate(ctx context.Context, schedule *medication.Schedule, dateKey string, prior *doselog.DoseLog, forceCall bool) (EscalationOutcome, error) {
	contact := gateway.CleanRecipient(schedule.CaretakerContact)
	input := doselog.MarkEscalatedInput{
		ScheduleID:       schedule.ID,
		DateKey:          dateKey,
		EscalatedAt:      e.clock.Now(),
		ScheduledAt:      e.scheduledAt(schedule, dateKey),
		CaretakerContact: contact,
	}

	// An already escalated day is left alone unless a call is recorded below.
	log := prior
	var err error
	if prior == nil || prior.Status != doselog.StatusEscalated {
		log, err = e.logs.MarkEscalated(ctx, input)
		if err != nil {
			return EscalationOutcome{}, fmt.Errorf("mark escalated: %w", err)
		}
		if log.IsTaken() {
			return EscalationOutcome{Log: log}, nil
		}

		e.emit(ctx, audit.WriteEventInput{
			Type:       audit.EventDoseEscalated,
			Level:      audit.EventLevelWarn,
			OwnerID:    schedule.OwnerID,
			ScheduleID: schedule.ID,
			Message:    "Dose escalated",
			Payload:    map[string]any{"date_key": dateKey},
		})
		e.publish(schedule, feed.EventDoseEscalated, dateKey, map[string]any{"log": log})
	}

	if contact == "" || (log.CallPlaced() && !forceCall) {
		return EscalationOutcome{Log: log}, nil
	}

	result := e.gateway.PlaceCall(ctx, contact, gateway.CallContext{
		ScheduleID:      schedule.ID,
		MedicineName:    schedule.MedicineName,
		PatientIdentity: schedule.PatientIdentity,
	})
	e.metrics.Calls.WithLabelValues(result.Status).Inc()

	input.EscalatedAt = e.clock.Now()
	input.Call = &doselog.CallInfo{
		CalledAt:  input.EscalatedAt,
		Provider:  result.Provider,
		Reference: result.Reference,
		Status:    result.Status,
	}
	// The call happened; record it even if the caller has gone.
	log, err = e.logs.MarkEscalated(context.WithoutCancel(ctx), input)
	if err != nil {
		return EscalationOutcome{Call: &result}, fmt.Errorf("record caretaker call: %w", err)
	}

	level := audit.EventLevelInfo
	if !result.OK {
		level = audit.EventLevelWarn
	}
	e.emit(ctx, audit.WriteEventInput{
		Type:       audit.EventCaretakerCalled,
		Level:      level,
		OwnerID:    schedule.OwnerID,
		ScheduleID: schedule.ID,
		Message:    "Caretaker call attempted",
		Payload: map[string]any{
			"date_key": dateKey,
			"provider": result.Provider,
			"status":   result.Status,
			"forced":   forceCall,
		},
	})
	e.publish(schedule, feed.EventCaretakerCalled, dateKey, map[string]any{"call_result": result})
	e.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("date_key", dateKey).
		Str("provider", result.Provider).
		Str("status", result.Status).
		Bool("forced", forceCall).
		Msg("caretaker call attempted")

	return EscalationOutcome{Log: log, Call: &result}, nil
}

// OnDoseTaken closes today's dose for the calling patient and tells the caretaker.
func (e *Engine) OnDoseTaken(ctx context.Context, user auth.User, scheduleID string) (*TakenResult, error) {
	if !user.IsPatient() {
		return nil, apperrors.NewRoleRequiredError(string(auth.RolePatient))
	}

	schedule, err := e.visibleSchedule(ctx, user, scheduleID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	dateKey := clock.DateKey(now, e.loc)
	log, err := e.logs.MarkTaken(ctx, doselog.MarkTakenInput{
		ScheduleID:       schedule.ID,
		DateKey:          dateKey,
		TakenAt:          now,
		ScheduledAt:      e.scheduledAt(schedule, dateKey),
		CaretakerContact: gateway.CleanRecipient(schedule.CaretakerContact),
	})
	if err != nil {
		return nil, fmt.Errorf("mark taken: %w", err)
	}

	e.emit(ctx, audit.WriteEventInput{
		Type:       audit.EventDoseTaken,
		Level:      audit.EventLevelInfo,
		OwnerID:    schedule.OwnerID,
		ScheduleID: schedule.ID,
		Message:    "Dose marked as taken",
		Payload:    map[string]any{"date_key": dateKey},
	})
	e.publish(schedule, feed.EventDoseTaken, dateKey, map[string]any{"log": log})

	outcome, err := e.send(ctx, schedule, dateKey, notify.EventTakenCaretaker, schedule.CaretakerContact, func() string {
		return takenCaretakerMessage(schedule, now, e.loc)
	})
	if err != nil {
		return nil, err
	}

	return &TakenResult{Log: log, Notification: outcome}, nil
}

// OnEscalateRequested runs the missed branch for today right away and places
// a caretaker call even if one was already placed. Either the owning guardian
// or the patient may ask.
func (e *Engine) OnEscalateRequested(ctx context.Context, user auth.User, scheduleID string) (*EscalateResult, error) {
	schedule, err := e.visibleSchedule(ctx, user, scheduleID)
	if err != nil {
		return nil, err
	}

	dateKey := clock.DateKey(e.clock.Now(), e.loc)
	prior, err := e.logs.Get(ctx, schedule.ID, dateKey)
	if err != nil {
		return nil, err
	}

	outcome, err := e.escalate(ctx, schedule, dateKey, prior, true)
	if err != nil {
		return nil, err
	}

	result := &EscalateResult{EscalationOutcome: outcome, Notifications: []NotificationOutcome{}}
	if outcome.Log.IsTaken() {
		result.Reason = ReasonAlreadyTaken
		return result, nil
	}

	e.emit(ctx, audit.WriteEventInput{
		Type:       audit.EventEscalationForced,
		Level:      audit.EventLevelWarn,
		OwnerID:    schedule.OwnerID,
		ScheduleID: schedule.ID,
		Message:    "Escalation requested by " + string(user.Role),
		Payload:    map[string]any{"date_key": dateKey, "user_id": user.ID},
	})

	result.Notifications, err = e.notifyMissed(ctx, schedule, dateKey)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListLogs returns the dose logs a user can see.
func (e *Engine) ListLogs(ctx context.Context, user auth.User) ([]doselog.DoseLog, error) {
	if user.IsGuardian() {
		return e.logs.ListForOwner(ctx, user.ID)
	}
	return e.logs.ListForPatient(ctx, auth.NormalizeEmail(user.Email))
}

// ListNotifications returns the notification history a user can see.
func (e *Engine) ListNotifications(ctx context.Context, user auth.User, limit int) ([]notify.ListedRecord, error) {
	if user.IsGuardian() {
		return e.notifications.ListForOwner(ctx, user.ID, limit)
	}
	return e.notifications.ListForPatient(ctx, auth.NormalizeEmail(user.Email), limit)
}

func (e *Engine) visibleSchedule(ctx context.Context, user auth.User, scheduleID string) (*medication.Schedule, error) {
	schedule, err := e.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !schedule.VisibleTo(user.ID, auth.NormalizeEmail(user.Email)) {
		return nil, medication.ErrScheduleNotFound
	}
	return schedule, nil
}

func (e *Engine) notifyDue(ctx context.Context, schedule *medication.Schedule, dateKey string) ([]NotificationOutcome, error) {
	return e.notifyPair(ctx, schedule, dateKey,
		notify.EventDuePatient, func() string { return duePatientMessage(schedule) },
		notify.EventDueCaretaker, func() string { return dueCaretakerMessage(schedule) },
	)
}

func (e *Engine) notifyMissed(ctx context.Context, schedule *medication.Schedule, dateKey string) ([]NotificationOutcome, error) {
	return e.notifyPair(ctx, schedule, dateKey,
		notify.EventMissedPatient, func() string { return missedPatientMessage(schedule, e.threshold) },
		notify.EventMissedCaretaker, func() string { return missedCaretakerMessage(schedule) },
	)
}

// notifyPair sends the patient and caretaker variants of one event. Both are
// attempted even if the first fails.
func (e *Engine) notifyPair(ctx context.Context, schedule *medication.Schedule, dateKey string,
	patientEvent notify.EventType, patientMessage func() string,
	caretakerEvent notify.EventType, caretakerMessage func() string,
) ([]NotificationOutcome, error) {
	var errs []error
	outcomes := make([]NotificationOutcome, 0, 2)

	phone, err := e.patients.PatientPhone(ctx, schedule.PatientIdentity)
	if err != nil {
		errs = append(errs, fmt.Errorf("patient phone: %w", err))
	} else {
		outcome, err := e.send(ctx, schedule, dateKey, patientEvent, phone, patientMessage)
		if err != nil {
			errs = append(errs, err)
		} else {
			outcomes = append(outcomes, outcome)
		}
	}

	outcome, err := e.send(ctx, schedule, dateKey, caretakerEvent, schedule.CaretakerContact, caretakerMessage)
	if err != nil {
		errs = append(errs, err)
	} else {
		outcomes = append(outcomes, outcome)
	}

	return outcomes, errors.Join(errs...)
}

func (e *Engine) send(ctx context.Context, schedule *medication.Schedule, dateKey string, eventType notify.EventType, recipient string, message func() string) (NotificationOutcome, error) {
	result, err := e.notifier.SendOnce(ctx, notify.SendRequest{
		ScheduleID: schedule.ID,
		DateKey:    dateKey,
		EventType:  eventType,
		Recipient:  recipient,
		Message:    message,
	})
	if err != nil {
		e.metrics.Notifications.WithLabelValues(string(eventType), "error").Inc()
		return NotificationOutcome{}, fmt.Errorf("send %s: %w", eventType, err)
	}

	switch {
	case result.Skipped:
		e.metrics.Notifications.WithLabelValues(string(eventType), result.Reason).Inc()
	case result.Sent:
		e.metrics.Notifications.WithLabelValues(string(eventType), "sent").Inc()
	default:
		e.metrics.Notifications.WithLabelValues(string(eventType), "failed").Inc()
	}

	if !result.Skipped {
		e.publish(schedule, feed.EventNotificationSent, dateKey, map[string]any{
			"event_type": eventType,
			"sent":       result.Sent,
			"record":     result.Record,
		})
	}

	return NotificationOutcome{EventType: eventType, SendResult: result}, nil
}

func (e *Engine) scheduledAt(schedule *medication.Schedule, dateKey string) *time.Time {
	at, err := clock.ScheduledAt(dateKey, schedule.TimeOfDay, e.loc)
	if err != nil {
		return nil
	}
	return &at
}

func (e *Engine) emit(ctx context.Context, input audit.WriteEventInput) {
	if e.audit != nil {
		e.audit.Emit(ctx, input)
	}
}

func (e *Engine) publish(schedule *medication.Schedule, eventType, dateKey string, data map[string]any) {
	if e.feed == nil {
		return
	}
	e.feed.Publish(feed.Event{
		Type:            eventType,
		ScheduleID:      schedule.ID,
		OwnerID:         schedule.OwnerID,
		PatientIdentity: schedule.PatientIdentity,
		DateKey:         dateKey,
		Data:            data,
		At:              e.clock.Now().UTC(),
	})
}

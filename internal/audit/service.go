// Package audit keeps a pruned, queryable trail of schedule and dose events.
package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/api"
	"github.com/strefethen/medassist-go/internal/clock"
	"github.com/strefethen/medassist-go/internal/logging"
)

// Default configuration values
const (
	DefaultRetentionDays   = 90
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service provides audit log management functionality.
type Service struct {
	repo                *Repository
	clock               clock.Clock
	logger              *zerolog.Logger
	retentionDays       int
	healthMu            sync.RWMutex
	healthy             bool
	consecutiveFailures int
}

// NewService creates a new audit service. retentionDays <= 0 uses the default.
func NewService(dbPair DBPair, clk clock.Clock, retentionDays int, logger *zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Service{
		repo:          NewRepository(dbPair),
		clock:         clk,
		logger:        logging.OrNop(logger),
		retentionDays: retentionDays,
		healthy:       true,
	}
}

// RecordEvent writes a new audit event.
func (s *Service) RecordEvent(ctx context.Context, input WriteEventInput) (*AuditEvent, error) {
	if input.RequestID == "" {
		input.RequestID = api.RequestIDFromContext(ctx)
	}

	s.logger.Debug().
		Str("type", string(input.Type)).
		Str("schedule_id", input.ScheduleID).
		Msg(input.Message)

	event, err := s.repo.InsertEvent(ctx, input, s.clock.Now())
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit event: %w", err)
	}

	s.recordSuccess()
	return event, nil
}

// Emit records an event and only logs a failure. Audit problems never fail
// the operation being audited.
func (s *Service) Emit(ctx context.Context, input WriteEventInput) {
	if _, err := s.RecordEvent(ctx, input); err != nil {
		s.logger.Warn().Err(err).Str("type", string(input.Type)).Msg("audit event dropped")
	}
}

// QueryEvents retrieves events with filters and pagination.
// Returns: events, total count, hasMore flag, error.
func (s *Service) QueryEvents(ctx context.Context, filters EventQueryFilters) ([]AuditEvent, int, bool, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	events, total, err := s.repo.QueryEvents(ctx, filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit events: %w", err)
	}

	s.recordSuccess()
	return events, total, filters.Offset+len(events) < total, nil
}

// GetEvent retrieves a single event by ID.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*AuditEvent, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	if event == nil {
		return nil, &EventNotFoundError{EventID: eventID}
	}

	s.recordSuccess()
	return event, nil
}

// Prune deletes events older than the retention window, returns count deleted.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.Prune(ctx, cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	s.recordSuccess()
	if count > 0 {
		s.logger.Info().Int64("count", count).Int("retention_days", s.retentionDays).Msg("pruned audit events")
	}
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

// recordFailure marks the service unhealthy after MaxConsecutiveFailures.
func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// EventNotFoundError is returned when an audit event is not found.
type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event not found: %s", e.EventID)
}

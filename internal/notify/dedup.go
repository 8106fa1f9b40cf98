package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/strefethen/medassist-go/internal/gateway"
	"github.com/strefethen/medassist-go/internal/logging"
)

// Deduplicator sends each notification key at most once. A key is claimed in
// storage before the gateway is called, so concurrent callers for the same
// key cannot both reach the gateway. A record, once claimed, is never retried
// whatever its delivery status.
type Deduplicator struct {
	repo    *Repository
	gateway gateway.Gateway
	logger  *zerolog.Logger
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(repo *Repository, gw gateway.Gateway, logger *zerolog.Logger) *Deduplicator {
	return &Deduplicator{repo: repo, gateway: gw, logger: logging.OrNop(logger)}
}

// SendOnce delivers req unless its key was already claimed or it has no
// recipient. The returned error only covers storage failures; delivery
// failures are reported in the result and recorded.
func (d *Deduplicator) SendOnce(ctx context.Context, req SendRequest) (SendResult, error) {
	if !req.EventType.Valid() {
		return SendResult{}, fmt.Errorf("unknown notification event %q", req.EventType)
	}
	if req.Message == nil {
		return SendResult{}, errors.New("notification message builder is required")
	}

	recipient := gateway.CleanRecipient(req.Recipient)
	if recipient == "" {
		return SendResult{Skipped: true, Reason: ReasonMissingPhone}, nil
	}

	record, created, err := d.repo.Claim(ctx, req.ScheduleID, req.DateKey, req.EventType, recipient)
	if err != nil {
		return SendResult{}, err
	}
	if !created {
		return SendResult{Skipped: true, Reason: ReasonAlreadySent, Record: record}, nil
	}

	message := gateway.CleanBody(req.Message())
	result := d.gateway.SendSMS(ctx, recipient, message)

	record.Message = message
	record.Provider = result.Provider
	record.ProviderReference = result.Reference
	record.DeliveryStatus = result.Status

	// The attempt already happened; store its outcome even if the caller gave up.
	if err := d.repo.Complete(context.WithoutCancel(ctx), record.ID, message, result.Provider, result.Reference, result.Status); err != nil {
		return SendResult{Sent: result.OK, Result: &result, Record: record}, err
	}

	event := d.logger.Info()
	if !result.OK {
		event = d.logger.Warn()
	}
	event.
		Str("schedule_id", req.ScheduleID).
		Str("date_key", req.DateKey).
		Str("event_type", string(req.EventType)).
		Str("provider", result.Provider).
		Str("status", result.Status).
		Str("detail", result.Message).
		Msg("notification attempted")

	return SendResult{Sent: result.OK, Result: &result, Record: record}, nil
}

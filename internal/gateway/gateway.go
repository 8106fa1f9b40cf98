// Package gateway delivers SMS messages and voice calls to caretakers and
// patients. Delivery problems are reported in Result and never as errors, so
// callers can record the outcome and move on.
package gateway

import (
	"context"
	"strings"
)

// Providers reported in Result.Provider.
const (
	ProviderMock   = "mock"
	ProviderTwilio = "twilio"
)

// Delivery statuses produced locally. Provider statuses (queued, sent, ...) pass through as-is.
const (
	StatusMissingConfig = "missing_config"
	StatusMissingPhone  = "missing_phone"
	StatusFailed        = "failed"
	StatusQueued        = "queued"
)

const (
	maxRecipientLength = 30
	maxBodyLength      = 700
)

// Result describes one delivery attempt.
type Result struct {
	OK        bool   `json:"ok"`
	Provider  string `json:"provider"`
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message"`
}

// CallContext identifies the missed dose a call is about.
type CallContext struct {
	ScheduleID      string
	MedicineName    string
	PatientIdentity string
}

// Gateway sends SMS messages and places voice calls.
type Gateway interface {
	SendSMS(ctx context.Context, to, body string) Result
	PlaceCall(ctx context.Context, to string, call CallContext) Result
}

// CleanText trims value and caps it at maxLength runes.
func CleanText(value string, maxLength int) string {
	trimmed := strings.TrimSpace(value)
	runes := []rune(trimmed)
	if len(runes) > maxLength {
		return string(runes[:maxLength])
	}
	return trimmed
}

// CleanRecipient normalizes a phone number the way it is stored in dedup keys.
func CleanRecipient(value string) string {
	return CleanText(value, maxRecipientLength)
}

// CleanBody caps an SMS body.
func CleanBody(value string) string {
	return CleanText(value, maxBodyLength)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig holds REST credentials and endpoints.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	CallFrom   string
	SMSFrom    string
	TwiMLURL   string
	APIBaseURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// TwilioGateway talks to the Twilio REST API. Requests are bounded by Timeout;
// an expired deadline is reported as a failed delivery.
type TwilioGateway struct {
	cfg    TwilioConfig
	client *http.Client
}

// NewTwilioGateway creates a gateway. Missing credentials are allowed and
// produce missing_config results.
func NewTwilioGateway(cfg TwilioConfig) *TwilioGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.twilio.com"
	}
	if cfg.SMSFrom == "" {
		cfg.SMSFrom = cfg.CallFrom
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &TwilioGateway{cfg: cfg, client: client}
}

func (g *TwilioGateway) configured(from string) bool {
	return g.cfg.AccountSID != "" && g.cfg.AuthToken != "" && from != ""
}

// SendSMS sends body to the recipient.
func (g *TwilioGateway) SendSMS(ctx context.Context, to, body string) Result {
	to = CleanRecipient(to)
	if to == "" {
		return Result{Provider: ProviderMock, Status: StatusMissingPhone, Message: "Recipient phone is missing."}
	}
	if !g.configured(g.cfg.SMSFrom) {
		return Result{
			Provider: ProviderMock,
			Status:   StatusMissingConfig,
			Message:  fmt.Sprintf("Twilio SMS config missing. Simulated SMS to %s.", to),
		}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", g.cfg.SMSFrom)
	form.Set("Body", CleanBody(body))

	result := g.post(ctx, "Messages.json", form)
	if result.OK && result.Message == "" {
		result.Message = "SMS requested successfully."
	}
	return result
}

// PlaceCall rings the recipient with the configured TwiML script.
func (g *TwilioGateway) PlaceCall(ctx context.Context, to string, call CallContext) Result {
	to = CleanRecipient(to)
	if to == "" {
		return Result{Provider: ProviderMock, Status: StatusMissingPhone, Message: "Recipient phone is missing."}
	}
	if !g.configured(g.cfg.CallFrom) {
		return Result{
			Provider: ProviderMock,
			Status:   StatusMissingConfig,
			Message:  fmt.Sprintf("Twilio config missing. Simulated escalation for %s (%s).", call.PatientIdentity, call.MedicineName),
		}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", g.cfg.CallFrom)
	form.Set("Url", g.cfg.TwiMLURL)

	result := g.post(ctx, "Calls.json", form)
	if result.OK && result.Message == "" {
		result.Message = "Twilio call requested successfully."
	}
	return result
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (g *TwilioGateway) post(ctx context.Context, resource string, form url.Values) Result {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s",
		strings.TrimRight(g.cfg.APIBaseURL, "/"), url.PathEscape(g.cfg.AccountSID), resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failed(err.Error())
	}
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return failed(err.Error())
	}
	defer resp.Body.Close()

	var payload twilioResponse
	var decodeErr error
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		decodeErr = fmt.Errorf("read response: %w", err)
	} else if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			decodeErr = fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := payload.Message
		if message == "" {
			message = fmt.Sprintf("Twilio request failed (%d)", resp.StatusCode)
		}
		return failed(message)
	}

	status := payload.Status
	if status == "" {
		status = StatusQueued
	}
	result := Result{OK: true, Provider: ProviderTwilio, Status: status, Reference: payload.SID}
	// Twilio accepted the request; keep the unreadable reply on the record.
	if decodeErr != nil {
		result.Message = fmt.Sprintf("Twilio accepted the request (%d) but the reply was unreadable: %v", resp.StatusCode, decodeErr)
	}
	return result
}

func failed(message string) Result {
	return Result{Provider: ProviderTwilio, Status: StatusFailed, Message: message}
}

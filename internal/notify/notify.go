// Package notify delivers alerts through pluggable channels. Each channel
// reports its result in an Outcome rather than an error return, so one
// failing transport never aborts the others; the orchestrator aggregates
// outcomes and decides overall success.
package notify

import (
	"context"
	"time"

	"github.com/vigilsec/vigil/internal/models"
)

// Channel is the single capability a transport implements.
type Channel interface {
	// Name identifies the transport in alert channel lists.
	Name() models.ChannelKind
	// Deliver attempts one delivery. Failures are encoded in the outcome.
	Deliver(ctx context.Context, alert models.Alert) Outcome
}

// Outcome is the per-channel result of one delivery attempt.
type Outcome struct {
	Channel     models.ChannelKind `json:"channel"`
	Success     bool               `json:"success"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	Recipient   string             `json:"recipient,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// DeliveryResult aggregates the outcomes for one alert. AllSuccessful is
// true only when every attempted channel succeeded, or when the resolved
// channel set was empty and there was nothing to do.
type DeliveryResult struct {
	AlertID       int64     `json:"alert_id"`
	Outcomes      []Outcome `json:"outcomes"`
	AllSuccessful bool      `json:"all_successful"`
	// Disabled marks results produced while the notification master
	// switch is off; no channels were attempted.
	Disabled bool `json:"disabled,omitempty"`
}

// Machine-readable error codes surfaced in Outcome.Error. Codes carrying
// detail append it after a colon.
const (
	ErrEmailNotConfigured   = "email_not_configured"
	ErrNoRecipients         = "no_recipients"
	ErrSMTPAuthFailed       = "smtp_auth_failed"
	ErrSMTPPrefix           = "smtp_error:"
	ErrWebhookNotConfigured = "webhook_not_configured"
	ErrWebhookTimeout       = "webhook_timeout"
	ErrWebhookHTTPPrefix    = "webhook_http_"
	ErrWebhookFailedPrefix  = "webhook_request_failed:"
	ErrNotYetImplemented    = "not_yet_implemented"
	ErrUnknownChannelPrefix = "unknown_channel:"
)

func failure(kind models.ChannelKind, code string) Outcome {
	return Outcome{Channel: kind, Error: code}
}

func success(kind models.ChannelKind, recipient string) Outcome {
	now := time.Now().UTC()
	return Outcome{
		Channel:     kind,
		Success:     true,
		DeliveredAt: &now,
		Recipient:   recipient,
	}
}

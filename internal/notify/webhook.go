package notify

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/httpclient"
	"github.com/vigilsec/vigil/internal/models"
)

const webhookUserAgent = "Vigil-Security/1.0"

// webhookPayload is the JSON body POSTed to the configured endpoint.
type webhookPayload struct {
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	Alert    webhookAlert   `json:"alert"`
	Metadata models.JSONMap `json:"metadata"`
}

type webhookAlert struct {
	ID        int64              `json:"id"`
	Severity  models.Severity    `json:"severity"`
	Status    models.AlertStatus `json:"status"`
	DedupKey  string             `json:"dedup_key"`
	EventID   int64              `json:"event_id"`
	CreatedAt time.Time          `json:"created_at"`
}

// WebhookChannel POSTs alert payloads to a single configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds the HTTP transport from notification settings.
func NewWebhookChannel(cfg config.NotificationConfig) *WebhookChannel {
	timeout := time.Duration(cfg.WebhookTimeoutSeconds) * time.Second
	return &WebhookChannel{
		url:    cfg.DefaultWebhookURL,
		client: httpclient.New(timeout),
	}
}

// Name identifies the transport.
func (c *WebhookChannel) Name() models.ChannelKind {
	return models.ChannelWebhook
}

// Deliver POSTs one alert to the webhook endpoint. Any 2xx response counts
// as delivered; the response body is drained and discarded.
func (c *WebhookChannel) Deliver(ctx context.Context, alert models.Alert) Outcome {
	if c.url == "" {
		return failure(models.ChannelWebhook, ErrWebhookNotConfigured)
	}

	metadata := alert.Metadata
	if metadata == nil {
		metadata = models.JSONMap{}
	}
	payload := webhookPayload{
		Type:   "security_alert",
		Source: "home_security_intelligence",
		Alert: webhookAlert{
			ID:        alert.ID,
			Severity:  alert.Severity,
			Status:    alert.Status,
			DedupKey:  alert.DedupKey,
			EventID:   alert.EventID,
			CreatedAt: alert.CreatedAt.UTC(),
		},
		Metadata: metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failure(models.ChannelWebhook, ErrWebhookFailedPrefix+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return failure(models.ChannelWebhook, ErrWebhookFailedPrefix+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().
			Err(err).
			Int64("alert_id", alert.ID).
			Str("url", c.url).
			Msg("Webhook delivery failed")
		if isTimeout(err) {
			return failure(models.ChannelWebhook, ErrWebhookTimeout)
		}
		return failure(models.ChannelWebhook, ErrWebhookFailedPrefix+err.Error())
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(models.ChannelWebhook, fmt.Sprintf("%s%d", ErrWebhookHTTPPrefix, resp.StatusCode))
	}

	return success(models.ChannelWebhook, c.url)
}

// isTimeout covers both request-context deadlines and transport-level
// timeouts such as ResponseHeaderTimeout.
func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

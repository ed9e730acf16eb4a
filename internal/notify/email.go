package notify

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/models"
)

// errSMTPAuth marks authentication failures so Deliver can surface the
// dedicated error code.
var errSMTPAuth = stderrors.New("smtp authentication rejected")

// EmailChannel sends alert mail over SMTP, optionally with STARTTLS and
// PLAIN auth. Connections are per-delivery, never pooled.
type EmailChannel struct {
	cfg         config.NotificationConfig
	dialTimeout time.Duration
}

// NewEmailChannel creates the SMTP transport from notification settings.
func NewEmailChannel(cfg config.NotificationConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, dialTimeout: 30 * time.Second}
}

// Name identifies the transport.
func (c *EmailChannel) Name() models.ChannelKind {
	return models.ChannelEmail
}

// Deliver sends one alert notification to the configured recipients.
func (c *EmailChannel) Deliver(ctx context.Context, alert models.Alert) Outcome {
	if c.cfg.SMTPHost == "" || c.cfg.SMTPFromAddress == "" {
		return failure(models.ChannelEmail, ErrEmailNotConfigured)
	}
	recipients := c.cfg.DefaultEmailRecipients
	if len(recipients) == 0 {
		return failure(models.ChannelEmail, ErrNoRecipients)
	}

	msg := c.buildMessage(alert, recipients)
	if err := c.send(ctx, recipients, msg); err != nil {
		log.Warn().
			Err(err).
			Int64("alert_id", alert.ID).
			Str("smtp_host", c.cfg.SMTPHost).
			Msg("Email delivery failed")
		if stderrors.Is(err, errSMTPAuth) {
			return failure(models.ChannelEmail, ErrSMTPAuthFailed)
		}
		return failure(models.ChannelEmail, ErrSMTPPrefix+err.Error())
	}

	return success(models.ChannelEmail, strings.Join(recipients, ", "))
}

// buildMessage renders the plain-text alert notification with headers.
func (c *EmailChannel) buildMessage(alert models.Alert, recipients []string) string {
	var msg strings.Builder

	subject := fmt.Sprintf("[%s] Security alert %s",
		strings.ToUpper(string(alert.Severity)), alert.DedupKey)

	msg.WriteString(fmt.Sprintf("From: Vigil <%s>\r\n", c.cfg.SMTPFromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")

	msg.WriteString("A security alert fired.\r\n\r\n")
	msg.WriteString(fmt.Sprintf("Severity:  %s\r\n", alert.Severity))
	msg.WriteString(fmt.Sprintf("Alert:     %d\r\n", alert.ID))
	msg.WriteString(fmt.Sprintf("Event:     %d\r\n", alert.EventID))
	msg.WriteString(fmt.Sprintf("Dedup key: %s\r\n", alert.DedupKey))
	msg.WriteString(fmt.Sprintf("Created:   %s\r\n", alert.CreatedAt.UTC().Format(time.RFC3339)))

	if camera, ok := alert.Metadata["camera_id"].(string); ok && camera != "" {
		msg.WriteString(fmt.Sprintf("Camera:    %s\r\n", camera))
	}
	if rule, ok := alert.Metadata["rule_name"].(string); ok && rule != "" {
		msg.WriteString(fmt.Sprintf("Rule:      %s\r\n", rule))
	}

	return msg.String()
}

// send performs the SMTP conversation for one message.
func (c *EmailChannel) send(ctx context.Context, recipients []string, msg string) error {
	addr := net.JoinHostPort(c.cfg.SMTPHost, fmt.Sprintf("%d", c.cfg.SMTPPort))

	dialer := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, c.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if c.cfg.SMTPUseTLS {
		tlsConfig := &tls.Config{
			ServerName: c.cfg.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if c.cfg.SMTPUser != "" && c.cfg.SMTPPassword != "" {
		auth := smtp.PlainAuth("", c.cfg.SMTPUser, c.cfg.SMTPPassword, c.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: %v", errSMTPAuth, err)
		}
	}

	if err := client.Mail(c.cfg.SMTPFromAddress); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	// The message is accepted at this point; a failed QUIT is not a
	// delivery failure.
	_ = client.Quit()
	return nil
}

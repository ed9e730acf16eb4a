package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/models"
)

// Orchestrator fans a single alert out to its resolved channels and
// collects per-channel outcomes. Channels run concurrently; a slow SMTP
// server never delays a webhook.
type Orchestrator struct {
	mu       sync.RWMutex
	enabled  bool
	channels map[models.ChannelKind]Channel
}

// NewOrchestrator wires the built-in transports from notification settings.
func NewOrchestrator(cfg config.NotificationConfig) *Orchestrator {
	o := &Orchestrator{
		enabled:  cfg.Enabled,
		channels: buildChannels(cfg),
	}
	return o
}

func buildChannels(cfg config.NotificationConfig) map[models.ChannelKind]Channel {
	channels := make(map[models.ChannelKind]Channel)
	for _, ch := range []Channel{NewEmailChannel(cfg), NewWebhookChannel(cfg), NewPushChannel()} {
		channels[ch.Name()] = ch
	}
	return channels
}

// Register installs a transport, replacing any existing one for the same
// channel kind.
func (o *Orchestrator) Register(ch Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels[ch.Name()] = ch
}

// Reload swaps in fresh transport settings. Deliveries already in flight
// keep the channels they resolved; later passes see the new settings.
func (o *Orchestrator) Reload(cfg config.NotificationConfig) {
	next := buildChannels(cfg)
	o.mu.Lock()
	o.enabled = cfg.Enabled
	o.channels = next
	o.mu.Unlock()
	log.Info().Bool("enabled", cfg.Enabled).Msg("Notification settings reloaded")
}

// snapshot returns the enabled flag and the current channel map. The map
// is replaced wholesale on reload and never mutated in place, so the
// returned reference is safe to read without the lock.
func (o *Orchestrator) snapshot() (bool, map[models.ChannelKind]Channel) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.enabled, o.channels
}

// DeliverAlert sends one alert through every resolved channel.
//
// Channel resolution takes the first non-empty source: the explicit
// override, then the alert's own channels, then the rule's channels. An
// empty resolution is a successful no-op. When notifications are disabled
// globally no channel is attempted and the result is marked Disabled so
// callers do not count it as a failed attempt.
func (o *Orchestrator) DeliverAlert(ctx context.Context, alert models.Alert, rule *models.AlertRule, explicit []models.ChannelKind) DeliveryResult {
	result := DeliveryResult{AlertID: alert.ID}

	enabled, channels := o.snapshot()
	if !enabled {
		result.Disabled = true
		log.Debug().Int64("alert_id", alert.ID).Msg("Notifications disabled, skipping delivery")
		return result
	}

	kinds := resolveChannels(explicit, alert, rule)
	if len(kinds) == 0 {
		result.AllSuccessful = true
		log.Debug().Int64("alert_id", alert.ID).Msg("No channels resolved for alert")
		return result
	}

	outcomes := make([]Outcome, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			ch, ok := channels[kind]
			if !ok {
				outcomes[i] = failure(kind, ErrUnknownChannelPrefix+string(kind))
				return nil
			}
			start := time.Now()
			outcomes[i] = ch.Deliver(ctx, alert)
			out := outcomes[i]
			hookDelivery(string(kind), out.Success, metricCode(out.Error), time.Since(start).Seconds())
			return nil
		})
	}
	// Channels report failures through outcomes, never through errors.
	_ = g.Wait()

	result.Outcomes = outcomes
	result.AllSuccessful = true
	succeeded := 0
	for _, out := range outcomes {
		if out.Success {
			succeeded++
		} else {
			result.AllSuccessful = false
		}
	}

	log.Info().
		Int64("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Int("channels", len(kinds)).
		Int("succeeded", succeeded).
		Bool("all_successful", result.AllSuccessful).
		Msg("Alert delivery pass finished")

	return result
}

// metricCode strips the free-form suffix from prefixed error codes so
// metric labels stay bounded.
func metricCode(code string) string {
	if i := strings.IndexByte(code, ':'); i >= 0 {
		return code[:i]
	}
	return code
}

// resolveChannels applies the override precedence and drops duplicate
// kinds while preserving order.
func resolveChannels(explicit []models.ChannelKind, alert models.Alert, rule *models.AlertRule) []models.ChannelKind {
	var kinds []models.ChannelKind
	switch {
	case len(explicit) > 0:
		kinds = explicit
	case len(alert.Channels) > 0:
		kinds = alert.Channels
	case rule != nil && len(rule.Channels) > 0:
		kinds = rule.Channels
	}
	if len(kinds) == 0 {
		return nil
	}

	seen := make(map[models.ChannelKind]struct{}, len(kinds))
	resolved := make([]models.ChannelKind, 0, len(kinds))
	for _, kind := range kinds {
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		resolved = append(resolved, kind)
	}
	return resolved
}

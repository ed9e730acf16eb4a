package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/models"
)

type fakeChannel struct {
	kind    models.ChannelKind
	succeed bool
	code    string
	calls   int
}

func (f *fakeChannel) Name() models.ChannelKind { return f.kind }

func (f *fakeChannel) Deliver(_ context.Context, _ models.Alert) Outcome {
	f.calls++
	if f.succeed {
		return success(f.kind, "test-recipient")
	}
	return failure(f.kind, f.code)
}

func newTestOrchestrator(channels ...Channel) *Orchestrator {
	o := &Orchestrator{
		enabled:  true,
		channels: make(map[models.ChannelKind]Channel),
	}
	for _, ch := range channels {
		o.Register(ch)
	}
	return o
}

func testAlert() models.Alert {
	return models.Alert{
		ID:        5,
		EventID:   2,
		Severity:  models.SeverityHigh,
		Status:    models.StatusPending,
		DedupKey:  "front_door:1",
		CreatedAt: time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeliverAlertExplicitOverridesAlertAndRule(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail, succeed: true}
	webhook := &fakeChannel{kind: models.ChannelWebhook, succeed: true}
	o := newTestOrchestrator(email, webhook)

	alert := testAlert()
	alert.Channels = models.ChannelList{models.ChannelWebhook}
	rule := &models.AlertRule{Channels: models.ChannelList{models.ChannelWebhook}}

	result := o.DeliverAlert(context.Background(), alert, rule, []models.ChannelKind{models.ChannelEmail})
	if !result.AllSuccessful {
		t.Fatalf("expected all successful, got %+v", result)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].Channel != models.ChannelEmail {
		t.Fatalf("expected single email outcome, got %+v", result.Outcomes)
	}
	if email.calls != 1 || webhook.calls != 0 {
		t.Errorf("expected email only, got email=%d webhook=%d", email.calls, webhook.calls)
	}
}

func TestDeliverAlertChannelPrecedence(t *testing.T) {
	tests := []struct {
		name          string
		alertChannels models.ChannelList
		ruleChannels  models.ChannelList
		want          models.ChannelKind
	}{
		{
			name:          "alert channels beat rule channels",
			alertChannels: models.ChannelList{models.ChannelWebhook},
			ruleChannels:  models.ChannelList{models.ChannelEmail},
			want:          models.ChannelWebhook,
		},
		{
			name:         "rule channels used when alert has none",
			ruleChannels: models.ChannelList{models.ChannelEmail},
			want:         models.ChannelEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &fakeChannel{kind: models.ChannelEmail, succeed: true}
			webhook := &fakeChannel{kind: models.ChannelWebhook, succeed: true}
			o := newTestOrchestrator(email, webhook)

			alert := testAlert()
			alert.Channels = tt.alertChannels
			rule := &models.AlertRule{Channels: tt.ruleChannels}

			result := o.DeliverAlert(context.Background(), alert, rule, nil)
			if len(result.Outcomes) != 1 {
				t.Fatalf("expected one outcome, got %+v", result.Outcomes)
			}
			if result.Outcomes[0].Channel != tt.want {
				t.Errorf("expected channel %s, got %s", tt.want, result.Outcomes[0].Channel)
			}
		})
	}
}

func TestDeliverAlertNoChannelsIsSuccessfulNoOp(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail, succeed: true}
	o := newTestOrchestrator(email)

	result := o.DeliverAlert(context.Background(), testAlert(), nil, nil)
	if !result.AllSuccessful {
		t.Fatalf("expected no-op success, got %+v", result)
	}
	if len(result.Outcomes) != 0 {
		t.Errorf("expected no outcomes, got %+v", result.Outcomes)
	}
	if email.calls != 0 {
		t.Errorf("expected no deliveries, got %d", email.calls)
	}
}

func TestDeliverAlertUnknownChannel(t *testing.T) {
	o := newTestOrchestrator()

	alert := testAlert()
	alert.Channels = models.ChannelList{models.ChannelEmail}

	result := o.DeliverAlert(context.Background(), alert, nil, nil)
	if result.AllSuccessful {
		t.Fatal("expected failure for unregistered channel")
	}
	if len(result.Outcomes) != 1 {
		t.Fatalf("expected one outcome, got %+v", result.Outcomes)
	}
	out := result.Outcomes[0]
	if out.Success || out.Error != ErrUnknownChannelPrefix+"email" {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestDeliverAlertDisabledSkipsChannels(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail, succeed: true}
	o := newTestOrchestrator(email)
	o.enabled = false

	alert := testAlert()
	alert.Channels = models.ChannelList{models.ChannelEmail}

	result := o.DeliverAlert(context.Background(), alert, nil, nil)
	if !result.Disabled {
		t.Fatalf("expected disabled result, got %+v", result)
	}
	if result.AllSuccessful || len(result.Outcomes) != 0 {
		t.Errorf("disabled delivery should produce no outcomes, got %+v", result)
	}
	if email.calls != 0 {
		t.Errorf("expected no deliveries, got %d", email.calls)
	}
}

func TestDeliverAlertMixedOutcomes(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail, succeed: true}
	webhook := &fakeChannel{kind: models.ChannelWebhook, code: "webhook_http_500"}
	o := newTestOrchestrator(email, webhook)

	alert := testAlert()
	alert.Channels = models.ChannelList{models.ChannelEmail, models.ChannelWebhook}

	result := o.DeliverAlert(context.Background(), alert, nil, nil)
	if result.AllSuccessful {
		t.Fatal("expected partial failure")
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %+v", result.Outcomes)
	}
	if !result.Outcomes[0].Success || result.Outcomes[0].Channel != models.ChannelEmail {
		t.Errorf("unexpected email outcome %+v", result.Outcomes[0])
	}
	if result.Outcomes[1].Success || result.Outcomes[1].Error != "webhook_http_500" {
		t.Errorf("unexpected webhook outcome %+v", result.Outcomes[1])
	}
}

func TestResolveChannelsDropsDuplicates(t *testing.T) {
	explicit := []models.ChannelKind{models.ChannelEmail, models.ChannelEmail, models.ChannelWebhook}
	got := resolveChannels(explicit, models.Alert{}, nil)
	if len(got) != 2 || got[0] != models.ChannelEmail || got[1] != models.ChannelWebhook {
		t.Fatalf("expected deduplicated [email webhook], got %v", got)
	}
}

func TestReloadSwapsNotificationSettings(t *testing.T) {
	o := NewOrchestrator(config.NotificationConfig{Enabled: true})
	alert := testAlert()

	result := o.DeliverAlert(context.Background(), alert, nil, []models.ChannelKind{models.ChannelEmail})
	if len(result.Outcomes) != 1 || result.Outcomes[0].Error != ErrEmailNotConfigured {
		t.Fatalf("expected unconfigured email outcome, got %+v", result.Outcomes)
	}

	o.Reload(config.NotificationConfig{Enabled: false})
	result = o.DeliverAlert(context.Background(), alert, nil, []models.ChannelKind{models.ChannelEmail})
	if !result.Disabled || len(result.Outcomes) != 0 {
		t.Fatalf("expected disabled result after reload, got %+v", result)
	}

	o.Reload(config.NotificationConfig{Enabled: true})
	result = o.DeliverAlert(context.Background(), alert, nil, []models.ChannelKind{models.ChannelEmail})
	if result.Disabled || len(result.Outcomes) != 1 {
		t.Fatalf("expected delivery attempts after re-enable, got %+v", result)
	}
}

func TestMetricHookObservesDeliveries(t *testing.T) {
	type observed struct {
		channel string
		success bool
		code    string
	}
	var mu sync.Mutex
	var seen []observed
	SetMetricHooks(func(channel string, success bool, code string, _ float64) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, observed{channel, success, code})
	})
	defer SetMetricHooks(nil)

	email := &fakeChannel{kind: models.ChannelEmail, succeed: true}
	webhook := &fakeChannel{kind: models.ChannelWebhook, code: ErrWebhookFailedPrefix + "boom"}
	o := newTestOrchestrator(email, webhook)

	o.DeliverAlert(context.Background(), testAlert(), nil,
		[]models.ChannelKind{models.ChannelEmail, models.ChannelWebhook})

	if len(seen) != 2 {
		t.Fatalf("observations = %+v, want 2", seen)
	}
	for _, ob := range seen {
		switch ob.channel {
		case "email":
			if !ob.success || ob.code != "" {
				t.Errorf("email observation = %+v", ob)
			}
		case "webhook":
			if ob.success || ob.code != "webhook_request_failed" {
				t.Errorf("webhook observation = %+v", ob)
			}
		default:
			t.Errorf("unexpected channel %q", ob.channel)
		}
	}
}

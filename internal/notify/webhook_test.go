package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vigilsec/vigil/internal/models"
)

func TestWebhookDeliverPostsPayload(t *testing.T) {
	var (
		gotContentType string
		gotUserAgent   string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotUserAgent = r.Header.Get("User-Agent")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &WebhookChannel{url: srv.URL, client: srv.Client()}
	alert := testAlert()
	alert.Metadata = models.JSONMap{"camera_id": "front_door"}

	out := ch.Deliver(context.Background(), alert)
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Recipient != srv.URL {
		t.Errorf("expected recipient %s, got %s", srv.URL, out.Recipient)
	}
	if gotContentType != "application/json" {
		t.Errorf("unexpected content type %q", gotContentType)
	}
	if gotUserAgent != "Vigil-Security/1.0" {
		t.Errorf("unexpected user agent %q", gotUserAgent)
	}

	var payload struct {
		Type   string `json:"type"`
		Source string `json:"source"`
		Alert  struct {
			ID       int64  `json:"id"`
			Severity string `json:"severity"`
			Status   string `json:"status"`
			DedupKey string `json:"dedup_key"`
			EventID  int64  `json:"event_id"`
		} `json:"alert"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Type != "security_alert" || payload.Source != "home_security_intelligence" {
		t.Errorf("unexpected envelope %+v", payload)
	}
	if payload.Alert.ID != 5 || payload.Alert.EventID != 2 {
		t.Errorf("unexpected alert ids %+v", payload.Alert)
	}
	if payload.Alert.Severity != "high" || payload.Alert.Status != "PENDING" {
		t.Errorf("unexpected alert fields %+v", payload.Alert)
	}
	if payload.Alert.DedupKey != "front_door:1" {
		t.Errorf("unexpected dedup key %q", payload.Alert.DedupKey)
	}
	if payload.Metadata["camera_id"] != "front_door" {
		t.Errorf("unexpected metadata %+v", payload.Metadata)
	}
}

func TestWebhookDeliverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := &WebhookChannel{url: srv.URL, client: srv.Client()}
	out := ch.Deliver(context.Background(), testAlert())
	if out.Success {
		t.Fatal("expected failure on 500")
	}
	if out.Error != ErrWebhookHTTPPrefix+"500" {
		t.Errorf("unexpected error code %q", out.Error)
	}
}

func TestWebhookDeliverTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ch := &WebhookChannel{url: srv.URL, client: &http.Client{Timeout: 50 * time.Millisecond}}
	out := ch.Deliver(context.Background(), testAlert())
	if out.Success {
		t.Fatal("expected timeout failure")
	}
	if out.Error != ErrWebhookTimeout {
		t.Errorf("unexpected error code %q", out.Error)
	}
}

func TestWebhookDeliverNotConfigured(t *testing.T) {
	ch := &WebhookChannel{url: ""}
	out := ch.Deliver(context.Background(), testAlert())
	if out.Success {
		t.Fatal("expected failure without URL")
	}
	if out.Error != ErrWebhookNotConfigured {
		t.Errorf("unexpected error code %q", out.Error)
	}
}

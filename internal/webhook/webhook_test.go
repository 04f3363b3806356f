package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tailchase/tailchase/internal/event"
	"github.com/tailchase/tailchase/internal/monitor"
	"github.com/tailchase/tailchase/internal/track"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

func TestNotifierDeliversAlerts(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "TailChase-Webhook/0.1" {
			t.Errorf("User-Agent = %q", ua)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
	}))
	defer srv.Close()

	bus := event.NewBus(zap.NewNop())
	n := New(Config{URL: srv.URL}, bus, zap.NewNop())
	defer n.Close()

	bus.Publish(context.Background(), event.Event{
		Topic:     monitor.TopicReappearance,
		Source:    "monitor",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Payload:   track.Alert{Kind: "mac", Value: "AA:BB:CC:DD:EE:01"},
	})

	select {
	case p := <-received:
		if p.Event != monitor.TopicReappearance || p.Source != "monitor" {
			t.Errorf("payload = %+v", p)
		}
		if p.Timestamp != "2026-08-01T12:00:00Z" {
			t.Errorf("timestamp = %q", p.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the alert")
	}
}

func TestNotifierDeliversSuspiciousDevices(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
	}))
	defer srv.Close()

	bus := event.NewBus(zap.NewNop())
	n := New(Config{URL: srv.URL}, bus, zap.NewNop())
	defer n.Close()

	bus.Publish(context.Background(), event.Event{
		Topic:     monitor.TopicSuspicious,
		Source:    "monitor",
		Timestamp: time.Now(),
		Payload:   models.SuspiciousDevice{MAC: "AA:BB:CC:DD:EE:01", PersistenceScore: 0.9},
	})

	select {
	case p := <-received:
		if p.Event != monitor.TopicSuspicious {
			t.Errorf("payload event = %q", p.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the suspicious device")
	}
}

func TestNotifierWithoutURL(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	n := New(Config{}, bus, zap.NewNop())
	defer n.Close()

	// Publishing must not panic or block with no subscriber.
	bus.Publish(context.Background(), event.Event{Topic: monitor.TopicReappearance})
}

func TestNotifierCloseUnsubscribes(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	bus := event.NewBus(zap.NewNop())
	n := New(Config{URL: srv.URL}, bus, zap.NewNop())
	n.Close()

	bus.Publish(context.Background(), event.Event{Topic: monitor.TopicReappearance})
	if calls != 0 {
		t.Errorf("webhook called %d times after Close", calls)
	}
}

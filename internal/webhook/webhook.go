// Package webhook posts detection alerts to an external HTTP endpoint,
// so detections can reach a phone or a chat channel while the operator is
// in the field.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tailchase/tailchase/internal/event"
	"github.com/tailchase/tailchase/internal/monitor"
	"go.uber.org/zap"
)

// Config holds the webhook notifier configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Notifier delivers alert events to the configured webhook URL.
type Notifier struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client
	unsubs []func()
}

// New creates a Notifier and subscribes it to alert topics on the bus.
// With an empty URL the notifier subscribes to nothing.
func New(cfg Config, bus *event.Bus, logger *zap.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	n := &Notifier{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}

	if cfg.URL == "" {
		logger.Warn("webhook URL not configured; notifications disabled")
		return n
	}

	n.unsubs = append(n.unsubs,
		bus.Subscribe(monitor.TopicReappearance, n.handleEvent),
		bus.Subscribe(monitor.TopicSuspicious, n.handleEvent),
	)
	logger.Info("webhook notifier subscribed",
		zap.String("url", cfg.URL),
		zap.Duration("timeout", cfg.Timeout),
	)
	return n
}

// Close unsubscribes the notifier from the bus.
func (n *Notifier) Close() {
	for _, unsub := range n.unsubs {
		unsub()
	}
}

// Payload is the JSON body sent to the webhook URL.
type Payload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func (n *Notifier) handleEvent(ctx context.Context, e event.Event) {
	payload := Payload{
		Event:     e.Topic,
		Source:    e.Source,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      e.Payload,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal webhook payload",
			zap.String("topic", e.Topic),
			zap.Error(err),
		)
		return
	}

	n.send(ctx, body, e.Topic)
}

func (n *Notifier) send(ctx context.Context, body []byte, topic string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "TailChase-Webhook/0.1")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook endpoint returned error",
			zap.String("url", n.cfg.URL),
			zap.String("topic", topic),
			zap.Int("status_code", resp.StatusCode),
		)
		return
	}

	n.logger.Debug("webhook delivered",
		zap.String("topic", topic),
		zap.Int("status_code", resp.StatusCode),
	)
}

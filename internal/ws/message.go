package ws

import (
	"time"

	"github.com/tailchase/tailchase/internal/track"
	"github.com/tailchase/tailchase/pkg/models"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageReappearance MessageType = "alert.reappearance"
	MessageSuspicious   MessageType = "alert.suspicious"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// ReappearanceData is the payload for alert.reappearance messages.
type ReappearanceData struct {
	Alert track.Alert `json:"alert"`
}

// SuspiciousData is the payload for alert.suspicious messages.
type SuspiciousData struct {
	Device models.SuspiciousDevice `json:"device"`
}

package ws

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/coder/websocket"
	"github.com/tailchase/tailchase/internal/event"
	"github.com/tailchase/tailchase/internal/monitor"
	"github.com/tailchase/tailchase/internal/track"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

// Handler provides the WebSocket endpoint for live alert streaming.
type Handler struct {
	hub    *Hub
	token  string // empty disables authentication
	bus    *event.Bus
	logger *zap.Logger
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and subscribes to alert events.
// A non-empty token is required from clients via the token query
// parameter; leave it empty on trusted local deployments.
func NewHandler(token string, bus *event.Bus, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:    NewHub(logger),
		token:  token,
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/alerts", h.handleAlertStream)
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

// handleAlertStream upgrades the connection to WebSocket and streams
// reappearance alerts.
func (h *Handler) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	// Token travels in a query parameter because the browser WS API
	// doesn't support headers.
	if h.token != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
			http.Error(w, "missing or invalid token parameter", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The API serves local tooling, not browsers on other origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		remote: r.RemoteAddr,
		send:   make(chan Message, 256),
		logger: h.logger,
	}

	h.hub.Register(client)

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	// Client disconnected -- stop write pump and unregister.
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

// subscribeToEvents forwards monitor alerts to all connected clients.
func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	h.bus.Subscribe(monitor.TopicReappearance, func(_ context.Context, e event.Event) {
		alert, ok := e.Payload.(track.Alert)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageReappearance,
			Timestamp: e.Timestamp,
			Data:      ReappearanceData{Alert: alert},
		})
	})

	h.bus.Subscribe(monitor.TopicSuspicious, func(_ context.Context, e event.Event) {
		device, ok := e.Payload.(models.SuspiciousDevice)
		if !ok {
			return
		}
		h.hub.Broadcast(Message{
			Type:      MessageSuspicious,
			Timestamp: e.Timestamp,
			Data:      SuspiciousData{Device: device},
		})
	})

	h.logger.Info("subscribed to alert events for WebSocket broadcasting")
}

package ws

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingnetwork "beat-hard/server/logging/network"
)

const maxInboundMessageSize = 4096

type HandlerConfig struct {
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// Handler upgrades display connections and attaches them to the hub.
type Handler struct {
	hub      *Hub
	logger   telemetry.Logger
	pub      logging.Publisher
	metrics  telemetry.Metrics
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = hub.cfg.Logger
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = hub.cfg.Publisher
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = hub.cfg.Metrics
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		pub:      pub,
		metrics:  metrics,
		upgrader: upgrader,
	}
}

// Handle serves GET /ws. Displays never write state back; inbound frames are
// only read to keep the connection alive and detect closure.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	id, ok := h.hub.Subscribe(conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	pongWait := h.hub.cfg.PongWait
	conn.SetReadLimit(maxInboundMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			reason := "closed"
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "read_failed"
			}
			h.hub.Unsubscribe(id, reason)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !json.Valid(payload) {
			h.logger.Printf("discarding malformed message from %s", id)
			h.metrics.Add(telemetry.MetricMalformedMessages, 1)
			loggingnetwork.MessageDropped(context.Background(), h.pub, loggingnetwork.DisplayRef(id), loggingnetwork.DropPayload{
				Reason: "malformed",
				Bytes:  len(payload),
			})
		}
	}
}

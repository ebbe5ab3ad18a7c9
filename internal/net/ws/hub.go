package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/stats"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingnetwork "beat-hard/server/logging/network"
)

const (
	DefaultQueueSize    = 64
	DefaultWriteWait    = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultPingInterval = 50 * time.Second
)

type HubConfig struct {
	// QueueSize bounds each display's outbound backlog. Messages beyond it
	// are dropped for that display only.
	QueueSize    int
	WriteWait    time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	Logger       telemetry.Logger
	Publisher    logging.Publisher
	Metrics      telemetry.Metrics
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		QueueSize:    DefaultQueueSize,
		WriteWait:    DefaultWriteWait,
		PongWait:     DefaultPongWait,
		PingInterval: DefaultPingInterval,
	}
}

func (c HubConfig) normalized() HubConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.Logger == nil {
		c.Logger = telemetry.LoggerFunc(nil)
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NopMetrics()
	}
	return c
}

// Hub fans view messages out to every connected display. Each display has a
// bounded queue drained by its own writer goroutine, so Send never blocks.
type Hub struct {
	cfg HubConfig

	mu          sync.Mutex
	subscribers map[string]*subscriber
	latest      []byte
	closed      bool
}

type subscriber struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

func NewHub(cfg HubConfig) *Hub {
	return &Hub{
		cfg:         cfg.normalized(),
		subscribers: make(map[string]*subscriber),
	}
}

// Send encodes a view message once and queues it for every display. It is a
// no-op without subscribers apart from remembering the latest view.
func (h *Hub) Send(viewType proto.ViewType, data any) {
	payload, err := proto.EncodeView(viewType, data)
	if err != nil {
		h.cfg.Logger.Printf("failed to encode %s view: %v", viewType, err)
		return
	}
	h.broadcast(payload, viewType, viewType != proto.ViewRoundAdvance)
}

// SendMaxStats pushes a fighter's maxima as a max_stats_update message.
func (h *Hub) SendMaxStats(f combat.FighterID, maxStats stats.MaxStats) {
	force, velocity, acceleration := maxStats.MaxForce, maxStats.MaxVelocity, maxStats.MaxAcceleration
	payload, err := proto.EncodeMaxStats(proto.MaxStatsPayload{
		FighterID:       f.String(),
		MaxForce:        &force,
		MaxVelocity:     &velocity,
		MaxAcceleration: &acceleration,
		CompetitorName:  maxStats.CompetitorName,
	})
	if err != nil {
		h.cfg.Logger.Printf("failed to encode max stats for %s: %v", f, err)
		return
	}
	h.broadcast(payload, "", false)
}

func (h *Hub) broadcast(payload []byte, viewType proto.ViewType, retain bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if retain {
		h.latest = payload
	}
	h.cfg.Metrics.Add(telemetry.MetricBroadcastMessages, 1)
	for _, sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			h.cfg.Metrics.Add(telemetry.MetricBroadcastDrops, 1)
			loggingnetwork.BroadcastDropped(context.Background(), h.cfg.Publisher, loggingnetwork.DisplayRef(sub.id), loggingnetwork.DropPayload{
				Reason:   "queue_full",
				ViewType: string(viewType),
				Bytes:    len(payload),
			})
		}
	}
}

// Subscribe registers conn and starts its writer. The latest view, if any,
// is queued ahead of every later broadcast.
func (h *Hub) Subscribe(conn *websocket.Conn) (string, bool) {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.QueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", false
	}
	if h.latest != nil {
		sub.send <- h.latest
	}
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.cfg.Metrics.Store(telemetry.MetricDisplaySubs, uint64(count))
	loggingnetwork.DisplayConnected(context.Background(), h.cfg.Publisher, loggingnetwork.DisplayRef(sub.id), loggingnetwork.ConnectionPayload{Subscribers: count})

	go h.writeLoop(sub)
	return sub.id, true
}

// Unsubscribe removes the display and stops its writer. Unknown ids are
// ignored so both the reader and the writer may call it.
func (h *Hub) Unsubscribe(id, reason string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.stop()
	h.cfg.Metrics.Store(telemetry.MetricDisplaySubs, uint64(count))
	loggingnetwork.DisplayDisconnected(context.Background(), h.cfg.Publisher, loggingnetwork.DisplayRef(id), loggingnetwork.ConnectionPayload{Subscribers: count, Reason: reason})
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case <-sub.done:
			deadline := time.Now().Add(h.cfg.WriteWait)
			sub.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case payload := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.cfg.Logger.Printf("failed to send update to %s: %v", sub.id, err)
				h.Unsubscribe(sub.id, "write_failed")
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				h.Unsubscribe(sub.id, "ping_failed")
				return
			}
		}
	}
}

// SubscriberCount returns the number of connected displays.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Latest returns the view message replayed to new displays.
func (h *Hub) Latest() (proto.ViewMessage, bool) {
	h.mu.Lock()
	latest := h.latest
	h.mu.Unlock()
	if latest == nil {
		return proto.ViewMessage{}, false
	}
	var msg proto.ViewMessage
	if err := json.Unmarshal(latest, &msg); err != nil {
		return proto.ViewMessage{}, false
	}
	return msg, true
}

// Close disconnects every display and rejects later subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs = append(subs, sub)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	h.cfg.Metrics.Store(telemetry.MetricDisplaySubs, 0)
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/stats"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingnetwork "beat-hard/server/logging/network"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []logging.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event logging.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count(eventType logging.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	handler := NewHandler(hub, HandlerConfig{})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readView(t *testing.T, conn *websocket.Conn) proto.ViewMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	msg, err := proto.DecodeViewMessage(payload)
	if err != nil {
		t.Fatalf("failed to decode message %s: %v", payload, err)
	}
	return msg
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, hub.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendWithoutSubscribersIsSafe(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	hub.Send(proto.ViewCover, map[string]any{"competitor1": map[string]any{"name": "Ana"}})
	hub.SendMaxStats(combat.Fighter1, stats.MaxStats{MaxForce: 1})

	latest, ok := hub.Latest()
	if !ok || latest.ViewType != proto.ViewCover {
		t.Fatalf("expected cover to be retained, got %+v ok=%v", latest, ok)
	}

	hub.Close()
	hub.Send(proto.ViewStats, nil)
}

func TestSubscriberReceivesLatestViewThenBroadcastsInOrder(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := newTestServer(t, hub)

	hub.Send(proto.ViewCover, map[string]string{"title": "final"})
	hub.Send(proto.ViewRoundAdvance, proto.RoundAdvancePayload{CurrentRound: 2, TotalRounds: 3, BattleMode: "rounds"})

	conn := dial(t, srv)
	if msg := readView(t, conn); msg.ViewType != proto.ViewCover {
		t.Fatalf("expected replayed cover first, got %+v", msg)
	}
	waitForSubscribers(t, hub, 1)

	hub.Send(proto.ViewStats, map[string]any{"fighter_id": "fighter_1", "force": 300})
	hub.SendMaxStats(combat.Fighter1, stats.MaxStats{MaxForce: 300, MaxVelocity: 4, MaxAcceleration: 30})
	hub.Send(proto.ViewRoundAdvance, proto.RoundAdvancePayload{CurrentRound: 3, TotalRounds: 3, BattleMode: "rounds"})

	if msg := readView(t, conn); msg.ViewType != proto.ViewStats {
		t.Fatalf("expected stats, got %+v", msg)
	}
	msg := readView(t, conn)
	if !msg.IsMaxStatsUpdate() {
		t.Fatalf("expected max stats update, got %+v", msg)
	}
	var maxStats proto.MaxStatsPayload
	if err := json.Unmarshal(msg.Data, &maxStats); err != nil {
		t.Fatalf("failed to decode max stats: %v", err)
	}
	if maxStats.FighterID != "fighter_1" || maxStats.MaxForce == nil || *maxStats.MaxForce != 300 {
		t.Fatalf("unexpected max stats payload %+v", maxStats)
	}
	if msg := readView(t, conn); msg.ViewType != proto.ViewRoundAdvance {
		t.Fatalf("expected round advance, got %+v", msg)
	}

	latest, _ := hub.Latest()
	if latest.ViewType != proto.ViewStats {
		t.Fatalf("round_advance and max stats must not replace the latest view, got %q", latest.ViewType)
	}
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	hub := NewHub(DefaultHubConfig())
	srv := newTestServer(t, hub)

	conn := dial(t, srv)
	waitForSubscribers(t, hub, 1)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitForSubscribers(t, hub, 0)

	hub.Send(proto.ViewSummary, nil)
}

func TestMalformedInboundFrameIsDropped(t *testing.T) {
	publisher := &recordingPublisher{}
	metrics := telemetry.NewPrometheusMetrics()
	cfg := DefaultHubConfig()
	cfg.Publisher = publisher
	cfg.Metrics = metrics
	hub := NewHub(cfg)
	srv := newTestServer(t, hub)

	conn := dial(t, srv)
	waitForSubscribers(t, hub, 1)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for publisher.count(loggingnetwork.EventMessageDropped) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected malformed frame to be reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
	counter, _ := metrics.Counter(telemetry.MetricMalformedMessages)
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("expected one malformed message, got %v", got)
	}
	if hub.SubscriberCount() != 1 {
		t.Fatalf("a malformed frame must not disconnect the display")
	}
	if publisher.count(loggingnetwork.EventDisplayConnected) != 1 {
		t.Fatalf("expected a display connected event")
	}
}

func TestFullQueueDropsForThatSubscriberOnly(t *testing.T) {
	metrics := telemetry.NewPrometheusMetrics()
	cfg := DefaultHubConfig()
	cfg.QueueSize = 1
	cfg.Metrics = metrics
	hub := NewHub(cfg)

	stalled := &subscriber{id: "stalled", send: make(chan []byte, 1), done: make(chan struct{})}
	hub.mu.Lock()
	hub.subscribers[stalled.id] = stalled
	hub.mu.Unlock()

	hub.Send(proto.ViewCover, nil)
	hub.Send(proto.ViewStats, nil)

	if got := len(stalled.send); got != 1 {
		t.Fatalf("expected queue to hold one message, got %d", got)
	}
	first := <-stalled.send
	msg, err := proto.DecodeViewMessage(first)
	if err != nil || msg.ViewType != proto.ViewCover {
		t.Fatalf("expected the first message to be kept, got %+v err=%v", msg, err)
	}
	drops, _ := metrics.Counter(telemetry.MetricBroadcastDrops)
	if got := testutil.ToFloat64(drops); got != 1 {
		t.Fatalf("expected one drop, got %v", got)
	}
	sent, _ := metrics.Counter(telemetry.MetricBroadcastMessages)
	if got := testutil.ToFloat64(sent); got != 2 {
		t.Fatalf("expected two broadcasts, got %v", got)
	}
}

func websocketURL(t *testing.T, base string) string {
	t.Helper()
	parsed, err := url.Parse(base)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/ws"
	return parsed.String()
}

package logging_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"beat-hard/server/logging"
	"beat-hard/server/logging/sinks"
)

func newTestRouter(t *testing.T, cfg logging.Config, named ...logging.NamedSink) *logging.Router {
	t.Helper()
	clock := logging.ClockFunc(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	})
	router, err := logging.NewRouter(clock, cfg, log.New(io.Discard, "", 0), named)
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	return router
}

func TestRouterDeliversEventsToSinksOnClose(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug
	cfg.Fields = map[string]any{"service": "broadcast"}
	router := newTestRouter(t, cfg, logging.NamedSink{Name: "memory", Sink: memory})

	router.Publish(context.Background(), logging.Event{Type: "test.event", Round: 2, Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: "", Severity: logging.SeverityInfo})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Round != 2 {
		t.Fatalf("expected round 2, got %d", events[0].Round)
	}
	if events[0].Time.IsZero() {
		t.Fatalf("expected router to stamp event time")
	}
	if events[0].Extra["service"] != "broadcast" {
		t.Fatalf("expected configured field on event, got %+v", events[0].Extra)
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("expected 1 forwarded event, got %d", stats.EventsTotal)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router := newTestRouter(t, cfg, logging.NamedSink{Name: "memory", Sink: memory})

	router.Publish(context.Background(), logging.Event{Type: "debug.event", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "warn.event", Severity: logging.SeverityWarn})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 || events[0].Type != "warn.event" {
		t.Fatalf("expected only the warn event, got %+v", events)
	}
}

func TestRouterPublishAfterCloseIsIgnored(t *testing.T) {
	memory := sinks.NewMemorySink()
	router := newTestRouter(t, logging.DefaultConfig(), logging.NamedSink{Name: "memory", Sink: memory})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	router.Publish(context.Background(), logging.Event{Type: "late", Severity: logging.SeverityError})
	if got := len(memory.Events()); got != 0 {
		t.Fatalf("expected no events after close, got %d", got)
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

type failingSink struct{}

func (failingSink) Write(logging.Event) error   { return errors.New("boom") }
func (failingSink) Close(context.Context) error { return errors.New("close boom") }

func TestRouterCloseReportsSinkCloseError(t *testing.T) {
	router := newTestRouter(t, logging.DefaultConfig(), logging.NamedSink{Name: "failing", Sink: failingSink{}})
	if err := router.Close(context.Background()); err == nil {
		t.Fatalf("expected sink close error to surface")
	}
	if router.Sink("failing") == nil {
		t.Fatalf("expected named sink lookup to succeed")
	}
	if router.Sink("missing") != nil {
		t.Fatalf("expected unknown sink lookup to return nil")
	}
}

func TestRouterCountsSinkFailuresAndClosesDuringCooldown(t *testing.T) {
	memory := sinks.NewMemorySink()
	router := newTestRouter(t, logging.DefaultConfig(),
		logging.NamedSink{Name: "failing", Sink: failingSink{}},
		logging.NamedSink{Name: "memory", Sink: memory},
	)

	for round := 1; round <= 3; round++ {
		router.Publish(context.Background(), logging.Event{Type: "battle.round_advanced", Round: round, Severity: logging.SeverityInfo})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("close waited for the failing sink's cooldown")
	}

	stats := router.Stats()
	if stats.EventsTotal != 3 {
		t.Fatalf("expected 3 forwarded events, got %d", stats.EventsTotal)
	}
	if got := stats.Sinks["failing"]; got.Failed != 3 || got.Written != 0 {
		t.Fatalf("unexpected failing sink stats %+v", got)
	}
	if got := stats.Sinks["memory"]; got.Written != 3 {
		t.Fatalf("unexpected memory sink stats %+v", got)
	}
	if len(memory.Events()) != 3 {
		t.Fatalf("expected the healthy sink to receive every event")
	}
}

func TestNewRouterRejectsDuplicateSinkNames(t *testing.T) {
	_, err := logging.NewRouter(nil, logging.DefaultConfig(), log.New(io.Discard, "", 0), []logging.NamedSink{
		{Name: "memory", Sink: sinks.NewMemorySink()},
		{Name: "memory", Sink: sinks.NewMemorySink()},
	})
	if err == nil {
		t.Fatalf("expected duplicate sink names to be rejected")
	}
}

func TestWithFieldsDoesNotOverrideEventExtra(t *testing.T) {
	var captured logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		captured = event
	})
	pub := logging.WithFields(base, map[string]any{"display": "a", "round": 1})
	pub.Publish(context.Background(), logging.Event{Type: "x", Extra: map[string]any{"display": "b"}})

	if captured.Extra["display"] != "b" {
		t.Fatalf("expected event extra to win, got %v", captured.Extra["display"])
	}
	if captured.Extra["round"] != 1 {
		t.Fatalf("expected decorated field, got %v", captured.Extra["round"])
	}
}

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		raw  string
		want logging.Severity
		ok   bool
	}{
		{"debug", logging.SeverityDebug, true},
		{"WARNING", logging.SeverityWarn, true},
		{" error ", logging.SeverityError, true},
		{"loud", logging.SeverityInfo, false},
	}
	for _, tc := range cases {
		got, ok := logging.ParseSeverity(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseSeverity(%q) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

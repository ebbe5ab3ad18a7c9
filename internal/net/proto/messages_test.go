package proto

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"beat-hard/server/internal/combat"
)

func TestDecodeViewMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr error
		want    ViewType
	}{
		{name: "cover", raw: `{"viewType":"cover","data":{"competitor1":{}}}`, want: ViewCover},
		{name: "round advance", raw: `{"viewType":"round_advance","data":{"currentRound":2}}`, want: ViewRoundAdvance},
		{name: "max stats", raw: `{"type":"max_stats_update","data":{"fighter_id":"fighter_1"}}`},
		{name: "max stats without data", raw: `{"type":"max_stats_update"}`, wantErr: ErrMalformed},
		{name: "unknown view", raw: `{"viewType":"scoreboard","data":{}}`, wantErr: ErrUnknownView},
		{name: "missing view", raw: `{"data":{}}`, wantErr: ErrUnknownView},
		{name: "unknown type", raw: `{"type":"ping"}`, wantErr: ErrMalformed},
		{name: "not json", raw: `{"viewType":`, wantErr: ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeViewMessage([]byte(tc.raw))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.ViewType != tc.want {
				t.Fatalf("expected view %q, got %q", tc.want, msg.ViewType)
			}
		})
	}
}

func TestEncodeViewWrapsPayload(t *testing.T) {
	data, err := EncodeView(ViewRoundAdvance, RoundAdvancePayload{CurrentRound: 2, TotalRounds: 3, BattleMode: "rounds"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"viewType":"round_advance","data":{"currentRound":2,"totalRounds":3,"battleMode":"rounds"}}`
	if string(data) != want {
		t.Fatalf("unexpected envelope:\n got %s\nwant %s", data, want)
	}

	if _, err := EncodeView("scoreboard", nil); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected ErrUnknownView, got %v", err)
	}
	if _, err := EncodeView(ViewCover, json.RawMessage(`{`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for invalid raw data, got %v", err)
	}
}

func TestEncodeMaxStats(t *testing.T) {
	force := 350.0
	data, err := EncodeMaxStats(MaxStatsPayload{FighterID: "fighter_1", MaxForce: &force})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	msg, err := DecodeViewMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !msg.IsMaxStatsUpdate() || msg.ViewType != "" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	var payload MaxStatsPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if payload.MaxForce == nil || *payload.MaxForce != 350 || payload.MaxVelocity != nil {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDecodeHitInputCoercesMissingMetrics(t *testing.T) {
	sample, err := DecodeHitInput([]byte(`{"fighter_id":"fighter_2","competitor_name":"Bea","force":120.5,"timestamp":1700000000000}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if sample.Fighter != combat.Fighter2 || sample.CompetitorName != "Bea" {
		t.Fatalf("unexpected identity %+v", sample)
	}
	if sample.Hit.Force != 120.5 || sample.Hit.Velocity != 0 || sample.Hit.Acceleration != 0 {
		t.Fatalf("unexpected metrics %+v", sample.Hit)
	}
	if sample.Hit.Timestamp != 1_700_000_000_000 {
		t.Fatalf("unexpected timestamp %d", sample.Hit.Timestamp)
	}
	if !sample.HasForce || sample.HasVelocity || sample.HasAcceleration {
		t.Fatalf("unexpected presence flags %+v", sample)
	}

	force, velocity, acceleration := sample.Optional()
	if force == nil || *force != 120.5 || velocity != nil || acceleration != nil {
		t.Fatalf("unexpected optional metrics %v %v %v", force, velocity, acceleration)
	}
}

func TestDecodeHitInputRejectsUnknownFighter(t *testing.T) {
	if _, err := DecodeHitInput([]byte(`{"fighter_id":"fighter_9","force":1}`)); !errors.Is(err, combat.ErrUnknownFighter) {
		t.Fatalf("expected ErrUnknownFighter, got %v", err)
	}
	if _, err := DecodeHitInput([]byte(`not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeHitInputRejectsOutOfRangeValues(t *testing.T) {
	cases := map[string]string{
		"negative timestamp":  `{"fighter_id":"fighter_1","force":1,"timestamp":-5}`,
		"huge timestamp":      `{"fighter_id":"fighter_1","force":1,"timestamp":1e300}`,
		"confidence above 1":  `{"fighter_id":"fighter_1","force":1,"confidence":1.5}`,
		"negative confidence": `{"fighter_id":"fighter_1","force":1,"confidence":-0.1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeHitInput([]byte(raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}

	nan := math.NaN()
	in := HitEventInput{FighterID: "fighter_1", Timestamp: &nan}
	if _, err := in.Normalize(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for NaN timestamp, got %v", err)
	}
}

func TestStatsPayloadCarriesHitIdentity(t *testing.T) {
	sample, err := DecodeHitInput([]byte(`{"fighter_id":"fighter_1","force":80,"confidence":0.75,"timestamp":1700000000000}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if sample.Hit.Confidence != 0.75 {
		t.Fatalf("expected confidence 0.75, got %v", sample.Hit.Confidence)
	}

	event := combat.HitEvent{ID: "hit-7", Force: 80, Timestamp: sample.Hit.Timestamp, Confidence: sample.Hit.Confidence}
	payload := sample.StatsPayload(event, 4)
	if payload.ID != "hit-7" || payload.Confidence != 0.75 || payload.TotalHits != 4 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

// Package proto defines the envelopes exchanged between the control process
// and the display surfaces.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"beat-hard/server/internal/combat"
)

// ViewType identifies what a display should render.
type ViewType string

const (
	ViewCover        ViewType = "cover"
	ViewStats        ViewType = "stats"
	ViewStatsPartial ViewType = "stats-parcial"
	ViewSummary      ViewType = "resumen"
	ViewRoundAdvance ViewType = "round_advance"
)

// TypeMaxStatsUpdate marks the out-of-band max statistics push.
const TypeMaxStatsUpdate = "max_stats_update"

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownView = errors.New("unknown view type")
)

var knownViews = map[ViewType]struct{}{
	ViewCover:        {},
	ViewStats:        {},
	ViewStatsPartial: {},
	ViewSummary:      {},
	ViewRoundAdvance: {},
}

func (v ViewType) Valid() bool {
	_, ok := knownViews[v]
	return ok
}

// ViewMessage is the broadcast envelope. Data stays raw until the receiver
// knows which payload shape to expect.
type ViewMessage struct {
	ViewType ViewType        `json:"viewType,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Type     string          `json:"type,omitempty"`
}

// IsMaxStatsUpdate reports whether the message is a max statistics push.
func (m ViewMessage) IsMaxStatsUpdate() bool {
	return m.Type == TypeMaxStatsUpdate
}

// RoundAdvancePayload is carried by round_advance messages.
type RoundAdvancePayload struct {
	CurrentRound  int    `json:"currentRound"`
	TotalRounds   int    `json:"totalRounds"`
	BattleMode    string `json:"battleMode"`
	RoundDuration int    `json:"roundDuration,omitempty"`
}

// MaxStatsPayload is carried by max_stats_update messages. Absent metrics
// decode as nil so receivers can fold partial updates.
type MaxStatsPayload struct {
	FighterID       string   `json:"fighter_id"`
	MaxForce        *float64 `json:"max_force,omitempty"`
	MaxVelocity     *float64 `json:"max_velocity,omitempty"`
	MaxAcceleration *float64 `json:"max_acceleration,omitempty"`
	CompetitorName  string   `json:"competitor_name,omitempty"`
}

// StatsPayload is carried by stats messages: the strike that triggered the
// update, with every metric populated.
type StatsPayload struct {
	ID             string  `json:"id,omitempty"`
	FighterID      string  `json:"fighter_id"`
	CompetitorName string  `json:"competitor_name"`
	Force          float64 `json:"force"`
	Velocity       float64 `json:"velocity"`
	Acceleration   float64 `json:"acceleration"`
	Timestamp      int64   `json:"timestamp"`
	EventType      string  `json:"event_type,omitempty"`
	LimbName       string  `json:"limb_name,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	TotalHits      int     `json:"totalHits"`
}

// DecodeViewMessage parses an envelope and rejects unknown view types.
func DecodeViewMessage(data []byte) (ViewMessage, error) {
	var msg ViewMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ViewMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.IsMaxStatsUpdate() {
		if len(msg.Data) == 0 {
			return ViewMessage{}, fmt.Errorf("%w: max stats update without data", ErrMalformed)
		}
		return msg, nil
	}
	if msg.Type != "" {
		return ViewMessage{}, fmt.Errorf("%w: type %q", ErrMalformed, msg.Type)
	}
	if !msg.ViewType.Valid() {
		return ViewMessage{}, fmt.Errorf("%w: %q", ErrUnknownView, msg.ViewType)
	}
	return msg, nil
}

// EncodeView builds a view envelope around data.
func EncodeView(viewType ViewType, data any) ([]byte, error) {
	if !viewType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, viewType)
	}
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ViewMessage{ViewType: viewType, Data: raw})
}

// EncodeMaxStats builds a max_stats_update envelope.
func EncodeMaxStats(payload MaxStatsPayload) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ViewMessage{Type: TypeMaxStatsUpdate, Data: raw})
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: invalid data payload", ErrMalformed)
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Fighter resolves the payload's fighter identifier.
func (p MaxStatsPayload) Fighter() (combat.FighterID, error) {
	return combat.ParseFighterID(p.FighterID)
}

// Fighter resolves the payload's fighter identifier.
func (p StatsPayload) Fighter() (combat.FighterID, error) {
	return combat.ParseFighterID(p.FighterID)
}

package battle

import (
	"context"

	"beat-hard/server/logging"
)

const (
	// EventStateChanged is emitted on every round state machine transition.
	EventStateChanged logging.EventType = "battle.state_changed"
	// EventRoundArchived is emitted once per completed round.
	EventRoundArchived logging.EventType = "battle.round_archived"
	// EventAdvanceRejected is emitted when an advance is refused.
	EventAdvanceRejected logging.EventType = "battle.advance_rejected"
)

// StatePayload describes a transition.
type StatePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// RoundArchivedPayload summarises an archived round.
type RoundArchivedPayload struct {
	RoundNumber int            `json:"roundNumber"`
	TotalHits   map[string]int `json:"totalHits"`
	Final       bool           `json:"final"`
}

// AdvanceRejectedPayload explains why an advance was refused.
type AdvanceRejectedPayload struct {
	Reason string `json:"reason"`
}

var battleRef = logging.EntityRef{ID: "battle", Kind: logging.EntityKindBattle}

func StateChanged(ctx context.Context, pub logging.Publisher, round int, payload StatePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStateChanged,
		Round:    round,
		Actor:    battleRef,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBattle,
		Payload:  payload,
	})
}

func RoundArchived(ctx context.Context, pub logging.Publisher, payload RoundArchivedPayload) {
	if pub == nil {
		return
	}
	hits := make(map[string]int, len(payload.TotalHits))
	for k, v := range payload.TotalHits {
		hits[k] = v
	}
	payload.TotalHits = hits
	pub.Publish(ctx, logging.Event{
		Type:     EventRoundArchived,
		Round:    payload.RoundNumber,
		Actor:    battleRef,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryBattle,
		Payload:  payload,
	})
}

func AdvanceRejected(ctx context.Context, pub logging.Publisher, round int, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAdvanceRejected,
		Round:    round,
		Actor:    battleRef,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryBattle,
		Payload:  AdvanceRejectedPayload{Reason: reason},
	})
}

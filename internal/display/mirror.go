// Package display keeps a display surface's local view of the battle. The
// mirror is fed only by broadcast messages and never writes back.
package display

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"beat-hard/server/internal/battle"
	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/stats"
)

// Snapshot is an immutable copy of the mirror.
type Snapshot struct {
	View        proto.ViewType
	ViewData    json.RawMessage
	LastCover   json.RawMessage
	Round       int
	TotalRounds int
	Mode        string
	Records     map[combat.FighterID]combat.Record
	MaxStats    map[combat.FighterID]stats.MaxStats
	Rounds      []battle.RoundSnapshot
	TakenAt     time.Time
}

// Mirror is the display side cache derived from view messages.
type Mirror struct {
	agg *combat.Aggregator

	mu          sync.Mutex
	view        proto.ViewType
	viewData    json.RawMessage
	lastCover   json.RawMessage
	round       int
	totalRounds int
	mode        string
	maxStats    map[combat.FighterID]stats.MaxStats
	rounds      []battle.RoundSnapshot
}

// NewMirror starts on the cover view at round one.
func NewMirror(cfg combat.Config) *Mirror {
	return &Mirror{
		agg:      combat.NewAggregator(cfg),
		view:     proto.ViewCover,
		round:    1,
		maxStats: make(map[combat.FighterID]stats.MaxStats),
	}
}

// Apply folds one message into the mirror. Malformed payloads leave the
// mirror untouched and are reported as errors.
func (m *Mirror) Apply(msg proto.ViewMessage) error {
	if msg.IsMaxStatsUpdate() {
		return m.applyMaxStats(msg.Data)
	}
	switch msg.ViewType {
	case proto.ViewRoundAdvance:
		return m.applyRoundAdvance(msg.Data)
	case proto.ViewStats:
		var payload proto.StatsPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				return fmt.Errorf("%w: stats payload: %v", proto.ErrMalformed, err)
			}
		}
		if payload.FighterID == "" {
			// Operator switch to the live screen without a strike.
			m.mu.Lock()
			defer m.mu.Unlock()
			m.replaceViewLocked(msg)
			return nil
		}
		fighter, err := payload.Fighter()
		if err != nil {
			return fmt.Errorf("%w: stats payload: %v", proto.ErrMalformed, err)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if payload.CompetitorName != "" {
			m.agg.SetName(fighter, payload.CompetitorName)
		}
		if m.agg.Seen(fighter, payload.ID) {
			// Replayed on reconnect; already counted.
			m.replaceViewLocked(msg)
			return nil
		}
		if _, err := m.agg.Ingest(fighter, combat.HitInput{
			ID:           payload.ID,
			Force:        payload.Force,
			Velocity:     payload.Velocity,
			Acceleration: payload.Acceleration,
			Timestamp:    payload.Timestamp,
			EventType:    payload.EventType,
			LimbName:     payload.LimbName,
			Confidence:   payload.Confidence,
		}); err != nil {
			return err
		}
		m.replaceViewLocked(msg)
		return nil
	default:
		if !msg.ViewType.Valid() {
			return fmt.Errorf("%w: %q", proto.ErrUnknownView, msg.ViewType)
		}
		if len(msg.Data) > 0 && !json.Valid(msg.Data) {
			return fmt.Errorf("%w: %s payload", proto.ErrMalformed, msg.ViewType)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.replaceViewLocked(msg)
		if msg.ViewType == proto.ViewCover {
			m.lastCover = cloneRaw(msg.Data)
			var cover battle.CoverPayload
			if err := json.Unmarshal(msg.Data, &cover); err == nil && cover.BattleConfig.Rounds > 0 {
				m.totalRounds = cover.BattleConfig.Rounds
				m.mode = string(cover.BattleConfig.Mode)
			}
		}
		return nil
	}
}

func (m *Mirror) replaceViewLocked(msg proto.ViewMessage) {
	m.view = msg.ViewType
	m.viewData = cloneRaw(msg.Data)
}

// applyRoundAdvance archives the local round and moves the counter. The
// round carried by the payload wins; one at or below the local round means
// the control side started over, so the local battle is dropped first. The
// rendered view stays as it was.
func (m *Mirror) applyRoundAdvance(data json.RawMessage) error {
	var payload proto.RoundAdvancePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("%w: round advance payload: %v", proto.ErrMalformed, err)
		}
	}
	if payload.CurrentRound < 0 {
		return fmt.Errorf("%w: round advance to %d", proto.ErrMalformed, payload.CurrentRound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch next := payload.CurrentRound; {
	case next == 0:
		m.archiveLocked()
		m.round++
	case next > m.round:
		m.archiveLocked()
		m.round = next
	default:
		m.resetLocked()
		m.round = next
	}
	if payload.TotalRounds > 0 {
		m.totalRounds = payload.TotalRounds
	}
	if payload.BattleMode != "" {
		m.mode = payload.BattleMode
	}
	return nil
}

// applyMaxStats folds a partial update into the named fighter's entry only.
func (m *Mirror) applyMaxStats(data json.RawMessage) error {
	var payload proto.MaxStatsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: max stats payload: %v", proto.ErrMalformed, err)
	}
	fighter, err := payload.Fighter()
	if err != nil {
		return fmt.Errorf("%w: max stats payload: %v", proto.ErrMalformed, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.maxStats[fighter]
	if payload.MaxForce != nil {
		current.MaxForce = *payload.MaxForce
	}
	if payload.MaxVelocity != nil {
		current.MaxVelocity = *payload.MaxVelocity
	}
	if payload.MaxAcceleration != nil {
		current.MaxAcceleration = *payload.MaxAcceleration
	}
	if payload.CompetitorName != "" {
		current.CompetitorName = payload.CompetitorName
	}
	m.maxStats[fighter] = current
	return nil
}

// Sweep drops locally expired strikes.
func (m *Mirror) Sweep(now time.Time) {
	m.agg.Sweep(now)
}

// Reset clears the local battle and the max statistics. The current view is
// kept.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.maxStats = make(map[combat.FighterID]stats.MaxStats)
}

func (m *Mirror) archiveLocked() {
	m.rounds = append(m.rounds, battle.RoundSnapshot{
		RoundNumber: m.round,
		Timestamp:   m.agg.Now().UnixMilli(),
		Records:     m.agg.Snapshot(),
	})
	m.agg.Reset()
}

// resetLocked drops records and archived rounds. Max statistics only follow
// max_stats messages and survive.
func (m *Mirror) resetLocked() {
	m.agg.Reset()
	m.rounds = nil
	m.round = 1
}

// Snapshot copies the mirror.
func (m *Mirror) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		View:        m.view,
		ViewData:    cloneRaw(m.viewData),
		LastCover:   cloneRaw(m.lastCover),
		Round:       m.round,
		TotalRounds: m.totalRounds,
		Mode:        m.mode,
		Records:     m.agg.Snapshot(),
		MaxStats:    make(map[combat.FighterID]stats.MaxStats, len(m.maxStats)),
		Rounds:      make([]battle.RoundSnapshot, 0, len(m.rounds)),
		TakenAt:     m.agg.Now(),
	}
	for id, maxStats := range m.maxStats {
		snap.MaxStats[id] = maxStats
	}
	for _, round := range m.rounds {
		snap.Rounds = append(snap.Rounds, round.Clone())
	}
	return snap
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

package display

import (
	"encoding/json"

	"beat-hard/server/internal/battle"
	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/stats"
)

// View is what a display renders for one frame. At most one of the payload
// fields is set, matching Name.
type View struct {
	Name    proto.ViewType  `json:"name"`
	Cover   json.RawMessage `json:"cover,omitempty"`
	Stats   *StatsView      `json:"stats,omitempty"`
	Summary *SummaryView    `json:"summary,omitempty"`
}

// FighterView is one side of the stats screen.
type FighterView struct {
	Record   combat.Record  `json:"record"`
	MaxStats stats.MaxStats `json:"maxStats"`
}

// StatsView is the live screen with the current round's strikes.
type StatsView struct {
	Round       int                              `json:"round"`
	TotalRounds int                              `json:"totalRounds,omitempty"`
	Fighters    map[combat.FighterID]FighterView `json:"fighters"`
}

// SummaryView is the partial or final tally across rounds.
type SummaryView struct {
	Final    bool                                `json:"final"`
	Rounds   []battle.RoundSnapshot              `json:"rounds"`
	Fighters map[combat.FighterID]battle.Totals  `json:"fighters"`
	MaxStats map[combat.FighterID]stats.MaxStats `json:"maxStats"`
}

// Resolver turns a mirror snapshot into the view to render.
type Resolver struct{}

// Resolve falls back to the cover for an empty or unknown view. The closing
// round is never archived locally, so the current record always counts as a
// played round.
func (Resolver) Resolve(snap Snapshot) View {
	switch snap.View {
	case proto.ViewStats:
		view := &StatsView{
			Round:       snap.Round,
			TotalRounds: snap.TotalRounds,
			Fighters:    make(map[combat.FighterID]FighterView, len(combat.Fighters)),
		}
		for _, id := range combat.Fighters {
			view.Fighters[id] = FighterView{Record: snap.Records[id], MaxStats: snap.MaxStats[id]}
		}
		return View{Name: proto.ViewStats, Stats: view}
	case proto.ViewStatsPartial, proto.ViewSummary:
		final := snap.View == proto.ViewSummary
		view := &SummaryView{
			Final:    final,
			Rounds:   snap.Rounds,
			Fighters: make(map[combat.FighterID]battle.Totals, len(combat.Fighters)),
			MaxStats: snap.MaxStats,
		}
		for _, id := range combat.Fighters {
			view.Fighters[id] = battle.SumTotals(id, snap.Rounds, snap.Records[id], true)
		}
		return View{Name: snap.View, Summary: view}
	default:
		cover := snap.LastCover
		if snap.View == proto.ViewCover && len(snap.ViewData) > 0 {
			cover = snap.ViewData
		}
		return View{Name: proto.ViewCover, Cover: cover}
	}
}

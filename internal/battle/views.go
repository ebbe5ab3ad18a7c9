package battle

import (
	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/stats"
)

// CoverConfig is the battle config as shown on the cover screen.
type CoverConfig struct {
	Config
	CurrentRound int `json:"currentRound"`
}

// CoverPayload is the data of the cover view.
type CoverPayload struct {
	Competitor1  Competitor  `json:"competitor1"`
	Competitor2  Competitor  `json:"competitor2"`
	BattleConfig CoverConfig `json:"battleConfig"`
}

// FighterSummary gathers everything known about one fighter.
type FighterSummary struct {
	Competitor Competitor      `json:"competitor"`
	Record     combat.Record   `json:"record"`
	MaxStats   *stats.MaxStats `json:"maxStats"`
	Totals     Totals          `json:"totals"`
}

// SummaryPayload is the data of the partial and final summary views.
type SummaryPayload struct {
	Status   Status                              `json:"status"`
	Fighters map[combat.FighterID]FighterSummary `json:"fighters"`
	Rounds   []RoundSnapshot                     `json:"rounds"`
}

// Cover builds the cover view payload from the cached setup.
func (m *Machine) Cover() (CoverPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.configured {
		return CoverPayload{}, ErrNotConfigured
	}
	return CoverPayload{
		Competitor1:  m.competitors[combat.Fighter1],
		Competitor2:  m.competitors[combat.Fighter2],
		BattleConfig: CoverConfig{Config: m.cfg, CurrentRound: m.round},
	}, nil
}

// Fighter summarises f for the control surface and the summary views.
func (m *Machine) Fighter(f combat.FighterID) (FighterSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fighterLocked(f)
}

func (m *Machine) fighterLocked(f combat.FighterID) (FighterSummary, error) {
	record, err := m.agg.Record(f)
	if err != nil {
		return FighterSummary{}, err
	}
	summary := FighterSummary{
		Competitor: m.competitors[f],
		Record:     record,
		Totals:     SumTotals(f, m.history, record, m.state != StateFinished),
	}
	if maxStats, ok := m.tracker.Get(f); ok {
		summary.MaxStats = &maxStats
	}
	return summary, nil
}

// Summary builds the payload of the stats-parcial and resumen views from one
// consistent view of the battle.
func (m *Machine) Summary() (SummaryPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload := SummaryPayload{
		Status:   m.statusLocked(),
		Fighters: make(map[combat.FighterID]FighterSummary, len(combat.Fighters)),
		Rounds:   make([]RoundSnapshot, 0, len(m.history)),
	}
	for _, snapshot := range m.history {
		payload.Rounds = append(payload.Rounds, snapshot.Clone())
	}
	for _, id := range combat.Fighters {
		summary, err := m.fighterLocked(id)
		if err != nil {
			return SummaryPayload{}, err
		}
		payload.Fighters[id] = summary
	}
	return payload, nil
}

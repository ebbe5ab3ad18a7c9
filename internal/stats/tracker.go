// Package stats keeps battle-scoped strike maxima per fighter.
package stats

import (
	"sync"

	"beat-hard/server/internal/combat"
)

// Metric names reported as new records.
const (
	MetricForce        = "max_force"
	MetricVelocity     = "max_velocity"
	MetricAcceleration = "max_acceleration"
)

// MaxStats holds the highest values observed for one fighter. Values never
// decrease until the tracker is reset.
type MaxStats struct {
	MaxForce        float64 `json:"max_force"`
	MaxVelocity     float64 `json:"max_velocity"`
	MaxAcceleration float64 `json:"max_acceleration"`
	CompetitorName  string  `json:"competitor_name,omitempty"`
}

type Tracker struct {
	mu    sync.Mutex
	stats map[combat.FighterID]MaxStats
	names map[combat.FighterID]string
}

func NewTracker() *Tracker {
	return &Tracker{
		stats: make(map[combat.FighterID]MaxStats),
		names: make(map[combat.FighterID]string),
	}
}

// SetName labels future entries for f. Names survive Reset.
func (t *Tracker) SetName(f combat.FighterID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names[f] = name
	if current, ok := t.stats[f]; ok {
		current.CompetitorName = name
		t.stats[f] = current
	}
}

// Record folds a complete observation into f's maxima and returns the
// metrics that set a new record along with the resulting maxima.
func (t *Tracker) Record(f combat.FighterID, force, velocity, acceleration float64) ([]string, MaxStats) {
	return t.RecordOptional(f, &force, &velocity, &acceleration)
}

// RecordOptional is Record for partially populated observations. A nil
// metric is skipped and can never produce a record. An observation with no
// metrics at all leaves the tracker untouched.
func (t *Tracker) RecordOptional(f combat.FighterID, force, velocity, acceleration *float64) ([]string, MaxStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, seen := t.stats[f]
	if force == nil && velocity == nil && acceleration == nil {
		return nil, current
	}

	var records []string
	raise := func(stored *float64, incoming *float64, metric string) {
		if incoming == nil {
			return
		}
		if *incoming > *stored {
			*stored = *incoming
			records = append(records, metric)
		}
	}
	raise(&current.MaxForce, force, MetricForce)
	raise(&current.MaxVelocity, velocity, MetricVelocity)
	raise(&current.MaxAcceleration, acceleration, MetricAcceleration)

	if !seen || len(records) > 0 {
		current.CompetitorName = t.names[f]
		t.stats[f] = current
	}
	return records, current
}

// Get returns f's maxima. The boolean is false before the first observation.
func (t *Tracker) Get(f combat.FighterID) (MaxStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats, ok := t.stats[f]
	return stats, ok
}

// All copies every observed fighter's maxima.
func (t *Tracker) All() map[combat.FighterID]MaxStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[combat.FighterID]MaxStats, len(t.stats))
	for id, stats := range t.stats {
		out[id] = stats
	}
	return out
}

// Reset forgets every maximum. Only a full battle reset calls it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = make(map[combat.FighterID]MaxStats)
}

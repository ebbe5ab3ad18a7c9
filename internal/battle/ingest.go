package battle

import (
	"context"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/stats"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingcombat "beat-hard/server/logging/combat"
)

// MaxStatsBroadcaster is implemented by broadcasters that can push max
// statistics updates.
type MaxStatsBroadcaster interface {
	SendMaxStats(f combat.FighterID, maxStats stats.MaxStats)
}

// IngestResult describes an accepted strike.
type IngestResult struct {
	Record   combat.Record  `json:"record"`
	Records  []string       `json:"newRecords,omitempty"`
	MaxStats stats.MaxStats `json:"maxStats"`
}

// Ingest feeds a sensor strike through the aggregator and the max tracker,
// then broadcasts the stats view and, on a new record, the fighter's maxima.
// Strikes are refused once the battle is finished.
func (m *Machine) Ingest(ctx context.Context, sample proto.HitSample) (IngestResult, error) {
	m.mu.Lock()
	if m.state == StateFinished {
		m.mu.Unlock()
		return IngestResult{}, ErrBattleFinished
	}
	if sample.CompetitorName == "" {
		sample.CompetitorName = m.competitors[sample.Fighter].Name
	}
	record, err := m.agg.Ingest(sample.Fighter, sample.Hit)
	if err != nil {
		m.mu.Unlock()
		return IngestResult{}, err
	}
	force, velocity, acceleration := sample.Optional()
	records, maxStats := m.tracker.RecordOptional(sample.Fighter, force, velocity, acceleration)
	round := m.round
	m.mu.Unlock()

	actor := logging.FighterRef(sample.Fighter.String())
	m.metrics.Add(telemetry.MetricHitsIngested, 1)
	loggingcombat.HitIngested(ctx, m.pub, round, actor, loggingcombat.HitPayload{
		HitID:        record.LastHit.ID,
		Force:        record.LastHit.Force,
		Velocity:     record.LastHit.Velocity,
		Acceleration: record.LastHit.Acceleration,
		TotalHits:    record.TotalHits,
	})
	if len(records) > 0 {
		m.metrics.Add(telemetry.MetricMaxRecords, uint64(len(records)))
		loggingcombat.MaxRecord(ctx, m.pub, round, actor, loggingcombat.MaxRecordPayload{
			Records:         records,
			MaxForce:        maxStats.MaxForce,
			MaxVelocity:     maxStats.MaxVelocity,
			MaxAcceleration: maxStats.MaxAcceleration,
		})
	}

	if m.broadcaster != nil {
		m.broadcaster.Send(proto.ViewStats, sample.StatsPayload(*record.LastHit, record.TotalHits))
		if len(records) > 0 {
			if pusher, ok := m.broadcaster.(MaxStatsBroadcaster); ok {
				pusher.SendMaxStats(sample.Fighter, maxStats)
			}
		}
	}
	return IngestResult{Record: record, Records: records, MaxStats: maxStats}, nil
}

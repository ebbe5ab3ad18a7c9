package display

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
)

func TestResolveFallsBackToCover(t *testing.T) {
	var resolver Resolver

	view := resolver.Resolve(Snapshot{})
	assert.Equal(t, proto.ViewCover, view.Name)
	assert.Nil(t, view.Stats)
	assert.Nil(t, view.Summary)

	cover := json.RawMessage(`{"competitor1":{"name":"Ana"}}`)
	view = resolver.Resolve(Snapshot{View: proto.ViewType("scoreboard"), LastCover: cover})
	assert.Equal(t, proto.ViewCover, view.Name)
	assert.JSONEq(t, string(cover), string(view.Cover))
}

func TestResolveStatsCarriesBothFighters(t *testing.T) {
	mirror, _ := newTestMirror(t)
	require.NoError(t, mirror.Apply(statsMessage(t, combat.Fighter2, 90)))
	require.NoError(t, mirror.Apply(maxStatsMessage(t, proto.MaxStatsPayload{FighterID: "fighter_2", MaxForce: ptr(90)})))

	view := Resolver{}.Resolve(mirror.Snapshot())
	require.Equal(t, proto.ViewStats, view.Name)
	require.NotNil(t, view.Stats)
	assert.Equal(t, 1, view.Stats.Round)
	assert.Len(t, view.Stats.Fighters, 2)
	assert.Equal(t, 1, view.Stats.Fighters[combat.Fighter2].Record.TotalHits)
	assert.Equal(t, 90.0, view.Stats.Fighters[combat.Fighter2].MaxStats.MaxForce)
	assert.Zero(t, view.Stats.Fighters[combat.Fighter1].Record.TotalHits)
}

func TestResolveSummaryTotalsAcrossRounds(t *testing.T) {
	mirror, _ := newTestMirror(t)
	require.NoError(t, mirror.Apply(statsMessage(t, combat.Fighter1, 100)))
	require.NoError(t, mirror.Apply(statsMessage(t, combat.Fighter1, 50)))
	require.NoError(t, mirror.Apply(proto.ViewMessage{ViewType: proto.ViewRoundAdvance}))
	require.NoError(t, mirror.Apply(statsMessage(t, combat.Fighter1, 150)))
	require.NoError(t, mirror.Apply(viewMessage(t, proto.ViewStatsPartial, nil)))

	view := Resolver{}.Resolve(mirror.Snapshot())
	require.Equal(t, proto.ViewStatsPartial, view.Name)
	require.NotNil(t, view.Summary)
	assert.False(t, view.Summary.Final)
	assert.Len(t, view.Summary.Rounds, 1)

	totals := view.Summary.Fighters[combat.Fighter1]
	assert.Equal(t, 3, totals.TotalHits)
	assert.InDelta(t, 100.0, totals.AverageForce, 1e-9)
	assert.Equal(t, 2, totals.RoundsPlayed)
	assert.InDelta(t, 15.0, totals.MaxVelocity, 1e-9)

	require.NoError(t, mirror.Apply(viewMessage(t, proto.ViewSummary, nil)))
	final := Resolver{}.Resolve(mirror.Snapshot())
	assert.Equal(t, proto.ViewSummary, final.Name)
	assert.True(t, final.Summary.Final)
	assert.Equal(t, 2, final.Summary.Fighters[combat.Fighter1].RoundsPlayed)
}

func TestSweeperExpiresAndRenders(t *testing.T) {
	mirror, clock := newTestMirror(t)
	require.NoError(t, mirror.Apply(statsMessage(t, combat.Fighter1, 100)))

	var rendered []View
	sweeper := NewSweeper(mirror, SweeperConfig{
		Now:    func() time.Time { return clock.Now() },
		Render: func(v View) { rendered = append(rendered, v) },
	})

	view := sweeper.SweepOnce()
	assert.Len(t, view.Stats.Fighters[combat.Fighter1].Record.HitHistory, 1)

	clock.Advance(combat.DefaultTTL)
	view = sweeper.SweepOnce()
	assert.Empty(t, view.Stats.Fighters[combat.Fighter1].Record.HitHistory)
	assert.Equal(t, 1, view.Stats.Fighters[combat.Fighter1].Record.TotalHits)
	assert.Len(t, rendered, 2)
}

func TestSweeperLoopStartsAndStops(t *testing.T) {
	mirror, _ := newTestMirror(t)
	renders := make(chan View, 16)
	sweeper := NewSweeper(mirror, SweeperConfig{
		Interval: 5 * time.Millisecond,
		Render: func(v View) {
			select {
			case renders <- v:
			default:
			}
		},
	})

	sweeper.Start()
	sweeper.Start()
	select {
	case v := <-renders:
		assert.Equal(t, proto.ViewCover, v.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never rendered")
	}
	sweeper.Stop()
	sweeper.Stop()
}

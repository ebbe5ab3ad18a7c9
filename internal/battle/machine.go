package battle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"beat-hard/server/internal/combat"
	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/stats"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingbattle "beat-hard/server/logging/battle"
)

// State is the battle lifecycle stage.
type State string

const (
	StateSetup         State = "setup"
	StateActive        State = "active"
	StatePaused        State = "paused"
	StateRoundComplete State = "round_complete"
	StateFinished      State = "finished"
)

// DefaultTickInterval is the countdown resolution in time mode.
const DefaultTickInterval = time.Second

// RoundSnapshot archives both fighters' records at the close of a round.
type RoundSnapshot struct {
	RoundNumber int                                `json:"roundNumber"`
	Timestamp   int64                              `json:"timestamp"`
	Records     map[combat.FighterID]combat.Record `json:"records"`
}

// Clone returns a deep copy of the snapshot.
func (s RoundSnapshot) Clone() RoundSnapshot {
	cloned := s
	cloned.Records = make(map[combat.FighterID]combat.Record, len(s.Records))
	for id, record := range s.Records {
		cloned.Records[id] = record.Clone()
	}
	return cloned
}

// Status is an immutable view of the machine.
type Status struct {
	State          State `json:"state"`
	Configured     bool  `json:"configured"`
	Mode           Mode  `json:"mode,omitempty"`
	Round          int   `json:"currentRound"`
	Rounds         int   `json:"totalRounds"`
	RoundDuration  int   `json:"roundDuration,omitempty"`
	TimeLeft       int   `json:"timeLeft"`
	CanAdvance     bool  `json:"canAdvance"`
	ArchivedRounds int   `json:"archivedRounds"`
}

// Advance describes the outcome of closing a round.
type Advance struct {
	Archived     RoundSnapshot `json:"archived"`
	CurrentRound int           `json:"currentRound"`
	TotalRounds  int           `json:"totalRounds"`
	Finished     bool          `json:"finished"`
}

// Totals aggregates a fighter's archived rounds and the round in progress.
type Totals struct {
	TotalHits       int     `json:"totalHits"`
	AverageForce    float64 `json:"averageForce"`
	MaxVelocity     float64 `json:"maxVelocity"`
	MaxAcceleration float64 `json:"maxAcceleration"`
	RoundsPlayed    int     `json:"roundsPlayed"`
}

// Broadcaster delivers view messages to the displays without blocking.
type Broadcaster interface {
	Send(viewType proto.ViewType, data any)
}

type Options struct {
	Aggregator  *combat.Aggregator
	Tracker     *stats.Tracker
	Broadcaster Broadcaster
	Publisher   logging.Publisher
	Metrics     telemetry.Metrics
	// ResetMaxStatsOnNewBattle clears the tracker whenever a new battle is
	// configured.
	ResetMaxStatsOnNewBattle bool
	TickInterval             time.Duration
}

// Machine owns the battle lifecycle. All transitions serialize on one mutex;
// broadcasts are issued after it is released.
type Machine struct {
	agg           *combat.Aggregator
	tracker       *stats.Tracker
	broadcaster   Broadcaster
	pub           logging.Publisher
	metrics       telemetry.Metrics
	resetMaxStats bool
	tick          time.Duration
	wake          chan struct{}

	mu          sync.Mutex
	cfg         Config
	configured  bool
	competitors map[combat.FighterID]Competitor
	state       State
	round       int
	timeLeft    int
	history     []RoundSnapshot
}

func NewMachine(opts Options) *Machine {
	agg := opts.Aggregator
	if agg == nil {
		agg = combat.NewAggregator(combat.DefaultConfig())
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = stats.NewTracker()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Machine{
		agg:           agg,
		tracker:       tracker,
		broadcaster:   opts.Broadcaster,
		pub:           pub,
		metrics:       metrics,
		resetMaxStats: opts.ResetMaxStatsOnNewBattle,
		tick:          tick,
		wake:          make(chan struct{}, 1),
		competitors:   make(map[combat.FighterID]Competitor, len(combat.Fighters)),
		state:         StateSetup,
		round:         1,
	}
}

func (m *Machine) Aggregator() *combat.Aggregator { return m.agg }

func (m *Machine) Tracker() *stats.Tracker { return m.tracker }

// ResetMaxStatsOnNewBattle reports the configured max statistics policy.
func (m *Machine) ResetMaxStatsOnNewBattle() bool { return m.resetMaxStats }

// Configure starts a new battle. Round history is cleared; max statistics
// follow the ResetMaxStatsOnNewBattle policy. Competitor identities replace
// the cached ones.
func (m *Machine) Configure(ctx context.Context, setup Setup) (Status, error) {
	if err := setup.Validate(); err != nil {
		return Status{}, err
	}
	setup.Competitor1.ID = int(combat.Fighter1)
	setup.Competitor2.ID = int(combat.Fighter2)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = setup.Config
	m.configured = true
	m.competitors[combat.Fighter1] = setup.Competitor1
	m.competitors[combat.Fighter2] = setup.Competitor2
	for id, competitor := range m.competitors {
		if err := m.agg.SetName(id, competitor.Name); err != nil {
			return Status{}, err
		}
		m.tracker.SetName(id, competitor.Name)
	}
	m.resetLocked(ctx, m.resetMaxStats, "setup")
	return m.statusLocked(), nil
}

// Start moves Setup, Paused or RoundComplete to Active.
func (m *Machine) Start(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.runnableLocked(); err != nil {
		return m.statusLocked(), err
	}
	if m.state == StateActive {
		return m.statusLocked(), nil
	}
	if m.cfg.Timed() && m.timeLeft <= 0 {
		m.timeLeft = m.cfg.RoundDuration
	}
	m.setStateLocked(ctx, StateActive, "start")
	m.signalWake()
	return m.statusLocked(), nil
}

// Pause toggles Active and Paused. Only timed battles can pause.
func (m *Machine) Pause(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.runnableLocked(); err != nil {
		return m.statusLocked(), err
	}
	if !m.cfg.Timed() {
		return m.statusLocked(), ErrNotTimed
	}
	switch m.state {
	case StateActive:
		m.setStateLocked(ctx, StatePaused, "pause")
	case StatePaused:
		m.setStateLocked(ctx, StateActive, "resume")
		m.signalWake()
	default:
		return m.statusLocked(), fmt.Errorf("%w: state %s", ErrNotRunning, m.state)
	}
	return m.statusLocked(), nil
}

// Stop returns to Setup at round one with a fresh countdown. The current
// round's records are discarded; archived rounds and max statistics stay.
func (m *Machine) Stop(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.configured {
		return m.statusLocked(), ErrNotConfigured
	}
	m.round = 1
	m.timeLeft = m.cfg.RoundDuration
	m.agg.Reset()
	m.metrics.Store(telemetry.MetricCurrentRound, uint64(m.round))
	m.setStateLocked(ctx, StateSetup, "stop")
	return m.statusLocked(), nil
}

// AdvanceRound archives the current round and opens the next one, or
// finishes the battle after the last round.
func (m *Machine) AdvanceRound(ctx context.Context) (Advance, error) {
	m.mu.Lock()
	if err := m.runnableLocked(); err != nil {
		m.mu.Unlock()
		return Advance{}, err
	}
	if !m.canAdvanceLocked() {
		loggingbattle.AdvanceRejected(ctx, m.pub, m.round, ErrCannotAdvance.Error())
		m.mu.Unlock()
		return Advance{}, ErrCannotAdvance
	}
	advance, payload := m.advanceLocked(ctx, "advance")
	m.mu.Unlock()

	m.broadcastAdvance(payload)
	return advance, nil
}

// ResetRound discards each fighter's most recent strike. In time mode the
// countdown restarts from RoundDuration; Active or Paused is kept.
func (m *Machine) ResetRound(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.runnableLocked(); err != nil {
		return m.statusLocked(), err
	}
	for _, id := range combat.Fighters {
		if _, err := m.agg.RemoveLast(id); err != nil {
			return m.statusLocked(), err
		}
	}
	if m.cfg.Timed() {
		m.timeLeft = m.cfg.RoundDuration
		m.signalWake()
	}
	loggingbattle.StateChanged(ctx, m.pub, m.round, loggingbattle.StatePayload{From: string(m.state), To: string(m.state), Reason: "reset_round"})
	return m.statusLocked(), nil
}

// Finish ends the battle regardless of the advance policy.
func (m *Machine) Finish(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.configured {
		return m.statusLocked(), ErrNotConfigured
	}
	m.setStateLocked(ctx, StateFinished, "finish")
	return m.statusLocked(), nil
}

// Reset clears the battle: current records, round history and the round
// counter. Max statistics are cleared only when resetMaxStats is set.
// Competitor identities and the battle config are kept.
func (m *Machine) Reset(ctx context.Context, resetMaxStats bool) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked(ctx, resetMaxStats, "reset")
	return m.statusLocked()
}

func (m *Machine) resetLocked(ctx context.Context, resetMaxStats bool, reason string) {
	m.agg.Reset()
	if resetMaxStats {
		m.tracker.Reset()
	}
	m.history = nil
	m.round = 1
	m.timeLeft = m.cfg.RoundDuration
	m.metrics.Store(telemetry.MetricCurrentRound, uint64(m.round))
	m.setStateLocked(ctx, StateSetup, reason)
}

// CanAdvance reports whether the current round may close.
func (m *Machine) CanAdvance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canAdvanceLocked()
}

func (m *Machine) canAdvanceLocked() bool {
	if !m.configured || m.state == StateFinished {
		return false
	}
	if m.cfg.Timed() {
		return true
	}
	for _, id := range combat.Fighters {
		if m.agg.TotalHits(id) == 0 {
			return false
		}
	}
	return true
}

// State returns a snapshot of the machine.
func (m *Machine) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() Status {
	return Status{
		State:          m.state,
		Configured:     m.configured,
		Mode:           m.cfg.Mode,
		Round:          m.round,
		Rounds:         m.cfg.Rounds,
		RoundDuration:  m.cfg.RoundDuration,
		TimeLeft:       m.timeLeft,
		CanAdvance:     m.canAdvanceLocked(),
		ArchivedRounds: len(m.history),
	}
}

// Config returns the active battle config.
func (m *Machine) Config() (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, m.configured
}

// Competitor returns the cached identity for f.
func (m *Machine) Competitor(f combat.FighterID) (Competitor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	competitor, ok := m.competitors[f]
	return competitor, ok
}

// Rounds returns copies of the archived rounds in archival order.
func (m *Machine) Rounds() []RoundSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RoundSnapshot, 0, len(m.history))
	for _, snapshot := range m.history {
		out = append(out, snapshot.Clone())
	}
	return out
}

// Totals sums f's archived rounds and the round in progress.
func (m *Machine) Totals(f combat.FighterID) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, err := m.agg.Record(f)
	if err != nil {
		return Totals{}, err
	}
	return SumTotals(f, m.history, current, m.state != StateFinished), nil
}

// SumTotals aggregates f across archived rounds and the current record.
// inProgress counts the current round as played.
func SumTotals(f combat.FighterID, history []RoundSnapshot, current combat.Record, inProgress bool) Totals {
	var totals Totals
	var forceSum float64
	add := func(record combat.Record) {
		totals.TotalHits += record.TotalHits
		forceSum += record.ForceSum
		totals.MaxVelocity = max(totals.MaxVelocity, record.MaxVelocity)
		totals.MaxAcceleration = max(totals.MaxAcceleration, record.MaxAcceleration)
	}
	for _, snapshot := range history {
		add(snapshot.Records[f])
	}
	add(current)

	if totals.TotalHits > 0 {
		totals.AverageForce = forceSum / float64(totals.TotalHits)
	}
	totals.RoundsPlayed = len(history)
	if inProgress {
		totals.RoundsPlayed++
	}
	return totals
}

// Tick advances the countdown by one step. It only has an effect on an
// active timed battle; reaching zero closes the round.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	if !m.configured || !m.cfg.Timed() || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.timeLeft--
	if m.timeLeft > 0 {
		m.mu.Unlock()
		return
	}
	m.timeLeft = 0
	_, payload := m.advanceLocked(ctx, "timer")
	m.mu.Unlock()

	m.broadcastAdvance(payload)
}

// Run drives the countdown until ctx is cancelled. The tick phase restarts
// whenever the battle starts or resumes.
func (m *Machine) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			ticker.Reset(m.tick)
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

func (m *Machine) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Machine) runnableLocked() error {
	if !m.configured {
		return ErrNotConfigured
	}
	if m.state == StateFinished {
		return ErrBattleFinished
	}
	return nil
}

func (m *Machine) advanceLocked(ctx context.Context, reason string) (Advance, *proto.RoundAdvancePayload) {
	snapshot := RoundSnapshot{
		RoundNumber: m.round,
		Timestamp:   m.agg.Now().UnixMilli(),
		Records:     m.agg.Snapshot(),
	}
	m.history = append(m.history, snapshot)
	m.metrics.Add(telemetry.MetricRoundsArchived, 1)

	final := m.round >= m.cfg.Rounds
	hits := make(map[string]int, len(snapshot.Records))
	for id, record := range snapshot.Records {
		hits[id.String()] = record.TotalHits
	}
	loggingbattle.RoundArchived(ctx, m.pub, loggingbattle.RoundArchivedPayload{
		RoundNumber: snapshot.RoundNumber,
		TotalHits:   hits,
		Final:       final,
	})

	m.agg.Reset()
	advance := Advance{Archived: snapshot.Clone(), TotalRounds: m.cfg.Rounds}
	if final {
		m.timeLeft = 0
		m.setStateLocked(ctx, StateFinished, reason)
		advance.CurrentRound = m.round
		advance.Finished = true
		return advance, nil
	}

	m.round++
	m.timeLeft = m.cfg.RoundDuration
	m.metrics.Store(telemetry.MetricCurrentRound, uint64(m.round))
	m.setStateLocked(ctx, StateRoundComplete, reason)
	advance.CurrentRound = m.round
	return advance, &proto.RoundAdvancePayload{
		CurrentRound:  m.round,
		TotalRounds:   m.cfg.Rounds,
		BattleMode:    string(m.cfg.Mode),
		RoundDuration: m.cfg.RoundDuration,
	}
}

func (m *Machine) setStateLocked(ctx context.Context, to State, reason string) {
	from := m.state
	m.state = to
	if from == to {
		return
	}
	loggingbattle.StateChanged(ctx, m.pub, m.round, loggingbattle.StatePayload{From: string(from), To: string(to), Reason: reason})
}

func (m *Machine) broadcastAdvance(payload *proto.RoundAdvancePayload) {
	if payload == nil || m.broadcaster == nil {
		return
	}
	m.broadcaster.Send(proto.ViewRoundAdvance, *payload)
}

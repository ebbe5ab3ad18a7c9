package combat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a strike stays in the visible history.
	DefaultTTL = 10 * time.Second
	// DefaultHistoryLimit caps the visible history per fighter.
	DefaultHistoryLimit = 3
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// HitInput is a strike reported by the sensor layer, already coerced to
// typed values.
type HitInput struct {
	Force        float64
	Velocity     float64
	Acceleration float64
	// Timestamp is the sensor event time in unix milliseconds. Zero means
	// the ingestion time is used.
	Timestamp  int64
	EventType  string
	LimbName   string
	Confidence float64
	// ID keeps an identifier assigned upstream. Empty means a fresh one is
	// generated.
	ID string
}

// HitEvent is an accepted strike. It is never mutated after ingestion.
type HitEvent struct {
	ID           string  `json:"id"`
	Force        float64 `json:"force"`
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
	Timestamp    int64   `json:"timestamp"`
	ExpiresAt    int64   `json:"expiresAt"`
	EventType    string  `json:"eventType,omitempty"`
	LimbName     string  `json:"limbName,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// Expired reports whether the strike has left its validity window at now.
func (h HitEvent) Expired(now time.Time) bool {
	return h.ExpiresAt <= now.UnixMilli()
}

// Record is the per-round aggregate for one fighter. HitHistory is newest
// first. TotalHits counts every strike of the round and is independent of the
// capped history, as are the round peaks.
type Record struct {
	Name            string     `json:"name"`
	LastHit         *HitEvent  `json:"lastHit"`
	HitHistory      []HitEvent `json:"hitHistory"`
	TotalHits       int        `json:"totalHits"`
	ForceSum        float64    `json:"forceSum"`
	MaxVelocity     float64    `json:"maxVelocity"`
	MaxAcceleration float64    `json:"maxAcceleration"`
}

// Clone returns a deep copy sharing no memory with r.
func (r Record) Clone() Record {
	cloned := r
	if r.LastHit != nil {
		hit := *r.LastHit
		cloned.LastHit = &hit
	}
	cloned.HitHistory = append([]HitEvent(nil), r.HitHistory...)
	return cloned
}

type Config struct {
	TTL          time.Duration
	HistoryLimit int
	Clock        Clock
	// NewID generates hit identifiers. Defaults to random UUIDs.
	NewID func() string
}

func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, HistoryLimit: DefaultHistoryLimit}
}

func (c Config) normalized() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return c
}

type slot struct {
	mu     sync.Mutex
	record Record
}

// Aggregator keeps the round-scoped strike history of both fighters. Each
// fighter has its own lock so work on one never waits on the other.
type Aggregator struct {
	cfg   Config
	slots map[FighterID]*slot
}

func NewAggregator(cfg Config) *Aggregator {
	a := &Aggregator{
		cfg:   cfg.normalized(),
		slots: make(map[FighterID]*slot, len(Fighters)),
	}
	for _, id := range Fighters {
		a.slots[id] = &slot{}
	}
	return a
}

func (a *Aggregator) slot(f FighterID) (*slot, error) {
	s, ok := a.slots[f]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFighter, int(f))
	}
	return s, nil
}

// Now reads the aggregator clock.
func (a *Aggregator) Now() time.Time {
	return a.cfg.Clock.Now()
}

// TTL returns the configured visibility window.
func (a *Aggregator) TTL() time.Duration {
	return a.cfg.TTL
}

// SetName labels the fighter's record. Names survive Reset.
func (a *Aggregator) SetName(f FighterID, name string) error {
	s, err := a.slot(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.record.Name = name
	s.mu.Unlock()
	return nil
}

// Ingest accepts a strike for f and returns the updated record.
func (a *Aggregator) Ingest(f FighterID, in HitInput) (Record, error) {
	s, err := a.slot(f)
	if err != nil {
		return Record{}, err
	}

	now := a.cfg.Clock.Now()
	nowMs := now.UnixMilli()
	timestamp := in.Timestamp
	if timestamp == 0 {
		timestamp = nowMs
	}
	id := in.ID
	if id == "" {
		id = a.cfg.NewID()
	}
	event := HitEvent{
		ID:           id,
		Force:        in.Force,
		Velocity:     in.Velocity,
		Acceleration: in.Acceleration,
		Timestamp:    timestamp,
		ExpiresAt:    nowMs + a.cfg.TTL.Milliseconds(),
		EventType:    in.EventType,
		LimbName:     in.LimbName,
		Confidence:   in.Confidence,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]HitEvent, 0, a.cfg.HistoryLimit)
	history = append(history, event)
	for _, hit := range s.record.HitHistory {
		if len(history) == a.cfg.HistoryLimit {
			break
		}
		if hit.Expired(now) {
			continue
		}
		history = append(history, hit)
	}
	s.record.HitHistory = history
	s.record.LastHit = &event
	s.record.TotalHits++
	s.record.ForceSum += in.Force
	s.record.MaxVelocity = max(s.record.MaxVelocity, in.Velocity)
	s.record.MaxAcceleration = max(s.record.MaxAcceleration, in.Acceleration)
	return s.record.Clone(), nil
}

// Sweep drops expired strikes from every history. LastHit and TotalHits are
// left untouched. Calling it repeatedly with the same instant is a no-op.
func (a *Aggregator) Sweep(now time.Time) {
	for _, id := range Fighters {
		s := a.slots[id]
		s.mu.Lock()
		s.record.HitHistory = pruneExpired(s.record.HitHistory, now)
		s.mu.Unlock()
	}
}

func pruneExpired(history []HitEvent, now time.Time) []HitEvent {
	kept := history[:0]
	for _, hit := range history {
		if !hit.Expired(now) {
			kept = append(kept, hit)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// visibleLocked copies the record without strikes that expired by now.
func (s *slot) visibleLocked(now time.Time) Record {
	record := s.record.Clone()
	record.HitHistory = pruneExpired(record.HitHistory, now)
	return record
}

// Record returns a snapshot of the fighter's current round record. Expired
// strikes are left out of the history even before the next Sweep.
func (a *Aggregator) Record(f FighterID) (Record, error) {
	s, err := a.slot(f)
	if err != nil {
		return Record{}, err
	}
	now := a.cfg.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked(now), nil
}

// Seen reports whether id is f's last strike or still in its history.
func (a *Aggregator) Seen(f FighterID, id string) bool {
	s, err := a.slot(f)
	if err != nil || id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.LastHit != nil && s.record.LastHit.ID == id {
		return true
	}
	for _, hit := range s.record.HitHistory {
		if hit.ID == id {
			return true
		}
	}
	return false
}

// TotalHits returns the round hit count, zero for unknown fighters.
func (a *Aggregator) TotalHits(f FighterID) int {
	s, err := a.slot(f)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.TotalHits
}

// History returns a copy of the visible history, newest first.
func (a *Aggregator) History(f FighterID) []HitEvent {
	s, err := a.slot(f)
	if err != nil {
		return nil
	}
	now := a.cfg.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return pruneExpired(append([]HitEvent(nil), s.record.HitHistory...), now)
}

// Snapshot copies both records, keyed by fighter.
func (a *Aggregator) Snapshot() map[FighterID]Record {
	now := a.cfg.Clock.Now()
	out := make(map[FighterID]Record, len(Fighters))
	for _, id := range Fighters {
		s := a.slots[id]
		s.mu.Lock()
		out[id] = s.visibleLocked(now)
		s.mu.Unlock()
	}
	return out
}

// RemoveLast discards the fighter's most recent strike. The next visible
// strike, if any, becomes LastHit. Round peaks are kept. Reports whether a
// strike was removed.
func (a *Aggregator) RemoveLast(f FighterID) (bool, error) {
	s, err := a.slot(f)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.record.LastHit
	if last == nil {
		return false, nil
	}
	if len(s.record.HitHistory) > 0 && s.record.HitHistory[0].ID == last.ID {
		s.record.HitHistory = append([]HitEvent(nil), s.record.HitHistory[1:]...)
	}
	s.record.LastHit = nil
	if len(s.record.HitHistory) > 0 {
		next := s.record.HitHistory[0]
		s.record.LastHit = &next
	}
	if s.record.TotalHits > 0 {
		s.record.TotalHits--
	}
	s.record.ForceSum -= last.Force
	if s.record.TotalHits == 0 || s.record.ForceSum < 0 {
		s.record.ForceSum = 0
	}
	return true, nil
}

// Reset clears both records for a new round, keeping fighter names.
func (a *Aggregator) Reset() {
	for _, id := range Fighters {
		s := a.slots[id]
		s.mu.Lock()
		s.record = Record{Name: s.record.Name}
		s.mu.Unlock()
	}
}

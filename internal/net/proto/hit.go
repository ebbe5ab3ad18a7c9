package proto

import (
	"encoding/json"
	"fmt"
	"math"

	"beat-hard/server/internal/combat"
)

// HitEventInput is the strike reported by the sensor layer. Numeric fields are
// pointers so absent values can be told apart from zero.
type HitEventInput struct {
	FighterID      string   `json:"fighter_id"`
	CompetitorName string   `json:"competitor_name"`
	Force          *float64 `json:"force"`
	Velocity       *float64 `json:"velocity"`
	Acceleration   *float64 `json:"acceleration"`
	Timestamp      *float64 `json:"timestamp"`
	EventType      string   `json:"event_type,omitempty"`
	LimbName       string   `json:"limb_name,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

// HitSample is a decoded strike with every metric coerced to a typed value.
// The Has flags record which metrics the sensor actually reported.
type HitSample struct {
	Fighter         combat.FighterID
	CompetitorName  string
	Hit             combat.HitInput
	HasForce        bool
	HasVelocity     bool
	HasAcceleration bool
}

// DecodeHitInput parses and normalizes a sensor strike.
func DecodeHitInput(data []byte) (HitSample, error) {
	var in HitEventInput
	if err := json.Unmarshal(data, &in); err != nil {
		return HitSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in.Normalize()
}

// Normalize resolves the fighter and coerces missing metrics to zero.
func (in HitEventInput) Normalize() (HitSample, error) {
	fighter, err := combat.ParseFighterID(in.FighterID)
	if err != nil {
		return HitSample{}, err
	}
	timestamp, err := normalizeTimestamp(in.Timestamp)
	if err != nil {
		return HitSample{}, err
	}
	confidence := valueOrZero(in.Confidence)
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return HitSample{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformed, confidence)
	}
	sample := HitSample{
		Fighter:        fighter,
		CompetitorName: in.CompetitorName,
		Hit: combat.HitInput{
			Force:        valueOrZero(in.Force),
			Velocity:     valueOrZero(in.Velocity),
			Acceleration: valueOrZero(in.Acceleration),
			Timestamp:    timestamp,
			EventType:    in.EventType,
			LimbName:     in.LimbName,
			Confidence:   confidence,
		},
		HasForce:        in.Force != nil,
		HasVelocity:     in.Velocity != nil,
		HasAcceleration: in.Acceleration != nil,
	}
	return sample, nil
}

// Optional returns the reported metrics, nil for the ones that were absent.
func (s HitSample) Optional() (force, velocity, acceleration *float64) {
	if s.HasForce {
		v := s.Hit.Force
		force = &v
	}
	if s.HasVelocity {
		v := s.Hit.Velocity
		velocity = &v
	}
	if s.HasAcceleration {
		v := s.Hit.Acceleration
		acceleration = &v
	}
	return force, velocity, acceleration
}

// StatsPayload renders the sample as the stats view payload.
func (s HitSample) StatsPayload(event combat.HitEvent, totalHits int) StatsPayload {
	return StatsPayload{
		ID:             event.ID,
		FighterID:      s.Fighter.String(),
		CompetitorName: s.CompetitorName,
		Force:          event.Force,
		Velocity:       event.Velocity,
		Acceleration:   event.Acceleration,
		Timestamp:      event.Timestamp,
		EventType:      event.EventType,
		LimbName:       event.LimbName,
		Confidence:     event.Confidence,
		TotalHits:      totalHits,
	}
}

// maxTimestamp is the largest millisecond value a float64 holds exactly.
const maxTimestamp = 1 << 53

// normalizeTimestamp truncates a millisecond timestamp. Zero means the
// aggregator stamps the strike on arrival.
func normalizeTimestamp(v *float64) (int64, error) {
	ts := valueOrZero(v)
	if math.IsNaN(ts) || math.IsInf(ts, 0) || ts < 0 || ts > maxTimestamp {
		return 0, fmt.Errorf("%w: timestamp %v out of range", ErrMalformed, ts)
	}
	return int64(ts), nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

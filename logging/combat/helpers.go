package combat

import (
	"context"

	"beat-hard/server/logging"
)

const (
	// EventHitIngested is emitted for every strike accepted by the aggregator.
	EventHitIngested logging.EventType = "combat.hit_ingested"
	// EventMaxRecord is emitted when a strike raises one of the fighter's maxima.
	EventMaxRecord logging.EventType = "combat.max_record"
)

// HitPayload captures the accepted strike metrics.
type HitPayload struct {
	HitID        string  `json:"hitId"`
	Force        float64 `json:"force"`
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
	TotalHits    int     `json:"totalHits"`
}

// MaxRecordPayload lists the metrics that set a new maximum.
type MaxRecordPayload struct {
	Records         []string `json:"records"`
	MaxForce        float64  `json:"maxForce"`
	MaxVelocity     float64  `json:"maxVelocity"`
	MaxAcceleration float64  `json:"maxAcceleration"`
}

// HitIngested publishes a debug event for an accepted strike.
func HitIngested(ctx context.Context, pub logging.Publisher, round int, actor logging.EntityRef, payload HitPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHitIngested,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

// MaxRecord publishes an info event when a fighter beats a stored maximum.
func MaxRecord(ctx context.Context, pub logging.Publisher, round int, actor logging.EntityRef, payload MaxRecordPayload) {
	if pub == nil || len(payload.Records) == 0 {
		return
	}
	payload.Records = append([]string(nil), payload.Records...)
	pub.Publish(ctx, logging.Event{
		Type:     EventMaxRecord,
		Round:    round,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

package network

import (
	"context"

	"beat-hard/server/logging"
)

const (
	// EventDisplayConnected is emitted when a display subscribes to the channel.
	EventDisplayConnected logging.EventType = "network.display_connected"
	// EventDisplayDisconnected is emitted when a display leaves or is dropped.
	EventDisplayDisconnected logging.EventType = "network.display_disconnected"
	// EventMessageDropped is emitted when an inbound payload cannot be decoded.
	EventMessageDropped logging.EventType = "network.message_dropped"
	// EventBroadcastDropped is emitted when a display's outbound queue overflows.
	EventBroadcastDropped logging.EventType = "network.broadcast_dropped"
)

// ConnectionPayload captures display bookkeeping.
type ConnectionPayload struct {
	Subscribers int    `json:"subscribers"`
	Reason      string `json:"reason,omitempty"`
}

// DropPayload explains why a message was discarded.
type DropPayload struct {
	Reason   string `json:"reason"`
	ViewType string `json:"viewType,omitempty"`
	Bytes    int    `json:"bytes,omitempty"`
}

// DisplayRef builds the entity reference for a display subscriber.
func DisplayRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindDisplay}
}

func DisplayConnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventDisplayConnected, logging.SeverityInfo, actor, payload)
}

func DisplayDisconnected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload) {
	publish(ctx, pub, EventDisplayDisconnected, logging.SeverityInfo, actor, payload)
}

func MessageDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DropPayload) {
	publish(ctx, pub, EventMessageDropped, logging.SeverityWarn, actor, payload)
}

func BroadcastDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DropPayload) {
	publish(ctx, pub, EventBroadcastDropped, logging.SeverityWarn, actor, payload)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

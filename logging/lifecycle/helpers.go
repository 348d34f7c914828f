package lifecycle

import (
	"context"

	"crateclash/logging"
)

const (
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	EventPlayerLeft   logging.EventType = "lifecycle.player_left"
	EventWorldReset   logging.EventType = "lifecycle.world_reset"
)

// PlayerPayload names the entity bound to a player.
type PlayerPayload struct {
	EntityID int64 `json:"entityId"`
}

func PlayerJoined(ctx context.Context, pub logging.Publisher, frame int64, conn string, payload PlayerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerJoined,
		Frame:    frame,
		Subject:  logging.Subject{ID: conn, Kind: logging.SubjectPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

func PlayerLeft(ctx context.Context, pub logging.Publisher, frame int64, conn string, payload PlayerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerLeft,
		Frame:    frame,
		Subject:  logging.Subject{ID: conn, Kind: logging.SubjectPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// WorldResetPayload counts the entities spawned by a reset.
type WorldResetPayload struct {
	Spawned int `json:"spawned"`
}

func WorldReset(ctx context.Context, pub logging.Publisher, frame int64, payload WorldResetPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventWorldReset,
		Frame:    frame,
		Subject:  logging.Subject{Kind: logging.SubjectWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

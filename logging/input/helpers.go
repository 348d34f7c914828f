package input

import (
	"context"

	"crateclash/logging"
)

// EventKey is emitted for each captured key transition when key logging is on.
const EventKey logging.EventType = "input.key"

type KeyPayload struct {
	InputID int64  `json:"inputId"`
	Key     string `json:"key"`
	IsDown  bool   `json:"isDown"`
	Target  int64  `json:"target"`
}

func Key(ctx context.Context, pub logging.Publisher, frame int64, payload KeyPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventKey,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: "input",
		Payload:  payload,
	})
}

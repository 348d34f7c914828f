package network

import (
	"context"

	"crateclash/logging"
)

const (
	// EventCalibrated is emitted when the latency syncer completes calibration.
	EventCalibrated logging.EventType = "network.calibrated"
	// EventConnected is emitted when a transport connection opens.
	EventConnected logging.EventType = "network.connected"
	// EventDisconnected is emitted when a transport connection closes.
	EventDisconnected logging.EventType = "network.disconnected"
	// EventInputDropped is emitted when the authority discards an input that arrived too late.
	EventInputDropped logging.EventType = "network.input_dropped"
	// EventTraffic is emitted per message when traffic logging is enabled.
	EventTraffic logging.EventType = "network.traffic"
)

// CalibratedPayload carries the derived latency figures.
type CalibratedPayload struct {
	Latency      int64   `json:"latency"`
	InputLatency int64   `json:"inputLatency"`
	RTTMillis    float64 `json:"rttMillis"`
	ClockOffset  int64   `json:"clockOffset"`
}

func Calibrated(ctx context.Context, pub logging.Publisher, frame int64, payload CalibratedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCalibrated,
		Frame:    frame,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func Connected(ctx context.Context, pub logging.Publisher, frame int64, conn logging.Subject) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnected,
		Frame:    frame,
		Subject:  conn,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}

func Disconnected(ctx context.Context, pub logging.Publisher, frame int64, conn logging.Subject) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDisconnected,
		Frame:    frame,
		Subject:  conn,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}

// InputDroppedPayload describes an input rejected by the late-input policy.
type InputDroppedPayload struct {
	Target        int64 `json:"target"`
	MaxFramesLate int   `json:"maxFramesLate"`
}

func InputDropped(ctx context.Context, pub logging.Publisher, frame int64, conn logging.Subject, payload InputDroppedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventInputDropped,
		Frame:    frame,
		Subject:  conn,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// TrafficPayload describes a single message crossing the wire.
type TrafficPayload struct {
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Frame     int64  `json:"frame,omitempty"`
}

func Traffic(ctx context.Context, pub logging.Publisher, frame int64, payload TrafficPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTraffic,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

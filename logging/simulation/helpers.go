package simulation

import (
	"context"

	"crateclash/logging"
)

const (
	// EventStaleCorrection is emitted when a correction targets a frame that
	// has already left the runner's history window.
	EventStaleCorrection logging.EventType = "simulation.stale_correction"
	// EventClockDesync is emitted when a runner's frame disagrees with the clock after an update.
	EventClockDesync logging.EventType = "simulation.clock_desync"
	// EventRevisions is emitted when the syncer schedules corrective actions.
	EventRevisions logging.EventType = "simulation.revisions"
	// EventRunnerReset is emitted when a runner is rebased onto a new frame.
	EventRunnerReset logging.EventType = "simulation.runner_reset"
)

// StaleCorrectionPayload describes a dropped correction.
type StaleCorrectionPayload struct {
	Runner string `json:"runner"`
	Kind   string `json:"kind"`
	Target int64  `json:"target"`
	Oldest int64  `json:"oldest"`
}

// StaleCorrection publishes a warning; the history window is too small for the observed latency.
func StaleCorrection(ctx context.Context, pub logging.Publisher, frame int64, payload StaleCorrectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStaleCorrection,
		Frame:    frame,
		Subject:  logging.Subject{ID: payload.Runner, Kind: logging.SubjectRunner},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// ClockDesyncPayload captures the mismatching frames.
type ClockDesyncPayload struct {
	Clock         int64 `json:"clock"`
	Authoritative int64 `json:"authoritative"`
	Predicted     int64 `json:"predicted"`
}

// ClockDesync publishes an error event before the session halts.
func ClockDesync(ctx context.Context, pub logging.Publisher, frame int64, payload ClockDesyncPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClockDesync,
		Frame:    frame,
		Severity: logging.SeverityError,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// RevisionsPayload summarises one comparison pass.
type RevisionsPayload struct {
	Compared int64 `json:"compared"`
	Actions  int   `json:"actions"`
}

// Revisions publishes a debug event describing scheduled corrections.
func Revisions(ctx context.Context, pub logging.Publisher, frame int64, payload RevisionsPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRevisions,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// RunnerResetPayload records the new history window.
type RunnerResetPayload struct {
	FramesOfHistory int `json:"framesOfHistory"`
}

func RunnerReset(ctx context.Context, pub logging.Publisher, frame int64, payload RunnerResetPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRunnerReset,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

package sim

import (
	"errors"
	"fmt"
)

// ErrStaleCorrection reports a correction that targets a frame older than
// the runner's retained history. The correction is dropped.
var ErrStaleCorrection = errors.New("sim: correction older than retained history")

// StaleCorrectionError carries the details of a dropped correction.
type StaleCorrectionError struct {
	Kind   string
	Target Frame
	Oldest Frame
}

func (e *StaleCorrectionError) Error() string {
	return fmt.Sprintf("%v: %s for frame %d, oldest retained %d", ErrStaleCorrection, e.Kind, e.Target, e.Oldest)
}

func (e *StaleCorrectionError) Unwrap() error { return ErrStaleCorrection }

// Runner wraps a Simulation with a sliding window of past frames so that
// late corrections can be written into the past and replayed forward to the
// current frame.
type Runner struct {
	sim             *Simulation
	frame           Frame
	framesOfHistory int
	history         *history

	pendingActions map[Frame][]Action
	pendingStates  map[Frame]Snapshot
}

// NewRunner wraps simulation starting at frame 0.
func NewRunner(simulation *Simulation, framesOfHistory int) *Runner {
	if simulation == nil {
		simulation = NewSimulation()
	}
	r := &Runner{sim: simulation}
	r.Reset(0, framesOfHistory)
	return r
}

// Reset rebases the runner onto frame with a window of framesOfHistory
// frames. History and anything scheduled ahead are discarded; the current
// entity state becomes the state at frame.
func (r *Runner) Reset(frame Frame, framesOfHistory int) {
	if framesOfHistory < 1 {
		framesOfHistory = 1
	}
	r.frame = frame
	r.framesOfHistory = framesOfHistory
	if r.history == nil {
		r.history = newHistory(framesOfHistory + 2)
	}
	r.history.reset(framesOfHistory+2, HistoryEntry{Frame: frame, State: r.sim.Snapshot()})
	r.pendingActions = make(map[Frame][]Action)
	r.pendingStates = make(map[Frame]Snapshot)
}

func (r *Runner) Frame() Frame { return r.frame }

func (r *Runner) FramesOfHistory() int { return r.framesOfHistory }

// Simulation exposes the wrapped simulation for read access. Mutating it
// outside the runner breaks replay.
func (r *Runner) Simulation() *Simulation { return r.sim }

// Oldest is the earliest frame a state correction may target.
func (r *Runner) Oldest() Frame {
	oldest := r.frame - Frame(r.framesOfHistory)
	if first := r.history.oldest(); first > oldest {
		oldest = first
	}
	return oldest
}

// StateAt returns a copy of the retained state at frame.
func (r *Runner) StateAt(frame Frame) (Snapshot, bool) {
	if !r.history.contains(frame) {
		return Snapshot{}, false
	}
	return r.history.at(frame).State.Clone(), true
}

// ActionsAt returns a copy of the actions retained or scheduled for frame.
func (r *Runner) ActionsAt(frame Frame) []Action {
	var actions []Action
	if frame > r.frame {
		actions = r.pendingActions[frame]
	} else if r.history.contains(frame) {
		actions = r.history.at(frame).Actions
	}
	if len(actions) == 0 {
		return nil
	}
	copied := make([]Action, len(actions))
	copy(copied, actions)
	return copied
}

// ScheduleState installs an authoritative snapshot at frame. A past frame is
// rewritten and every later retained frame is replayed; a future frame is
// installed when the runner reaches it.
func (r *Runner) ScheduleState(snapshot Snapshot, frame Frame) error {
	if frame > r.frame {
		r.pendingStates[frame] = snapshot.Clone()
		return nil
	}
	if oldest := r.Oldest(); frame < oldest {
		return &StaleCorrectionError{Kind: "state", Target: frame, Oldest: oldest}
	}
	entry := r.history.at(frame)
	entry.State = snapshot.Clone()
	entry.Authoritative = true
	r.replayFrom(frame + 1)
	return nil
}

// ScheduleActions merges actions into frame's action set, skipping ids that
// are already present, and replays from frame if it is in the past.
func (r *Runner) ScheduleActions(actions []Action, frame Frame) error {
	if len(actions) == 0 {
		return nil
	}
	if frame > r.frame {
		r.pendingActions[frame], _ = mergeActions(r.pendingActions[frame], actions, frame)
		return nil
	}
	oldest := r.Oldest()
	if first := r.history.oldest() + 1; first > oldest {
		oldest = first
	}
	if frame < oldest {
		return &StaleCorrectionError{Kind: "actions", Target: frame, Oldest: oldest}
	}
	entry := r.history.at(frame)
	merged, added := mergeActions(entry.Actions, actions, frame)
	if !added {
		return nil
	}
	entry.Actions = merged
	r.replayFrom(frame)
	return nil
}

// Update advances exactly one frame and returns the new frame.
func (r *Runner) Update() Frame {
	next := r.frame + 1
	entry := HistoryEntry{Frame: next, Actions: r.pendingActions[next]}
	delete(r.pendingActions, next)
	if state, ok := r.pendingStates[next]; ok {
		delete(r.pendingStates, next)
		entry.State = state
		entry.Authoritative = true
		r.sim.Restore(state)
	} else {
		r.sim.Advance(entry.Actions)
		entry.State = r.sim.Snapshot()
	}
	r.history.push(entry)
	r.frame = next
	return next
}

// replayFrom recomputes every retained frame from start through the current
// frame, folding each frame's actions over the previous frame's state.
// Authoritative frames are kept as installed.
func (r *Runner) replayFrom(start Frame) {
	for frame := start; frame <= r.frame; frame++ {
		entry := r.history.at(frame)
		if entry.Authoritative {
			continue
		}
		r.sim.Restore(r.history.at(frame - 1).State)
		r.sim.Advance(entry.Actions)
		entry.State = r.sim.Snapshot()
	}
	r.sim.Restore(r.history.latest().State)
}

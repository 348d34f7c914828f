// Package reconcile compares the predicted simulation against the
// authoritative mirror and produces the actions that pull the prediction
// back in line.
package reconcile

import (
	"math"

	"crateclash/internal/sim"
)

// Config holds the divergence tolerances. A difference at or below a
// tolerance is not corrected.
type Config struct {
	PositionTolerance float64
	VelocityTolerance float64
}

func DefaultConfig() Config {
	return Config{PositionTolerance: 0.01, VelocityTolerance: 0.01}
}

// Revision is a batch of corrective actions for one frame of the prediction.
type Revision struct {
	Frame   sim.Frame
	Actions []sim.Action
}

type Stats struct {
	Comparisons int
	Revised     int
	Spawned     int
	Despawned   int
}

// Syncer reads both runners' retained windows. The only history it keeps is
// the trail of the locally controlled entity, which runs ahead of the
// authority and must be compared further back than the prediction retains.
type Syncer struct {
	cfg           Config
	authoritative *sim.Runner
	prediction    *sim.Runner

	compared     bool
	lastCompared sim.Frame
	revisions    []Revision
	stats        Stats

	owned      sim.EntityID
	hasOwned   bool
	trail      map[sim.Frame]sim.Entity
	ownSettled sim.Frame
}

func New(authoritative, prediction *sim.Runner, cfg Config) *Syncer {
	return &Syncer{cfg: cfg, authoritative: authoritative, prediction: prediction}
}

// Own marks id as the entity driven by local input. The prediction applies
// that input lag frames before the authority does, so the owned entity is
// compared against its predicted state lag frames earlier and corrected by
// a position offset only.
func (s *Syncer) Own(id sim.EntityID) {
	if s.hasOwned && s.owned == id {
		return
	}
	s.owned = id
	s.hasOwned = true
	s.trail = make(map[sim.Frame]sim.Entity)
	s.ownSettled = 0
}

// Update compares both runners at authoritative.Frame()-lag, the newest
// frame whose authoritative messages have arrived. Each frame is compared at
// most once; revisions target the following frame so they are applied
// before that frame's rules run.
func (s *Syncer) Update(lag sim.Frame) {
	if lag < 0 {
		lag = 0
	}
	frame := s.authoritative.Frame() - lag
	s.record(frame - lag)
	if s.compared && frame <= s.lastCompared {
		return
	}
	truth, ok := s.authoritative.StateAt(frame)
	if !ok {
		return
	}
	predicted, ok := s.prediction.StateAt(frame)
	if !ok {
		return
	}
	s.compared = true
	s.lastCompared = frame
	s.stats.Comparisons++
	actions := s.diff(truth, predicted)
	if correction, ok := s.correctOwned(truth, predicted, frame, lag); ok {
		actions = append(actions, correction)
	}
	if len(actions) > 0 {
		s.revisions = append(s.revisions, Revision{Frame: frame + 1, Actions: actions})
	}
}

func (s *Syncer) diff(truth, predicted sim.Snapshot) []sim.Action {
	var actions []sim.Action
	for _, want := range truth.Entities {
		if want.Type == sim.EntityDesyncedCrate {
			continue
		}
		state := want.EntityState
		got, ok := predicted.Find(want.ID)
		switch {
		case !ok:
			actions = append(actions, sim.Action{Type: sim.ActionSpawn, EntityID: want.ID, EntityType: want.Type, State: &state})
			s.stats.Spawned++
		case s.hasOwned && want.ID == s.owned:
			// see correctOwned
		case s.diverges(want, got):
			actions = append(actions, sim.Action{Type: sim.ActionRevise, EntityID: want.ID, State: &state})
			s.stats.Revised++
		}
	}
	for _, extra := range predicted.Entities {
		if extra.Type == sim.EntityDesyncedCrate {
			continue
		}
		if _, ok := truth.Find(extra.ID); !ok {
			actions = append(actions, sim.Action{Type: sim.ActionDespawn, EntityID: extra.ID})
			s.stats.Despawned++
		}
	}
	return actions
}

// record refreshes the owned entity's trail from the prediction's retained
// window. Frames that left the window keep their last value; nothing can
// rewrite them any more.
func (s *Syncer) record(keepFrom sim.Frame) {
	if !s.hasOwned {
		return
	}
	for f := s.prediction.Oldest(); f <= s.prediction.Frame(); f++ {
		snapshot, ok := s.prediction.StateAt(f)
		if !ok {
			continue
		}
		if entity, ok := snapshot.Find(s.owned); ok {
			s.trail[f] = entity
		} else {
			delete(s.trail, f)
		}
	}
	for f := range s.trail {
		if f < keepFrom {
			delete(s.trail, f)
		}
	}
}

// correctOwned compares the authoritative owned entity at frame with its
// prediction at frame-lag, where the same inputs had taken effect. A
// divergence becomes a move at frame+1 that shifts the prediction by the
// error and leaves input, velocity and attack state to local play. Later
// comparisons wait until the shifted frame has seen the correction.
func (s *Syncer) correctOwned(truth, predicted sim.Snapshot, frame, lag sim.Frame) (sim.Action, bool) {
	if !s.hasOwned || frame-lag < s.ownSettled {
		return sim.Action{}, false
	}
	want, ok := truth.Find(s.owned)
	if !ok {
		return sim.Action{}, false
	}
	if _, ok := predicted.Find(s.owned); !ok {
		return sim.Action{}, false
	}
	then, ok := s.trail[frame-lag]
	if !ok {
		return sim.Action{}, false
	}
	dx, dy := want.X-then.X, want.Y-then.Y
	if math.Hypot(dx, dy) <= s.cfg.PositionTolerance {
		return sim.Action{}, false
	}
	s.ownSettled = frame + 1
	s.stats.Revised++
	return sim.Action{Type: sim.ActionMove, EntityID: s.owned, DX: dx, DY: dy}, true
}

func (s *Syncer) diverges(want, got sim.Entity) bool {
	if want.Type != got.Type || want.Input != got.Input || want.AttackFrames != got.AttackFrames {
		return true
	}
	if math.Hypot(want.X-got.X, want.Y-got.Y) > s.cfg.PositionTolerance {
		return true
	}
	return math.Hypot(want.VelX-got.VelX, want.VelY-got.VelY) > s.cfg.VelocityTolerance
}

// PopRevisions drains the revisions produced since the last call. Action ids
// are left empty for the caller's sequence.
func (s *Syncer) PopRevisions() []Revision {
	revisions := s.revisions
	s.revisions = nil
	return revisions
}

// Reset forgets the last compared frame, the owned entity and any
// undelivered revisions.
func (s *Syncer) Reset() {
	s.compared = false
	s.lastCompared = 0
	s.revisions = nil
	s.hasOwned = false
	s.trail = nil
	s.ownSettled = 0
}

func (s *Syncer) Stats() Stats { return s.stats }

package reconcile

import (
	"testing"

	"crateclash/internal/sim"
)

func runnerWith(t *testing.T, entities ...sim.Entity) *sim.Runner {
	t.Helper()
	s := sim.NewSimulation()
	s.Restore(sim.Snapshot{Entities: entities})
	return sim.NewRunner(s, 8)
}

func advance(runners ...*sim.Runner) {
	for _, r := range runners {
		r.Update()
	}
}

func crate(id sim.EntityID, kind sim.EntityType, x float64) sim.Entity {
	return sim.Entity{ID: id, Type: kind, EntityState: sim.EntityState{X: x, Y: 50}}
}

func TestDivergingEntityRevisedOnce(t *testing.T) {
	authority := runnerWith(t, crate(1, sim.EntitySyncedCrate, 100), crate(2, sim.EntitySyncedCrate, 10))
	prediction := runnerWith(t, crate(1, sim.EntitySyncedCrate, 90), crate(2, sim.EntitySyncedCrate, 10))
	for i := 0; i < 4; i++ {
		advance(authority, prediction)
	}
	syncer := New(authority, prediction, DefaultConfig())
	syncer.Update(2)
	syncer.Update(2)

	revisions := syncer.PopRevisions()
	if len(revisions) != 1 {
		t.Fatalf("expected one revision batch, got %d", len(revisions))
	}
	rev := revisions[0]
	if rev.Frame != 3 {
		t.Fatalf("expected revision for frame 3, got %d", rev.Frame)
	}
	if len(rev.Actions) != 1 || rev.Actions[0].Type != sim.ActionRevise || rev.Actions[0].EntityID != 1 {
		t.Fatalf("expected exactly one revise for entity 1, got %+v", rev.Actions)
	}
	if rev.Actions[0].State.X != 100 {
		t.Fatalf("expected authoritative x, got %v", rev.Actions[0].State.X)
	}
	if len(syncer.PopRevisions()) != 0 {
		t.Fatalf("revisions must drain")
	}

	before, _ := prediction.StateAt(prediction.Frame())
	if err := prediction.ScheduleActions(sim.NewIDSequence("client").Stamp(rev.Actions), rev.Frame); err != nil {
		t.Fatalf("schedule revision: %v", err)
	}
	after, _ := prediction.StateAt(prediction.Frame())
	truth, _ := authority.StateAt(authority.Frame())
	b, _ := before.Find(1)
	a, _ := after.Find(1)
	w, _ := truth.Find(1)
	if abs(a.X-w.X) >= abs(b.X-w.X) {
		t.Fatalf("expected convergence toward %v: before %v after %v", w.X, b.X, a.X)
	}
}

func TestExistenceMismatchesAndDesyncedCratesSkipped(t *testing.T) {
	authority := runnerWith(t, crate(1, sim.EntitySyncedCrate, 0), crate(3, sim.EntityDesyncedCrate, 0))
	prediction := runnerWith(t, crate(2, sim.EntitySyncedCrate, 0), crate(3, sim.EntityDesyncedCrate, 300), crate(4, sim.EntityDesyncedCrate, 0))
	advance(authority, prediction)
	syncer := New(authority, prediction, DefaultConfig())
	syncer.Update(0)
	revisions := syncer.PopRevisions()
	if len(revisions) != 1 || len(revisions[0].Actions) != 2 {
		t.Fatalf("expected spawn and despawn only, got %+v", revisions)
	}
	spawn, despawn := revisions[0].Actions[0], revisions[0].Actions[1]
	if spawn.Type != sim.ActionSpawn || spawn.EntityID != 1 || spawn.EntityType != sim.EntitySyncedCrate {
		t.Fatalf("unexpected spawn %+v", spawn)
	}
	if despawn.Type != sim.ActionDespawn || despawn.EntityID != 2 {
		t.Fatalf("unexpected despawn %+v", despawn)
	}
	stats := syncer.Stats()
	if stats.Spawned != 1 || stats.Despawned != 1 || stats.Revised != 0 || stats.Comparisons != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWithinToleranceNoRevision(t *testing.T) {
	authority := runnerWith(t, crate(1, sim.EntitySyncedCrate, 100))
	prediction := runnerWith(t, crate(1, sim.EntitySyncedCrate, 100.4))
	advance(authority, prediction)
	syncer := New(authority, prediction, Config{PositionTolerance: 0.5, VelocityTolerance: 0.5})
	syncer.Update(0)
	if len(syncer.PopRevisions()) != 0 {
		t.Fatalf("expected no revision within tolerance")
	}
}

func TestWaitsUntilFrameRetainedAndResetRecompares(t *testing.T) {
	authority := runnerWith(t, crate(1, sim.EntitySyncedCrate, 100))
	prediction := runnerWith(t, crate(1, sim.EntitySyncedCrate, 0))
	syncer := New(authority, prediction, DefaultConfig())
	syncer.Update(3)
	if syncer.Stats().Comparisons != 0 {
		t.Fatalf("compared before the authoritative runner reached the frame")
	}
	advance(authority, prediction)
	syncer.Update(0)
	syncer.Reset()
	if len(syncer.PopRevisions()) != 0 {
		t.Fatalf("reset must drop pending revisions")
	}
	syncer.Update(0)
	if len(syncer.PopRevisions()) != 1 {
		t.Fatalf("expected the frame to be compared again after reset")
	}
}

func square(id sim.EntityID, x float64) sim.Entity {
	return sim.Entity{ID: id, Type: sim.EntitySquare, EntityState: sim.EntityState{X: x, Y: 50}}
}

func pressRight(t *testing.T, r *sim.Runner, id string, frame sim.Frame) {
	t.Helper()
	right := sim.Directions{Right: true}
	if err := r.ScheduleActions([]sim.Action{{ID: id, Type: sim.ActionSetInput, EntityID: 5, Input: &right}}, frame); err != nil {
		t.Fatalf("schedule input: %v", err)
	}
}

func TestOwnedEntityComparedAgainstItsLead(t *testing.T) {
	const lag = 2
	for _, owned := range []bool{true, false} {
		authority := runnerWith(t, square(5, 100))
		prediction := runnerWith(t, square(5, 100))
		pressRight(t, prediction, "client_1", 1)
		pressRight(t, authority, "server_1", 1+lag)
		syncer := New(authority, prediction, DefaultConfig())
		if owned {
			syncer.Own(5)
		}

		revised := 0
		for frame := 1; frame <= 8; frame++ {
			advance(authority, prediction)
			syncer.Update(lag)
			revised += len(syncer.PopRevisions())
		}
		if owned && revised != 0 {
			t.Fatalf("owned entity running %d frames ahead must not be revised, got %d revisions", lag, revised)
		}
		if !owned && revised == 0 {
			t.Fatalf("an entity nobody owns should diverge in this setup")
		}
	}
}

func TestOwnedEntityCorrectedByOffsetKeepingInput(t *testing.T) {
	const lag = 2
	authority := runnerWith(t, square(5, 100))
	prediction := runnerWith(t, square(5, 100))
	pressRight(t, prediction, "client_1", 1)
	syncer := New(authority, prediction, DefaultConfig())
	syncer.Own(5)
	ids := sim.NewIDSequence("client")

	var got []Revision
	for frame := 1; frame <= 8; frame++ {
		advance(authority, prediction)
		syncer.Update(lag)
		for _, rev := range syncer.PopRevisions() {
			got = append(got, rev)
			before, _ := prediction.Simulation().Entity(5)
			if err := prediction.ScheduleActions(ids.Stamp(rev.Actions), rev.Frame); err != nil {
				t.Fatalf("schedule revision: %v", err)
			}
			after, _ := prediction.Simulation().Entity(5)
			if !after.Input.Right {
				t.Fatalf("correction must keep the locally held input")
			}
			if after.X != before.X+rev.Actions[0].DX {
				t.Fatalf("expected prediction shifted by %v, got %v -> %v", rev.Actions[0].DX, before.X, after.X)
			}
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected two corrections separated by the lead, got %+v", got)
	}
	first, second := got[0], got[1]
	if first.Frame != 4 || len(first.Actions) != 1 || first.Actions[0].Type != sim.ActionMove || first.Actions[0].DX != -sim.SquareSpeed {
		t.Fatalf("unexpected first correction %+v", first)
	}
	if second.Frame != 7 || second.Actions[0].DX != -3*sim.SquareSpeed {
		t.Fatalf("unexpected second correction %+v", second)
	}
	if syncer.Stats().Revised != 2 {
		t.Fatalf("unexpected stats %+v", syncer.Stats())
	}
}

func TestResetForgetsOwnedEntity(t *testing.T) {
	authority := runnerWith(t, square(5, 100))
	prediction := runnerWith(t, square(5, 90))
	syncer := New(authority, prediction, DefaultConfig())
	syncer.Own(5)
	syncer.Reset()
	advance(authority, prediction)
	syncer.Update(0)
	revisions := syncer.PopRevisions()
	if len(revisions) != 1 || revisions[0].Actions[0].Type != sim.ActionRevise {
		t.Fatalf("expected a plain revise once ownership is cleared, got %+v", revisions)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package sim

import (
	"errors"
	"reflect"
	"testing"
)

func newRunnerWithEntity(t *testing.T, frame Frame, framesOfHistory int) *Runner {
	t.Helper()
	s := NewSimulation()
	if !s.Apply(spawn("seed", 1, EntitySquare, 0, 0)) {
		t.Fatalf("failed to seed entity")
	}
	r := NewRunner(s, framesOfHistory)
	r.Reset(frame, framesOfHistory)
	return r
}

func xAt(t *testing.T, r *Runner, frame Frame) float64 {
	t.Helper()
	state, ok := r.StateAt(frame)
	if !ok {
		t.Fatalf("frame %d not retained (oldest %d, current %d)", frame, r.Oldest(), r.Frame())
	}
	entity, ok := state.Find(1)
	if !ok {
		t.Fatalf("entity missing at frame %d", frame)
	}
	return entity.X
}

func TestRunnerScheduledMoveScenario(t *testing.T) {
	r := newRunnerWithEntity(t, 100, 5)
	move := Action{ID: "a1", Type: ActionMove, EntityID: 1, DX: 10}
	if err := r.ScheduleActions([]Action{move}, 102); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	for r.Frame() < 105 {
		r.Update()
	}
	for frame := Frame(100); frame <= 101; frame++ {
		if x := xAt(t, r, frame); x != 0 {
			t.Fatalf("frame %d: expected x=0, got %v", frame, x)
		}
	}
	for frame := Frame(102); frame <= 105; frame++ {
		if x := xAt(t, r, frame); x != 10 {
			t.Fatalf("frame %d: expected x=10, got %v", frame, x)
		}
	}
	// Re-delivery of the same action must not double-apply.
	if err := r.ScheduleActions([]Action{move}, 102); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if x := xAt(t, r, 105); x != 10 {
		t.Fatalf("expected redelivery to be a no-op, got x=%v", x)
	}
}

func TestRunnerRollbackEquivalence(t *testing.T) {
	right := Directions{Right: true}
	late := []Action{{ID: "late", Type: ActionSetInput, EntityID: 1, Input: &right}}
	other := []Action{{ID: "other", Type: ActionMove, EntityID: 1, DY: 3}}

	onTime := newRunnerWithEntity(t, 10, 8)
	if err := onTime.ScheduleActions(late, 12); err != nil {
		t.Fatal(err)
	}
	if err := onTime.ScheduleActions(other, 14); err != nil {
		t.Fatal(err)
	}
	for onTime.Frame() < 17 {
		onTime.Update()
	}

	rolled := newRunnerWithEntity(t, 10, 8)
	if err := rolled.ScheduleActions(other, 14); err != nil {
		t.Fatal(err)
	}
	for rolled.Frame() < 16 {
		rolled.Update()
	}
	if err := rolled.ScheduleActions(late, 12); err != nil {
		t.Fatalf("late schedule failed: %v", err)
	}
	rolled.Update()

	if rolled.Frame() != onTime.Frame() {
		t.Fatalf("frame mismatch %d vs %d", rolled.Frame(), onTime.Frame())
	}
	if !reflect.DeepEqual(rolled.Simulation().Snapshot(), onTime.Simulation().Snapshot()) {
		t.Fatalf("rollback diverged:\n%+v\n%+v", rolled.Simulation().Snapshot(), onTime.Simulation().Snapshot())
	}
	want, _ := onTime.StateAt(13)
	got, _ := rolled.StateAt(13)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("replayed history diverged at frame 13")
	}
}

func TestRunnerRejectsCorrectionsOlderThanHistory(t *testing.T) {
	r := newRunnerWithEntity(t, 0, 3)
	for r.Frame() < 10 {
		r.Update()
	}
	before := r.Simulation().Snapshot()
	retained, _ := r.StateAt(7)

	err := r.ScheduleActions([]Action{{ID: "x", Type: ActionMove, EntityID: 1, DX: 50}}, 6)
	if !errors.Is(err, ErrStaleCorrection) {
		t.Fatalf("expected stale correction error, got %v", err)
	}
	var stale *StaleCorrectionError
	if !errors.As(err, &stale) || stale.Target != 6 || stale.Oldest != 7 {
		t.Fatalf("unexpected stale details %+v", stale)
	}
	if err := r.ScheduleState(Snapshot{}, 5); !errors.Is(err, ErrStaleCorrection) {
		t.Fatalf("expected stale state error, got %v", err)
	}
	if !reflect.DeepEqual(before, r.Simulation().Snapshot()) {
		t.Fatalf("stale correction mutated current state")
	}
	if after, _ := r.StateAt(7); !reflect.DeepEqual(retained, after) {
		t.Fatalf("stale correction mutated retained state")
	}

	if err := r.ScheduleActions([]Action{{ID: "y", Type: ActionMove, EntityID: 1, DX: 1}}, 7); err != nil {
		t.Fatalf("expected frame at window edge to be accepted, got %v", err)
	}
	if x := xAt(t, r, 10); x != 1 {
		t.Fatalf("expected correction at window edge to replay forward, x=%v", x)
	}
}

func TestRunnerScheduleStateRewritesAndReplays(t *testing.T) {
	r := newRunnerWithEntity(t, 0, 6)
	right := Directions{Right: true}
	if err := r.ScheduleActions([]Action{{ID: "in", Type: ActionSetInput, EntityID: 1, Input: &right}}, 1); err != nil {
		t.Fatal(err)
	}
	for r.Frame() < 5 {
		r.Update()
	}
	if x := xAt(t, r, 5); x != 5*SquareSpeed {
		t.Fatalf("expected x=%v before correction, got %v", 5*SquareSpeed, x)
	}

	corrected := Snapshot{Entities: []Entity{{ID: 1, Type: EntitySquare, EntityState: EntityState{X: 100, Input: right}}}}
	if err := r.ScheduleState(corrected, 3); err != nil {
		t.Fatalf("schedule state failed: %v", err)
	}
	if x := xAt(t, r, 3); x != 100 {
		t.Fatalf("expected authoritative x=100 at frame 3, got %v", x)
	}
	if x := xAt(t, r, 5); x != 100+2*SquareSpeed {
		t.Fatalf("expected replay from the correction, got %v", x)
	}

	// Later actions before the authoritative frame do not overwrite it.
	if err := r.ScheduleActions([]Action{{ID: "m", Type: ActionMove, EntityID: 1, DX: 7}}, 2); err != nil {
		t.Fatal(err)
	}
	if x := xAt(t, r, 3); x != 100 {
		t.Fatalf("authoritative frame was recomputed, x=%v", x)
	}
}

func TestRunnerFutureStateInstalledOnArrival(t *testing.T) {
	r := NewRunner(NewSimulation(), 4)
	snapshot := Snapshot{Entities: []Entity{{ID: 9, Type: EntitySyncedCrate, EntityState: EntityState{X: 42}}}}
	if err := r.ScheduleState(snapshot, 3); err != nil {
		t.Fatal(err)
	}
	snapshot.Entities[0].X = -1
	r.Update()
	r.Update()
	if r.Simulation().Len() != 0 {
		t.Fatalf("future state applied early")
	}
	r.Update()
	entity, ok := r.Simulation().Entity(9)
	if !ok || entity.X != 42 {
		t.Fatalf("expected installed snapshot at frame 3, got %+v", entity)
	}
}

func TestRunnerHistoryIsContiguousAndBounded(t *testing.T) {
	r := NewRunner(NewSimulation(), 5)
	for i := 0; i < 40; i++ {
		r.Update()
	}
	if r.Frame() != 40 {
		t.Fatalf("expected frame 40, got %d", r.Frame())
	}
	if r.Oldest() != 35 {
		t.Fatalf("expected oldest correction frame 35, got %d", r.Oldest())
	}
	for frame := Frame(34); frame <= 40; frame++ {
		if _, ok := r.StateAt(frame); !ok {
			t.Fatalf("expected frame %d retained", frame)
		}
	}
	if _, ok := r.StateAt(33); ok {
		t.Fatalf("expected frame 33 evicted")
	}
}

func TestRunnerResetClearsScheduledWork(t *testing.T) {
	r := newRunnerWithEntity(t, 0, 4)
	if err := r.ScheduleActions([]Action{{ID: "m", Type: ActionMove, EntityID: 1, DX: 3}}, 2); err != nil {
		t.Fatal(err)
	}
	r.Reset(50, 2)
	if r.Frame() != 50 || r.FramesOfHistory() != 2 {
		t.Fatalf("unexpected rebase frame=%d history=%d", r.Frame(), r.FramesOfHistory())
	}
	r.Update()
	r.Update()
	if x := xAt(t, r, 52); x != 0 {
		t.Fatalf("expected pre-reset schedule discarded, x=%v", x)
	}
	if len(r.ActionsAt(52)) != 0 {
		t.Fatalf("expected no actions at frame 52")
	}
}

func TestRunnerScheduleStateAtCurrentFrameRestoresLive(t *testing.T) {
	r := newRunnerWithEntity(t, 0, 3)
	r.Update()
	r.Update()
	snapshot := Snapshot{Entities: []Entity{{ID: 1, Type: EntitySquare, EntityState: EntityState{X: 55}}}}
	if err := r.ScheduleState(snapshot, r.Frame()); err != nil {
		t.Fatal(err)
	}
	entity, ok := r.Simulation().Entity(1)
	if !ok || entity.X != 55 {
		t.Fatalf("expected live state to follow the installed snapshot, got %+v", entity)
	}
}

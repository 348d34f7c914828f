package hub

import (
	"testing"

	"crateclash/internal/clock"
	"crateclash/internal/input"
	"crateclash/internal/master"
	"crateclash/internal/net/proto"
	"crateclash/internal/sim"
	"crateclash/internal/telemetry"
	"crateclash/logging/network"
	"crateclash/logging/sinks"
)

type fakePeer struct {
	id      string
	pending []proto.Message
	sent    []proto.Message
}

func (p *fakePeer) ID() string               { return p.id }
func (p *fakePeer) Buffer(msg proto.Message) { p.pending = append(p.pending, msg) }
func (p *fakePeer) Flush() error {
	p.sent = append(p.sent, p.pending...)
	p.pending = nil
	return nil
}

func (p *fakePeer) take() []proto.Message {
	sent := p.sent
	p.sent = nil
	return sent
}

func (p *fakePeer) ofType(kind proto.Type) []proto.Message {
	var out []proto.Message
	for _, msg := range p.take() {
		if msg.Type == kind {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	hub     *Hub
	clock   *clock.Clock
	metrics *telemetry.Counters
	events  *sinks.Memory
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clock.New(clock.DefaultPeriod)
	metrics := telemetry.NewCounters()
	events := sinks.NewMemory()
	h := New(cfg, Deps{Clock: clk, Metrics: metrics, Publisher: events})
	return &harness{t: t, hub: h, clock: clk, metrics: metrics, events: events}
}

func (h *harness) tick() sim.Frame {
	h.t.Helper()
	frame := h.clock.Tick()
	if err := h.hub.Tick(frame); err != nil {
		h.t.Fatalf("tick %d: %v", frame, err)
	}
	return frame
}

func (h *harness) join(id string) *fakePeer {
	h.t.Helper()
	peer := &fakePeer{id: id}
	h.hub.Connect(peer)
	h.hub.Receive(id, proto.JoinGame())
	h.tick()
	accepts := peer.ofType(proto.TypeJoinAccept)
	if len(accepts) != 1 {
		h.t.Fatalf("expected one join-accept for %s, got %d", id, len(accepts))
	}
	return peer
}

func TestJoinAcceptCarriesWorldAndPlayer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	peer := &fakePeer{id: "a"}
	h.hub.Connect(peer)
	h.hub.Receive("a", proto.JoinGame())
	frame := h.tick()

	sent := peer.take()
	if len(sent) != 1 || sent[0].Type != proto.TypeJoinAccept {
		t.Fatalf("expected only a join-accept, got %+v", sent)
	}
	accept := sent[0]
	if accept.Frame != frame {
		t.Fatalf("expected join-accept at frame %d, got %d", frame, accept.Frame)
	}
	if len(accept.SimulationState.Entities) != master.CrateCount+1 {
		t.Fatalf("expected crates and the new square, got %d entities", len(accept.SimulationState.Entities))
	}
	id := *accept.PlayerState.EntityID
	square, ok := accept.SimulationState.Find(id)
	if !ok || square.Type != sim.EntitySquare || square.X != master.SpawnX || square.Y != master.SpawnY {
		t.Fatalf("expected the player's square at the spawn point, got %+v", square)
	}
	if diag := h.hub.DiagnosticsSnapshot(); diag.Players != 1 || diag.Frame != frame {
		t.Fatalf("unexpected diagnostics %+v", diag)
	}
}

func TestInputBroadcastAndLatePolicy(t *testing.T) {
	h := newHarness(t, Config{HistoryFrames: 4, InboxCapacity: 64, Seed: 7})
	a := h.join("a")
	b := h.join("b")
	a.take()
	next := h.clock.Frame() + 1
	event := input.Event{ID: 1, Key: input.KeyRight, IsDown: true, State: input.State{Right: true}}

	h.hub.Receive("a", proto.Input(event, next+5, 6))
	h.tick()
	ownMsgs, otherMsgs := a.ofType(proto.TypeActions), b.ofType(proto.TypeActions)
	if len(ownMsgs) != 1 || len(otherMsgs) != 1 {
		t.Fatalf("expected actions for both peers, got %d and %d", len(ownMsgs), len(otherMsgs))
	}
	own, other := ownMsgs[0], otherMsgs[0]
	if own.Frame != next+5 || !own.CausedByClientInput || other.CausedByClientInput {
		t.Fatalf("unexpected future input routing own=%+v other=%+v", own, other)
	}
	if own.Actions[0].Type != sim.ActionSetInput || own.Actions[0].ID == "" {
		t.Fatalf("expected a stamped set-input, got %+v", own.Actions[0])
	}

	current := h.clock.Frame() + 1
	h.hub.Receive("a", proto.Input(event, current-3, 6))
	h.tick()
	late := a.ofType(proto.TypeActions)
	if len(late) != 1 || late[0].Frame != current {
		t.Fatalf("expected slightly late input moved to frame %d, got %+v", current, late)
	}

	current = h.clock.Frame() + 1
	h.hub.Receive("a", proto.Input(event, current-7, 6))
	h.tick()
	if got := a.ofType(proto.TypeActions); len(got) != 0 {
		t.Fatalf("expected too-late input dropped, got %+v", got)
	}
	if h.metrics.Get(inputsDroppedLateMetricKey) != 1 {
		t.Fatalf("expected drop counted, got %d", h.metrics.Get(inputsDroppedLateMetricKey))
	}
	if len(h.events.OfType(network.EventInputDropped)) != 1 {
		t.Fatalf("expected an input_dropped event")
	}
}

func TestLeaveDespawnsForOthers(t *testing.T) {
	h := newHarness(t, Config{HistoryFrames: 4, InboxCapacity: 64})
	a := h.join("a")
	b := h.join("b")
	a.take()
	b.take()
	h.hub.Disconnect("a")
	h.tick()
	msgs := b.ofType(proto.TypeActions)
	if len(msgs) != 1 || len(msgs[0].Actions) != 1 || msgs[0].Actions[0].Type != sim.ActionDespawn {
		t.Fatalf("expected one despawn broadcast, got %+v", msgs)
	}
	if diag := h.hub.DiagnosticsSnapshot(); diag.Connections != 1 || diag.Players != 1 {
		t.Fatalf("unexpected diagnostics after leave %+v", diag)
	}
	if len(a.take()) != 0 {
		t.Fatalf("disconnected peer must not receive traffic")
	}
}

func TestCurrentStateOnlyToJoined(t *testing.T) {
	h := newHarness(t, Config{HistoryFrames: 4, InboxCapacity: 64, StateInterval: 5})
	joined := h.join("a")
	watcher := &fakePeer{id: "w"}
	h.hub.Connect(watcher)
	resyncs := 0
	for i := 0; i < 10; i++ {
		h.tick()
		resyncs += len(joined.ofType(proto.TypeCurrentState))
	}
	if resyncs != 2 {
		t.Fatalf("expected two resyncs over ten ticks, got %d", resyncs)
	}
	if len(watcher.take()) != 0 {
		t.Fatalf("unjoined peer must not receive traffic")
	}
}

func TestResetWorldReplacesCrates(t *testing.T) {
	h := newHarness(t, Config{HistoryFrames: 4, InboxCapacity: 64})
	a := h.join("a")
	a.take()
	h.hub.ResetWorld(99)
	h.tick()
	msgs := a.ofType(proto.TypeActions)
	if len(msgs) != 1 {
		t.Fatalf("expected one actions batch, got %d", len(msgs))
	}
	despawns, spawns := 0, 0
	for _, action := range msgs[0].Actions {
		switch action.Type {
		case sim.ActionDespawn:
			despawns++
		case sim.ActionSpawn:
			spawns++
		}
	}
	if despawns != master.CrateCount || spawns != master.CrateCount {
		t.Fatalf("expected %d despawns and spawns, got %d and %d", master.CrateCount, despawns, spawns)
	}
	if diag := h.hub.DiagnosticsSnapshot(); diag.Entities != master.CrateCount+1 {
		t.Fatalf("expected world size preserved, got %d", diag.Entities)
	}
}

func TestInboxWraparound(t *testing.T) {
	metrics := telemetry.NewCounters()
	box := newInbox(3, metrics)
	for _, id := range []string{"a", "b", "c"} {
		if !box.push(inbound{peerID: id}) {
			t.Fatalf("expected push to succeed for %s", id)
		}
	}
	if box.push(inbound{peerID: "overflow"}) {
		t.Fatalf("expected push to fail when full")
	}
	if metrics.Get(inboxOverflowMetricKey) != 1 {
		t.Fatalf("expected overflow counted")
	}
	drained := box.drain()
	if len(drained) != 3 || drained[0].peerID != "a" || drained[2].peerID != "c" {
		t.Fatalf("unexpected drain order %+v", drained)
	}
	box.push(inbound{peerID: "d"})
	box.push(inbound{peerID: "e"})
	wrapped := box.drain()
	if len(wrapped) != 2 || wrapped[0].peerID != "d" || wrapped[1].peerID != "e" {
		t.Fatalf("unexpected order after wraparound %+v", wrapped)
	}
	if box.len() != 0 {
		t.Fatalf("expected empty inbox")
	}
}

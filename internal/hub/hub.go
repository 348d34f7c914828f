// Package hub runs the authority: it drains client traffic once per tick,
// applies the world rules, advances the authoritative simulation and
// broadcasts the results.
package hub

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"crateclash/internal/clock"
	"crateclash/internal/input"
	"crateclash/internal/master"
	"crateclash/internal/net/proto"
	"crateclash/internal/net/ws"
	"crateclash/internal/player"
	"crateclash/internal/sim"
	"crateclash/internal/telemetry"
	"crateclash/logging"
	"crateclash/logging/lifecycle"
	"crateclash/logging/network"
)

const inputsDroppedLateMetricKey = "hub_inputs_dropped_late_total"

type Config struct {
	// HistoryFrames sizes the authoritative runner's window. The authority
	// never schedules into the past, so a small window is enough.
	HistoryFrames int
	// StateInterval is the number of ticks between current-state resyncs.
	// Zero disables them.
	StateInterval int
	InboxCapacity int
	Seed          int64
}

func DefaultConfig() Config {
	return Config{
		HistoryFrames: 4,
		StateInterval: 30,
		InboxCapacity: 4096,
		Seed:          1,
	}
}

type Deps struct {
	Clock     *clock.Clock
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Diagnostics is a point-in-time summary for the diagnostics endpoint.
type Diagnostics struct {
	Frame       sim.Frame `json:"frame"`
	Connections int       `json:"connections"`
	Players     int       `json:"players"`
	Entities    int       `json:"entities"`
	NextEntity  int64     `json:"nextEntityId"`
}

type session struct {
	peer   ws.Peer
	player *player.Player
	// accept marks a join-accept owed after this tick's advance.
	accept bool
}

// Hub is the authority. Connect, Receive, Disconnect and ResetWorld may be
// called from any goroutine; everything else happens inside Tick.
type Hub struct {
	cfg     Config
	clock   *clock.Clock
	logger  telemetry.Logger
	metrics telemetry.Metrics
	pub     logging.Publisher

	inbox  *inbox
	runner *sim.Runner
	master *master.GameMaster
	ids    *sim.IDSequence

	sessions map[string]*session
	order    []string
	carry    []sim.Action

	statsMu sync.Mutex
	stats   Diagnostics
}

func New(cfg Config, deps Deps) *Hub {
	if cfg.HistoryFrames < 2 {
		cfg.HistoryFrames = 2
	}
	if deps.Clock == nil {
		deps.Clock = clock.New(clock.DefaultPeriod)
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	runner := sim.NewRunner(sim.NewSimulation(), cfg.HistoryFrames)
	runner.Reset(deps.Clock.Frame(), cfg.HistoryFrames)
	h := &Hub{
		cfg:      cfg,
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		pub:      deps.Publisher,
		inbox:    newInbox(cfg.InboxCapacity, deps.Metrics),
		runner:   runner,
		master:   master.New(),
		ids:      sim.NewIDSequence("server"),
		sessions: make(map[string]*session),
	}
	h.master.Reset(rand.New(rand.NewSource(cfg.Seed)))
	lifecycle.WorldReset(context.Background(), h.pub, int64(runner.Frame()), lifecycle.WorldResetPayload{Spawned: master.CrateCount})
	return h
}

// Run ticks the authority until ctx is cancelled or a tick fails.
func (h *Hub) Run(ctx context.Context) error {
	return h.clock.Run(ctx, h.Tick)
}

func (h *Hub) Frame() sim.Frame { return h.clock.Frame() }

func (h *Hub) Connect(peer ws.Peer) {
	h.enqueue(inbound{kind: inboundConnect, peerID: peer.ID(), peer: peer})
}

func (h *Hub) Receive(peerID string, msg proto.Message) {
	h.enqueue(inbound{kind: inboundMessage, peerID: peerID, message: msg})
}

func (h *Hub) Disconnect(peerID string) {
	h.enqueue(inbound{kind: inboundDisconnect, peerID: peerID})
}

// ResetWorld replaces every crate with a fresh set drawn from seed.
func (h *Hub) ResetWorld(seed int64) {
	h.enqueue(inbound{kind: inboundReset, seed: seed})
}

func (h *Hub) enqueue(item inbound) {
	if !h.inbox.push(item) {
		h.logger.Printf("[hub] inbox full, dropping %v from %s", item.kind, item.peerID)
	}
}

// Tick assembles frame: drain traffic, apply world rules, advance, then
// send joins, resyncs and buffered traffic.
func (h *Hub) Tick(frame sim.Frame) error {
	ctx := context.Background()
	for _, item := range h.inbox.drain() {
		h.handle(ctx, frame, item)
	}

	h.master.Update(h.runner.Simulation().Snapshot())
	actions := append(h.carry, h.master.PopActions()...)
	h.carry = nil
	if len(actions) > 0 {
		h.ids.Stamp(actions)
		h.schedule(actions, frame)
		h.broadcast(proto.Actions(frame, actions, false), "", false)
	}

	if next := h.runner.Update(); next != frame {
		return fmt.Errorf("hub: runner advanced to frame %d, clock at %d", next, frame)
	}

	state := h.runner.Simulation().Snapshot()
	resync := h.cfg.StateInterval > 0 && int64(frame)%int64(h.cfg.StateInterval) == 0
	for _, id := range h.order {
		s := h.sessions[id]
		switch {
		case s.accept:
			s.accept = false
			s.peer.Buffer(proto.JoinAccept(frame, state.Clone(), s.player.State()))
			entity, _ := s.player.EntityID()
			lifecycle.PlayerJoined(ctx, h.pub, int64(frame), id, lifecycle.PlayerPayload{EntityID: int64(entity)})
		case resync && s.player.HasJoined():
			s.peer.Buffer(proto.CurrentState(frame, state.Clone(), s.player.State()))
		}
	}
	for _, id := range h.order {
		if err := h.sessions[id].peer.Flush(); err != nil {
			h.logger.Printf("[hub] flush to %s failed: %v", id, err)
		}
	}
	h.recordStats(frame, len(state.Entities))
	return nil
}

func (h *Hub) handle(ctx context.Context, frame sim.Frame, item inbound) {
	switch item.kind {
	case inboundConnect:
		if _, ok := h.sessions[item.peerID]; ok {
			return
		}
		h.sessions[item.peerID] = &session{peer: item.peer, player: player.New()}
		h.order = append(h.order, item.peerID)
	case inboundDisconnect:
		s, ok := h.sessions[item.peerID]
		if !ok {
			return
		}
		h.leave(ctx, frame, item.peerID, s)
		delete(h.sessions, item.peerID)
		for i, id := range h.order {
			if id == item.peerID {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	case inboundReset:
		h.resetWorld(ctx, frame, item.seed)
	case inboundMessage:
		s, ok := h.sessions[item.peerID]
		if !ok {
			return
		}
		h.handleMessage(ctx, frame, item.peerID, s, item.message)
	}
}

func (h *Hub) handleMessage(ctx context.Context, frame sim.Frame, id string, s *session, msg proto.Message) {
	switch msg.Type {
	case proto.TypeJoinGame:
		if !s.player.HasJoined() {
			h.master.AddPlayer(s.player)
		}
		s.accept = true
	case proto.TypeLeave:
		h.leave(ctx, frame, id, s)
	case proto.TypeInput:
		h.handleInput(ctx, frame, id, s, msg)
	default:
		h.logger.Printf("[hub] ignoring %s from %s", msg.Type, id)
	}
}

// handleInput applies the late-input policy: inputs for frame or later are
// scheduled where requested, inputs at most MaxFramesLate behind land on
// frame, anything older is dropped.
func (h *Hub) handleInput(ctx context.Context, frame sim.Frame, id string, s *session, msg proto.Message) {
	if msg.Input == nil || !s.player.HasJoined() {
		return
	}
	target := msg.Frame
	if target < frame {
		if frame-target > sim.Frame(msg.MaxFramesLate) {
			h.metrics.Add(inputsDroppedLateMetricKey, 1)
			network.InputDropped(ctx, h.pub, int64(frame), logging.Subject{ID: id, Kind: logging.SubjectConnection},
				network.InputDroppedPayload{Target: int64(msg.Frame), MaxFramesLate: msg.MaxFramesLate})
			return
		}
		target = frame
	}
	s.player.Update([]input.Event{*msg.Input})
	actions := s.player.PopActions()
	if len(actions) == 0 {
		return
	}
	h.ids.Stamp(actions)
	h.schedule(actions, target)
	h.broadcast(proto.Actions(target, actions, false), id, true)
}

func (h *Hub) leave(ctx context.Context, frame sim.Frame, id string, s *session) {
	s.accept = false
	if !s.player.HasJoined() {
		return
	}
	entity, _ := s.player.EntityID()
	h.master.RemovePlayer(s.player)
	lifecycle.PlayerLeft(ctx, h.pub, int64(frame), id, lifecycle.PlayerPayload{EntityID: int64(entity)})
}

func (h *Hub) resetWorld(ctx context.Context, frame sim.Frame, seed int64) {
	h.carry = append(h.carry, h.master.PopActions()...)
	for _, entity := range h.runner.Simulation().Entities() {
		if entity.IsCrate() {
			h.carry = append(h.carry, sim.Action{Type: sim.ActionDespawn, EntityID: entity.ID})
		}
	}
	h.master.Reset(rand.New(rand.NewSource(seed)))
	lifecycle.WorldReset(ctx, h.pub, int64(frame), lifecycle.WorldResetPayload{Spawned: master.CrateCount})
}

func (h *Hub) schedule(actions []sim.Action, frame sim.Frame) {
	if err := h.runner.ScheduleActions(actions, frame); err != nil {
		h.logger.Printf("[hub] schedule at frame %d failed: %v", frame, err)
	}
}

// broadcast buffers msg for every joined session. With origin set, that
// session's copy is flagged as caused by its own input. Sessions awaiting
// a join-accept only receive it when includeAccepting is set, since the
// accepted state already contains this frame's actions.
func (h *Hub) broadcast(msg proto.Message, origin string, includeAccepting bool) {
	for _, id := range h.order {
		s := h.sessions[id]
		if !s.player.HasJoined() || (s.accept && !includeAccepting) {
			continue
		}
		out := msg
		out.CausedByClientInput = id == origin
		s.peer.Buffer(out)
	}
}

func (h *Hub) recordStats(frame sim.Frame, entities int) {
	players := 0
	for _, s := range h.sessions {
		if s.player.HasJoined() {
			players++
		}
	}
	h.metrics.Store("hub_frame", uint64(frame))
	h.metrics.Store("hub_players", uint64(players))
	h.statsMu.Lock()
	h.stats = Diagnostics{
		Frame:       frame,
		Connections: len(h.sessions),
		Players:     players,
		Entities:    entities,
		NextEntity:  int64(h.master.NextEntityID()),
	}
	h.statsMu.Unlock()
}

// DiagnosticsSnapshot returns the summary recorded at the end of the last tick.
func (h *Hub) DiagnosticsSnapshot() Diagnostics {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

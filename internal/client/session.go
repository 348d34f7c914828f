// Package client runs the per-tick prediction pipeline: calibrate, apply
// authoritative traffic, predict local input, advance, reconcile.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crateclash/internal/clock"
	"crateclash/internal/input"
	"crateclash/internal/latency"
	"crateclash/internal/net/proto"
	"crateclash/internal/net/ws"
	"crateclash/internal/player"
	"crateclash/internal/reconcile"
	"crateclash/internal/sim"
	"crateclash/internal/telemetry"
	"crateclash/logging"
	inputlog "crateclash/logging/input"
	"crateclash/logging/network"
	simlog "crateclash/logging/simulation"
)

// ErrClockDesync reports a runner whose frame no longer matches the clock
// after an update. It indicates a scheduling bug and ends the session.
var ErrClockDesync = errors.New("client: simulation runner out of step with clock")

const (
	staleCorrectionsMetricKey = "client_stale_corrections_total"
	revisionsMetricKey        = "client_revisions_total"
	consoleLines              = 12
)

// Transport is the session's view of the connection.
type Transport interface {
	Drain(now time.Time) []ws.Event
	Buffer(msg proto.Message)
	Flush() error
	Send(msg proto.Message) error
}

// View is what a frontend draws for one frame.
type View struct {
	Frame         sim.Frame
	Joined        bool
	Prediction    sim.Snapshot
	Authoritative sim.Snapshot
	Player        player.State
	Console       []string
}

type Renderer interface {
	Render(view View)
}

type Config struct {
	Latency latency.Config
	// InitialHistory sizes the runners until calibration picks a window.
	InitialHistory int
	MaxFramesLate  int
	Reconcile      reconcile.Config
	LogKeyEvents   bool
}

func DefaultConfig() Config {
	return Config{
		Latency:        latency.DefaultConfig(),
		InitialHistory: 5,
		MaxFramesLate:  6,
		Reconcile:      reconcile.DefaultConfig(),
	}
}

type Deps struct {
	Clock     *clock.Clock
	Transport Transport
	Renderer  Renderer
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
	Now       func() time.Time
}

type keyEvent struct {
	key    input.Key
	isDown bool
}

// Session owns both runners and everything that feeds them. Only HandleKey
// may be called concurrently with Tick.
type Session struct {
	cfg       Config
	clock     *clock.Clock
	transport Transport
	renderer  Renderer
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	pub       logging.Publisher
	now       func() time.Time

	latency       *latency.Syncer
	authoritative *sim.Runner
	prediction    *sim.Runner
	syncer        *reconcile.Syncer
	player        *player.Player
	inputs        *input.Stream
	ids           *sim.IDSequence

	nextInputID       uint64
	held              input.State
	messages          []proto.Message
	initialStateFrame *sim.Frame
	console           []string

	keyMu       sync.Mutex
	pendingKeys []keyEvent
}

func NewSession(cfg Config, deps Deps) *Session {
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
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		cfg:       cfg,
		clock:     deps.Clock,
		transport: deps.Transport,
		renderer:  deps.Renderer,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		pub:       deps.Publisher,
		now:       deps.Now,
		player:    player.New(),
		inputs:    input.NewStream(),
		ids:       sim.NewIDSequence("client"),
	}
	s.latency = latency.New(cfg.Latency, s.clock.Period(), func(ping latency.Ping) {
		if err := s.transport.Send(proto.Ping(ping.Sequence, ping.Timestamp)); err != nil {
			s.logger.Printf("[client] ping %d not sent: %v", ping.Sequence, err)
		}
	})
	s.authoritative = sim.NewRunner(sim.NewSimulation(), cfg.InitialHistory)
	s.prediction = sim.NewRunner(sim.NewSimulation(), cfg.InitialHistory)
	s.authoritative.Reset(s.clock.Frame(), cfg.InitialHistory)
	s.prediction.Reset(s.clock.Frame(), cfg.InitialHistory)
	s.syncer = reconcile.New(s.authoritative, s.prediction, cfg.Reconcile)
	return s
}

// Run ticks the session until ctx is cancelled or the session fails.
func (s *Session) Run(ctx context.Context) error {
	return s.clock.Run(ctx, s.Tick)
}

// HandleKey records a key transition from the frontend. It is processed at
// the start of the next tick as if it happened during the previous frame.
func (s *Session) HandleKey(key input.Key, isDown bool) {
	s.keyMu.Lock()
	s.pendingKeys = append(s.pendingKeys, keyEvent{key: key, isDown: isDown})
	s.keyMu.Unlock()
}

// Tick runs the pipeline for frame.
func (s *Session) Tick(frame sim.Frame) error {
	ctx := context.Background()
	now := s.now()

	s.processKeys(ctx, frame-1)
	s.drainTransport(ctx, frame, now)

	if s.latency.CalibrateNetwork(now) {
		frame = s.calibrate(ctx, frame)
	}

	s.applyMessages(ctx, frame)

	s.player.Update(s.inputs.PopInputs(frame))
	if actions := s.player.PopActions(); len(actions) > 0 {
		s.ids.Stamp(actions)
		s.schedule(ctx, frame, s.prediction, "prediction", actions, frame)
	}

	authFrame := s.authoritative.Update()
	predFrame := s.prediction.Update()
	if authFrame != frame || predFrame != frame {
		simlog.ClockDesync(ctx, s.pub, int64(frame), simlog.ClockDesyncPayload{
			Clock:         int64(frame),
			Authoritative: int64(authFrame),
			Predicted:     int64(predFrame),
		})
		return fmt.Errorf("%w: clock %d, authoritative %d, prediction %d", ErrClockDesync, frame, authFrame, predFrame)
	}

	if s.initialStateFrame != nil {
		s.reconcile(ctx, frame)
	}

	if s.renderer != nil {
		s.renderer.Render(s.view(frame))
	}
	if s.transport != nil {
		if err := s.transport.Flush(); err != nil {
			s.logger.Printf("[client] flush failed: %v", err)
		}
	}
	return nil
}

func (s *Session) processKeys(ctx context.Context, base sim.Frame) {
	s.keyMu.Lock()
	keys := s.pendingKeys
	s.pendingKeys = nil
	s.keyMu.Unlock()
	for _, k := range keys {
		s.held.Set(k.key, k.isDown)
		if !s.player.HasJoined() {
			continue
		}
		event := input.Event{ID: s.nextInputID, Key: k.key, IsDown: k.isDown, State: s.held}
		s.nextInputID++
		local := base + 1 + s.latency.InputLatency()
		s.inputs.ScheduleInput(event, local, 0)
		s.transport.Buffer(proto.Input(event, base+1+s.latency.Latency(), s.cfg.MaxFramesLate))
		if s.cfg.LogKeyEvents {
			inputlog.Key(ctx, s.pub, int64(base), inputlog.KeyPayload{
				InputID: int64(event.ID),
				Key:     string(event.Key),
				IsDown:  event.IsDown,
				Target:  int64(local),
			})
		}
	}
}

func (s *Session) drainTransport(ctx context.Context, frame sim.Frame, now time.Time) {
	if s.transport == nil {
		return
	}
	for _, event := range s.transport.Drain(now) {
		switch event.Kind {
		case ws.EventConnected:
			s.write("Connected to server")
			s.latency.Start(now)
		case ws.EventDisconnected:
			s.disconnect()
		case ws.EventMessage:
			msg := event.Message
			if msg.Type == proto.TypePong {
				elapsed := sim.Frame(s.clock.FramesIn(now.Sub(event.ReceivedAt)))
				s.latency.HandlePong(latency.Pong{Sequence: msg.Sequence, Timestamp: msg.Timestamp, Frame: msg.Frame}, event.ReceivedAt, frame-elapsed)
				continue
			}
			s.messages = append(s.messages, msg)
		}
	}
}

func (s *Session) disconnect() {
	s.write("Disconnected from server...")
	s.latency.Stop()
	s.player.Reset()
	s.messages = nil
	s.initialStateFrame = nil
}

// calibrate rebases the clock onto the authority's frame and restarts the
// session on fresh runners. It returns the frame being assembled.
func (s *Session) calibrate(ctx context.Context, frame sim.Frame) sim.Frame {
	if offset := s.latency.ClockOffset(); offset != 0 {
		s.clock.Rebase(frame + offset)
		frame = s.clock.Frame()
	}
	history := s.latency.HistoryFrames()
	for _, runner := range []*sim.Runner{s.authoritative, s.prediction} {
		runner.Simulation().Restore(sim.Snapshot{})
		runner.Reset(frame-1, history)
	}
	s.player.Reset()
	s.syncer.Reset()
	s.inputs.Reset()
	s.initialStateFrame = nil
	s.transport.Buffer(proto.JoinGame())

	network.Calibrated(ctx, s.pub, int64(frame), network.CalibratedPayload{
		Latency:      int64(s.latency.Latency()),
		InputLatency: int64(s.latency.InputLatency()),
		RTTMillis:    float64(s.latency.RTT()) / float64(time.Millisecond),
		ClockOffset:  int64(s.latency.ClockOffset()),
	})
	simlog.RunnerReset(ctx, s.pub, int64(frame), simlog.RunnerResetPayload{FramesOfHistory: history})
	s.write(fmt.Sprintf("Initialized with %d frames of input latency and %d frames of network latency",
		s.latency.InputLatency(), s.latency.Latency()))
	return frame
}

func (s *Session) applyMessages(ctx context.Context, frame sim.Frame) {
	messages := s.messages
	s.messages = nil
	for _, msg := range messages {
		switch msg.Type {
		case proto.TypeJoinAccept:
			if msg.SimulationState == nil {
				continue
			}
			s.scheduleState(ctx, frame, s.authoritative, "authoritative", *msg.SimulationState, msg.Frame)
			if msg.PlayerState != nil {
				s.player.SetState(*msg.PlayerState)
			}
			s.player.Join()
			if id, ok := s.player.EntityID(); ok {
				s.syncer.Own(id)
			}
			s.inputs.Reset()
			if s.initialStateFrame == nil {
				initial := msg.Frame
				s.initialStateFrame = &initial
				s.scheduleState(ctx, frame, s.prediction, "prediction", *msg.SimulationState, msg.Frame)
			}
		case proto.TypeActions:
			s.schedule(ctx, frame, s.authoritative, "authoritative", msg.Actions, msg.Frame)
			if !msg.CausedByClientInput {
				s.schedule(ctx, frame, s.prediction, "prediction", msg.Actions, msg.Frame)
			}
		case proto.TypeCurrentState:
			if s.initialStateFrame == nil || msg.SimulationState == nil {
				continue
			}
			s.scheduleState(ctx, frame, s.authoritative, "authoritative", *msg.SimulationState, msg.Frame)
			if msg.PlayerState != nil {
				s.player.SetState(*msg.PlayerState)
			}
		}
	}
}

func (s *Session) reconcile(ctx context.Context, frame sim.Frame) {
	s.syncer.Update(s.latency.Latency() - s.latency.InputLatency())
	for _, revision := range s.syncer.PopRevisions() {
		s.ids.Stamp(revision.Actions)
		s.metrics.Add(revisionsMetricKey, uint64(len(revision.Actions)))
		simlog.Revisions(ctx, s.pub, int64(frame), simlog.RevisionsPayload{
			Compared: int64(revision.Frame - 1),
			Actions:  len(revision.Actions),
		})
		s.schedule(ctx, frame, s.prediction, "prediction", revision.Actions, revision.Frame)
	}
}

func (s *Session) schedule(ctx context.Context, frame sim.Frame, runner *sim.Runner, name string, actions []sim.Action, target sim.Frame) {
	s.report(ctx, frame, name, runner.ScheduleActions(actions, target))
}

func (s *Session) scheduleState(ctx context.Context, frame sim.Frame, runner *sim.Runner, name string, state sim.Snapshot, target sim.Frame) {
	s.report(ctx, frame, name, runner.ScheduleState(state, target))
}

// report logs and counts a stale correction; the correction is dropped.
func (s *Session) report(ctx context.Context, frame sim.Frame, runner string, err error) {
	if err == nil {
		return
	}
	var stale *sim.StaleCorrectionError
	if !errors.As(err, &stale) {
		s.logger.Printf("[client] %s runner rejected correction: %v", runner, err)
		return
	}
	s.metrics.Add(staleCorrectionsMetricKey, 1)
	simlog.StaleCorrection(ctx, s.pub, int64(frame), simlog.StaleCorrectionPayload{
		Runner: runner,
		Kind:   stale.Kind,
		Target: int64(stale.Target),
		Oldest: int64(stale.Oldest),
	})
}

func (s *Session) write(line string) {
	s.console = append(s.console, line)
	if len(s.console) > consoleLines {
		s.console = s.console[len(s.console)-consoleLines:]
	}
}

func (s *Session) view(frame sim.Frame) View {
	console := make([]string, len(s.console))
	copy(console, s.console)
	return View{
		Frame:         frame,
		Joined:        s.initialStateFrame != nil && frame >= *s.initialStateFrame,
		Prediction:    s.prediction.Simulation().Snapshot(),
		Authoritative: s.authoritative.Simulation().Snapshot(),
		Player:        s.player.State(),
		Console:       console,
	}
}

// Joined reports whether the authority has accepted this session.
func (s *Session) Joined() bool { return s.player.HasJoined() }

func (s *Session) Latency() (sim.Frame, sim.Frame) {
	return s.latency.Latency(), s.latency.InputLatency()
}

// Prediction exposes the predicted runner for read access.
func (s *Session) Prediction() *sim.Runner { return s.prediction }

// Authoritative exposes the mirror runner for read access.
func (s *Session) Authoritative() *sim.Runner { return s.authoritative }

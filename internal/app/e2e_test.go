package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crateclash/internal/client"
	"crateclash/internal/clock"
	"crateclash/internal/hub"
	"crateclash/internal/input"
	"crateclash/internal/latency"
	"crateclash/internal/master"
	"crateclash/internal/net/proto"
	"crateclash/internal/net/ws"
	"crateclash/internal/sim"
)

type loopback struct {
	t          *testing.T
	hub        *hub.Hub
	hubClock   *clock.Clock
	session    *client.Session
	transport  *ws.Client
	localClock *clock.Clock
}

func newLoopback(t *testing.T, codec proto.Codec) *loopback {
	t.Helper()
	hubClock := clock.New(10 * time.Millisecond)
	authority := hub.New(hub.DefaultConfig(), hub.Deps{Clock: hubClock})
	srv := httptest.NewServer(ws.NewHandler(authority, ws.HandlerConfig{Codec: codec}))
	t.Cleanup(srv.Close)

	transport := ws.NewClient(ws.ClientConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Codec: codec})
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { transport.Close() })

	cfg := client.DefaultConfig()
	cfg.Latency = latency.Config{
		PingsUntilSynced:    3,
		PingsToStore:        4,
		PingsToIgnore:       1,
		PingInterval:        5 * time.Millisecond,
		InitialPingInterval: time.Millisecond,
		LowerBoundWeight:    0.5,
		ExtraFrameBuffer:    4,
	}
	localClock := clock.New(10 * time.Millisecond)
	session := client.NewSession(cfg, client.Deps{Clock: localClock, Transport: transport})

	return &loopback{t: t, hub: authority, hubClock: hubClock, session: session, transport: transport, localClock: localClock}
}

// step ticks both sides once and gives the sockets a moment to deliver.
func (l *loopback) step() {
	l.t.Helper()
	if err := l.hub.Tick(l.hubClock.Tick()); err != nil {
		l.t.Fatalf("hub tick: %v", err)
	}
	if err := l.session.Tick(l.localClock.Tick()); err != nil {
		l.t.Fatalf("session tick: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
}

func (l *loopback) until(what string, cond func() bool) {
	l.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			l.t.Fatalf("timed out waiting for %s", what)
		}
		l.step()
	}
}

func ownSquare(s *client.Session) (sim.Entity, bool) {
	snapshot := s.Prediction().Simulation().Snapshot()
	for _, entity := range snapshot.Entities {
		if entity.Type == sim.EntitySquare {
			return entity, true
		}
	}
	return sim.Entity{}, false
}

func TestClientJoinsAndMovesOverWebsocket(t *testing.T) {
	for _, codec := range []proto.Codec{proto.JSON{}, proto.Msgpack{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			l := newLoopback(t, codec)

			l.until("join", l.session.Joined)
			l.until("world on the prediction", func() bool {
				return len(l.session.Prediction().Simulation().Snapshot().Entities) == master.CrateCount+1
			})

			square, ok := ownSquare(l.session)
			if !ok {
				t.Fatalf("own square missing from prediction")
			}
			startX := square.X

			latencyFrames, inputLatency := l.session.Latency()
			if latencyFrames <= inputLatency {
				t.Fatalf("expected the authority to trail the prediction, got %d/%d", latencyFrames, inputLatency)
			}

			l.session.HandleKey(input.KeyRight, true)
			prev := startX
			for i := 0; i < 30; i++ {
				l.step()
				square, _ := ownSquare(l.session)
				if square.X < prev {
					t.Fatalf("step %d: predicted square moved back from %.1f to %.1f while right is held", i, prev, square.X)
				}
				prev = square.X
			}
			l.until("square to move right on both sides", func() bool {
				predicted, _ := ownSquare(l.session)
				authoritative := l.hub.DiagnosticsSnapshot()
				return predicted.X > startX+10 && authoritative.Players == 1
			})

			if got := l.hub.Frame() - l.session.Prediction().Frame(); got < -1 || got > 1 {
				t.Fatalf("client and authority frames should stay aligned, drift %d", got)
			}
		})
	}
}

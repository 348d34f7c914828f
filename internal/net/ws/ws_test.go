package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crateclash/internal/net/proto"
	"crateclash/internal/player"
	"crateclash/internal/sim"
)

type fakeAuthority struct {
	mu           sync.Mutex
	peers        map[string]Peer
	received     []proto.Message
	disconnected []string
	frame        sim.Frame
}

func newFakeAuthority(frame sim.Frame) *fakeAuthority {
	return &fakeAuthority{peers: make(map[string]Peer), frame: frame}
}

func (a *fakeAuthority) Connect(peer Peer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peers[peer.ID()] = peer
}

func (a *fakeAuthority) Receive(id string, msg proto.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, msg)
}

func (a *fakeAuthority) Disconnect(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.peers, id)
	a.disconnected = append(a.disconnected, id)
}

func (a *fakeAuthority) Frame() sim.Frame { return a.frame }

func (a *fakeAuthority) onlyPeer(t *testing.T) Peer {
	t.Helper()
	var peer Peer
	waitFor(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, p := range a.peers {
			peer = p
		}
		return peer != nil
	})
	return peer
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func startServer(t *testing.T, authority Authority, codec proto.Codec) string {
	t.Helper()
	srv := httptest.NewServer(NewHandler(authority, HandlerConfig{Codec: codec}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drainUntil(t *testing.T, c *Client, kind EventKind, at func() time.Time) Event {
	t.Helper()
	var found Event
	waitFor(t, func() bool {
		for _, event := range c.Drain(at()) {
			if event.Kind == kind {
				found = event
				return true
			}
		}
		return false
	})
	return found
}

func TestRoundTripEveryMessageTypeBothCodecs(t *testing.T) {
	for _, codec := range []proto.Codec{proto.JSON{}, proto.Msgpack{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			authority := newFakeAuthority(77)
			url := startServer(t, authority, codec)
			client := NewClient(ClientConfig{URL: url, Codec: codec})
			if err := client.Connect(context.Background()); err != nil {
				t.Fatalf("connect: %v", err)
			}
			t.Cleanup(func() { client.Close() })
			drainUntil(t, client, EventConnected, time.Now)
			peer := authority.onlyPeer(t)

			if err := client.Send(proto.Ping(1, 1234)); err != nil {
				t.Fatalf("ping: %v", err)
			}
			pong := drainUntil(t, client, EventMessage, time.Now).Message
			if pong.Type != proto.TypePong || pong.Sequence != 1 || pong.Timestamp != 1234 || pong.Frame != 77 {
				t.Fatalf("unexpected pong %+v", pong)
			}

			client.Buffer(proto.JoinGame())
			client.Buffer(proto.Leave())
			if err := client.Flush(); err != nil {
				t.Fatalf("flush: %v", err)
			}
			waitFor(t, func() bool {
				authority.mu.Lock()
				defer authority.mu.Unlock()
				return len(authority.received) == 2
			})
			if authority.received[0].Type != proto.TypeJoinGame || authority.received[1].Type != proto.TypeLeave {
				t.Fatalf("expected arrival order preserved, got %+v", authority.received)
			}

			id := sim.EntityID(2)
			state := sim.Snapshot{Entities: []sim.Entity{{ID: 2, Type: sim.EntitySquare}}}
			peer.Buffer(proto.JoinAccept(80, state, playerState(&id)))
			peer.Buffer(proto.Actions(81, []sim.Action{{ID: "server_00000000", Type: sim.ActionAttack, EntityID: 2}}, true))
			if err := peer.Flush(); err != nil {
				t.Fatalf("peer flush: %v", err)
			}
			var got []proto.Message
			waitFor(t, func() bool {
				for _, event := range client.Drain(time.Now()) {
					if event.Kind == EventMessage {
						got = append(got, event.Message)
					}
				}
				return len(got) == 2
			})
			if got[0].Type != proto.TypeJoinAccept || *got[0].PlayerState.EntityID != 2 || got[1].Type != proto.TypeActions || !got[1].CausedByClientInput {
				t.Fatalf("unexpected messages %+v", got)
			}
		})
	}
}

func TestDisconnectReachesBothSides(t *testing.T) {
	authority := newFakeAuthority(0)
	url := startServer(t, authority, proto.JSON{})
	client := NewClient(ClientConfig{URL: url})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	authority.onlyPeer(t)
	client.Close()
	drainUntil(t, client, EventDisconnected, time.Now)
	waitFor(t, func() bool {
		authority.mu.Lock()
		defer authority.mu.Unlock()
		return len(authority.disconnected) == 1
	})
	if client.Connected() {
		t.Fatalf("expected client to report disconnected")
	}
	if err := client.Send(proto.Ping(1, 0)); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRedialQueuesConnectedAfterDisconnected(t *testing.T) {
	authority := newFakeAuthority(0)
	url := startServer(t, authority, proto.JSON{})
	client := NewClient(ClientConfig{URL: url})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	drainUntil(t, client, EventConnected, time.Now)

	client.Close()
	waitFor(t, func() bool { return !client.Connected() })
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	var kinds []EventKind
	for _, event := range client.Drain(time.Now().Add(time.Hour)) {
		kinds = append(kinds, event.Kind)
	}
	if len(kinds) != 2 || kinds[0] != EventDisconnected || kinds[1] != EventConnected {
		t.Fatalf("expected disconnected then connected, got %v", kinds)
	}
	if !client.Connected() {
		t.Fatalf("expected the redialled connection to stay up")
	}
}

func TestArtificialLagDelaysInboundInOrder(t *testing.T) {
	authority := newFakeAuthority(5)
	url := startServer(t, authority, proto.JSON{})
	client := NewClient(ClientConfig{URL: url, Lag: LagConfig{RoundTrip: time.Hour, Variation: 0.1, Seed: 1}})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	drainUntil(t, client, EventConnected, time.Now)
	for seq := uint64(1); seq <= 3; seq++ {
		if err := client.Send(proto.Ping(seq, 0)); err != nil {
			t.Fatal(err)
		}
	}
	future := func() time.Time { return time.Now().Add(3 * time.Hour) }
	var seqs []uint64
	waitFor(t, func() bool {
		if events := client.Drain(time.Now()); len(events) > 0 {
			t.Fatalf("lagged events delivered early: %+v", events)
		}
		for _, event := range client.Drain(future()) {
			seqs = append(seqs, event.Message.Sequence)
		}
		return len(seqs) == 3
	})
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("expected in-order delivery, got %v", seqs)
		}
	}
}

func playerState(id *sim.EntityID) player.State {
	return player.State{EntityID: id}
}

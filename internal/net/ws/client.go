package ws

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crateclash/internal/net/proto"
	"crateclash/internal/telemetry"
	"crateclash/logging"
)

// ErrNotConnected is returned when sending without an open connection.
var ErrNotConnected = errors.New("ws: not connected")

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is something the client transport observed. ReceivedAt is the
// moment the event became visible to the session, after any artificial lag.
type Event struct {
	Kind       EventKind
	Message    proto.Message
	ReceivedAt time.Time
}

// LagConfig adds artificial round-trip delay to inbound traffic for
// testing. Variation in [0,1] spreads each delay between
// RoundTrip*(1-Variation) and RoundTrip*(1+Variation). Delivery order is
// preserved.
type LagConfig struct {
	RoundTrip time.Duration
	Variation float64
	Seed      int64
}

type ClientConfig struct {
	URL        string
	Codec      proto.Codec
	Lag        LagConfig
	Dialer     *websocket.Dialer
	Logger     telemetry.Logger
	Publisher  logging.Publisher
	LogTraffic bool
	Now        func() time.Time
}

// Client is the client side transport. Inbound traffic is collected by a
// reader goroutine and handed to the tick loop through Drain.
type Client struct {
	cfg    ClientConfig
	codec  proto.Codec
	dialer *websocket.Dialer
	logger telemetry.Logger
	pub    logging.Publisher
	now    func() time.Time

	mu          sync.Mutex
	conn        *websocket.Conn
	inbox       []Event
	lastDeliver time.Time
	rng         *rand.Rand
	outbox      []proto.Message

	writeMu sync.Mutex
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{cfg: cfg, codec: cfg.Codec, dialer: cfg.Dialer, logger: cfg.Logger, pub: cfg.Publisher, now: cfg.Now}
	if c.codec == nil {
		c.codec = proto.JSON{}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.logger == nil {
		c.logger = telemetry.NopLogger()
	}
	if c.pub == nil {
		c.pub = logging.NopPublisher()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.rng = rand.New(rand.NewSource(cfg.Lag.Seed))
	return c
}

// Connect dials the authority. A connected event is queued on success and
// a disconnected event once the connection drops.
func (c *Client) Connect(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("ws: dial %s: %w", c.cfg.URL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.outbox = nil
	c.pushLocked(Event{Kind: EventConnected}, 0)
	c.mu.Unlock()
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			// Same critical section as the clear, so a redial always
			// queues its connected event after this one.
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.pushLocked(Event{Kind: EventDisconnected}, 0)
			}
			c.mu.Unlock()
			return
		}
		msg, err := c.codec.Decode(payload)
		if err != nil {
			c.logger.Printf("discarding malformed message: %v", err)
			continue
		}
		if c.cfg.LogTraffic {
			traceInbound(c.pub, msg)
		}
		c.push(Event{Kind: EventMessage, Message: msg}, c.delay())
	}
}

func (c *Client) delay() time.Duration {
	lag := c.cfg.Lag
	if lag.RoundTrip <= 0 {
		return 0
	}
	c.mu.Lock()
	r := c.rng.Float64()
	c.mu.Unlock()
	d := time.Duration(float64(lag.RoundTrip) * (1 + lag.Variation*(2*r-1)))
	if d < 0 {
		return 0
	}
	return d
}

func (c *Client) push(event Event, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushLocked(event, delay)
}

func (c *Client) pushLocked(event Event, delay time.Duration) {
	at := c.now().Add(delay)
	if at.Before(c.lastDeliver) {
		at = c.lastDeliver
	}
	c.lastDeliver = at
	event.ReceivedAt = at
	c.inbox = append(c.inbox, event)
}

// Drain returns, in arrival order, every event visible at now.
func (c *Client) Drain(now time.Time) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for n < len(c.inbox) && !c.inbox[n].ReceivedAt.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	events := make([]Event, n)
	copy(events, c.inbox[:n])
	c.inbox = append(c.inbox[:0], c.inbox[n:]...)
	return events
}

// Buffer queues msg for the next Flush. Messages buffered while
// disconnected are discarded on Flush.
func (c *Client) Buffer(msg proto.Message) {
	c.mu.Lock()
	c.outbox = append(c.outbox, msg)
	c.mu.Unlock()
}

func (c *Client) Flush() error {
	c.mu.Lock()
	conn := c.conn
	outbox := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	for _, msg := range outbox {
		if err := writeMessage(&c.writeMu, conn, c.codec, msg, c.cfg.LogTraffic, c.pub); err != nil {
			return err
		}
	}
	return nil
}

// Send writes msg immediately. Pings use it so that RTT samples do not
// include time spent waiting for the next flush.
func (c *Client) Send(msg proto.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return writeMessage(&c.writeMu, conn, c.codec, msg, c.cfg.LogTraffic, c.pub)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close sends a close frame; the reader goroutine then reports the
// disconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return conn.Close()
}

// Package ws carries protocol messages over gorilla websockets for both
// the authority and the client.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crateclash/internal/net/proto"
	"crateclash/logging"
	"crateclash/logging/network"
)

const writeWait = 5 * time.Second

// Peer is one connected participant as seen by the authority. Buffered
// messages go out together on Flush, once per tick.
type Peer interface {
	ID() string
	Buffer(msg proto.Message)
	Flush() error
}

// Conn is the authority side of a websocket connection.
type Conn struct {
	id    string
	ws    *websocket.Conn
	codec proto.Codec
	pub   logging.Publisher
	trace bool

	mu      sync.Mutex
	pending []proto.Message

	writeMu sync.Mutex
}

func newConn(id string, ws *websocket.Conn, codec proto.Codec, pub logging.Publisher, trace bool) *Conn {
	return &Conn{id: id, ws: ws, codec: codec, pub: pub, trace: trace}
}

func (c *Conn) ID() string { return c.id }

// Buffer queues msg for the next Flush. Safe for concurrent use.
func (c *Conn) Buffer(msg proto.Message) {
	c.mu.Lock()
	c.pending = append(c.pending, msg)
	c.mu.Unlock()
}

// Flush writes every buffered message in order.
func (c *Conn) Flush() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, msg := range pending {
		if err := c.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Send writes msg immediately, bypassing the buffer.
func (c *Conn) Send(msg proto.Message) error {
	return writeMessage(&c.writeMu, c.ws, c.codec, msg, c.trace, c.pub)
}

func (c *Conn) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.ws.Close()
}

func writeMessage(mu *sync.Mutex, conn *websocket.Conn, codec proto.Codec, msg proto.Message, trace bool, pub logging.Publisher) error {
	data, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	frameType := websocket.TextMessage
	if codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	mu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(frameType, data)
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("ws: write %s: %w", msg.Type, err)
	}
	if trace {
		network.Traffic(context.Background(), pub, int64(msg.Frame), network.TrafficPayload{Direction: "out", Type: string(msg.Type), Frame: int64(msg.Frame)})
	}
	return nil
}

func traceInbound(pub logging.Publisher, msg proto.Message) {
	network.Traffic(context.Background(), pub, int64(msg.Frame), network.TrafficPayload{Direction: "in", Type: string(msg.Type), Frame: int64(msg.Frame)})
}

package ws

import (
	"context"
	nethttp "net/http"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"crateclash/internal/net/proto"
	"crateclash/internal/sim"
	"crateclash/internal/telemetry"
	"crateclash/logging"
	"crateclash/logging/network"
)

// Authority receives connection lifecycle and messages from the handler.
// Connect, Receive and Disconnect may be called from many goroutines.
type Authority interface {
	Connect(peer Peer)
	Receive(peerID string, msg proto.Message)
	Disconnect(peerID string)
	// Frame is stamped on pongs so clients can align their clocks.
	Frame() sim.Frame
}

type HandlerConfig struct {
	Codec      proto.Codec
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Publisher  logging.Publisher
	LogTraffic bool
}

// Handler upgrades HTTP requests and pumps messages into the authority.
type Handler struct {
	authority Authority
	codec     proto.Codec
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	pub       logging.Publisher
	trace     bool
	upgrader  websocket.Upgrader
}

func NewHandler(authority Authority, cfg HandlerConfig) *Handler {
	codec := cfg.Codec
	if codec == nil {
		codec = proto.JSON{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Handler{
		authority: authority,
		codec:     codec,
		logger:    logger,
		metrics:   metrics,
		pub:       pub,
		trace:     cfg.LogTraffic,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

func (h *Handler) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	conn := newConn(ulid.Make().String(), wsConn, h.codec, h.pub, h.trace)
	subject := logging.Subject{ID: conn.ID(), Kind: logging.SubjectConnection}
	h.metrics.Add("ws_connections_total", 1)
	network.Connected(r.Context(), h.pub, int64(h.authority.Frame()), subject)
	h.authority.Connect(conn)

	defer func() {
		h.authority.Disconnect(conn.ID())
		network.Disconnected(context.Background(), h.pub, int64(h.authority.Frame()), subject)
		conn.close()
	}()

	for {
		_, payload, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := h.codec.Decode(payload)
		if err != nil {
			h.metrics.Add("ws_malformed_messages_total", 1)
			h.logger.Printf("discarding malformed message from %s: %v", conn.ID(), err)
			continue
		}
		if h.trace {
			traceInbound(h.pub, msg)
		}
		if msg.Type == proto.TypePing {
			if err := conn.Send(proto.Pong(msg, h.authority.Frame())); err != nil {
				h.logger.Printf("pong to %s failed: %v", conn.ID(), err)
				return
			}
			continue
		}
		h.authority.Receive(conn.ID(), msg)
	}
}

package hub

import (
	"sync"

	"crateclash/internal/net/proto"
	"crateclash/internal/net/ws"
	"crateclash/internal/telemetry"
)

const (
	inboxOccupancyMetricKey = "hub_inbox_occupancy"
	inboxOverflowMetricKey  = "hub_inbox_overflow_total"
)

type inboundKind int

const (
	inboundConnect inboundKind = iota
	inboundMessage
	inboundDisconnect
	inboundReset
)

type inbound struct {
	kind    inboundKind
	peerID  string
	peer    ws.Peer
	message proto.Message
	seed    int64
}

// inbox stores everything that arrived between ticks in a fixed-size ring.
// It is safe for concurrent producers and a single consumer.
type inbox struct {
	mu      sync.Mutex
	data    []inbound
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

func newInbox(capacity int, metrics telemetry.Metrics) *inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &inbox{data: make([]inbound, capacity), metrics: metrics}
}

// push returns false if the ring is full.
func (b *inbox) push(item inbound) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.metrics.Add(inboxOverflowMetricKey, 1)
		return false
	}
	b.data[b.tail] = item
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.metrics.Store(inboxOccupancyMetricKey, uint64(b.count))
	return true
}

// drain returns every staged item in arrival order and empties the ring.
func (b *inbox) drain() []inbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	items := make([]inbound, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		items[i] = b.data[idx]
		b.data[idx] = inbound{}
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.metrics.Store(inboxOccupancyMetricKey, 0)
	return items
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

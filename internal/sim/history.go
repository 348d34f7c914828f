package sim

import "fmt"

// HistoryEntry is one retained frame: the state after the frame was
// advanced and the actions that were applied to produce it.
type HistoryEntry struct {
	Frame         Frame
	State         Snapshot
	Actions       []Action
	Authoritative bool
}

// history is a fixed-capacity ring of contiguous frames indexed by offset
// from the oldest retained frame. Pushing onto a full ring evicts the oldest.
type history struct {
	first Frame
	start int
	count int
	data  []HistoryEntry
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{data: make([]HistoryEntry, capacity)}
}

func (h *history) reset(capacity int, base HistoryEntry) {
	if capacity < 1 {
		capacity = 1
	}
	h.data = make([]HistoryEntry, capacity)
	h.first = base.Frame
	h.start = 0
	h.count = 1
	h.data[0] = base
}

func (h *history) capacity() int { return len(h.data) }

func (h *history) oldest() Frame { return h.first }

func (h *history) newest() Frame { return h.first + Frame(h.count) - 1 }

func (h *history) contains(frame Frame) bool {
	return h.count > 0 && frame >= h.first && frame <= h.newest()
}

func (h *history) index(frame Frame) int {
	if !h.contains(frame) {
		panic(fmt.Sprintf("frame %d outside history window %d - %d", frame, h.first, h.newest()))
	}
	return (h.start + int(frame-h.first)) % len(h.data)
}

// at returns a pointer into the ring; it stays valid until the next push.
func (h *history) at(frame Frame) *HistoryEntry {
	return &h.data[h.index(frame)]
}

func (h *history) latest() *HistoryEntry {
	return h.at(h.newest())
}

// push appends the entry for newest()+1.
func (h *history) push(entry HistoryEntry) {
	if h.count > 0 && entry.Frame != h.newest()+1 {
		panic(fmt.Sprintf("history push out of order: have %d, got %d", h.newest(), entry.Frame))
	}
	if h.count == 0 {
		h.first = entry.Frame
	}
	if h.count == len(h.data) {
		h.data[h.start] = HistoryEntry{}
		h.start = (h.start + 1) % len(h.data)
		h.first++
		h.count--
	}
	h.data[(h.start+h.count)%len(h.data)] = entry
	h.count++
}

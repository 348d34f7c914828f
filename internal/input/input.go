// Package input buffers locally captured key events until the frame at
// which they take effect.
package input

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"crateclash/internal/sim"
)

// Key is a logical key, independent of the physical key that produced it.
type Key string

const (
	KeyUp     Key = "UP"
	KeyDown   Key = "DOWN"
	KeyLeft   Key = "LEFT"
	KeyRight  Key = "RIGHT"
	KeyAttack Key = "ATTACK"
)

// Valid reports whether k is one of the known logical keys.
func (k Key) Valid() bool {
	switch k {
	case KeyUp, KeyDown, KeyLeft, KeyRight, KeyAttack:
		return true
	}
	return false
}

// State is the set of logical keys held at the moment an event was captured.
type State struct {
	Up     bool `json:"up,omitempty" msgpack:"up,omitempty"`
	Down   bool `json:"down,omitempty" msgpack:"down,omitempty"`
	Left   bool `json:"left,omitempty" msgpack:"left,omitempty"`
	Right  bool `json:"right,omitempty" msgpack:"right,omitempty"`
	Attack bool `json:"attack,omitempty" msgpack:"attack,omitempty"`
}

// Set records key as held or released.
func (s *State) Set(key Key, down bool) {
	switch key {
	case KeyUp:
		s.Up = down
	case KeyDown:
		s.Down = down
	case KeyLeft:
		s.Left = down
	case KeyRight:
		s.Right = down
	case KeyAttack:
		s.Attack = down
	}
}

func (s State) Directions() sim.Directions {
	return sim.Directions{Up: s.Up, Down: s.Down, Left: s.Left, Right: s.Right}
}

// Event is one key transition.
type Event struct {
	ID     uint64 `json:"id" msgpack:"id"`
	Key    Key    `json:"key" msgpack:"key"`
	IsDown bool   `json:"isDown" msgpack:"isDown"`
	State  State  `json:"state" msgpack:"state"`
}

func (e Event) String() string {
	dir := "up"
	if e.IsDown {
		dir = "down"
	}
	return fmt.Sprintf("input %d %s %s", e.ID, e.Key, dir)
}

type scheduled struct {
	event    Event
	target   sim.Frame
	priority int
	seq      uint64
}

// Stream is a time-indexed queue of inputs. It is owned by the tick loop and
// is not safe for concurrent use.
type Stream struct {
	entries []scheduled
	nextSeq uint64
}

func NewStream() *Stream {
	return &Stream{}
}

// ScheduleInput queues event to take effect at target. Lower priority
// values come first among entries for the same frame.
func (s *Stream) ScheduleInput(event Event, target sim.Frame, priority int) {
	s.entries = append(s.entries, scheduled{event: event, target: target, priority: priority, seq: s.nextSeq})
	s.nextSeq++
}

// PopInputs removes and returns every entry due at or before frame, ordered
// by target frame, then priority, then insertion.
func (s *Stream) PopInputs(frame sim.Frame) []Event {
	var due []scheduled
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.target <= frame {
			due = append(due, entry)
		} else {
			kept = append(kept, entry)
		}
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = scheduled{}
	}
	s.entries = kept
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.target != b.target {
			return a.target < b.target
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
	events := make([]Event, len(due))
	for i, entry := range due {
		events[i] = entry.event
	}
	return events
}

// Reset drops everything pending.
func (s *Stream) Reset() {
	s.entries = nil
}

func (s *Stream) Len() int { return len(s.entries) }

// Bindings maps physical key codes to logical keys.
type Bindings map[int]Key

// DefaultBindings covers arrows, WASD and space.
func DefaultBindings() Bindings {
	return Bindings{
		38: KeyUp, 87: KeyUp,
		37: KeyLeft, 65: KeyLeft,
		40: KeyDown, 83: KeyDown,
		39: KeyRight, 68: KeyRight,
		32: KeyAttack,
	}
}

func (b Bindings) Lookup(code int) (Key, bool) {
	key, ok := b[code]
	return key, ok
}

// ParseBindings reads "code:NAME,code:NAME" pairs.
func ParseBindings(raw string) (Bindings, error) {
	bindings := make(Bindings)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		codeText, name, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("input: binding %q missing ':'", pair)
		}
		code, err := strconv.Atoi(strings.TrimSpace(codeText))
		if err != nil {
			return nil, fmt.Errorf("input: binding %q: %w", pair, err)
		}
		key := Key(strings.ToUpper(strings.TrimSpace(name)))
		if !key.Valid() {
			return nil, fmt.Errorf("input: binding %q: unknown key %q", pair, name)
		}
		bindings[code] = key
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("input: no bindings in %q", raw)
	}
	return bindings, nil
}

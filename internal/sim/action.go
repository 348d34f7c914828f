package sim

import (
	"fmt"
	"sort"
)

// ActionType enumerates the supported simulation actions.
type ActionType string

const (
	ActionSpawn    ActionType = "spawn-entity"
	ActionDespawn  ActionType = "despawn-entity"
	ActionPush     ActionType = "push"
	ActionMove     ActionType = "move"
	ActionSetInput ActionType = "set-input"
	ActionAttack   ActionType = "attack"
	ActionRevise   ActionType = "revise-entity"
)

// Push carries the impulse source for a push action.
type Push struct {
	Speed float64 `json:"speed" msgpack:"speed"`
	FromX float64 `json:"fromX" msgpack:"fromX"`
	FromY float64 `json:"fromY" msgpack:"fromY"`
}

// Action is the only way entity state changes. Applying an action whose ID
// was already applied at the same frame is a no-op.
type Action struct {
	ID         string       `json:"id" msgpack:"id"`
	Type       ActionType   `json:"type" msgpack:"type"`
	Frame      Frame        `json:"frame,omitempty" msgpack:"frame,omitempty"`
	EntityID   EntityID     `json:"entityId" msgpack:"entityId"`
	EntityType EntityType   `json:"entityType,omitempty" msgpack:"entityType,omitempty"`
	State      *EntityState `json:"state,omitempty" msgpack:"state,omitempty"`
	Push       *Push        `json:"push,omitempty" msgpack:"push,omitempty"`
	DX         float64      `json:"dx,omitempty" msgpack:"dx,omitempty"`
	DY         float64      `json:"dy,omitempty" msgpack:"dy,omitempty"`
	Input      *Directions  `json:"input,omitempty" msgpack:"input,omitempty"`
}

// SortActions orders actions by id, the deterministic tie-break used when
// several actions share a frame.
func SortActions(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].ID < actions[j].ID
	})
}

// mergeActions appends the actions whose ids are not yet present in dst,
// stamping them with frame. It reports whether anything was added.
func mergeActions(dst []Action, actions []Action, frame Frame) ([]Action, bool) {
	added := false
	for _, action := range actions {
		if action.ID != "" && containsAction(dst, action.ID) {
			continue
		}
		action.Frame = frame
		dst = append(dst, action)
		added = true
	}
	return dst, added
}

func containsAction(actions []Action, id string) bool {
	for _, existing := range actions {
		if existing.ID == id {
			return true
		}
	}
	return false
}

// IDSequence hands out unique action ids with a fixed prefix. It is owned by
// the single component that allocates ids on its side of the wire.
type IDSequence struct {
	prefix string
	next   uint64
}

func NewIDSequence(prefix string) *IDSequence {
	return &IDSequence{prefix: prefix}
}

// Next returns the following id. Sequence numbers are padded to the width of
// a uint64 so string order always matches allocation order.
func (s *IDSequence) Next() string {
	id := fmt.Sprintf("%s_%020d", s.prefix, s.next)
	s.next++
	return id
}

// Stamp assigns a fresh id to every action in place and returns the slice.
func (s *IDSequence) Stamp(actions []Action) []Action {
	for i := range actions {
		actions[i].ID = s.Next()
	}
	return actions
}

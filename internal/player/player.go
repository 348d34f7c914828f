// Package player turns a participant's inputs into actions on the entity it
// controls.
package player

import (
	"crateclash/internal/input"
	"crateclash/internal/sim"
)

// State is the part of a player that the authority owns and sends to the
// client.
type State struct {
	EntityID *sim.EntityID `json:"entityId" msgpack:"entityId"`
}

// Player binds one participant to one entity. The same type drives the
// client prediction and the authority's per-connection bookkeeping.
type Player struct {
	entityID *sim.EntityID
	joined   bool
	actions  []sim.Action
}

func New() *Player {
	return &Player{}
}

// Update converts due inputs into actions. Direction keys produce a
// set-input carrying every held direction; pressing attack produces an
// attack. Inputs are ignored while no entity is bound.
func (p *Player) Update(inputs []input.Event) {
	if p.entityID == nil {
		return
	}
	id := *p.entityID
	for _, event := range inputs {
		switch event.Key {
		case input.KeyUp, input.KeyDown, input.KeyLeft, input.KeyRight:
			dirs := event.State.Directions()
			p.actions = append(p.actions, sim.Action{Type: sim.ActionSetInput, EntityID: id, Input: &dirs})
		case input.KeyAttack:
			if event.IsDown {
				p.actions = append(p.actions, sim.Action{Type: sim.ActionAttack, EntityID: id})
			}
		}
	}
}

// PopActions hands the queued actions to the caller. Ids are assigned by
// the caller's sequence.
func (p *Player) PopActions() []sim.Action {
	actions := p.actions
	p.actions = nil
	return actions
}

func (p *Player) Join() { p.joined = true }

func (p *Player) HasJoined() bool { return p.joined }

// SetState adopts the authority's view of this player.
func (p *Player) SetState(state State) {
	if state.EntityID == nil {
		p.entityID = nil
		return
	}
	id := *state.EntityID
	p.entityID = &id
}

func (p *Player) State() State {
	if p.entityID == nil {
		return State{}
	}
	id := *p.entityID
	return State{EntityID: &id}
}

func (p *Player) EntityID() (sim.EntityID, bool) {
	if p.entityID == nil {
		return 0, false
	}
	return *p.entityID, true
}

// Reset unbinds the entity, leaves the game and drops queued actions.
func (p *Player) Reset() {
	p.entityID = nil
	p.joined = false
	p.actions = nil
}

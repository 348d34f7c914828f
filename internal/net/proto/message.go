// Package proto defines the envelope exchanged between clients and the
// authority and the codecs that put it on the wire.
package proto

import (
	"crateclash/internal/input"
	"crateclash/internal/player"
	"crateclash/internal/sim"
)

// Type tags a message.
type Type string

const (
	TypeJoinGame     Type = "join-game"
	TypeJoinAccept   Type = "join-accept"
	TypeActions      Type = "actions"
	TypeCurrentState Type = "current-state"
	TypeInput        Type = "input"
	TypeLeave        Type = "leave"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
)

// Types lists every message type in declaration order.
var Types = []Type{
	TypeJoinGame, TypeJoinAccept, TypeActions, TypeCurrentState,
	TypeInput, TypeLeave, TypePing, TypePong,
}

func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Message is the single envelope for every message type; fields that do
// not apply to a type are left empty.
type Message struct {
	Type                Type          `json:"type" msgpack:"type" jsonschema:"required,enum=join-game,enum=join-accept,enum=actions,enum=current-state,enum=input,enum=leave,enum=ping,enum=pong,description=Message discriminator"`
	Frame               sim.Frame     `json:"frame,omitempty" msgpack:"frame,omitempty" jsonschema:"description=Frame the payload applies to; for pongs the authority frame at reply"`
	Actions             []sim.Action  `json:"actions,omitempty" msgpack:"actions,omitempty" jsonschema:"description=Actions to schedule at frame"`
	CausedByClientInput bool          `json:"causedByClientInput,omitempty" msgpack:"causedByClientInput,omitempty" jsonschema:"description=Set when the actions answer this client's own input"`
	SimulationState     *sim.Snapshot `json:"simulationState,omitempty" msgpack:"simulationState,omitempty" jsonschema:"description=Full authoritative state at frame"`
	PlayerState         *player.State `json:"playerState,omitempty" msgpack:"playerState,omitempty" jsonschema:"description=Authority view of the receiving player"`
	Input               *input.Event  `json:"input,omitempty" msgpack:"input,omitempty" jsonschema:"description=Key event captured by a client"`
	MaxFramesLate       int           `json:"maxFramesLate,omitempty" msgpack:"maxFramesLate,omitempty" jsonschema:"minimum=0,description=How many frames past frame the input may still be honoured"`
	Sequence            uint64        `json:"sequence,omitempty" msgpack:"sequence,omitempty" jsonschema:"description=Ping sequence number"`
	Timestamp           int64         `json:"timestamp,omitempty" msgpack:"timestamp,omitempty" jsonschema:"description=Sender wall clock in unix milliseconds"`
}

func JoinGame() Message { return Message{Type: TypeJoinGame} }

func Leave() Message { return Message{Type: TypeLeave} }

func JoinAccept(frame sim.Frame, state sim.Snapshot, ps player.State) Message {
	return Message{Type: TypeJoinAccept, Frame: frame, SimulationState: &state, PlayerState: &ps}
}

func CurrentState(frame sim.Frame, state sim.Snapshot, ps player.State) Message {
	return Message{Type: TypeCurrentState, Frame: frame, SimulationState: &state, PlayerState: &ps}
}

func Actions(frame sim.Frame, actions []sim.Action, causedByClientInput bool) Message {
	return Message{Type: TypeActions, Frame: frame, Actions: actions, CausedByClientInput: causedByClientInput}
}

func Input(event input.Event, frame sim.Frame, maxFramesLate int) Message {
	return Message{Type: TypeInput, Input: &event, Frame: frame, MaxFramesLate: maxFramesLate}
}

func Ping(sequence uint64, timestamp int64) Message {
	return Message{Type: TypePing, Sequence: sequence, Timestamp: timestamp}
}

// Pong answers ping and stamps the authority frame.
func Pong(ping Message, frame sim.Frame) Message {
	return Message{Type: TypePong, Sequence: ping.Sequence, Timestamp: ping.Timestamp, Frame: frame}
}

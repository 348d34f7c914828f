package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnknownType is returned when a decoded message carries an unknown type.
var ErrUnknownType = errors.New("proto: unknown message type")

// Codec turns messages into websocket frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames must be sent as binary websocket messages.
	Binary() bool
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName resolves a codec from configuration. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("proto: unknown codec %q", name)
	}
}

// JSON sends messages as text frames.
type JSON struct{}

func (JSON) Name() string { return CodecJSON }
func (JSON) Binary() bool { return false }

func (JSON) Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("proto: encode %s: %w", msg.Type, err)
	}
	return data, nil
}

func (JSON) Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("proto: decode json: %w", err)
	}
	return validate(msg)
}

// Msgpack sends messages as binary frames.
type Msgpack struct{}

func (Msgpack) Name() string { return CodecMsgpack }
func (Msgpack) Binary() bool { return true }

func (Msgpack) Encode(msg Message) ([]byte, error) {
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("proto: encode %s: %w", msg.Type, err)
	}
	return data, nil
}

func (Msgpack) Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("proto: decode msgpack: %w", err)
	}
	return validate(msg)
}

func validate(msg Message) (Message, error) {
	if !msg.Type.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return msg, nil
}

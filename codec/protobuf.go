package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message stores typed proto messages in their binary wire form. newMsg
// returns an empty message to decode into.
type Message[T proto.Message] struct {
	newMsg func() T
}

func NewMessage[T proto.Message](newMsg func() T) Message[T] {
	return Message[T]{newMsg: newMsg}
}

func (m Message[T]) Encode(v T) ([]byte, error) { return proto.Marshal(v) }

func (m Message[T]) Decode(b []byte) (T, error) {
	out := m.newMsg()
	if err := proto.Unmarshal(b, out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

var valueMessage = NewMessage(func() *structpb.Value { return new(structpb.Value) })

// Struct stores JSON-shaped `any` values as a google.protobuf.Value.
// Like JSON, numbers come back as float64.
type Struct struct{}

var _ Codec[any] = Struct{}

func (Struct) Encode(v any) ([]byte, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		// typed slices/maps/structs: normalize through JSON first
		norm, nerr := normalizeJSON(v)
		if nerr != nil {
			return nil, fmt.Errorf("protobuf struct encode: %w", err)
		}
		if pv, err = structpb.NewValue(norm); err != nil {
			return nil, fmt.Errorf("protobuf struct encode: %w", err)
		}
	}
	return valueMessage.Encode(pv)
}

func (Struct) Decode(b []byte) (any, error) {
	pv, err := valueMessage.Decode(b)
	if err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}

func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

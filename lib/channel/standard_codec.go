package channel

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// StandardCodec is the default method codec. It serializes calls and
// values as protobuf using the structpb well-known types, so any
// JSON-like value (nil, bool, numbers, strings, lists, string-keyed
// maps) round-trips without generated message types.
type StandardCodec struct{}

const (
	callFieldMethod = "method"
	callFieldArgs   = "args"
)

// EncodeMethodCall implements MethodCodec.
func (StandardCodec) EncodeMethodCall(call MethodCall) ([]byte, error) {
	args, err := structpb.NewValue(call.Arguments)
	if err != nil {
		return nil, fmt.Errorf("channel: encode call arguments: %w", err)
	}

	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		callFieldMethod: structpb.NewStringValue(call.Method),
		callFieldArgs:   args,
	}}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("channel: marshal call: %w", err)
	}
	return data, nil
}

// DecodeMethodCall implements MethodCodec.
func (StandardCodec) DecodeMethodCall(data []byte) (MethodCall, error) {
	msg := new(structpb.Struct)
	if err := proto.Unmarshal(data, msg); err != nil {
		return MethodCall{}, fmt.Errorf("channel: unmarshal call: %w", err)
	}

	methodValue, ok := msg.GetFields()[callFieldMethod]
	if !ok {
		return MethodCall{}, fmt.Errorf("channel: call has no method field")
	}

	call := MethodCall{Method: methodValue.GetStringValue()}
	if args, ok := msg.GetFields()[callFieldArgs]; ok {
		call.Arguments = args.AsInterface()
	}
	return call, nil
}

// EncodeValue implements MethodCodec.
func (StandardCodec) EncodeValue(value any) ([]byte, error) {
	wrapped, err := structpb.NewValue(value)
	if err != nil {
		return nil, fmt.Errorf("channel: encode value: %w", err)
	}
	data, err := proto.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("channel: marshal value: %w", err)
	}
	return data, nil
}

// DecodeValue implements MethodCodec.
func (StandardCodec) DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	wrapped := new(structpb.Value)
	if err := proto.Unmarshal(data, wrapped); err != nil {
		return nil, fmt.Errorf("channel: unmarshal value: %w", err)
	}
	return wrapped.AsInterface(), nil
}

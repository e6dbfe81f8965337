package channel

import (
	"encoding/json"
	"fmt"
)

// MethodCodec serializes method calls and result values for one channel.
// Error bodies are always JSON (see EncodeResultPayload) so that a host
// can report a failure even when the value codec cannot express it.
type MethodCodec interface {
	// EncodeMethodCall serializes a call into a request payload.
	EncodeMethodCall(call MethodCall) ([]byte, error)

	// DecodeMethodCall deserializes a request payload into a call.
	DecodeMethodCall(data []byte) (MethodCall, error)

	// EncodeValue serializes a success value.
	EncodeValue(value any) ([]byte, error)

	// DecodeValue deserializes a success value.
	DecodeValue(data []byte) (any, error)
}

// errorBody is the payload of a StatusError response, independent of the
// channel's value codec.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// EncodeResultPayload serializes a method result into a response payload.
// OK values go through the codec, error bodies are JSON, and
// not-implemented has no payload at all.
func EncodeResultPayload(codec MethodCodec, result MethodResult) ([]byte, error) {
	switch result.Status {
	case StatusOK:
		return codec.EncodeValue(result.Value)
	case StatusError:
		data, err := json.Marshal(errorBody{Code: result.Code, Message: result.Message, Details: result.Details})
		if err != nil {
			return nil, fmt.Errorf("channel: encode error body: %w", err)
		}
		return data, nil
	case StatusNotImplemented:
		return nil, nil
	default:
		return nil, fmt.Errorf("channel: unknown result status %d", result.Status)
	}
}

// DecodeResultPayload reverses EncodeResultPayload for the given status.
func DecodeResultPayload(codec MethodCodec, status Status, payload []byte) (MethodResult, error) {
	switch status {
	case StatusOK:
		value, err := codec.DecodeValue(payload)
		if err != nil {
			return MethodResult{}, fmt.Errorf("channel: decode success value: %w", err)
		}
		return Success(value), nil
	case StatusError:
		var body errorBody
		if err := json.Unmarshal(payload, &body); err != nil {
			// Fall back to treating the payload as a bare message so a
			// malformed peer still produces a readable error.
			return Failure("error", string(payload)), nil
		}
		return FailureWithDetails(body.Code, body.Message, body.Details), nil
	case StatusNotImplemented:
		return NotImplemented(), nil
	default:
		return MethodResult{}, fmt.Errorf("channel: unknown result status %d", status)
	}
}

// JSONCodec serializes calls and values as JSON.
type JSONCodec struct{}

type jsonCall struct {
	Method    string `json:"method"`
	Arguments any    `json:"args,omitempty"`
}

// EncodeMethodCall implements MethodCodec.
func (JSONCodec) EncodeMethodCall(call MethodCall) ([]byte, error) {
	return json.Marshal(jsonCall{Method: call.Method, Arguments: call.Arguments})
}

// DecodeMethodCall implements MethodCodec.
func (JSONCodec) DecodeMethodCall(data []byte) (MethodCall, error) {
	var c jsonCall
	if err := json.Unmarshal(data, &c); err != nil {
		return MethodCall{}, fmt.Errorf("channel: decode json call: %w", err)
	}
	return MethodCall{Method: c.Method, Arguments: c.Arguments}, nil
}

// EncodeValue implements MethodCodec.
func (JSONCodec) EncodeValue(value any) ([]byte, error) {
	return json.Marshal(value)
}

// DecodeValue implements MethodCodec.
func (JSONCodec) DecodeValue(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("channel: decode json value: %w", err)
	}
	return value, nil
}

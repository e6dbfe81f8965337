package module

import (
	"context"
	"fmt"

	"github.com/shopscript/bridge.go/lib/channel"
)

// Registrar is the host-provided facility through which plugin code
// registers itself to receive method calls. One registrar serves one
// module; registration lives for the process lifetime.
type Registrar struct {
	module *Module
}

// Messenger returns the binary messenger channels are built on.
func (r *Registrar) Messenger() BinaryMessenger {
	return r.module
}

// MethodHandler processes one method call and produces its result. It
// must not retain per-call state; the bridge gives no delivery
// guarantees beyond one response per call.
type MethodHandler func(ctx context.Context, call channel.MethodCall) channel.MethodResult

// MethodChannel is a named duplex path plugin code answers method calls
// on. The codec fixes the wire form of call arguments and result values.
type MethodChannel struct {
	name      string
	codec     channel.MethodCodec
	messenger BinaryMessenger
	handler   MethodHandler
}

// NewMethodChannel creates a method channel bound to the given messenger.
// The channel becomes reachable once SetMethodCallHandler is called.
func NewMethodChannel(messenger BinaryMessenger, name string, codec channel.MethodCodec) *MethodChannel {
	if codec == nil {
		codec = channel.StandardCodec{}
	}
	return &MethodChannel{
		name:      name,
		codec:     codec,
		messenger: messenger,
	}
}

// Name returns the channel identifier.
func (c *MethodChannel) Name() string {
	return c.name
}

// SetMethodCallHandler binds the handler and makes the channel reachable
// for all future calls. Binding the same channel name twice panics;
// that is a programming error, not a runtime condition.
func (c *MethodChannel) SetMethodCallHandler(handler MethodHandler) {
	c.handler = handler
	c.messenger.registerChannel(c)
}

// handle decodes one call, runs the handler, and encodes the result.
// A panicking handler becomes an error response, not a process crash.
func (c *MethodChannel) handle(ctx context.Context, payload []byte) (status channel.Status, out []byte) {
	defer func() {
		if r := recover(); r != nil {
			status, out = c.errorPayload("panic", fmt.Sprintf("handler panic: %v", r))
		}
	}()

	call, err := c.codec.DecodeMethodCall(payload)
	if err != nil {
		return c.errorPayload("decode-error", err.Error())
	}

	if c.handler == nil {
		return channel.StatusNotImplemented, nil
	}

	result := c.handler(ctx, call)
	data, err := channel.EncodeResultPayload(c.codec, result)
	if err != nil {
		return c.errorPayload("encode-error", err.Error())
	}
	return result.Status, data
}

func (c *MethodChannel) errorPayload(code, message string) (channel.Status, []byte) {
	data, err := channel.EncodeResultPayload(c.codec, channel.Failure(code, message))
	if err != nil {
		return channel.StatusError, nil
	}
	return channel.StatusError, data
}

package host

import (
	"context"
	"fmt"

	"github.com/shopscript/bridge.go/lib/channel"
)

// MethodChannel is the host-side handle for invoking methods on a named
// channel of the loaded plugin.
type MethodChannel struct {
	host  *Host
	name  string
	codec channel.MethodCodec
}

// Channel returns a method channel using the host's default codec.
func (h *Host) Channel(name string) *MethodChannel {
	return h.ChannelWithCodec(name, h.codec)
}

// ChannelWithCodec returns a method channel with an explicit codec. The
// codec must match the one the plugin bound to this channel name.
func (h *Host) ChannelWithCodec(name string, codec channel.MethodCodec) *MethodChannel {
	if codec == nil {
		codec = channel.StandardCodec{}
	}
	return &MethodChannel{host: h, name: name, codec: codec}
}

// Name returns the channel identifier.
func (c *MethodChannel) Name() string {
	return c.name
}

// Invoke calls the named method on the plugin and returns its success
// value. A plugin error surfaces as *channel.MethodError; an unhandled
// method surfaces as channel.ErrNotImplemented.
func (c *MethodChannel) Invoke(ctx context.Context, method string, arguments any) (any, error) {
	payload, err := c.codec.EncodeMethodCall(channel.MethodCall{Method: method, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("host: encode call %s: %w", method, err)
	}

	env, err := c.host.call(ctx, &channel.Envelope{
		Channel: c.name,
		Kind:    channel.KindRequest,
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}

	result, err := channel.DecodeResultPayload(c.codec, env.Status, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("host: decode response for %s: %w", method, err)
	}

	switch result.Status {
	case channel.StatusOK:
		return result.Value, nil
	case channel.StatusNotImplemented:
		return nil, fmt.Errorf("%w: %s.%s", channel.ErrNotImplemented, c.name, method)
	default:
		return nil, &channel.MethodError{Code: result.Code, Message: result.Message, Details: result.Details}
	}
}

// call sends a request envelope and waits for the correlated response.
func (h *Host) call(ctx context.Context, env *channel.Envelope) (*channel.Envelope, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if h.node == nil {
		return nil, ErrNotLoaded
	}

	data, err := env.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("host: marshal request: %w", err)
	}

	seq := h.nextSequence()

	h.pendingMu.Lock()
	if h.closed.Load() {
		h.pendingMu.Unlock()
		return nil, ErrClosed
	}
	responseCh := make(chan *channel.Envelope, 1)
	h.pending[seq] = responseCh
	h.pendingMu.Unlock()

	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, seq)
		h.pendingMu.Unlock()
	}()

	if err := h.node.WriteMessageWithSequence(ctx, seq, data); err != nil {
		return nil, fmt.Errorf("host: write request: %w", err)
	}

	select {
	case response, ok := <-responseCh:
		if !ok {
			return nil, fmt.Errorf("host: connection lost before response")
		}
		return response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.loadCtx.Done():
		return nil, ErrClosed
	}
}

// Package module implements the plugin side of the bridge: the listen
// loop that receives method-call envelopes from the host, the registrar
// native code registers itself with, and the method channels calls are
// dispatched on.
package module

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shopscript/bridge.go/lib/channel"
	"github.com/shopscript/bridge.go/lib/wire"
)

// BinaryMessenger sends and receives raw envelope payloads for method
// channels. The Module is the only implementation; the interface keeps
// channel code decoupled from the listen loop.
type BinaryMessenger interface {
	// Notify sends a one-way event to the host on the named channel.
	Notify(ctx context.Context, name string, payload []byte) error

	registerChannel(ch *MethodChannel)
}

// Module is a plugin process endpoint. It owns the wire node, routes
// incoming requests to registered method channels, and answers the
// bridge's control envelopes (ready, shutdown).
type Module struct {
	node *wire.Node
	log  *zap.Logger

	mu       sync.RWMutex
	channels map[string]*MethodChannel

	shutdownCh      chan struct{}
	forceShutdownCh chan struct{}
	shutdownOnce    sync.Once
	forceOnce       sync.Once

	jobs sync.WaitGroup
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the module's logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Module) {
		m.log = log
	}
}

// New creates a Module over the given stream. Nil reader or writer
// default to stdin and stdout respectively.
func New(reader io.Reader, writer io.Writer, opts ...Option) *Module {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}

	m := &Module{
		node:            wire.NewPeerNode(reader, writer),
		log:             zap.NewNop(),
		channels:        make(map[string]*MethodChannel),
		shutdownCh:      make(chan struct{}),
		forceShutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewStd creates a Module over stdin/stdout.
func NewStd(opts ...Option) *Module {
	return New(os.Stdin, os.Stdout, opts...)
}

// Registrar returns the registration facility handed to plugin code.
func (m *Module) Registrar() *Registrar {
	return &Registrar{module: m}
}

func (m *Module) registerChannel(ch *MethodChannel) {
	if isControlChannel(ch.name) {
		panic(fmt.Sprintf("module: channel name %q is reserved", ch.name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.name]; exists {
		panic(fmt.Sprintf("module: channel %q already registered", ch.name))
	}
	m.channels[ch.name] = ch
}

func isControlChannel(name string) bool {
	switch name {
	case channel.ControlReady, channel.ControlRequestReady,
		channel.ControlShutdown, channel.ControlShutdownAck,
		channel.ControlForceShutdown, channel.ControlForceShutdownAck:
		return true
	}
	return false
}

// Notify implements BinaryMessenger.
func (m *Module) Notify(ctx context.Context, name string, payload []byte) error {
	return m.send(ctx, &channel.Envelope{Channel: name, Kind: channel.KindNotify, Payload: payload})
}

func (m *Module) send(ctx context.Context, env *channel.Envelope) error {
	data, err := env.MarshalBinary()
	if err != nil {
		return fmt.Errorf("module: marshal envelope: %w", err)
	}
	return m.node.WriteMessage(ctx, data)
}

func (m *Module) respond(ctx context.Context, seq uint32, env *channel.Envelope) {
	data, err := env.MarshalBinary()
	if err != nil {
		m.log.Error("marshal response envelope", zap.String("channel", env.Channel), zap.Error(err))
		return
	}
	if err := m.node.WriteMessageWithSequence(ctx, seq, data); err != nil {
		m.log.Warn("write response", zap.String("channel", env.Channel), zap.Error(err))
	}
}

func (m *Module) sendReady(ctx context.Context) error {
	return m.send(ctx, &channel.Envelope{Channel: channel.ControlReady, Kind: channel.KindNotify})
}

// Shutdown starts a graceful shutdown: new requests are rejected, running
// handlers finish.
func (m *Module) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
	})
}

// ForceShutdown stops the module immediately.
func (m *Module) ForceShutdown() {
	m.forceOnce.Do(func() {
		close(m.forceShutdownCh)
	})
}

// IsShutdown reports whether graceful shutdown has started.
func (m *Module) IsShutdown() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

// Listen runs the receive loop until the context is cancelled, the
// stream ends, or the host asks for shutdown. It announces readiness to
// the host before processing the first request.
func (m *Module) Listen(ctx context.Context) error {
	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recv, err := m.node.ReadMessages(listenCtx)
	if err != nil {
		return fmt.Errorf("module: start read loop: %w", err)
	}

	if err := m.sendReady(listenCtx); err != nil {
		return fmt.Errorf("module: send ready: %w", err)
	}
	m.log.Info("module listening")

	go func() {
		select {
		case <-m.forceShutdownCh:
			cancel()
		case <-listenCtx.Done():
		}
	}()

	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				// Stream closed by the host.
				m.waitForJobs(5 * time.Second)
				return nil
			}

			var env channel.Envelope
			if err := env.UnmarshalBinary(msg.Data); err != nil {
				m.log.Debug("drop malformed envelope", zap.Error(err))
				continue
			}

			if m.handleControl(listenCtx, cancel, msg.Sequence, &env) {
				if m.isForceShutdown() {
					return nil
				}
				continue
			}

			if env.Kind != channel.KindRequest {
				// Host-originated notifies are not part of the protocol;
				// ignore anything that is not a method call.
				continue
			}

			if m.IsShutdown() {
				m.respondError(listenCtx, msg.Sequence, env.Channel, "unavailable", "graceful shutdown in progress")
				continue
			}

			m.jobs.Add(1)
			go func(seq uint32, env channel.Envelope) {
				defer m.jobs.Done()
				m.dispatch(listenCtx, seq, &env)
			}(msg.Sequence, env)

		case <-listenCtx.Done():
			m.waitForJobs(5 * time.Second)
			return listenCtx.Err()
		}
	}
}

// handleControl processes bridge control envelopes. It reports whether
// the envelope was consumed.
func (m *Module) handleControl(ctx context.Context, cancel context.CancelFunc, seq uint32, env *channel.Envelope) bool {
	switch env.Channel {
	case channel.ControlRequestReady:
		if err := m.sendReady(ctx); err != nil {
			m.log.Warn("re-send ready", zap.Error(err))
		}
		return true

	case channel.ControlShutdown:
		m.Shutdown()
		m.respond(ctx, seq, &channel.Envelope{Channel: channel.ControlShutdownAck, Kind: channel.KindAck})

		go func() {
			done := make(chan struct{})
			go func() {
				m.jobs.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-m.forceShutdownCh:
			}
			cancel()
		}()
		return true

	case channel.ControlForceShutdown:
		m.ForceShutdown()
		m.respond(ctx, seq, &channel.Envelope{Channel: channel.ControlForceShutdownAck, Kind: channel.KindAck})
		return true
	}
	return false
}

func (m *Module) isForceShutdown() bool {
	select {
	case <-m.forceShutdownCh:
		return true
	default:
		return false
	}
}

// dispatch routes one method call to the channel it names. A channel
// nobody registered answers not-implemented, mirroring how an unknown
// method inside a handler does.
func (m *Module) dispatch(ctx context.Context, seq uint32, env *channel.Envelope) {
	m.mu.RLock()
	ch, exists := m.channels[env.Channel]
	m.mu.RUnlock()

	if !exists {
		m.respond(ctx, seq, &channel.Envelope{
			Channel: env.Channel,
			Kind:    channel.KindResponse,
			Status:  channel.StatusNotImplemented,
		})
		return
	}

	status, payload := ch.handle(ctx, env.Payload)
	m.respond(ctx, seq, &channel.Envelope{
		Channel: env.Channel,
		Kind:    channel.KindResponse,
		Status:  status,
		Payload: payload,
	})
}

func (m *Module) respondError(ctx context.Context, seq uint32, name, code, message string) {
	payload, err := channel.EncodeResultPayload(nil, channel.Failure(code, message))
	if err != nil {
		return
	}
	m.respond(ctx, seq, &channel.Envelope{
		Channel: name,
		Kind:    channel.KindResponse,
		Status:  channel.StatusError,
		Payload: payload,
	})
}

func (m *Module) waitForJobs(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		m.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

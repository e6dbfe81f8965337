// Package host implements the host side of the bridge: it owns the
// plugin process, correlates method calls with their responses, and
// surfaces plugin-initiated events.
package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopscript/bridge.go/lib/channel"
	"github.com/shopscript/bridge.go/lib/transport"
	"github.com/shopscript/bridge.go/lib/wire"
)

// Errors returned by host operations.
var (
	ErrClosed    = fmt.Errorf("host: closed")
	ErrNotLoaded = fmt.Errorf("host: plugin not loaded")
)

// NotifyHandler processes a one-way event sent by the plugin.
type NotifyHandler func(ctx context.Context, payload []byte) error

// Host loads one plugin and provides method channels to it. A Host is
// exclusively owned by the application for the process lifetime.
type Host struct {
	// ID identifies this host instance in logs.
	ID uuid.UUID

	// Name is an optional human-readable plugin name.
	Name string

	provider transport.Provider
	log      *zap.Logger
	codec    channel.MethodCodec

	node *wire.Node

	pendingMu sync.RWMutex
	pending   map[uint32]chan *channel.Envelope

	handlerMu      sync.RWMutex
	notifyHandlers map[string]NotifyHandler

	ready            chan struct{}
	shutdownAck      chan struct{}
	forceShutdownAck chan struct{}

	loadCtx    context.Context
	cancelLoad context.CancelFunc
	closed     atomic.Bool
	exited     atomic.Bool
	wg         sync.WaitGroup
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host's logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Host) {
		h.log = log
	}
}

// WithProvider overrides the transport. The default forks the plugin
// executable and talks over its stdio pipes.
func WithProvider(p transport.Provider) Option {
	return func(h *Host) {
		h.provider = p
	}
}

// WithCodec sets the default codec for channels created by Channel.
func WithCodec(c channel.MethodCodec) Option {
	return func(h *Host) {
		h.codec = c
	}
}

// WithName sets a human-readable plugin name used in log fields.
func WithName(name string) Option {
	return func(h *Host) {
		h.Name = name
	}
}

// New creates a Host for the plugin executable at path. The plugin is
// not started until Load.
func New(path string, opts ...Option) *Host {
	h := &Host{
		ID:               uuid.New(),
		provider:         &transport.StdioProvider{Path: path},
		log:              zap.NewNop(),
		codec:            channel.StandardCodec{},
		pending:          make(map[uint32]chan *channel.Envelope),
		notifyHandlers:   make(map[string]NotifyHandler),
		ready:            make(chan struct{}, 1),
		shutdownAck:      make(chan struct{}, 1),
		forceShutdownAck: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With(zap.String("host_id", h.ID.String()))
	h.registerBuiltinHandlers()
	return h
}

// Load connects the transport, starts the receive loop, and waits for
// the plugin's ready signal. ctx bounds Load itself only: once Load
// returns, the host runs until Close or until the plugin process exits,
// regardless of what happens to ctx.
func (h *Host) Load(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}

	reader, writer, err := h.provider.Connect(ctx)
	if err != nil {
		return fmt.Errorf("host: connect transport: %w", err)
	}
	h.node = wire.NewNode(reader, writer)

	// loadCtx ends with Close or process exit, not with the caller's ctx.
	h.loadCtx, h.cancelLoad = context.WithCancel(context.Background())

	if waiter, ok := h.provider.(transport.Waiter); ok {
		h.wg.Add(1)
		go h.monitorProcess(waiter)
	}

	h.wg.Add(1)
	go h.receiveLoop()

	if err := h.waitForReady(ctx); err != nil {
		h.provider.Close()
		h.cancelLoad()
		return err
	}

	h.log.Info("plugin loaded", zap.String("plugin", h.Name))
	return nil
}

// monitorProcess watches the plugin process and shuts the host down if
// it exits on its own.
func (h *Host) monitorProcess(waiter transport.Waiter) {
	defer h.wg.Done()

	err := waiter.Wait()
	h.exited.Store(true)

	if !h.closed.Load() {
		h.log.Warn("plugin process exited", zap.Error(err))
		h.closed.Store(true)
		if h.cancelLoad != nil {
			h.cancelLoad()
		}
	}
}

// Alive reports whether the plugin is loaded and its process running.
func (h *Host) Alive() bool {
	return !h.exited.Load() && !h.closed.Load()
}

func (h *Host) waitForReady(ctx context.Context) error {
	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("host: cancelled waiting for ready signal")
	case <-h.loadCtx.Done():
		return fmt.Errorf("host: cancelled waiting for ready signal")
	case <-time.After(5 * time.Second):
		// The plugin may have sent ready before our reader was up; ask
		// it to repeat the signal.
		if err := h.requestReady(); err != nil {
			return fmt.Errorf("host: ready timeout and re-request failed: %w", err)
		}
		select {
		case <-h.ready:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("host: cancelled waiting for ready signal")
		case <-h.loadCtx.Done():
			return fmt.Errorf("host: cancelled waiting for ready signal")
		case <-time.After(3 * time.Second):
			return fmt.Errorf("host: plugin never signaled ready")
		}
	}
}

func (h *Host) requestReady() error {
	if h.node == nil {
		return ErrNotLoaded
	}
	env := &channel.Envelope{Channel: channel.ControlRequestReady, Kind: channel.KindNotify}
	data, err := env.MarshalBinary()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.node.WriteMessage(ctx, data)
}

// nextSequence reserves a request sequence that is not currently
// pending. Sequences come from the wire node's counter so control
// messages written with WriteMessage can never collide with a request.
func (h *Host) nextSequence() uint32 {
	const maxAttempts = 100
	var seq uint32
	for attempt := 0; attempt < maxAttempts; attempt++ {
		seq = h.node.NextSequence()
		if seq == 0 {
			continue
		}
		h.pendingMu.RLock()
		_, exists := h.pending[seq]
		h.pendingMu.RUnlock()
		if !exists {
			return seq
		}
	}
	return seq
}

// Close shuts the host down gracefully: the plugin is asked to finish
// in-flight work before the process is terminated.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if h.node != nil && h.loadCtx != nil && !h.exited.Load() {
		env := &channel.Envelope{Channel: channel.ControlShutdown, Kind: channel.KindRequest}
		if data, err := env.MarshalBinary(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			if err := h.node.WriteMessage(ctx, data); err == nil {
				select {
				case <-h.shutdownAck:
				case <-time.After(2 * time.Second):
					h.log.Warn("no shutdown ack from plugin")
				}
			}
		}
	}

	if h.cancelLoad != nil {
		h.cancelLoad()
	}
	closeErr := h.provider.Close()

	h.waitForLoops(2 * time.Second)
	h.log.Info("host closed")
	return closeErr
}

// ForceClose terminates the plugin immediately without waiting for
// in-flight work.
func (h *Host) ForceClose() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if h.node != nil && h.loadCtx != nil && !h.exited.Load() {
		env := &channel.Envelope{Channel: channel.ControlForceShutdown, Kind: channel.KindRequest}
		if data, err := env.MarshalBinary(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			if err := h.node.WriteMessage(ctx, data); err == nil {
				select {
				case <-h.forceShutdownAck:
				case <-time.After(500 * time.Millisecond):
				}
			}
		}
	}

	if h.cancelLoad != nil {
		h.cancelLoad()
	}
	closeErr := h.provider.Close()

	h.waitForLoops(500 * time.Millisecond)
	return closeErr
}

func (h *Host) waitForLoops(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

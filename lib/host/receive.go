package host

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shopscript/bridge.go/lib/channel"
)

// receiveLoop routes every inbound envelope: control signals to their
// wait channels, responses to the pending call that asked, notifies to
// their handlers. It exits when the stream ends or the host is closed.
func (h *Host) receiveLoop() {
	defer h.wg.Done()
	defer h.failPending()

	recv, err := h.node.ReadMessages(h.loadCtx)
	if err != nil {
		return
	}

	for {
		select {
		case <-h.loadCtx.Done():
			return
		case msg, ok := <-recv:
			if !ok {
				return
			}

			var env channel.Envelope
			if err := env.UnmarshalBinary(msg.Data); err != nil {
				h.log.Debug("drop malformed envelope", zap.Error(err))
				continue
			}

			if h.handleControl(&env) {
				continue
			}

			if env.Kind == channel.KindResponse && msg.Sequence != 0 {
				h.deliverResponse(msg.Sequence, &env)
				continue
			}

			if env.Kind == channel.KindNotify {
				h.dispatchNotify(&env)
			}
			// Anything else is not part of the protocol and is ignored.
		}
	}
}

// failPending closes every waiting response channel so blocked calls
// fail instead of hanging once the loop is gone. A response already
// buffered stays receivable ahead of the close.
func (h *Host) failPending() {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for seq, ch := range h.pending {
		close(ch)
		delete(h.pending, seq)
	}
}

func (h *Host) handleControl(env *channel.Envelope) bool {
	switch env.Channel {
	case channel.ControlReady:
		select {
		case h.ready <- struct{}{}:
		default:
		}
		return true
	case channel.ControlShutdownAck:
		select {
		case h.shutdownAck <- struct{}{}:
		default:
		}
		return true
	case channel.ControlForceShutdownAck:
		select {
		case h.forceShutdownAck <- struct{}{}:
		default:
		}
		return true
	}
	return false
}

func (h *Host) deliverResponse(seq uint32, env *channel.Envelope) {
	h.pendingMu.RLock()
	waiting, exists := h.pending[seq]
	h.pendingMu.RUnlock()

	if !exists {
		h.log.Debug("response without pending call",
			zap.Uint32("sequence", seq),
			zap.String("channel", env.Channel))
		return
	}

	select {
	case waiting <- env:
	default:
		// Buffer full means the caller already gave up.
	}
}

func (h *Host) dispatchNotify(env *channel.Envelope) {
	h.handlerMu.RLock()
	handler, exists := h.notifyHandlers[env.Channel]
	h.handlerMu.RUnlock()
	if !exists {
		return
	}

	// Run async so a slow handler cannot stall the receive loop.
	go func(handler NotifyHandler, env channel.Envelope) {
		ctx, cancel := context.WithTimeout(h.loadCtx, 30*time.Second)
		defer cancel()
		if err := handler(ctx, env.Payload); err != nil {
			h.log.Warn("notify handler failed",
				zap.String("channel", env.Channel),
				zap.Error(err))
		}
	}(handler, *env)
}

// RegisterNotifyHandler binds a handler for plugin-initiated events on
// the named channel, replacing any previous one.
func (h *Host) RegisterNotifyHandler(name string, handler NotifyHandler) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	h.notifyHandlers[name] = handler
}

// UnregisterNotifyHandler removes the handler for the named channel.
func (h *Host) UnregisterNotifyHandler(name string) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	delete(h.notifyHandlers, name)
}

// registerBuiltinHandlers wires the conventional plugin log channels to
// the host logger.
func (h *Host) registerBuiltinHandlers() {
	h.RegisterNotifyHandler("info", func(ctx context.Context, payload []byte) error {
		h.log.Info("plugin", zap.ByteString("message", payload))
		return nil
	})
	h.RegisterNotifyHandler("warning", func(ctx context.Context, payload []byte) error {
		h.log.Warn("plugin", zap.ByteString("message", payload))
		return nil
	})
	h.RegisterNotifyHandler("error", func(ctx context.Context, payload []byte) error {
		h.log.Error("plugin", zap.ByteString("message", payload))
		return nil
	})
	h.RegisterNotifyHandler("status", func(ctx context.Context, payload []byte) error {
		h.log.Info("plugin status", zap.ByteString("status", payload))
		return nil
	})
	h.RegisterNotifyHandler("heartbeat", func(ctx context.Context, payload []byte) error {
		// Liveness only; the receive loop reaching here is the signal.
		return nil
	})
}

package host

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopscript/bridge.go/lib/channel"
	"github.com/shopscript/bridge.go/lib/module"
	"github.com/shopscript/bridge.go/lib/transport"
)

// startBridge runs a module with the given channel setup and returns a
// loaded host connected to it over in-memory pipes.
func startBridge(t *testing.T, setup func(registrar *module.Registrar)) *Host {
	t.Helper()

	hostReader, moduleWriter := io.Pipe()
	moduleReader, hostWriter := io.Pipe()
	t.Cleanup(func() {
		hostWriter.Close()
		moduleWriter.Close()
	})

	m := module.New(moduleReader, moduleWriter)
	if setup != nil {
		setup(m.Registrar())
	}
	go m.Listen(context.Background())

	h := New("", WithProvider(&transport.PipeProvider{Reader: hostReader, Writer: hostWriter}))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return h
}

func registerEchoChannel(registrar *module.Registrar) {
	ch := module.NewMethodChannel(registrar.Messenger(), "echo", channel.StandardCodec{})
	ch.SetMethodCallHandler(func(ctx context.Context, call channel.MethodCall) channel.MethodResult {
		switch call.Method {
		case "shout":
			s, _ := call.Arguments.(string)
			return channel.Success(strings.ToUpper(s))
		case "fail":
			return channel.Failure("boom", "requested failure")
		default:
			return channel.NotImplemented()
		}
	})
}

func TestHost_InvokeSuccess(t *testing.T) {
	h := startBridge(t, registerEchoChannel)
	defer h.Close()

	value, err := h.Channel("echo").Invoke(context.Background(), "shout", "quiet")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if value != "QUIET" {
		t.Errorf("Expected QUIET, got %v", value)
	}
}

func TestHost_InvokeMethodError(t *testing.T) {
	h := startBridge(t, registerEchoChannel)
	defer h.Close()

	_, err := h.Channel("echo").Invoke(context.Background(), "fail", nil)
	if err == nil {
		t.Fatal("Expected error from failing method")
	}

	var methodErr *channel.MethodError
	if !errors.As(err, &methodErr) {
		t.Fatalf("Expected *channel.MethodError, got %T", err)
	}
	if methodErr.Code != "boom" {
		t.Errorf("Expected code boom, got %q", methodErr.Code)
	}
}

func TestHost_InvokeNotImplemented(t *testing.T) {
	h := startBridge(t, registerEchoChannel)
	defer h.Close()

	// Unknown method on a known channel.
	if _, err := h.Channel("echo").Invoke(context.Background(), "whisper", nil); !errors.Is(err, channel.ErrNotImplemented) {
		t.Errorf("Expected ErrNotImplemented for unknown method, got %v", err)
	}

	// Channel nobody registered.
	if _, err := h.Channel("ghost").Invoke(context.Background(), "anything", nil); !errors.Is(err, channel.ErrNotImplemented) {
		t.Errorf("Expected ErrNotImplemented for unknown channel, got %v", err)
	}
}

func TestHost_ConcurrentInvokes(t *testing.T) {
	h := startBridge(t, registerEchoChannel)
	defer h.Close()

	const calls = 16
	results := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			value, err := h.Channel("echo").Invoke(context.Background(), "shout", "go")
			if err == nil && value != "GO" {
				err = errors.New("unexpected value")
			}
			results <- err
		}()
	}

	for i := 0; i < calls; i++ {
		if err := <-results; err != nil {
			t.Errorf("Concurrent invoke %d failed: %v", i, err)
		}
	}
}

func TestHost_NotifyHandler(t *testing.T) {
	var m *module.Module

	hostReader, moduleWriter := io.Pipe()
	moduleReader, hostWriter := io.Pipe()
	t.Cleanup(func() {
		hostWriter.Close()
		moduleWriter.Close()
	})

	m = module.New(moduleReader, moduleWriter)
	go m.Listen(context.Background())

	h := New("", WithProvider(&transport.PipeProvider{Reader: hostReader, Writer: hostWriter}))

	received := make(chan []byte, 1)
	h.RegisterNotifyHandler("telemetry", func(ctx context.Context, payload []byte) error {
		received <- payload
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer h.Close()

	if err := m.Notify(context.Background(), "telemetry", []byte("tick")); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "tick" {
			t.Errorf("Expected tick, got %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Error("Notify handler was not called")
	}
}

func TestHost_OutlivesLoadContext(t *testing.T) {
	hostReader, moduleWriter := io.Pipe()
	moduleReader, hostWriter := io.Pipe()
	t.Cleanup(func() {
		hostWriter.Close()
		moduleWriter.Close()
	})

	m := module.New(moduleReader, moduleWriter)
	registerEchoChannel(m.Registrar())
	go m.Listen(context.Background())

	h := New("", WithProvider(&transport.PipeProvider{Reader: hostReader, Writer: hostWriter}))

	loadCtx, cancelLoad := context.WithCancel(context.Background())
	if err := h.Load(loadCtx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer h.Close()

	// The load context bounds Load only; the host keeps serving calls
	// after it is cancelled.
	cancelLoad()
	time.Sleep(50 * time.Millisecond)

	value, err := h.Channel("echo").Invoke(context.Background(), "shout", "still here")
	if err != nil {
		t.Fatalf("Invoke after load-context cancel failed: %v", err)
	}
	if value != "STILL HERE" {
		t.Errorf("Expected STILL HERE, got %v", value)
	}
}

func TestHost_FailPendingKeepsBufferedResponse(t *testing.T) {
	h := New("/nonexistent/plugin")

	delivered := make(chan *channel.Envelope, 1)
	delivered <- &channel.Envelope{Channel: "echo", Kind: channel.KindResponse, Status: channel.StatusOK}
	h.pending[3] = delivered
	h.failPending()

	env, ok := <-delivered
	if !ok || env == nil {
		t.Fatal("Buffered response was lost by failPending")
	}
	if _, ok := <-delivered; ok {
		t.Error("Channel should be closed after failPending")
	}
	if len(h.pending) != 0 {
		t.Errorf("Expected empty pending map, got %d entries", len(h.pending))
	}
}

func TestHost_InvokeBeforeLoad(t *testing.T) {
	h := New("/nonexistent/plugin")
	if _, err := h.Channel("echo").Invoke(context.Background(), "shout", nil); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}
}

func TestHost_InvokeAfterClose(t *testing.T) {
	h := startBridge(t, registerEchoChannel)

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on second close, got %v", err)
	}

	if _, err := h.Channel("echo").Invoke(context.Background(), "shout", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

func TestHost_BuiltinNotifyHandlers(t *testing.T) {
	h := New("/nonexistent/plugin")

	for _, name := range []string{"info", "warning", "error", "status", "heartbeat"} {
		h.handlerMu.RLock()
		_, exists := h.notifyHandlers[name]
		h.handlerMu.RUnlock()
		if !exists {
			t.Errorf("Builtin notify handler %q not registered", name)
		}
	}
}

func TestHost_InstanceID(t *testing.T) {
	a := New("/plugin/a")
	b := New("/plugin/b")
	if a.ID == b.ID {
		t.Error("Host instances should get distinct IDs")
	}
}

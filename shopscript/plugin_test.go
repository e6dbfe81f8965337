package shopscript

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopscript/bridge.go/lib/channel"
	"github.com/shopscript/bridge.go/lib/host"
	"github.com/shopscript/bridge.go/lib/module"
	"github.com/shopscript/bridge.go/lib/transport"
)

func TestPlugin_HandleMethodCall(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		wantStatus channel.Status
		wantValue  any
	}{
		{"KnownMethod", "getPlatformVersion", channel.StatusOK, "Windows "},
		{"UppercaseFirstLetter", "GetPlatformVersion", channel.StatusNotImplemented, nil},
		{"DroppedPrefix", "platformVersion", channel.StatusNotImplemented, nil},
		{"EmptyMethod", "", channel.StatusNotImplemented, nil},
		{"UnknownMethod", "getBatteryLevel", channel.StatusNotImplemented, nil},
	}

	p := &Plugin{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := p.HandleMethodCall(context.Background(), channel.MethodCall{Method: tt.method})
			if result.Status != tt.wantStatus {
				t.Fatalf("Status: expected %v, got %v", tt.wantStatus, result.Status)
			}
			if result.Value != tt.wantValue {
				t.Errorf("Value: expected %v, got %v", tt.wantValue, result.Value)
			}
		})
	}
}

func TestPlugin_VersionValueKeepsTrailingSpace(t *testing.T) {
	p := &Plugin{}
	result := p.HandleMethodCall(context.Background(), channel.MethodCall{Method: "getPlatformVersion"})
	s, ok := result.Value.(string)
	if !ok {
		t.Fatalf("Expected string value, got %T", result.Value)
	}
	if s != "Windows " {
		t.Errorf("Expected %q, got %q", "Windows ", s)
	}
	if s[len(s)-1] != ' ' {
		t.Error("Version string must keep its trailing space")
	}
}

func TestPlugin_RepeatedCallsAreIdentical(t *testing.T) {
	p := &Plugin{}
	for i := 0; i < 3; i++ {
		result := p.HandleMethodCall(context.Background(), channel.MethodCall{Method: "getPlatformVersion"})
		if result.Status != channel.StatusOK || result.Value != "Windows " {
			t.Fatalf("Call %d: expected OK Windows , got %v %v", i, result.Status, result.Value)
		}
	}
}

func TestPlugin_ArgumentsAreIgnored(t *testing.T) {
	p := &Plugin{}
	result := p.HandleMethodCall(context.Background(), channel.MethodCall{
		Method:    "getPlatformVersion",
		Arguments: map[string]any{"detail": "full"},
	})
	if result.Status != channel.StatusOK {
		t.Fatalf("Expected StatusOK, got %v", result.Status)
	}
	if result.Value != "Windows " {
		t.Errorf("Expected \"Windows \", got %v", result.Value)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	mod := module.New(nil, nil)
	Register(mod.Registrar())

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic on second registration")
		}
	}()
	Register(mod.Registrar())
}

// TestPlugin_EndToEnd runs the plugin behind a real module and calls it
// through a host over in-memory pipes.
func TestPlugin_EndToEnd(t *testing.T) {
	hostReader, moduleWriter := io.Pipe()
	moduleReader, hostWriter := io.Pipe()
	t.Cleanup(func() {
		hostWriter.Close()
		moduleWriter.Close()
	})

	m := module.New(moduleReader, moduleWriter)
	Register(m.Registrar())
	go m.Listen(context.Background())

	h := host.New("", host.WithProvider(&transport.PipeProvider{Reader: hostReader, Writer: hostWriter}))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer h.Close()

	ch := h.Channel(ChannelName)

	value, err := ch.Invoke(ctx, "getPlatformVersion", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if value != "Windows " {
		t.Errorf("Expected \"Windows \", got %v", value)
	}

	for _, method := range []string{"GetPlatformVersion", "platformVersion", ""} {
		if _, err := ch.Invoke(ctx, method, nil); !errors.Is(err, channel.ErrNotImplemented) {
			t.Errorf("Method %q: expected ErrNotImplemented, got %v", method, err)
		}
	}
}

// Package shopscript is the shopscript platform channel handler: it
// registers the "flutter_shopscript" method channel and answers platform
// queries from the application side of the bridge.
package shopscript

import (
	"context"

	"github.com/shopscript/bridge.go/lib/channel"
	"github.com/shopscript/bridge.go/lib/module"
)

// ChannelName identifies the plugin's method channel.
const ChannelName = "flutter_shopscript"

// platformVersion is the value returned for getPlatformVersion.
// TODO: append the actual OS build number once the host exposes it.
const platformVersion = "Windows "

// Plugin answers method calls on the shopscript channel. It holds no
// state; every call is handled to completion on its own.
type Plugin struct{}

// Register binds the plugin to its channel on the given registrar.
// Called exactly once at startup; the registration lives for the
// process lifetime.
func Register(registrar *module.Registrar) {
	p := &Plugin{}
	ch := module.NewMethodChannel(registrar.Messenger(), ChannelName, channel.StandardCodec{})
	ch.SetMethodCallHandler(p.HandleMethodCall)
}

// HandleMethodCall dispatches one method call. Method names are matched
// case-sensitively; anything unknown is reported as not implemented so
// the caller can distinguish absence from failure.
func (p *Plugin) HandleMethodCall(ctx context.Context, call channel.MethodCall) channel.MethodResult {
	switch call.Method {
	case "getPlatformVersion":
		return channel.Success(platformVersion)
	default:
		return channel.NotImplemented()
	}
}

// Command shopscript-plugin is the plugin executable. A host loads it
// over stdio (the default) or a Unix socket and calls methods on the
// flutter_shopscript channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shopscript/bridge.go/lib/logging"
	"github.com/shopscript/bridge.go/lib/module"
	"github.com/shopscript/bridge.go/lib/transport"
	"github.com/shopscript/bridge.go/shopscript"
)

func main() {
	socketPath := flag.String("socket", "", "Unix socket to dial instead of using stdio")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log, err := logging.New(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reader io.Reader
	var writer io.Writer
	if *socketPath != "" {
		provider := &transport.UnixSocketProvider{SocketPath: *socketPath}
		reader, writer, err = provider.Connect(ctx)
		if err != nil {
			log.Fatal("Failed to connect to host socket", zap.Error(err))
		}
		defer provider.Close()
	}

	m := module.New(reader, writer, module.WithLogger(log))
	shopscript.Register(m.Registrar())

	if err := m.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Listen failed", zap.Error(err))
	}
}

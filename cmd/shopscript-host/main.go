// Command shopscript-host is a demo host application: it loads the
// shopscript plugin, asks it for the platform version, and shuts the
// bridge down cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/shopscript/bridge.go/lib/host"
	"github.com/shopscript/bridge.go/lib/logging"
	"github.com/shopscript/bridge.go/lib/transport"
	"github.com/shopscript/bridge.go/shopscript"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []host.Option{
		host.WithLogger(log),
		host.WithName("shopscript"),
	}
	switch cfg.Transport {
	case "stdio":
		// Default provider forks the plugin executable.
	case "unix":
		opts = append(opts, host.WithProvider(&transport.UnixSocketProvider{
			SocketPath: cfg.SocketPath,
			Server:     true,
		}))
	default:
		log.Fatal("Unknown transport", zap.String("transport", cfg.Transport))
	}

	h := host.New(cfg.PluginPath, opts...)
	if err := h.Load(ctx); err != nil {
		log.Fatal("Failed to load plugin", zap.Error(err))
	}
	defer func() {
		if err := h.Close(); err != nil && err != host.ErrClosed {
			log.Error("Failed to close host", zap.Error(err))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	version, err := h.Channel(shopscript.ChannelName).Invoke(callCtx, "getPlatformVersion", nil)
	if err != nil {
		log.Fatal("getPlatformVersion failed", zap.Error(err))
	}

	log.Info("Platform version", zap.Any("version", version))
	fmt.Println(version)
}

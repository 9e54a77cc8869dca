// Command capsule-agent is the guest-side binary: it listens on a vsock
// (or, for dev, loopback) port and dispatches RPC calls to a static
// function registry built at image-build time.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/oriys/capsule/internal/guestagent"
	"github.com/oriys/capsule/internal/logging"
	"github.com/oriys/capsule/internal/transport"
)

func main() {
	port := flag.Uint("port", uint(transport.DefaultPort), "RPC listen port")
	native := flag.Bool("native", true, "listen on AF_VSOCK instead of loopback TCP")
	logLevel := flag.String("log-level", "INFO", "log level")
	flag.Parse()
	logging.SetLevelFromString(*logLevel)

	registry := guestagent.NewRegistry()
	RegisterBuiltins(registry)

	var ln transport.Listener
	var err error
	if *native {
		ln, err = transport.ListenVsock(uint32(*port))
	} else {
		ln, err = transport.ListenLoopback(uint32(*port))
	}
	if err != nil {
		logging.Op().Error("listen failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	exec := guestagent.New(registry)
	logging.Op().Info("guest agent listening", "port", *port, "native", *native)
	if err := exec.Serve(ctx, ln); err != nil {
		logging.Op().Error("serve exited with error", "error", err)
		os.Exit(1)
	}
}

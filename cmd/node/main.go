// Package main implements the voxroute audio node, which holds the guild
// players the coordinator places on it and reports its load.
//
// The node is a worker in a voxroute cluster, responsible for:
//   - Applying voiceUpdate, play, stop and destroy commands
//   - Reporting player counts and penalty as stats frames
//   - Registering with the coordinator
//   - Responding to health checks
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /stats        - Load report          │
//	│    /control      - Commands (http)      │
//	│    /ws           - Commands (websocket) │
//	│    /info         - Node information     │
//	├─────────────────────────────────────────┤
//	│  NATS (optional):                       │
//	│    <prefix>.node.<id>.control           │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - VOXROUTE_NODE_ID: Node name (generated when empty)
//   - VOXROUTE_NODE_LISTEN: Listen address (default: ":8081")
//   - VOXROUTE_NODE_ADDR: Public address for the coordinator (default: "http://127.0.0.1:8081")
//   - VOXROUTE_COORDINATOR: Coordinator URL (required)
//   - VOXROUTE_NODE_REGION: Region the node serves
//   - VOXROUTE_NODE_TRANSPORT: ws, http or nats (default: "ws")
//   - VOXROUTE_NODE_PASSWORD: Password expected on the websocket handshake
//   - VOXROUTE_STATS_INTERVAL: Stats frame period (default: 5s)
//
// Example usage:
//
//	VOXROUTE_NODE_ID=eu-1 \
//	VOXROUTE_NODE_REGION=eu \
//	VOXROUTE_NODE_ADDR=http://localhost:8081 \
//	VOXROUTE_COORDINATOR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/voxroute/internal/audionode"
	"github.com/dreamware/voxroute/internal/config"
	"github.com/dreamware/voxroute/internal/storage"
	"github.com/dreamware/voxroute/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

const (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

func main() {
	cfg, err := config.LoadNode()
	if err != nil {
		logFatal("config: %v", err)
	}

	n := audionode.New(cfg.ID, storage.NewMemoryStore(),
		audionode.WithPassword(cfg.Password),
		audionode.WithStatsInterval(cfg.StatsInterval),
	)

	var closeNATS func()
	if cfg.Transport == "nats" {
		connect := transport.ConnectDefault()
		if cfg.NATSURL != "" {
			connect = transport.ConnectURL(cfg.NATSURL)
		}
		nc, closeNc, err := connect()
		if err != nil {
			logFatal("nats connect: %v", err)
		}
		if _, err := n.SubscribeNATS(nc, cfg.NATSPrefix); err != nil {
			logFatal("nats subscribe: %v", err)
		}
		closeNATS = closeNc
	}

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("node[%s] listening on %s (public %s, region %q)", cfg.ID, cfg.Listen, cfg.PublicAddr, cfg.Region)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	if err := audionode.Register(context.Background(), cfg.Coordinator, cfg.Info(), registerAttempts, registerDelay); err != nil {
		logFatal("could not register with coordinator: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if closeNATS != nil {
		closeNATS()
	}
	log.Println("node stopped")
}

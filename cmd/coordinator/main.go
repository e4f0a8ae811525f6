// Package main implements the voxroute coordinator, which places guild
// players on audio nodes and tears them down again.
//
// The coordinator is the control plane of a voxroute cluster, responsible for:
//   - Tracking audio nodes, their region, availability and penalty
//   - Choosing the node of every new player
//   - Destroying players on their node
//   - Evicting the players of nodes that were lost
//
// Configuration (environment):
//   - VOXROUTE_ADDR: Listen address (default: ":8080")
//   - VOXROUTE_NODES_FILE: Static nodes and region table (YAML, optional)
//   - VOXROUTE_HEALTH_INTERVAL: Node probe interval (default: 5s)
//   - VOXROUTE_USER_ID, VOXROUTE_CLIENT_NAME: Sent when dialing node websockets
//   - NATS_URL, VOXROUTE_NATS_PREFIX: NATS transport settings
//   - VOXROUTE_OTEL_ENDPOINT: OTLP/HTTP trace endpoint (tracing off when empty)
//
// Example usage:
//
//	VOXROUTE_NODES_FILE=nodes.yaml ./coordinator
//
//	curl -X POST localhost:8080/players \
//	  -d '{"guild_id":"123456789012345678","endpoint":"rotterdam12.discord.media:443"}'
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/voxroute/internal/config"
	"github.com/dreamware/voxroute/internal/coordinator"
	promMetrics "github.com/dreamware/voxroute/internal/metrics/prometheus"
	"github.com/dreamware/voxroute/internal/node"
	"github.com/dreamware/voxroute/internal/otel"
	"github.com/dreamware/voxroute/internal/player"
	"github.com/dreamware/voxroute/internal/transport"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		logFatal("config: %v", err)
	}

	shutdownTracing, err := otel.Setup(context.Background(), "voxroute-coordinator", cfg.OTelEndpoint)
	if err != nil {
		logFatal("tracing: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(context.Background(), cfg, reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err != nil {
		logFatal("coordinator: %v", err)
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go a.monitor.Start(monitorCtx)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	stopMonitor()
	a.monitor.Stop()
	a.close()
	if err := shutdownTracing(ctx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
	log.Println("coordinator stopped")
}

// app holds the wired coordinator components.
type app struct {
	registry *node.Registry
	players  *player.Manager
	monitor  *coordinator.HealthMonitor
	server   *coordinator.Server
}

// newApp builds the registry, the manager, the health monitor and the
// server from cfg, then joins the nodes of the nodes file. Nodes that
// cannot be reached yet are left to the health monitor.
func newApp(ctx context.Context, cfg config.Coordinator, reg prometheus.Registerer, metricsHandler http.Handler) (*app, error) {
	var nodesFile config.NodesFile
	if cfg.NodesFile != "" {
		f, err := config.LoadNodesFile(cfg.NodesFile)
		if err != nil {
			return nil, err
		}
		nodesFile = f
	}

	m := promMetrics.New(reg)

	registryOpts := []node.Option{node.WithMetrics(m)}
	if len(nodesFile.Regions) > 0 {
		registryOpts = append(registryOpts, node.WithRegionResolver(node.RegionTable(nodesFile.Regions)))
	}
	registry := node.NewRegistry(registryOpts...)

	players, err := player.NewManager(registry, player.NewDefaultPlayer, player.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	transportOpts := transport.Options{
		NATSPrefix: cfg.NATSPrefix,
		UserID:     cfg.UserID,
		ClientName: cfg.ClientName,
	}
	if cfg.NATSURL != "" {
		transportOpts.NATS = transport.ConnectURL(cfg.NATSURL)
	}

	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval, registry)
	server := coordinator.NewServer(registry, players,
		coordinator.WithHealthMonitor(monitor),
		coordinator.WithMetricsHandler(metricsHandler),
		coordinator.WithTransportOptions(transportOpts),
	)

	for _, info := range nodesFile.Nodes {
		if _, err := server.Join(ctx, info); err != nil {
			log.Printf("[NODE-%s] not reachable yet: %v", info.ID, err)
		}
	}

	return &app{
		registry: registry,
		players:  players,
		monitor:  monitor,
		server:   server,
	}, nil
}

// close drops every node transport.
func (a *app) close() {
	for _, n := range a.registry.Nodes() {
		if err := n.Close(); err != nil {
			log.Printf("[NODE-%s] close: %v", n.Name, err)
		}
	}
}

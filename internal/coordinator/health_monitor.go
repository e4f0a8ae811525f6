// Package coordinator provides the cluster coordination server functionality.
// This file implements health monitoring for registered audio nodes.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/node"
)

// Health status values reported in NodeHealth.Status.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// NodeHealth tracks the health status of a single node in the cluster.
// It maintains the current status, last successful check time, and failure count.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time `json:"lastCheck"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"lastHealthy"`      // Timestamp of the last successful health check
	NodeID           string    `json:"nodeId"`           // Name of the node
	Status           string    `json:"status"`           // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       `json:"consecutiveFails"` // Number of consecutive failed health checks
}

// NodeSource is the part of the node registry the monitor drives: it lists
// the nodes to probe and receives availability and penalty updates.
type NodeSource interface {
	Nodes() []*node.Node
	MarkAvailable(name string, available bool) bool
	UpdatePenalty(name string, penalty float64) bool
}

// CheckFunc probes a node at addr and returns its load report.
type CheckFunc func(ctx context.Context, addr string) (cluster.NodeStats, error)

// ReconnectFunc attaches a fresh command transport to n.
type ReconnectFunc func(ctx context.Context, n *node.Node) error

// HealthMonitor performs periodic health checks on all registered nodes in
// the cluster. A successful probe refreshes the node's penalty and makes it
// available; maxFailures consecutive failures make it unavailable, which the
// registry turns into the eviction of the node's players.
//
// A node that answers probes but has lost its command transport is only
// made available again once the reconnect function succeeds.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth // Current health status per node
	source      NodeSource             // Registry being monitored
	checkFunc   CheckFunc              // Function to perform health check
	reconnect   ReconnectFunc          // Re-dials a node without transport
	onUnhealthy func(nodeID string)    // Callback when node becomes unhealthy
	ctx         context.Context        // Context for cancellation
	cancel      context.CancelFunc     // Cancel function for shutdown
	probes      singleflight.Group     // Collapses concurrent probes per node
	interval    time.Duration          // How often to check node health
	timeout     time.Duration          // Timeout for one probe
	mu          sync.RWMutex           // Protects nodes map and settings
	wg          sync.WaitGroup         // Wait group for graceful shutdown
	maxFailures int                    // Failures before marking unhealthy
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// The monitor will fetch each node's /stats endpoint every interval.
// Nodes are marked unavailable after 3 consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (recommended: 5s)
//   - source: Registry whose nodes are probed and updated
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, registry)
//	go monitor.Start(ctx)
func NewHealthMonitor(interval time.Duration, source NodeSource) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		source:      source,
		timeout:     2 * time.Second, // 2 second timeout for health checks
		maxFailures: 3,               // Mark unhealthy after 3 failures
		nodes:       make(map[string]*NodeHealth),
		checkFunc:   defaultHealthCheck,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when a node crosses the failure
// threshold. The registry has already been told by then.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = callback
}

// SetReconnect sets the function used to re-attach a transport to a node
// that answers probes but has none.
func (h *HealthMonitor) SetReconnect(reconnect ReconnectFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnect = reconnect
}

// SetCheckFunction replaces the probe, typically in tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = checkFunc
}

// Start begins the health monitoring process in the current goroutine.
// It checks every node of the source immediately and then every interval.
// This method blocks until ctx is canceled or Stop is called.
//
// Example:
//
//	go monitor.Start(ctx)
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	// Use the provided context or fall back to internal
	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log.Printf("Health monitor started with interval %v", h.interval)

	// Perform initial health check immediately
	h.checkAllNodes(ctx)

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx)
		case <-ctx.Done():
			log.Println("Health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			log.Println("Health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop gracefully shuts down the health monitor and waits for Start to
// return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	log.Println("Health monitor stopped")
}

// checkAllNodes probes every node concurrently and forgets nodes that
// left the registry.
func (h *HealthMonitor) checkAllNodes(ctx context.Context) {
	nodes := h.source.Nodes()
	currentNodes := make(map[string]bool, len(nodes))

	var wg sync.WaitGroup
	for _, n := range nodes {
		currentNodes[n.Name] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.checkNode(ctx, n)
		}()
	}
	wg.Wait()

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			log.Printf("Removed node %s from health monitoring", nodeID)
		}
	}
	h.mu.Unlock()
}

// CheckNow probes the named node immediately and returns its health after
// the probe. Concurrent calls for the same node, including the periodic
// check, share one probe. Returns nil for a node the source does not know.
func (h *HealthMonitor) CheckNow(ctx context.Context, name string) *NodeHealth {
	for _, n := range h.source.Nodes() {
		if n.Name == name {
			h.checkNode(ctx, n)
			return h.GetNodeHealth(name)
		}
	}
	return nil
}

func (h *HealthMonitor) checkNode(ctx context.Context, n *node.Node) {
	_, _, _ = h.probes.Do(n.Name, func() (any, error) {
		h.probe(ctx, n)
		return nil, nil
	})
}

func (h *HealthMonitor) probe(ctx context.Context, n *node.Node) {
	h.mu.Lock()
	health, exists := h.nodes[n.Name]
	if !exists {
		health = &NodeHealth{
			NodeID:      n.Name,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[n.Name] = health
	}
	check := h.checkFunc
	reconnect := h.reconnect
	h.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	stats, err := check(probeCtx, n.Info.Addr)
	cancel()

	if err == nil && !n.Connected() && reconnect != nil {
		if rerr := reconnect(ctx, n); rerr != nil {
			err = fmt.Errorf("reconnect: %w", rerr)
		}
	}

	h.mu.Lock()
	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		log.Printf("Health check failed for node %s (attempt %d/%d): %v",
			n.Name, health.ConsecutiveFails, h.maxFailures, err)

		var callback func(string)
		down := health.ConsecutiveFails >= h.maxFailures
		if down && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			callback = h.onUnhealthy
			log.Printf("Node %s marked as unhealthy after %d failures",
				n.Name, health.ConsecutiveFails)
		}
		h.mu.Unlock()

		if down {
			h.source.MarkAvailable(n.Name, false)
		}
		if callback != nil {
			go callback(n.Name)
		}
		return
	}

	if health.Status == StatusUnhealthy {
		log.Printf("Node %s recovered and is now healthy", n.Name)
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
	h.mu.Unlock()

	h.source.UpdatePenalty(n.Name, stats.Penalty)
	if n.Connected() {
		h.source.MarkAvailable(n.Name, true)
	}
}

// defaultHealthCheck fetches <addr>/stats. Addresses without a scheme are
// treated as plain HTTP.
func defaultHealthCheck(ctx context.Context, addr string) (cluster.NodeStats, error) {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = fmt.Sprintf("http://%s", addr)
	}
	url = strings.TrimRight(url, "/") + "/stats"

	var stats cluster.NodeStats
	if err := cluster.GetJSON(ctx, url, &stats); err != nil {
		return cluster.NodeStats{}, fmt.Errorf("health check request failed: %w", err)
	}
	return stats, nil
}

// GetNodeHealth returns a copy of the node's health, or nil if the node
// was never checked.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}

	copied := *health
	return &copied
}

// GetAllNodeHealth returns a copy of every tracked node's health.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		copied := *health
		result[id] = &copied
	}

	return result
}

// IsHealthy reports whether the node's last probes succeeded. Unknown
// nodes are not healthy.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return false
	}

	return health.Status == StatusHealthy
}

package node

import (
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/voxroute/internal/metrics"
)

// Registry holds the audio nodes of the cluster and answers the placement
// question: which node should host a new player.
//
// Nodes are kept in registration order. That order is the tie-break when
// several candidates report the same penalty, so selection is deterministic
// for a given cluster state.
//
// Concurrency Model:
//   - Selection and listing take the read lock and may run in parallel
//   - Add/Remove take the write lock
//   - Availability and penalty live on the Node itself (atomics), so a
//     selection result is advisory: a node may become unavailable right
//     after it was returned
//   - The unavailable callback runs after all locks are released
type Registry struct {
	// nodes in registration order; replaced nodes keep their slot.
	nodes []*Node

	resolver      RegionResolver
	metrics       metrics.Metrics
	onUnavailable func(*Node)

	mu sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithRegionResolver overrides the endpoint-to-region mapping
// (DefaultRegions otherwise).
func WithRegionResolver(resolver RegionResolver) Option {
	return func(r *Registry) {
		if resolver != nil {
			r.resolver = resolver
		}
	}
}

func WithMetrics(m metrics.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry creates an empty registry.
//
// Example:
//
//	registry := NewRegistry(WithRegionResolver(RegionTable{"eu": {"rotterdam"}}))
//	registry.Add(New(cluster.NodeInfo{ID: "node-1", Region: "eu"}))
//	registry.MarkAvailable("node-1", true)
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		resolver: DefaultRegions,
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetOnUnavailable sets the callback invoked when a node transitions from
// available to unavailable. It is typically wired to the player manager so
// players stranded on a lost node are evicted.
func (r *Registry) SetOnUnavailable(callback func(*Node)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnavailable = callback
}

// Add registers n. A node with the same name is replaced in place and, if
// it was available, treated as lost: its players are gone with it.
// Returns the replaced node, or nil.
func (r *Registry) Add(n *Node) *Node {
	r.mu.Lock()
	var prev *Node
	idx := slices.IndexFunc(r.nodes, func(existing *Node) bool { return existing.Name == n.Name })
	if idx >= 0 {
		prev = r.nodes[idx]
		r.nodes[idx] = n
	} else {
		r.nodes = append(r.nodes, n)
	}
	r.mu.Unlock()

	if prev != nil && prev != n && prev.setAvailable(false) {
		r.notifyUnavailable(prev)
	}
	r.metrics.NodeAvailability(n.Name, n.Available())
	return prev
}

// Remove unregisters the named node and returns it (nil if unknown). The
// node is marked unavailable first so its players are handled like any
// other node loss. Closing its transport is left to the caller.
func (r *Registry) Remove(name string) *Node {
	r.mu.Lock()
	idx := slices.IndexFunc(r.nodes, func(n *Node) bool { return n.Name == name })
	if idx < 0 {
		r.mu.Unlock()
		return nil
	}
	n := r.nodes[idx]
	r.nodes = slices.Delete(r.nodes, idx, idx+1)
	r.mu.Unlock()

	if n.setAvailable(false) {
		r.metrics.NodeAvailability(n.Name, false)
		r.notifyUnavailable(n)
	}
	return n
}

func (r *Registry) Get(name string) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := slices.IndexFunc(r.nodes, func(n *Node) bool { return n.Name == name })
	if idx < 0 {
		return nil
	}
	return r.nodes[idx]
}

// Nodes returns a snapshot of all registered nodes in registration order.
func (r *Registry) Nodes() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodes)
}

// AvailableNodes returns the registered nodes that currently accept players.
func (r *Registry) AvailableNodes() []*Node {
	nodes := r.Nodes()
	return slices.DeleteFunc(nodes, func(n *Node) bool { return !n.Available() })
}

// FindIdealNode picks the node that should host a new player.
//
// Selection:
//  1. With a region, only available nodes declaring that region compete
//  2. Without a region, or when no node of that region is available, all
//     available nodes compete
//  3. The lowest penalty wins; on equal penalties the earliest registered
//     node wins
//
// Returns nil when no node is available. Callers must treat nil as a hard
// failure rather than retry.
func (r *Registry) FindIdealNode(region string) *Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if region != "" {
		if n := lowestPenalty(r.nodes, func(n *Node) bool { return n.Region == region }); n != nil {
			return n
		}
	}
	return lowestPenalty(r.nodes, func(*Node) bool { return true })
}

func lowestPenalty(nodes []*Node, match func(*Node) bool) *Node {
	var best *Node
	var bestPenalty float64
	for _, n := range nodes {
		if !n.Available() || !match(n) {
			continue
		}
		// Read once: the node's accounting may update it concurrently.
		p := n.Penalty()
		if best == nil || p < bestPenalty {
			best, bestPenalty = n, p
		}
	}
	return best
}

// ResolveRegion maps a voice server endpoint to a region tag, "" if unknown.
func (r *Registry) ResolveRegion(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	return r.resolver.Resolve(endpoint)
}

// MarkAvailable is called by the node's health or connection process when
// the node comes up or goes away. It returns whether availability changed.
// Going unavailable invokes the unavailable callback.
func (r *Registry) MarkAvailable(name string, available bool) bool {
	n := r.Get(name)
	if n == nil {
		return false
	}
	if !n.setAvailable(available) {
		return false
	}
	r.metrics.NodeAvailability(n.Name, available)
	if !available {
		r.notifyUnavailable(n)
	}
	return true
}

// UpdatePenalty records a node's latest self-reported penalty.
func (r *Registry) UpdatePenalty(name string, penalty float64) bool {
	n := r.Get(name)
	if n == nil {
		return false
	}
	n.SetPenalty(penalty)
	r.metrics.NodePenalty(n.Name, penalty)
	return true
}

func (r *Registry) notifyUnavailable(n *Node) {
	r.mu.RLock()
	callback := r.onUnavailable
	r.mu.RUnlock()

	if callback != nil {
		callback(n)
	}
}

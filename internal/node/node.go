package node

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dreamware/voxroute/internal/cluster"
)

// ErrNodeUnavailable is returned by Send when the node has no usable
// transport attached.
var ErrNodeUnavailable = errors.New("node unavailable")

// Transport carries op frames to a single node. Implementations live in
// the transport package; tests use in-memory fakes.
type Transport interface {
	Send(ctx context.Context, cmd cluster.Command) error
	Close() error
}

// Player is the node's view of a hosted player: only its guild identity
// matters for bookkeeping.
type Player interface {
	GuildID() uint64
}

// Node is a single audio node of the cluster.
//
// Availability and penalty are owned by the node's own connection and
// accounting process; the registry only reads them when selecting.
// Thread-safe: all methods may be called concurrently.
type Node struct {
	Info   cluster.NodeInfo
	Name   string
	Region string

	available atomic.Bool
	penalty   atomic.Uint64 // math.Float64bits of the penalty

	mu        sync.RWMutex
	transport Transport
	players   map[uint64]Player
}

// New creates an unavailable node from its registration info. It becomes
// selectable once the registry marks it available.
func New(info cluster.NodeInfo) *Node {
	return &Node{
		Info:    info,
		Name:    info.ID,
		Region:  info.Region,
		players: make(map[uint64]Player),
	}
}

func (n *Node) String() string { return n.Name }

// Available reports whether the node currently accepts new players.
func (n *Node) Available() bool {
	return n.available.Load()
}

// setAvailable flips availability and reports whether it changed.
func (n *Node) setAvailable(available bool) bool {
	return n.available.CompareAndSwap(!available, available)
}

func (n *Node) Penalty() float64 {
	return math.Float64frombits(n.penalty.Load())
}

func (n *Node) SetPenalty(penalty float64) {
	n.penalty.Store(math.Float64bits(penalty))
}

// SetTransport attaches t and returns the transport it replaced, if any.
// The caller owns closing the previous transport.
func (n *Node) SetTransport(t Transport) Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev := n.transport
	n.transport = t
	return prev
}

// DetachTransport detaches t if it is still the node's transport. It
// reports whether it did; a transport replaced in the meantime is left
// alone.
func (n *Node) DetachTransport(t Transport) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t == nil || n.transport != t {
		return false
	}
	n.transport = nil
	return true
}

// Connected reports whether a transport is attached.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.transport != nil
}

// Send delivers cmd to the node and waits for the transport to report
// completion.
func (n *Node) Send(ctx context.Context, cmd cluster.Command) error {
	n.mu.RLock()
	t := n.transport
	n.mu.RUnlock()

	if t == nil {
		return fmt.Errorf("node %s: %w", n.Name, ErrNodeUnavailable)
	}
	if err := t.Send(ctx, cmd); err != nil {
		return fmt.Errorf("node %s: send %s: %w", n.Name, cmd.Op, err)
	}
	return nil
}

// Close detaches and closes the node's transport.
func (n *Node) Close() error {
	t := n.SetTransport(nil)
	if t == nil {
		return nil
	}
	return t.Close()
}

func (n *Node) AddPlayer(p Player) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.players[p.GuildID()] = p
}

func (n *Node) RemovePlayer(guildID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.players, guildID)
}

// Players returns a snapshot of the players bound to this node.
func (n *Node) Players() []Player {
	n.mu.RLock()
	defer n.mu.RUnlock()

	players := make([]Player, 0, len(n.players))
	for _, p := range n.players {
		players = append(players, p)
	}
	return players
}

func (n *Node) PlayerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.players)
}

// Status is the JSON view of a node exposed by the coordinator API.
type Status struct {
	Name      string  `json:"name"`
	Addr      string  `json:"addr"`
	Region    string  `json:"region,omitempty"`
	Transport string  `json:"transport,omitempty"`
	Available bool    `json:"available"`
	Penalty   float64 `json:"penalty"`
	Players   int     `json:"players"`
}

func (n *Node) Status() Status {
	return Status{
		Name:      n.Name,
		Addr:      n.Info.Addr,
		Region:    n.Region,
		Transport: n.Info.Transport,
		Available: n.Available(),
		Penalty:   n.Penalty(),
		Players:   n.PlayerCount(),
	}
}

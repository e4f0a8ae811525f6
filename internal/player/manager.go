package player

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slices"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/keylock"
	"github.com/dreamware/voxroute/internal/metrics"
	"github.com/dreamware/voxroute/internal/node"
)

const tracerName = "github.com/dreamware/voxroute/internal/player"

var (
	// ErrInvalidConfiguration is returned by NewManager when it is missing
	// the node selector or the session factory.
	ErrInvalidConfiguration = errors.New("invalid player manager configuration")

	// ErrNoAvailableNode is returned by Create when no node can host the
	// player. Callers may retry with different hints.
	ErrNoAvailableNode = errors.New("no available nodes")
)

// NodeSelector is the part of the node registry the manager relies on.
type NodeSelector interface {
	FindIdealNode(region string) *node.Node
	ResolveRegion(endpoint string) string
}

// CreateOptions are the placement hints for a new player, in decreasing
// priority: Node, then the region of Endpoint, then Region. With none of
// them usable the lowest-penalty node of the cluster is chosen.
type CreateOptions struct {
	// Node pins the player to a specific node.
	Node *node.Node
	// Endpoint is the voice server address, e.g. "rotterdam12.discord.media:443".
	Endpoint string
	Region   string
}

// Manager owns the guild to player mapping.
//
// The mapping is the single source of truth for whether a guild has a
// player. Create, Remove, Destroy and EvictNode are the only operations
// that change it.
//
// Concurrency Model:
//   - mu guards players, order and the node player sets; it is never
//     held across I/O
//   - guilds serializes Create and Destroy per guild, so a guild is never
//     created twice and a destroy in flight is never overtaken by a create
//     whose fresh remote player the teardown would then kill
//   - Get, FindAll, Count, All and Remove only take mu
type Manager struct {
	selector NodeSelector
	factory  Factory
	metrics  metrics.Metrics
	tracer   trace.Tracer
	guilds   *keylock.Locker[uint64]
	players  map[uint64]Session
	order    []uint64 // insertion order of players
	mu       sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

func WithMetrics(m metrics.Metrics) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// WithTracerProvider sets where lifecycle spans go. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(mgr *Manager) {
		if tp != nil {
			mgr.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewManager validates its dependencies once; a manager that was built
// can always produce sessions.
//
// Example:
//
//	mgr, err := NewManager(registry, NewDefaultPlayer)
//	if err != nil {
//	    log.Fatalf("player manager: %v", err)
//	}
//	registry.SetOnUnavailable(func(n *node.Node) { mgr.EvictNode(n) })
func NewManager(selector NodeSelector, factory Factory, opts ...Option) (*Manager, error) {
	if selector == nil {
		return nil, fmt.Errorf("%w: node selector is required", ErrInvalidConfiguration)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: session factory is required", ErrInvalidConfiguration)
	}

	m := &Manager{
		selector: selector,
		factory:  factory,
		metrics:  metrics.Nop(),
		tracer:   otel.Tracer(tracerName),
		guilds:   keylock.New[uint64](),
		players:  make(map[uint64]Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create returns the guild's player, creating it if needed.
//
// An existing player is returned as is: hints are ignored and no node is
// selected. Otherwise a node is resolved from opts; if none is available
// the error wraps ErrNoAvailableNode and nothing is registered. An
// explicitly requested node that is unavailable is rejected the same way.
func (m *Manager) Create(ctx context.Context, guildID uint64, opts CreateOptions) (Session, error) {
	s, _, err := m.GetOrCreate(ctx, guildID, opts)
	return s, err
}

// GetOrCreate is Create that also reports whether this call created the
// player. Of concurrent callers for one guild exactly one sees true.
func (m *Manager) GetOrCreate(ctx context.Context, guildID uint64, opts CreateOptions) (Session, bool, error) {
	if s := m.Get(guildID); s != nil {
		return s, false, nil
	}

	ctx, span := m.tracer.Start(ctx, "player.Create", trace.WithAttributes(
		attribute.String("guild.id", cluster.FormatGuildID(guildID)),
	))
	defer span.End()

	unlock, err := m.guilds.LockContext(ctx, guildID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	// Another caller may have created it while we waited for the lock.
	if s := m.Get(guildID); s != nil {
		return s, false, nil
	}

	n, err := m.resolveNode(guildID, opts)
	if err != nil {
		m.selectionFailed(span, err)
		return nil, false, err
	}
	span.SetAttributes(attribute.String("node.name", n.Name))

	s := m.factory(guildID, n)
	if s == nil {
		return nil, false, fmt.Errorf("%w: factory returned no player for guild %d", ErrInvalidConfiguration, guildID)
	}

	// The node may have been lost since it was selected. EvictNode scans
	// under mu, so the player is either refused here or evicted there.
	m.mu.Lock()
	if !n.Available() {
		m.mu.Unlock()
		s.Cleanup()
		err := fmt.Errorf("%w: node %s was lost while creating the player for guild %d", ErrNoAvailableNode, n.Name, guildID)
		m.selectionFailed(span, err)
		return nil, false, err
	}
	m.players[guildID] = s
	m.order = append(m.order, guildID)
	n.AddPlayer(s)
	count := len(m.players)
	m.mu.Unlock()

	m.metrics.PlayerCreated(n.Name)
	m.metrics.PlayersActive(count)

	log.Printf("[NODE-%s] Successfully created a player for guild %d", n.Name, guildID)
	return s, true, nil
}

func (m *Manager) selectionFailed(span trace.Span, err error) {
	m.metrics.SelectionFailed()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (m *Manager) resolveNode(guildID uint64, opts CreateOptions) (*node.Node, error) {
	if opts.Node != nil {
		if !opts.Node.Available() {
			return nil, fmt.Errorf("%w: requested node %s is unavailable", ErrNoAvailableNode, opts.Node.Name)
		}
		return opts.Node, nil
	}

	region := opts.Region
	if opts.Endpoint != "" {
		if r := m.selector.ResolveRegion(opts.Endpoint); r != "" {
			region = r
		}
	}

	n := m.selector.FindIdealNode(region)
	if n == nil {
		return nil, fmt.Errorf("%w for guild %d (region %q)", ErrNoAvailableNode, guildID, region)
	}
	return n, nil
}

// Get returns the guild's player or nil.
func (m *Manager) Get(guildID uint64) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[guildID]
}

// FindAll returns the players matching predicate in creation order, or all
// of them when predicate is nil. The predicate runs without any lock held.
func (m *Manager) FindAll(predicate func(Session) bool) []Session {
	sessions := m.snapshot()
	if predicate == nil {
		return sessions
	}
	return slices.DeleteFunc(sessions, func(s Session) bool { return !predicate(s) })
}

// Remove drops the guild's player from the local cache and runs its
// Cleanup. The node is not contacted: the caller must already have torn
// down the voice connection, or the node keeps an orphaned player.
// Removing an unknown guild is a no-op.
func (m *Manager) Remove(guildID uint64) {
	s := m.evict(guildID)
	if s == nil {
		return
	}
	s.Cleanup()
	m.metrics.PlayerRemoved()
}

// Destroy drops the guild's player and tears it down on its node.
//
// The local eviction happens first and is never rolled back. If the node
// is gone (nil or unavailable) the teardown is skipped, since the node has
// already discarded its players. Otherwise a destroy command is sent and
// awaited; a transport failure, including ctx cancellation mid-flight, is
// returned to the caller but the guild stays evicted, so calling Destroy
// again will not retry the remote side. Destroying an unknown guild is a
// no-op.
func (m *Manager) Destroy(ctx context.Context, guildID uint64) error {
	ctx, span := m.tracer.Start(ctx, "player.Destroy", trace.WithAttributes(
		attribute.String("guild.id", cluster.FormatGuildID(guildID)),
	))
	defer span.End()

	unlock, err := m.guilds.LockContext(ctx, guildID)
	if err != nil {
		return err
	}
	defer unlock()

	s := m.evict(guildID)
	if s == nil {
		return nil
	}
	s.Cleanup()

	n := s.Node()
	if n == nil || !n.Available() {
		name := "none"
		if n != nil {
			name = n.Name
		}
		m.metrics.PlayerDestroyed(name, metrics.OutcomeSkipped)
		log.Printf("[NODE-%s] Successfully destroyed its player for guild %d (node unavailable, teardown skipped)", name, guildID)
		return nil
	}
	span.SetAttributes(attribute.String("node.name", n.Name))

	if err := n.Send(ctx, cluster.DestroyCommand(guildID)); err != nil {
		m.metrics.PlayerDestroyed(n.Name, metrics.OutcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("[NODE-%s] Failed to destroy player for guild %d: %v", n.Name, guildID, err)
		return fmt.Errorf("destroy player for guild %d: %w", guildID, err)
	}

	m.metrics.PlayerDestroyed(n.Name, metrics.OutcomeOK)
	log.Printf("[NODE-%s] Successfully destroyed its player for guild %d", n.Name, guildID)
	return nil
}

// EvictNode drops every player bound to n without contacting it and runs
// their Cleanup. It is the node-loss policy: a node that went away is
// presumed to have discarded its players. Returns the evicted guild IDs.
func (m *Manager) EvictNode(n *node.Node) []uint64 {
	if n == nil {
		return nil
	}

	m.mu.Lock()
	var evicted []Session
	for _, id := range m.order {
		if s := m.players[id]; s.Node() == n {
			evicted = append(evicted, s)
			delete(m.players, id)
			n.RemovePlayer(id)
		}
	}
	if len(evicted) > 0 {
		m.order = slices.DeleteFunc(m.order, func(id uint64) bool {
			_, ok := m.players[id]
			return !ok
		})
	}
	count := len(m.players)
	m.mu.Unlock()

	if len(evicted) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(evicted))
	for _, s := range evicted {
		s.Cleanup()
		ids = append(ids, s.GuildID())
	}
	m.metrics.PlayersEvicted(n.Name, len(evicted))
	m.metrics.PlayersActive(count)

	log.Printf("[NODE-%s] Node lost, evicted %d players", n.Name, len(evicted))
	return ids
}

// Count returns the number of mapped players.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

// All yields (guildID, player) pairs in creation order. The pairs are
// snapshotted when All is called, so the manager may be modified while
// iterating.
func (m *Manager) All() iter.Seq2[uint64, Session] {
	sessions := m.snapshot()
	return func(yield func(uint64, Session) bool) {
		for _, s := range sessions {
			if !yield(s.GuildID(), s) {
				return
			}
		}
	}
}

// Values yields the players in creation order from a snapshot.
func (m *Manager) Values() iter.Seq[Session] {
	sessions := m.snapshot()
	return func(yield func(Session) bool) {
		for _, s := range sessions {
			if !yield(s) {
				return
			}
		}
	}
}

func (m *Manager) snapshot() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.order))
	for _, id := range m.order {
		sessions = append(sessions, m.players[id])
	}
	return sessions
}

// evict removes the guild from the mapping and from its node's player set.
// Both change under mu so a node's set always matches the mapping.
func (m *Manager) evict(guildID uint64) Session {
	m.mu.Lock()
	s, ok := m.players[guildID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.players, guildID)
	if idx := slices.Index(m.order, guildID); idx >= 0 {
		m.order = slices.Delete(m.order, idx, idx+1)
	}
	if n := s.Node(); n != nil {
		n.RemovePlayer(guildID)
	}
	count := len(m.players)
	m.mu.Unlock()

	m.metrics.PlayersActive(count)
	return s
}

package player

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/metrics"
	"github.com/dreamware/voxroute/internal/node"
)

// fakeTransport records every command. When gate is set, Send blocks until
// the gate is closed or ctx is done.
type fakeTransport struct {
	mu   sync.Mutex
	sent []cluster.Command
	err  error
	gate chan struct{}
	// started is closed on the first Send, if set.
	started chan struct{}
	once    sync.Once
}

func (f *fakeTransport) Send(ctx context.Context, cmd cluster.Command) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) commands() []cluster.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cluster.Command(nil), f.sent...)
}

// countingSession counts Cleanup calls.
type countingSession struct {
	node     *node.Node
	guildID  uint64
	cleanups atomic.Int32
}

func (s *countingSession) GuildID() uint64 { return s.guildID }
func (s *countingSession) Node() *node.Node { return s.node }
func (s *countingSession) Cleanup() { s.cleanups.Add(1) }

func countingFactory(created *atomic.Int32) Factory {
	return func(guildID uint64, n *node.Node) Session {
		if created != nil {
			created.Add(1)
		}
		return &countingSession{guildID: guildID, node: n}
	}
}

// countingSelector counts placement queries against the wrapped registry.
type countingSelector struct {
	*node.Registry
	calls atomic.Int32
}

func (c *countingSelector) FindIdealNode(region string) *node.Node {
	c.calls.Add(1)
	return c.Registry.FindIdealNode(region)
}

type testNode struct {
	name      string
	region    string
	penalty   float64
	available bool
}

type testCluster struct {
	registry   *node.Registry
	transports map[string]*fakeTransport
}

func newTestCluster(t *testing.T, nodes ...testNode) *testCluster {
	t.Helper()
	c := &testCluster{
		registry:   node.NewRegistry(),
		transports: make(map[string]*fakeTransport),
	}
	for _, tn := range nodes {
		n := node.New(cluster.NodeInfo{ID: tn.name, Region: tn.region})
		n.SetPenalty(tn.penalty)
		tr := &fakeTransport{}
		n.SetTransport(tr)
		c.transports[tn.name] = tr
		c.registry.Add(n)
		if tn.available {
			c.registry.MarkAvailable(tn.name, true)
		}
	}
	return c
}

func (c *testCluster) node(name string) *node.Node { return c.registry.Get(name) }

func newTestManager(t *testing.T, selector NodeSelector, factory Factory, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(selector, factory, opts...)
	require.NoError(t, err)
	return m
}

func threeNodeCluster(t *testing.T) *testCluster {
	return newTestCluster(t,
		testNode{"node-a", "eu", 5, true},
		testNode{"node-b", "eu", 2, true},
		testNode{"node-c", "us", 1, true},
	)
}

func TestNewManager_InvalidConfiguration(t *testing.T) {
	_, err := NewManager(nil, NewDefaultPlayer)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewManager(node.NewRegistry(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	m, err := NewManager(node.NewRegistry(), NewDefaultPlayer)
	require.NoError(t, err)
	assert.Zero(t, m.Count())
}

func TestCreate_FactoryReturningNil(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, func(uint64, *node.Node) Session { return nil })

	_, err := m.Create(context.Background(), 1, CreateOptions{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Zero(t, m.Count())
}

// TestCreate_RegionScenario: NodeB wins eu, and a later hint for the same
// guild is ignored.
func TestCreate_RegionScenario(t *testing.T) {
	c := threeNodeCluster(t)
	selector := &countingSelector{Registry: c.registry}
	m := newTestManager(t, selector, countingFactory(nil))

	first, err := m.Create(context.Background(), 100, CreateOptions{Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, "node-b", first.Node().Name)

	second, err := m.Create(context.Background(), 100, CreateOptions{Region: "us"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "node-b", second.Node().Name)

	assert.Equal(t, int32(1), selector.calls.Load(), "existing player must not trigger selection")
	assert.Equal(t, 1, c.node("node-b").PlayerCount())
	assert.Equal(t, 1, m.Count())
}

func TestCreate_NoAvailableNode(t *testing.T) {
	c := newTestCluster(t,
		testNode{"node-a", "eu", 1, false},
		testNode{"node-b", "us", 1, false},
	)
	m := newTestManager(t, c.registry, countingFactory(nil))

	s, err := m.Create(context.Background(), 7, CreateOptions{Region: "eu"})
	assert.ErrorIs(t, err, ErrNoAvailableNode)
	assert.Nil(t, s)
	assert.Nil(t, m.Get(7))
	assert.Zero(t, m.Count())
	assert.Zero(t, c.node("node-a").PlayerCount())
	assert.Zero(t, c.node("node-b").PlayerCount())
}

func TestCreate_ResolutionPriority(t *testing.T) {
	tests := []struct {
		name     string
		opts     func(c *testCluster) CreateOptions
		wantNode string
		wantErr  error
	}{
		{
			name:     "no hints picks cluster-wide lowest penalty",
			opts:     func(*testCluster) CreateOptions { return CreateOptions{} },
			wantNode: "node-c",
		},
		{
			name:     "region hint",
			opts:     func(*testCluster) CreateOptions { return CreateOptions{Region: "eu"} },
			wantNode: "node-b",
		},
		{
			name: "endpoint beats region",
			opts: func(*testCluster) CreateOptions {
				return CreateOptions{Region: "us", Endpoint: "rotterdam99.discord.media:443"}
			},
			wantNode: "node-b",
		},
		{
			name: "unresolvable endpoint falls back to region",
			opts: func(*testCluster) CreateOptions {
				return CreateOptions{Region: "eu", Endpoint: "atlantis1.discord.media:443"}
			},
			wantNode: "node-b",
		},
		{
			name: "explicit node beats everything",
			opts: func(c *testCluster) CreateOptions {
				return CreateOptions{Node: c.node("node-a"), Region: "us", Endpoint: "us-east1.discord.media"}
			},
			wantNode: "node-a",
		},
		{
			name: "explicit unavailable node is rejected",
			opts: func(c *testCluster) CreateOptions {
				return CreateOptions{Node: c.node("node-d")}
			},
			wantErr: ErrNoAvailableNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCluster(t,
				testNode{"node-a", "eu", 5, true},
				testNode{"node-b", "eu", 2, true},
				testNode{"node-c", "us", 1, true},
				testNode{"node-d", "eu", 0, false},
			)
			m := newTestManager(t, c.registry, countingFactory(nil))

			s, err := m.Create(context.Background(), 1, tt.opts(c))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, m.Count())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNode, s.Node().Name)
		})
	}
}

func TestCreate_ConcurrentSameGuild(t *testing.T) {
	c := threeNodeCluster(t)
	var created atomic.Int32
	m := newTestManager(t, c.registry, countingFactory(&created))

	const callers = 50
	results := make([]Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Create(context.Background(), 42, CreateOptions{Region: "eu"})
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load(), "factory must run once per guild")
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	assert.Equal(t, 1, m.Count())
}

func TestDestroy(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	s, err := m.Create(context.Background(), 100, CreateOptions{Region: "eu"})
	require.NoError(t, err)

	require.NoError(t, m.Destroy(context.Background(), 100))

	assert.Nil(t, m.Get(100))
	assert.Zero(t, m.Count())
	assert.Zero(t, c.node("node-b").PlayerCount())
	assert.Equal(t, int32(1), s.(*countingSession).cleanups.Load())

	cmds := c.transports["node-b"].commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, cluster.Command{Op: cluster.OpDestroy, GuildID: "100"}, cmds[0])
	assert.Empty(t, c.transports["node-a"].commands())
	assert.Empty(t, c.transports["node-c"].commands())
}

func TestDestroy_UnknownGuild(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	assert.NoError(t, m.Destroy(context.Background(), 999))
	for name, tr := range c.transports {
		assert.Empty(t, tr.commands(), "node %s must not be contacted", name)
	}
}

func TestDestroy_UnavailableNodeSkipsTeardown(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	_, err := m.Create(context.Background(), 5, CreateOptions{Node: c.node("node-a")})
	require.NoError(t, err)

	// Flip availability behind the registry's back so no eviction runs.
	c.registry.SetOnUnavailable(nil)
	c.registry.MarkAvailable("node-a", false)

	require.NoError(t, m.Destroy(context.Background(), 5))
	assert.Nil(t, m.Get(5))
	assert.Empty(t, c.transports["node-a"].commands())
}

func TestDestroy_TransportErrorKeepsEviction(t *testing.T) {
	c := threeNodeCluster(t)
	boom := errors.New("connection reset")
	c.transports["node-c"].err = boom
	m := newTestManager(t, c.registry, countingFactory(nil))

	_, err := m.Create(context.Background(), 8, CreateOptions{})
	require.NoError(t, err)

	err = m.Destroy(context.Background(), 8)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, m.Get(8), "eviction is committed before the remote call")

	assert.NoError(t, m.Destroy(context.Background(), 8), "second destroy is a no-op")
	assert.Len(t, c.transports["node-c"].commands(), 1)
}

func TestDestroy_CancelledMidFlight(t *testing.T) {
	c := threeNodeCluster(t)
	tr := c.transports["node-c"]
	tr.gate = make(chan struct{})
	tr.started = make(chan struct{})
	m := newTestManager(t, c.registry, countingFactory(nil))

	_, err := m.Create(context.Background(), 9, CreateOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Destroy(ctx, 9) }()

	<-tr.started
	assert.Nil(t, m.Get(9), "guild is evicted while the teardown is in flight")
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Nil(t, m.Get(9), "eviction is not rolled back")
}

// TestDestroy_SerializesCreate checks that a create for a guild whose
// destroy is in flight waits for the teardown and then builds a new player.
func TestDestroy_SerializesCreate(t *testing.T) {
	c := threeNodeCluster(t)
	tr := c.transports["node-c"]
	m := newTestManager(t, c.registry, countingFactory(nil))

	old, err := m.Create(context.Background(), 11, CreateOptions{})
	require.NoError(t, err)

	tr.mu.Lock()
	tr.gate = make(chan struct{})
	tr.mu.Unlock()
	tr.started = make(chan struct{})

	destroyed := make(chan error, 1)
	go func() { destroyed <- m.Destroy(context.Background(), 11) }()
	<-tr.started

	created := make(chan Session, 1)
	go func() {
		s, err := m.Create(context.Background(), 11, CreateOptions{})
		assert.NoError(t, err)
		created <- s
	}()

	select {
	case <-created:
		t.Fatal("create completed while destroy was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(tr.gate)
	require.NoError(t, <-destroyed)

	fresh := <-created
	assert.NotSame(t, old, fresh)
	assert.Same(t, fresh, m.Get(11))
}

func TestRemove(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	s, err := m.Create(context.Background(), 3, CreateOptions{Region: "eu"})
	require.NoError(t, err)

	m.Remove(3)
	m.Remove(3)

	assert.Nil(t, m.Get(3))
	assert.Zero(t, c.node("node-b").PlayerCount())
	assert.Equal(t, int32(1), s.(*countingSession).cleanups.Load())
	for name, tr := range c.transports {
		assert.Empty(t, tr.commands(), "node %s must not be contacted", name)
	}
}

func TestFindAll(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	for _, g := range []struct {
		id     uint64
		region string
	}{{30, "eu"}, {10, "us"}, {20, "eu"}, {40, "us"}} {
		_, err := m.Create(context.Background(), g.id, CreateOptions{Region: g.region})
		require.NoError(t, err)
	}

	var all []uint64
	for _, s := range m.FindAll(nil) {
		all = append(all, s.GuildID())
	}
	assert.Equal(t, []uint64{30, 10, 20, 40}, all, "creation order")

	var onB []uint64
	for _, s := range m.FindAll(func(s Session) bool { return s.Node().Name == "node-b" }) {
		onB = append(onB, s.GuildID())
	}
	assert.Equal(t, []uint64{30, 20}, onB)

	assert.Empty(t, m.FindAll(func(Session) bool { return false }))
	assert.Equal(t, 4, m.Count(), "FindAll does not mutate")
}

func TestAll_SnapshotTolerantOfMutation(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	for _, id := range []uint64{1, 2, 3} {
		_, err := m.Create(context.Background(), id, CreateOptions{})
		require.NoError(t, err)
	}

	var seen []uint64
	for id, s := range m.All() {
		assert.Equal(t, id, s.GuildID())
		seen = append(seen, id)
		m.Remove(id)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.Zero(t, m.Count())

	_, err := m.Create(context.Background(), 4, CreateOptions{})
	require.NoError(t, err)
	var values []uint64
	for s := range m.Values() {
		values = append(values, s.GuildID())
	}
	assert.Equal(t, []uint64{4}, values)

	for range m.All() {
		break
	}
}

func TestEvictNode_OnNodeLoss(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))
	c.registry.SetOnUnavailable(func(n *node.Node) { m.EvictNode(n) })

	onB1, err := m.Create(context.Background(), 1, CreateOptions{Region: "eu"})
	require.NoError(t, err)
	onC, err := m.Create(context.Background(), 2, CreateOptions{Region: "us"})
	require.NoError(t, err)
	onB2, err := m.Create(context.Background(), 3, CreateOptions{Region: "eu"})
	require.NoError(t, err)

	require.True(t, c.registry.MarkAvailable("node-b", false))

	assert.Nil(t, m.Get(1))
	assert.Nil(t, m.Get(3))
	assert.Same(t, onC, m.Get(2))
	assert.Equal(t, int32(1), onB1.(*countingSession).cleanups.Load())
	assert.Equal(t, int32(1), onB2.(*countingSession).cleanups.Load())
	assert.Zero(t, onC.(*countingSession).cleanups.Load())
	assert.Zero(t, c.node("node-b").PlayerCount())
	assert.Empty(t, c.transports["node-b"].commands(), "lost node is not contacted")

	// The next create for the guild lands on a live node.
	s, err := m.Create(context.Background(), 1, CreateOptions{Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, "node-a", s.Node().Name)
}

func TestEvictNode_Nothing(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))
	assert.Nil(t, m.EvictNode(c.node("node-a")))
	assert.Nil(t, m.EvictNode(nil))
}

// lostAfterSelection drops the selected node once, right after placement
// picked it.
type lostAfterSelection struct {
	*node.Registry
	dropped atomic.Bool
}

func (l *lostAfterSelection) FindIdealNode(region string) *node.Node {
	n := l.Registry.FindIdealNode(region)
	if n != nil && l.dropped.CompareAndSwap(false, true) {
		l.Registry.MarkAvailable(n.Name, false)
	}
	return n
}

func TestCreate_NodeLostAfterSelection(t *testing.T) {
	c := threeNodeCluster(t)
	selector := &lostAfterSelection{Registry: c.registry}
	var created atomic.Int32
	m := newTestManager(t, selector, countingFactory(&created))
	c.registry.SetOnUnavailable(func(n *node.Node) { m.EvictNode(n) })

	_, err := m.Create(context.Background(), 7, CreateOptions{Region: "eu"})
	require.ErrorIs(t, err, ErrNoAvailableNode)

	assert.Equal(t, int32(1), created.Load())
	assert.False(t, c.node("node-b").Available())
	assert.Nil(t, m.Get(7), "player must not stay bound to the lost node")
	assert.Zero(t, m.Count())
	assert.Zero(t, c.node("node-b").PlayerCount())

	// A retry lands on the remaining eu node.
	s, err := m.Create(context.Background(), 7, CreateOptions{Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, "node-a", s.Node().Name)
	assert.Equal(t, 1, c.node("node-a").PlayerCount())
}

func TestGetOrCreate_ReportsCreation(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	const callers = 20
	var creators atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.GetOrCreate(context.Background(), 9, CreateOptions{})
			assert.NoError(t, err)
			if created {
				creators.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), creators.Load())

	_, created, err := m.GetOrCreate(context.Background(), 9, CreateOptions{})
	require.NoError(t, err)
	assert.False(t, created)
}

// TestNodePlayerSetsMatchMapping churns creates and removes on a few guilds
// and checks that the nodes' player sets end up agreeing with the manager.
func TestNodePlayerSetsMatchMapping(t *testing.T) {
	c := threeNodeCluster(t)
	m := newTestManager(t, c.registry, countingFactory(nil))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				guildID := uint64((w + i) % 4)
				if i%2 == 0 {
					_, err := m.Create(context.Background(), guildID, CreateOptions{})
					assert.NoError(t, err)
				} else {
					m.Remove(guildID)
				}
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, n := range c.registry.Nodes() {
		total += n.PlayerCount()
		for _, p := range n.Players() {
			s := m.Get(p.GuildID())
			if assert.NotNil(t, s, "node %s holds unmapped guild %d", n.Name, p.GuildID()) {
				assert.Same(t, n, s.Node())
			}
		}
	}
	assert.Equal(t, m.Count(), total)
}

type recordingMetrics struct {
	metrics.Metrics
	mu        sync.Mutex
	created   []string
	destroyed []string
	failures  int
	active    int
}

func (r *recordingMetrics) PlayerCreated(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, node)
}

func (r *recordingMetrics) PlayerDestroyed(node, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = append(r.destroyed, node+":"+outcome)
}

func (r *recordingMetrics) SelectionFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *recordingMetrics) PlayersActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func TestManagerMetrics(t *testing.T) {
	c := threeNodeCluster(t)
	rec := &recordingMetrics{Metrics: metrics.Nop()}
	m := newTestManager(t, c.registry, countingFactory(nil), WithMetrics(rec))

	_, err := m.Create(context.Background(), 1, CreateOptions{Region: "eu"})
	require.NoError(t, err)
	_, err = m.Create(context.Background(), 2, CreateOptions{Region: "us"})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.active)

	require.NoError(t, m.Destroy(context.Background(), 1))

	_, err = m.Create(context.Background(), 3, CreateOptions{Node: node.New(cluster.NodeInfo{ID: "ghost"})})
	assert.ErrorIs(t, err, ErrNoAvailableNode)

	assert.Equal(t, []string{"node-b", "node-c"}, rec.created)
	assert.Equal(t, []string{"node-b:" + metrics.OutcomeOK}, rec.destroyed)
	assert.Equal(t, 1, rec.failures)
	assert.Equal(t, 1, rec.active)
}

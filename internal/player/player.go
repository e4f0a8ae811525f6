package player

import (
	"context"
	"sync"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/node"
)

// Session is the per-guild player bound to exactly one node for its whole
// life. Moving a guild to another node means destroying and recreating it.
type Session interface {
	node.Player

	// Node returns the node the player was created on.
	Node() *node.Node
	// Cleanup releases local resources only. It must not talk to the node.
	Cleanup()
}

// Factory builds the session for a guild on the chosen node. It is given
// to NewManager once and used for every player the manager creates.
type Factory func(guildID uint64, n *node.Node) Session

// DefaultPlayer is the stock Session: a track queue plus volume and pause
// state, relaying playback commands to its node.
type DefaultPlayer struct {
	node    *node.Node
	queue   []string
	guildID uint64
	volume  int
	mu      sync.Mutex
	paused  bool
	cleaned bool
}

// NewDefaultPlayer is a Factory producing *DefaultPlayer sessions.
func NewDefaultPlayer(guildID uint64, n *node.Node) Session {
	return &DefaultPlayer{guildID: guildID, node: n, volume: 100}
}

func (p *DefaultPlayer) GuildID() uint64 { return p.guildID }

func (p *DefaultPlayer) Node() *node.Node { return p.node }

// Enqueue appends a track identifier to the queue.
func (p *DefaultPlayer) Enqueue(track string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, track)
}

// Queue returns a copy of the pending tracks.
func (p *DefaultPlayer) Queue() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queue...)
}

// SetVolume clamps v to [0, 1000].
func (p *DefaultPlayer) SetVolume(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = max(0, min(v, 1000))
}

func (p *DefaultPlayer) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *DefaultPlayer) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
}

func (p *DefaultPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// PlayNext pops the head of the queue and asks the node to play it.
// It returns false when the queue is empty.
func (p *DefaultPlayer) PlayNext(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return false, nil
	}
	track := p.queue[0]
	p.queue = p.queue[1:]
	p.paused = false
	p.mu.Unlock()

	return true, p.node.Send(ctx, cluster.Command{
		Op:      cluster.OpPlay,
		GuildID: cluster.FormatGuildID(p.guildID),
		Track:   track,
	})
}

// Stop asks the node to stop the current track.
func (p *DefaultPlayer) Stop(ctx context.Context) error {
	return p.node.Send(ctx, cluster.Command{
		Op:      cluster.OpStop,
		GuildID: cluster.FormatGuildID(p.guildID),
	})
}

// Cleanup drops the queue. Safe to call more than once.
func (p *DefaultPlayer) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.paused = false
	p.cleaned = true
}

// Cleaned reports whether Cleanup ran.
func (p *DefaultPlayer) Cleaned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleaned
}

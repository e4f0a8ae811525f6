package audionode

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/storage"
)

// ErrInvalidCommand is returned by Apply for a command the node cannot
// interpret: a malformed guild ID or an op it does not serve.
var ErrInvalidCommand = errors.New("invalid command")

// Node is the runtime state of a reference audio node: the players it
// hosts, keyed by guild, and the load report derived from them.
//
// Thread-safe: all state lives in the Store, which synchronizes itself.
type Node struct {
	store storage.Store

	// ID names the node in the cluster. Immutable after creation.
	ID string

	password      string
	statsInterval time.Duration
}

// Option configures a Node.
type Option func(*Node)

// WithPassword makes the websocket endpoint require the password in the
// Authorization header.
func WithPassword(password string) Option {
	return func(n *Node) { n.password = password }
}

// WithStatsInterval sets how often stats frames are pushed to websocket
// clients between commands.
func WithStatsInterval(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.statsInterval = d
		}
	}
}

// New creates a node with no players. A nil store gets a MemoryStore.
//
// Example:
//
//	n := New("node-1", storage.NewMemoryStore(), WithPassword("youshallnotpass"))
//	http.ListenAndServe(":8081", n.Handler())
func New(id string, store storage.Store, opts ...Option) *Node {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	n := &Node{
		ID:            id,
		store:         store,
		statsInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Apply executes one command from the coordinator.
//
// Behavior:
//   - voiceUpdate records the voice session of the guild's player
//   - play records the track and marks the player playing
//   - stop clears the track; the player must exist
//   - destroy drops the player; destroying a missing player succeeds
func (n *Node) Apply(cmd cluster.Command) error {
	guildID, err := cluster.ParseGuildID(cmd.GuildID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	key := cluster.FormatGuildID(guildID)

	switch cmd.Op {
	case cluster.OpVoiceUpdate:
		rec := n.record(key)
		rec.SessionID = cmd.SessionID
		rec.Endpoint = cmd.Endpoint
		return n.store.Put(rec)
	case cluster.OpPlay:
		rec := n.record(key)
		rec.Track = cmd.Track
		rec.Playing = cmd.Track != ""
		return n.store.Put(rec)
	case cluster.OpStop:
		rec, err := n.store.Get(key)
		if err != nil {
			return fmt.Errorf("stop guild %s: %w", key, err)
		}
		rec.Track = ""
		rec.Playing = false
		rec.UpdatedAt = time.Time{}
		return n.store.Put(rec)
	case cluster.OpDestroy:
		if err := n.store.Delete(key); err != nil {
			return err
		}
		log.Printf("node[%s] destroyed player for guild %s", n.ID, key)
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidCommand, cmd.Op)
	}
}

// record returns the guild's current record, or a fresh one.
func (n *Node) record(guildID string) storage.Record {
	rec, err := n.store.Get(guildID)
	if err != nil {
		rec = storage.Record{GuildID: guildID}
	}
	rec.UpdatedAt = time.Time{}
	return rec
}

// Stats is the node's load report. The penalty counts every player once
// and playing players twice.
func (n *Node) Stats() cluster.NodeStats {
	s := n.store.Stats()
	return cluster.NodeStats{
		Op:             cluster.OpStats,
		Players:        s.Players,
		PlayingPlayers: s.Playing,
		Penalty:        float64(s.Players + s.Playing),
	}
}

// Player returns the guild's record.
func (n *Node) Player(guildID string) (storage.Record, error) {
	return n.store.Get(guildID)
}

// Players returns every record, sorted by guild ID.
func (n *Node) Players() []storage.Record {
	ids := n.store.List()
	recs := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		if rec, err := n.store.Get(id); err == nil {
			recs = append(recs, rec)
		}
	}
	return recs
}

// Package storage keeps the player records of an audio node.
// See doc.go for complete package documentation.
package storage

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrPlayerNotFound is returned when a guild has no player on this node.
var ErrPlayerNotFound = errors.New("player not found")

// Record is the node-side state of one guild's player.
type Record struct {
	UpdatedAt time.Time `json:"updatedAt"`
	GuildID   string    `json:"guildId"`
	SessionID string    `json:"sessionId,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Track     string    `json:"track,omitempty"`
	Playing   bool      `json:"playing"`
}

// Store defines the operations the node runtime needs on its players.
//
// Implementations must be safe for concurrent use. Records are values, so
// callers never share state with the store.
type Store interface {
	// Get returns the guild's record or ErrPlayerNotFound.
	Get(guildID string) (Record, error)

	// Put creates or replaces the record keyed by rec.GuildID.
	Put(rec Record) error

	// Delete removes the guild's record. Deleting a missing record is not an error.
	Delete(guildID string) error

	// List returns the guild IDs with a record, sorted.
	List() []string

	Stats() StoreStats
}

// StoreStats summarizes the players held by a store.
type StoreStats struct {
	Players int // Number of player records
	Playing int // Records currently playing a track
}

// MemoryStore is the in-memory Store used by the reference node.
// Thread-safe: protected by an RWMutex.
type MemoryStore struct {
	data map[string]Record
	mu   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(guildID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.data[guildID]
	if !exists {
		return Record{}, ErrPlayerNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Put(rec Record) error {
	if rec.GuildID == "" {
		return errors.New("record has no guild id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[rec.GuildID] = rec
	return nil
}

func (m *MemoryStore) Delete(guildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, guildID)
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{Players: len(m.data)}
	for _, rec := range m.data {
		if rec.Playing {
			stats.Playing++
		}
	}
	return stats
}

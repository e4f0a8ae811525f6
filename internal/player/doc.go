// Package player owns the mapping from guilds to their players.
//
// A player (Session) is bound to exactly one audio node for its whole life.
// Manager.Create places new players through a NodeSelector, usually the
// node.Registry:
//
//	explicit node ──► region of the voice endpoint ──► region hint ──► lowest penalty
//
// # Teardown
//
// There are three ways a player leaves the mapping:
//
//   - Destroy evicts it and sends a destroy command to its node, unless
//     the node is already gone
//   - Remove evicts it without contacting the node; the caller must have
//     torn the voice connection down already
//   - EvictNode drops every player of a node that was lost
//
// In every case the player's Cleanup runs and the eviction is final.
//
// # Concurrency
//
// Create and Destroy of the same guild are serialized, so a guild never
// gets two players and a destroy in flight is never overtaken by a create.
// Reads work on snapshots and never block on node I/O.
package player

// Package storage holds the per-guild player records of an audio node.
//
// # Overview
//
// The reference node runtime (package audionode) records one player per
// guild as commands arrive from the coordinator: a voice update or play
// creates the record, stop clears the track, destroy deletes it. The
// records feed the node's load report, whose penalty the coordinator uses
// for placement.
//
// # Implementations
//
// MemoryStore: map guarded by sync.RWMutex
//   - No persistence; a restarted node starts empty, which is exactly what
//     the coordinator assumes when a node drops
//   - Records are plain values, copied in and out
//
// # Concurrency
//
// All Store implementations must be safe for concurrent use. Reads take
// the shared lock; Put and Delete take the exclusive lock.
package storage

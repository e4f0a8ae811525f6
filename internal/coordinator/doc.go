// Package coordinator implements the voxroute control plane server: node
// membership, node health, and the HTTP API in front of the player manager.
//
// # Overview
//
// The coordinator decides where each guild's player lives. It keeps the
// registry of audio nodes (package node) and the guild to player mapping
// (package player), and keeps the two consistent when nodes come and go.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│                                     │
//	│  ┌───────────────────────────────┐  │
//	│  │   Server                      │  │
//	│  │   - Node registration         │  │
//	│  │   - Transport dialing         │  │
//	│  │   - Player HTTP API           │  │
//	│  └───────────────────────────────┘  │
//	│                                     │
//	│  ┌───────────────────────────────┐  │
//	│  │   HealthMonitor               │  │
//	│  │   - Periodic /stats probes    │  │
//	│  │   - Penalty refresh           │  │
//	│  │   - Failure detection         │  │
//	│  │   - Reconnection              │  │
//	│  └───────────────────────────────┘  │
//	│                                     │
//	│  node.Registry ◄──── player.Manager │
//	│                                     │
//	└─────────────────────────────────────┘
//
// # Node Lifecycle
//
//  1. Join: the node registers (or is listed in the nodes file) and its
//     transport is dialed. A node is selectable only while it is available.
//  2. Load: the penalty is refreshed from websocket stats frames and from
//     the health monitor's /stats probes.
//  3. Loss: three consecutive failed probes, a dropped websocket or an
//     explicit DELETE /nodes/{name} make the node unavailable. The registry
//     then has the manager evict every player bound to the node without
//     contacting it; clients create them again and land on a healthy node.
//  4. Recovery: once probes succeed again the monitor re-dials the
//     transport and the node becomes available.
//
// # Failure Handling
//
// Destroy evicts locally before contacting the node and never rolls the
// eviction back, so DELETE /players/{guild} answers 502 when the node did
// not acknowledge but the player is gone from the coordinator either way.
//
// # Configuration
//
//	VOXROUTE_HEALTH_INTERVAL: 5s   // Frequency of health probes
//	Probe timeout:            2s   // Timeout for each probe
//	Max failed probes:        3    // Failures before the node is lost
//
// # See Also
//
// Related packages:
//   - internal/node: Node registry and placement
//   - internal/player: Player manager
//   - internal/transport: Node command transports
//   - cmd/coordinator: Coordinator binary
package coordinator

// Package cluster holds the wire types shared by the coordinator and the
// audio nodes, and the small HTTP JSON helpers both sides use.
//
// # Overview
//
// The coordinator and its nodes form a hub-and-spoke cluster:
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │              │
//	              │ - Registry   │
//	              │ - Players    │
//	              │ - Health Mon │
//	              └──────┬───────┘
//	                     │ commands (ws / http / nats)
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  Node 1   │  │  Node 2   │  │  Node 3   │
//	│  eu       │  │  eu       │  │  us       │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Messages
//
// NodeInfo: How a node announces itself (POST /register) or is listed in
// the static nodes file. Transport selects the command transport.
//
// Command: One op frame. The coordinator itself only sends destroy; play,
// stop and voiceUpdate are relayed on behalf of players. Guild IDs are
// decimal strings on the wire:
//
//	{"op":"destroy","guildId":"123456789012345678"}
//
// NodeStats: The node's load report, returned by GET /stats and pushed as
// websocket frames with op "stats". Penalty is computed by the node.
//
// Reply: The acknowledgement of request/reply transports. An empty Err
// means the command was applied.
//
// # HTTP Helpers
//
// PostJSON and GetJSON share one client with a 5 second timeout. Any
// status of 300 or above is returned as an error.
package cluster

// Package audionode is a minimal audio node runtime for local clusters and
// tests. It speaks the node side of every coordinator transport but plays
// no audio: it only records which guilds have a player and what they play.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│               audionode                 │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Liveness             │
//	│    /stats        - Load report          │
//	│    /control      - One command per POST │
//	│    /ws           - Commands + stats     │
//	│    /info         - Player records       │
//	│  NATS:                                  │
//	│    <prefix>.node.<id>.control           │
//	├─────────────────────────────────────────┤
//	│  storage.Store   - Player records       │
//	└─────────────────────────────────────────┘
//
// The penalty reported in stats frames is deliberately naive (players plus
// playing players). It exists so placement can be observed end to end.
package audionode

// Package node models the audio nodes of a voxroute cluster and decides
// where new players are placed.
//
// # Overview
//
// A Node is a cluster member that performs the actual audio work. The
// coordinator knows three things about it: whether it is available, which
// region it declared, and the load penalty it last reported. The Registry
// keeps every registered node and answers FindIdealNode, the placement
// query used when a guild needs a new player.
//
// # Placement
//
//	region hint ──► available nodes in region ──► lowest penalty
//	                        │ (none)
//	                        ▼
//	                all available nodes ──────► lowest penalty
//	                        │ (none)
//	                        ▼
//	                       nil
//
// Equal penalties resolve to the node registered first. Unavailable nodes
// are never returned.
//
// # Ownership
//
// The registry never computes penalties and never probes nodes. Both
// availability (MarkAvailable) and penalty (UpdatePenalty) are pushed in
// by the node's own health or connection process. Selection only reads
// them, so the answer is advisory: a node may drop right after it was
// chosen, and the caller's next send to it will fail.
//
// # Node Loss
//
// A transition from available to unavailable fires the callback set with
// SetOnUnavailable. The coordinator wires it to the player manager, which
// evicts the players bound to the lost node without contacting it.
package node

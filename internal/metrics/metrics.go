// Package metrics defines the instrumentation hooks used by the node
// registry and the player manager, so neither depends on a particular
// metrics backend.
package metrics

// Outcomes reported through PlayerDestroyed.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped" // node unavailable, no teardown command sent
	OutcomeError   = "error"
)

// Metrics receives lifecycle events from the cluster control plane.
type Metrics interface {
	// PlayerCreated is called once per newly bound player.
	PlayerCreated(node string)
	// PlayerDestroyed is called after a destroy evicted a player.
	PlayerDestroyed(node string, outcome string)
	// PlayerRemoved is called after a local-only removal.
	PlayerRemoved()
	// PlayersEvicted is called when a lost node's players are dropped in bulk.
	PlayersEvicted(node string, count int)
	// PlayersActive reports the current number of mapped players.
	PlayersActive(count int)
	// SelectionFailed is called when no node could host a new player.
	SelectionFailed()
	// NodeAvailability reports availability transitions.
	NodeAvailability(node string, available bool)
	// NodePenalty reports the most recent penalty of a node.
	NodePenalty(node string, penalty float64)
}

// Nop returns a Metrics implementation that discards everything.
func Nop() Metrics { return nop{} }

type nop struct{}

func (nop) PlayerCreated(string) {}
func (nop) PlayerDestroyed(string, string) {}
func (nop) PlayerRemoved() {}
func (nop) PlayersEvicted(string, int) {}
func (nop) PlayersActive(int) {}
func (nop) SelectionFailed() {}
func (nop) NodeAvailability(string, bool) {}
func (nop) NodePenalty(string, float64) {}

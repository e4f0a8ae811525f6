package audionode

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/storage"
)

// Handler returns the node's HTTP API.
//
// Routes:
//   - GET  /health   liveness probe
//   - GET  /stats    load report (cluster.NodeStats)
//   - POST /control  one command per request
//   - GET  /ws       websocket: command frames in, stats frames out
//   - GET  /info     node ID and player records
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /stats", n.handleStats)
	mux.HandleFunc("POST /control", n.handleControl)
	mux.HandleFunc("GET /info", n.handleInfo)
	mux.Handle("GET /ws", websocket.Server{
		Handshake: n.handshake,
		Handler:   n.serveWebsocket,
	})

	return mux
}

func (n *Node) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, n.Stats())
}

// handleControl applies a command posted by the coordinator.
//
// Response:
//   - 204 No Content: command applied
//   - 400 Bad Request: malformed body, guild ID or op
//   - 404 Not Found: the command needs a player the node does not have
func (n *Node) handleControl(w http.ResponseWriter, r *http.Request) {
	var cmd cluster.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := n.Apply(cmd); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	players := n.Players()
	writeJSON(w, http.StatusOK, struct {
		NodeID  string           `json:"node_id"`
		Players []storage.Record `json:"players"`
		Count   int              `json:"player_count"`
	}{
		NodeID:  n.ID,
		Players: players,
		Count:   len(players),
	})
}

func (n *Node) handshake(_ *websocket.Config, r *http.Request) error {
	if n.password != "" && r.Header.Get("Authorization") != n.password {
		return errors.New("invalid authorization")
	}
	log.Printf("node[%s] websocket client %q connected (user %s)",
		n.ID, r.Header.Get("Client-Name"), r.Header.Get("User-Id"))
	return nil
}

// serveWebsocket reads command frames until the client goes away. A stats
// frame is pushed on connect, after every applied command and on every
// stats interval tick.
func (n *Node) serveWebsocket(ws *websocket.Conn) {
	defer ws.Close()

	var mu sync.Mutex
	push := func() error {
		mu.Lock()
		defer mu.Unlock()
		return websocket.JSON.Send(ws, n.Stats())
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(n.statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := push(); err != nil {
					return
				}
			}
		}
	}()

	if err := push(); err != nil {
		return
	}
	for {
		var cmd cluster.Command
		if err := websocket.JSON.Receive(ws, &cmd); err != nil {
			return
		}
		if err := n.Apply(cmd); err != nil {
			log.Printf("node[%s] command %s for guild %s failed: %v", n.ID, cmd.Op, cmd.GuildID, err)
			continue
		}
		if err := push(); err != nil {
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

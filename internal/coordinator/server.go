package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/node"
	"github.com/dreamware/voxroute/internal/player"
	"github.com/dreamware/voxroute/internal/transport"
)

// DialFunc opens the command transport to a node.
type DialFunc func(ctx context.Context, info cluster.NodeInfo, opts transport.Options) (node.Transport, error)

// Server is the coordinator: it owns the node registry and the player
// manager and exposes both over HTTP.
//
// Node lifecycle:
//   - A node joins by POST /register or from the static nodes file
//   - Joining dials its transport; a node without transport stays
//     unavailable until the health monitor reconnects it
//   - A dropped websocket detaches the transport and marks the node
//     unavailable, which evicts its players
type Server struct {
	registry      *node.Registry
	players       *player.Manager
	monitor       *HealthMonitor
	metrics       http.Handler
	dial          DialFunc
	transportOpts transport.Options
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealthMonitor exposes the monitor's view under /nodes/{name}/health
// and lets it reconnect nodes through the server.
func WithHealthMonitor(monitor *HealthMonitor) ServerOption {
	return func(s *Server) { s.monitor = monitor }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithDialer replaces transport.Dial, typically in tests.
func WithDialer(dial DialFunc) ServerOption {
	return func(s *Server) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// WithTransportOptions sets the options every node transport is dialed
// with. Stats and disconnect callbacks are always installed by the server.
func WithTransportOptions(opts transport.Options) ServerOption {
	return func(s *Server) { s.transportOpts = opts }
}

// NewServer wires the registry to the manager: a node that becomes
// unavailable has its players evicted.
func NewServer(registry *node.Registry, players *player.Manager, opts ...ServerOption) *Server {
	s := &Server{
		registry: registry,
		players:  players,
		dial:     transport.Dial,
	}
	for _, opt := range opts {
		opt(s)
	}

	registry.SetOnUnavailable(func(n *node.Node) {
		players.EvictNode(n)
	})
	if s.monitor != nil {
		s.monitor.SetReconnect(s.connect)
	}
	return s
}

// Join adds a node to the cluster and connects it. The node stays
// registered, but unavailable, when the connection fails.
func (s *Server) Join(ctx context.Context, info cluster.NodeInfo) (*node.Node, error) {
	n := node.New(info)
	err := s.connect(ctx, n)

	if prev := s.registry.Add(n); prev != nil && prev != n {
		if cerr := prev.Close(); cerr != nil {
			log.Printf("[NODE-%s] closing replaced transport: %v", prev.Name, cerr)
		}
	}
	if err != nil {
		return n, err
	}

	s.registry.MarkAvailable(n.Name, true)
	log.Printf("[NODE-%s] joined (addr %s, region %q, transport %q)", n.Name, info.Addr, info.Region, info.Transport)
	return n, nil
}

// connect dials n and attaches the transport, closing any previous one.
func (s *Server) connect(ctx context.Context, n *node.Node) error {
	opts := s.transportOpts
	opts.OnStats = func(_ string, stats cluster.NodeStats) {
		if s.registry.Get(n.Name) == n {
			s.registry.UpdatePenalty(n.Name, stats.Penalty)
		}
	}
	dialed := make(chan node.Transport, 1)
	opts.OnDisconnect = func(_ string, err error) {
		t := <-dialed
		log.Printf("[NODE-%s] connection lost: %v", n.Name, err)
		if n.DetachTransport(t) && s.registry.Get(n.Name) == n {
			s.registry.MarkAvailable(n.Name, false)
		}
	}

	t, err := s.dial(ctx, n.Info, opts)
	if err != nil {
		return fmt.Errorf("connect node %s: %w", n.Name, err)
	}
	dialed <- t
	if prev := n.SetTransport(t); prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Handler returns the coordinator HTTP API.
//
// Routes:
//   - POST   /register                  node self-registration
//   - GET    /nodes                     node status list
//   - DELETE /nodes/{name}              unregister a node, evicting its players
//   - GET    /nodes/{name}/health       health monitor view (?refresh=true probes now)
//   - POST   /players                   create a player
//   - GET    /players                   list players (?node=<name> filters)
//   - GET    /players/{guild}           one player
//   - DELETE /players/{guild}           destroy (?local=true only removes locally)
//   - POST   /players/{guild}/play      enqueue a track and play the next one
//   - POST   /players/{guild}/stop      stop playback
//   - GET    /health, GET /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("DELETE /nodes/{name}", s.handleRemoveNode)
	mux.HandleFunc("GET /nodes/{name}/health", s.handleNodeHealth)
	mux.HandleFunc("POST /players", s.handleCreatePlayer)
	mux.HandleFunc("GET /players", s.handleListPlayers)
	mux.HandleFunc("GET /players/{guild}", s.handleGetPlayer)
	mux.HandleFunc("DELETE /players/{guild}", s.handleDeletePlayer)
	mux.HandleFunc("POST /players/{guild}/play", s.handlePlay)
	mux.HandleFunc("POST /players/{guild}/stop", s.handleStop)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if _, err := s.Join(ctx, req.Node); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := s.registry.Nodes()
	statuses := make([]node.Status, 0, len(nodes))
	for _, n := range nodes {
		statuses = append(statuses, n.Status())
	}
	writeJSON(w, http.StatusOK, struct {
		Nodes []node.Status `json:"nodes"`
	}{Nodes: statuses})
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	n := s.registry.Remove(r.PathValue("name"))
	if n == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	if err := n.Close(); err != nil {
		log.Printf("[NODE-%s] closing transport: %v", n.Name, err)
	}
	log.Printf("[NODE-%s] removed", n.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "health monitoring disabled", http.StatusNotFound)
		return
	}
	name := r.PathValue("name")

	var health *NodeHealth
	if r.URL.Query().Get("refresh") == "true" {
		health = s.monitor.CheckNow(r.Context(), name)
	} else {
		health = s.monitor.GetNodeHealth(name)
	}
	if health == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// CreatePlayerRequest is the body of POST /players. Every hint is optional.
type CreatePlayerRequest struct {
	GuildID  string `json:"guild_id"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Node     string `json:"node,omitempty"`
}

// PlayerView is the JSON view of a player.
type PlayerView struct {
	GuildID string `json:"guild_id"`
	Node    string `json:"node,omitempty"`
	Region  string `json:"region,omitempty"`
}

func viewOf(sess player.Session) PlayerView {
	v := PlayerView{GuildID: cluster.FormatGuildID(sess.GuildID())}
	if n := sess.Node(); n != nil {
		v.Node = n.Name
		v.Region = n.Region
	}
	return v
}

// handleCreatePlayer creates the guild's player, or returns the existing one.
//
// Response:
//   - 201 Created: new player
//   - 200 OK: the guild already had a player; hints were ignored
//   - 400 Bad Request: malformed body or guild ID
//   - 404 Not Found: the requested node is not registered
//   - 503 Service Unavailable: no node can host the player
func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	guildID, err := cluster.ParseGuildID(req.GuildID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := player.CreateOptions{Region: req.Region, Endpoint: req.Endpoint}
	if req.Node != "" {
		opts.Node = s.registry.Get(req.Node)
		if opts.Node == nil {
			http.Error(w, fmt.Sprintf("node %s not found", req.Node), http.StatusNotFound)
			return
		}
	}

	sess, created, err := s.players.GetOrCreate(r.Context(), guildID, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, player.ErrNoAvailableNode) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewOf(sess))
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	var predicate func(player.Session) bool
	if name := r.URL.Query().Get("node"); name != "" {
		predicate = func(sess player.Session) bool {
			return sess.Node() != nil && sess.Node().Name == name
		}
	}

	sessions := s.players.FindAll(predicate)
	views := make([]PlayerView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, struct {
		Players []PlayerView `json:"players"`
		Count   int          `json:"count"`
	}{Players: views, Count: len(views)})
}

// session resolves the {guild} path value, writing the error response
// when it cannot.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (uint64, player.Session, bool) {
	guildID, err := cluster.ParseGuildID(r.PathValue("guild"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, nil, false
	}
	sess := s.players.Get(guildID)
	if sess == nil {
		http.Error(w, "player not found", http.StatusNotFound)
		return guildID, nil, false
	}
	return guildID, sess, true
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

// handleDeletePlayer destroys the guild's player.
//
// Response:
//   - 204 No Content: player gone (with ?local=true, only from the coordinator)
//   - 404 Not Found: the guild has no player
//   - 502 Bad Gateway: the node did not acknowledge the teardown; the
//     player is gone from the coordinator regardless
func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	guildID, _, ok := s.session(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("local") == "true" {
		s.players.Remove(guildID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.players.Destroy(r.Context(), guildID); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// playback is implemented by sessions that relay playback to their node.
type playback interface {
	Enqueue(track string)
	PlayNext(ctx context.Context) (bool, error)
	Stop(ctx context.Context) error
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p, ok := sess.(playback)
	if !ok {
		http.Error(w, "player does not support playback", http.StatusNotImplemented)
		return
	}

	var req struct {
		Track string `json:"track"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Track == "" {
		http.Error(w, "track required", http.StatusBadRequest)
		return
	}

	p.Enqueue(req.Track)
	if _, err := p.PlayNext(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	p, ok := sess.(playback)
	if !ok {
		http.Error(w, "player does not support playback", http.StatusNotImplemented)
		return
	}
	if err := p.Stop(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

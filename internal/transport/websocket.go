package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/dreamware/voxroute/internal/cluster"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// WebsocketConfig configures a websocket connection to a node.
type WebsocketConfig struct {
	// OnStats receives every stats frame pushed by the node.
	OnStats func(cluster.NodeStats)
	// OnClose is called once if the connection drops without Close.
	OnClose func(err error)

	URL        string // ws://host:port/ws
	Origin     string
	Password   string
	UserID     string
	ClientName string
}

// Websocket is a persistent, full-duplex connection to a node. Commands
// are written as JSON frames; stats frames flow back on the same socket.
type Websocket struct {
	conn    *websocket.Conn
	onStats func(cluster.NodeStats)
	onClose func(error)
	done    chan struct{}
	mu      sync.Mutex // serializes writes
	closed  atomic.Bool
}

// DialWebsocket opens the connection and starts reading frames.
func DialWebsocket(ctx context.Context, cfg WebsocketConfig) (*Websocket, error) {
	origin := cfg.Origin
	if origin == "" {
		origin = originFor(cfg.URL)
	}
	wsCfg, err := websocket.NewConfig(cfg.URL, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	wsCfg.Header = make(http.Header)
	if cfg.Password != "" {
		wsCfg.Header.Set("Authorization", cfg.Password)
	}
	if cfg.UserID != "" {
		wsCfg.Header.Set("User-Id", cfg.UserID)
	}
	if cfg.ClientName != "" {
		wsCfg.Header.Set("Client-Name", cfg.ClientName)
	}

	conn, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	t := &Websocket{
		conn:    conn,
		onStats: cfg.OnStats,
		onClose: cfg.OnClose,
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Send writes cmd as one frame. Completion means the frame was handed to
// the connection; ctx's deadline bounds the write.
func (t *Websocket) Send(ctx context.Context, cmd cluster.Command) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	return websocket.JSON.Send(t.conn, cmd)
}

// Close shuts the connection down and waits for the reader to exit.
// OnClose is not invoked for a deliberate close.
func (t *Websocket) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	<-t.done
	return err
}

// Done is closed once the connection is gone.
func (t *Websocket) Done() <-chan struct{} { return t.done }

func (t *Websocket) readLoop() {
	defer close(t.done)
	for {
		var frame cluster.NodeStats
		if err := websocket.JSON.Receive(t.conn, &frame); err != nil {
			if !t.closed.Swap(true) {
				_ = t.conn.Close()
				if t.onClose != nil {
					t.onClose(err)
				}
			}
			return
		}
		if frame.Op == cluster.OpStats && t.onStats != nil {
			t.onStats(frame)
		}
	}
}

// WebsocketURL derives the node's websocket endpoint from its HTTP address.
func WebsocketURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://"):
		addr = "ws://" + addr
	}
	if strings.HasSuffix(addr, "/ws") {
		return addr
	}
	return addr + "/ws"
}

func originFor(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "http://localhost"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// Package transport implements the node command transports: a persistent
// websocket (the default), plain HTTP POSTs and NATS request/reply.
package transport

import (
	"context"
	"fmt"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/node"
)

// Options are shared by all transports; each kind uses what applies.
type Options struct {
	// OnStats receives load reports pushed by the node (websocket only).
	OnStats func(nodeName string, stats cluster.NodeStats)
	// OnDisconnect is called when a persistent connection drops.
	OnDisconnect func(nodeName string, err error)
	// NATS connects the nats transport; ConnectDefault() if nil.
	NATS       Connector
	NATSPrefix string
	UserID     string
	ClientName string
}

// Dial opens the transport declared by info.Transport ("ws" when empty).
func Dial(ctx context.Context, info cluster.NodeInfo, opts Options) (node.Transport, error) {
	switch info.Transport {
	case "", cluster.TransportWebsocket:
		cfg := WebsocketConfig{
			URL:        WebsocketURL(info.Addr),
			Password:   info.Password,
			UserID:     opts.UserID,
			ClientName: opts.ClientName,
		}
		if opts.OnStats != nil {
			cfg.OnStats = func(s cluster.NodeStats) { opts.OnStats(info.ID, s) }
		}
		if opts.OnDisconnect != nil {
			cfg.OnClose = func(err error) { opts.OnDisconnect(info.ID, err) }
		}
		ws, err := DialWebsocket(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ws, nil
	case cluster.TransportHTTP:
		return NewHTTP(info.Addr), nil
	case cluster.TransportNATS:
		nt, err := DialNATS(NATSConfig{Connect: opts.NATS, Prefix: opts.NATSPrefix, Node: info.ID})
		if err != nil {
			return nil, err
		}
		return nt, nil
	default:
		return nil, fmt.Errorf("unknown transport %q for node %s", info.Transport, info.ID)
	}
}

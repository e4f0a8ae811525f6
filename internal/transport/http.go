package transport

import (
	"context"
	"strings"

	"github.com/dreamware/voxroute/internal/cluster"
)

// HTTP sends each command as a POST to the node's /control endpoint. A 2xx
// response is the acknowledgement.
type HTTP struct {
	url string
}

func NewHTTP(addr string) *HTTP {
	return &HTTP{url: strings.TrimRight(addr, "/") + "/control"}
}

func (h *HTTP) Send(ctx context.Context, cmd cluster.Command) error {
	return cluster.PostJSON(ctx, h.url, cmd, nil)
}

// Close is a no-op; requests share the package HTTP client.
func (h *HTTP) Close() error { return nil }

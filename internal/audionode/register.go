package audionode

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/dreamware/voxroute/internal/cluster"
)

// Register announces the node to the coordinator, retrying to ride out
// coordinator startup. It gives up after attempts tries, or when ctx ends,
// and returns the last error.
func Register(ctx context.Context, coord string, info cluster.NodeInfo, attempts int, delay time.Duration) error {
	body := cluster.RegisterRequest{Node: info}
	url := strings.TrimRight(coord, "/") + "/register"

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = cluster.PostJSON(ctx, url, body, nil)
		if lastErr == nil {
			log.Printf("registered with coordinator @ %s", coord)
			return nil
		}
		log.Printf("register retry %d: %v", i+1, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Transport kinds understood by the coordinator when dialing a node.
const (
	TransportWebsocket = "ws"
	TransportHTTP      = "http"
	TransportNATS      = "nats"
)

// Operation codes carried in a Command. Only OpDestroy is sent by the
// coordinator itself; the rest are relayed on behalf of players.
const (
	OpDestroy     = "destroy"
	OpVoiceUpdate = "voiceUpdate"
	OpPlay        = "play"
	OpStop        = "stop"
	OpStats       = "stats"
)

// NodeInfo describes an audio node as it registers with the coordinator
// or as it is listed in the static nodes file.
type NodeInfo struct {
	ID        string `json:"id" yaml:"name"`
	Addr      string `json:"addr" yaml:"addr"`
	Region    string `json:"region,omitempty" yaml:"region"`
	Transport string `json:"transport,omitempty" yaml:"transport"`
	Password  string `json:"password,omitempty" yaml:"password"`
}

type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// Command is a single op frame sent to a node. Guild IDs are encoded as
// decimal strings to stay safe for JSON consumers without 64-bit ints.
type Command struct {
	Op        string `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// DestroyCommand builds the teardown frame for a guild's player.
func DestroyCommand(guildID uint64) Command {
	return Command{Op: OpDestroy, GuildID: FormatGuildID(guildID)}
}

func FormatGuildID(guildID uint64) string {
	return strconv.FormatUint(guildID, 10)
}

func ParseGuildID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid guild id %q: %w", s, err)
	}
	return id, nil
}

// NodeStats is the load report a node publishes on /stats and in websocket
// stats frames. Penalty is computed by the node; lower is preferred.
type NodeStats struct {
	Op             string  `json:"op,omitempty"`
	Players        int     `json:"players"`
	PlayingPlayers int     `json:"playingPlayers"`
	Penalty        float64 `json:"penalty"`
}

// Reply is the acknowledgement frame for request/reply transports.
type Reply struct {
	Err string `json:"err,omitempty"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

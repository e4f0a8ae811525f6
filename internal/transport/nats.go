package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/dreamware/voxroute/internal/cluster"
)

// DefaultSubjectPrefix prefixes node control subjects when none is set.
const DefaultSubjectPrefix = "voxroute"

type closeFunc = func()

// Connector opens a NATS connection and returns the function closing it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

func ConnectURL(natsURL string) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			natsgo.Name("voxroute"),
			natsgo.MaxReconnects(3),
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault connects to $NATS_URL, or the NATS default URL.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}

// ControlSubject is the request subject a node serves commands on.
func ControlSubject(prefix, nodeName string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".node." + nodeName + ".control"
}

// NATSConfig configures a NATS request/reply transport to one node.
type NATSConfig struct {
	Connect Connector // ConnectDefault() if nil
	Prefix  string
	Node    string
}

// NATS sends commands as NATS requests and waits for the node's reply.
type NATS struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	subject string
}

func DialNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Node == "" {
		return nil, errors.New("nats transport: node name is required")
	}
	connect := cfg.Connect
	if connect == nil {
		connect = ConnectDefault()
	}
	nc, closeNc, err := connect()
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{
		nc:      nc,
		closeNc: closeNc,
		subject: ControlSubject(cfg.Prefix, cfg.Node),
	}, nil
}

func (t *NATS) Send(ctx context.Context, cmd cluster.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	msg := natsgo.NewMsg(t.subject)
	msg.Header.Set(natsgo.MsgIdHdr, uuid.NewString())
	msg.Data = data

	resp, err := t.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("nats request %s: %w", t.subject, err)
	}

	var reply cluster.Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return fmt.Errorf("nats reply: %w", err)
	}
	if reply.Err != "" {
		return fmt.Errorf("node rejected %s: %s", cmd.Op, reply.Err)
	}
	return nil
}

func (t *NATS) Close() error {
	if t.closeNc != nil {
		t.closeNc()
	}
	return nil
}

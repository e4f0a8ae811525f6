package audionode

import (
	"encoding/json"
	"log"

	natsgo "github.com/nats-io/nats.go"

	"github.com/dreamware/voxroute/internal/cluster"
	"github.com/dreamware/voxroute/internal/transport"
)

// SubscribeNATS serves commands sent on the node's control subject. Every
// request gets a cluster.Reply; a non-empty Err reports a failed command.
func (n *Node) SubscribeNATS(nc *natsgo.Conn, prefix string) (*natsgo.Subscription, error) {
	subject := transport.ControlSubject(prefix, n.ID)
	sub, err := nc.Subscribe(subject, func(msg *natsgo.Msg) {
		var reply cluster.Reply

		var cmd cluster.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			reply.Err = "bad json: " + err.Error()
		} else if err := n.Apply(cmd); err != nil {
			reply.Err = err.Error()
		}

		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			log.Printf("node[%s] nats reply failed: %v", n.ID, err)
		}
	})
	if err != nil {
		return nil, err
	}
	log.Printf("node[%s] serving commands on %s", n.ID, subject)
	return sub, nil
}

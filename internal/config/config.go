// Package config loads the coordinator and node settings from the
// environment and the static nodes file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/voxroute/internal/cluster"
)

// Coordinator is the configuration of cmd/coordinator.
type Coordinator struct {
	Addr           string        `env:"VOXROUTE_ADDR"            envDefault:":8080"`
	NodesFile      string        `env:"VOXROUTE_NODES_FILE"`
	HealthInterval time.Duration `env:"VOXROUTE_HEALTH_INTERVAL" envDefault:"5s"`
	UserID         string        `env:"VOXROUTE_USER_ID"`
	ClientName     string        `env:"VOXROUTE_CLIENT_NAME"     envDefault:"voxroute"`
	NATSURL        string        `env:"NATS_URL"`
	NATSPrefix     string        `env:"VOXROUTE_NATS_PREFIX"     envDefault:"voxroute"`
	OTelEndpoint   string        `env:"VOXROUTE_OTEL_ENDPOINT"`
}

// Node is the configuration of cmd/node.
type Node struct {
	ID            string        `env:"VOXROUTE_NODE_ID"`
	Listen        string        `env:"VOXROUTE_NODE_LISTEN"         envDefault:":8081"`
	PublicAddr    string        `env:"VOXROUTE_NODE_ADDR"           envDefault:"http://127.0.0.1:8081"`
	Coordinator   string        `env:"VOXROUTE_COORDINATOR,required"`
	Region        string        `env:"VOXROUTE_NODE_REGION"`
	Transport     string        `env:"VOXROUTE_NODE_TRANSPORT"      envDefault:"ws"`
	Password      string        `env:"VOXROUTE_NODE_PASSWORD"`
	NATSURL       string        `env:"NATS_URL"`
	NATSPrefix    string        `env:"VOXROUTE_NATS_PREFIX"         envDefault:"voxroute"`
	StatsInterval time.Duration `env:"VOXROUTE_STATS_INTERVAL"      envDefault:"5s"`
}

// Info is how the node announces itself to the coordinator.
func (n Node) Info() cluster.NodeInfo {
	return cluster.NodeInfo{
		ID:        n.ID,
		Addr:      n.PublicAddr,
		Region:    n.Region,
		Transport: n.Transport,
		Password:  n.Password,
	}
}

// LoadCoordinator reads the coordinator configuration from the environment.
func LoadCoordinator() (Coordinator, error) {
	var cfg Coordinator
	if err := env.Parse(&cfg); err != nil {
		return Coordinator{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadNode reads the node configuration from the environment. A node
// without VOXROUTE_NODE_ID gets a generated name.
func LoadNode() (Node, error) {
	var cfg Node
	if err := env.Parse(&cfg); err != nil {
		return Node{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = GenerateNodeName()
	}
	return cfg, nil
}

// GenerateNodeName returns a random name of the form node-xxxxxx.
func GenerateNodeName() string {
	return fmt.Sprintf("node-%s", gonanoid.Must(6))
}

// NodesFile is the static cluster description loaded by the coordinator
// at startup:
//
//	regions:
//	  eu: [rotterdam, amsterdam]
//	nodes:
//	  - name: eu-1
//	    addr: http://10.0.0.1:2333
//	    region: eu
//	    password: youshallnotpass
type NodesFile struct {
	Regions map[string][]string `yaml:"regions"`
	Nodes   []cluster.NodeInfo  `yaml:"nodes"`
}

// LoadNodesFile parses the nodes file at path. Nodes without a name get a
// generated one; nodes without an address are rejected.
func LoadNodesFile(path string) (NodesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NodesFile{}, fmt.Errorf("read nodes file: %w", err)
	}
	return ParseNodesFile(data)
}

func ParseNodesFile(data []byte) (NodesFile, error) {
	var f NodesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return NodesFile{}, fmt.Errorf("parse nodes file: %w", err)
	}

	seen := make(map[string]bool, len(f.Nodes))
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if n.Addr == "" {
			return NodesFile{}, fmt.Errorf("nodes file: node %d has no addr", i)
		}
		if n.ID == "" {
			n.ID = GenerateNodeName()
		}
		if seen[n.ID] {
			return NodesFile{}, fmt.Errorf("nodes file: duplicate node name %q", n.ID)
		}
		seen[n.ID] = true
	}
	return f, nil
}

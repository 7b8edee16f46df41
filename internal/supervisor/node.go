package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/executor"
	"github.com/tristanlee/substrate/internal/keystore"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/network"
	"github.com/tristanlee/substrate/internal/rpc"
	"github.com/tristanlee/substrate/internal/telemetry"
	"github.com/tristanlee/substrate/internal/version"
)

// AuthoringTask is the essential task that builds blocks on validator nodes.
const AuthoringTask = "block-authoring"

// NodeConfig is everything NodeComponents needs to build a node.
type NodeConfig struct {
	NodeName string
	Spec     *chainspec.Spec
	ChainDir string
	Keystore *keystore.Keystore
	Identity *network.Identity

	Network   *network.Config
	RPC       *rpc.Config       // nil disables RPC
	Telemetry *telemetry.Config // nil or no endpoints disables telemetry

	Validator      bool
	AuthorInterval time.Duration
}

// NodeComponents builds the production subsystems. Later subsystems are wired
// to the ones started before them.
type NodeComponents struct {
	cfg NodeConfig

	tasks   *executor.TaskManager
	client  *client.Client
	network *network.Network
}

// NewNodeComponents validates cfg and returns components ready for a supervisor.
func NewNodeComponents(cfg NodeConfig) (*NodeComponents, error) {
	if cfg.Spec == nil {
		return nil, fmt.Errorf("node requires a chain spec")
	}
	if cfg.ChainDir == "" {
		return nil, fmt.Errorf("node requires a chain directory")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("node requires a network identity")
	}
	if cfg.Network == nil {
		cfg.Network = network.DefaultConfig()
	}
	if cfg.Validator && cfg.AuthorInterval <= 0 {
		return nil, fmt.Errorf("author interval must be positive, got: %v", cfg.AuthorInterval)
	}
	return &NodeComponents{cfg: cfg}, nil
}

// clientHandle adapts the block client to the Handle contract.
type clientHandle struct {
	*client.Client
}

func (clientHandle) Name() string { return ClientName }

func (h clientHandle) Stop(context.Context) error {
	return h.Shutdown()
}

// StartClient opens the block database and, on validator nodes, spawns block
// authoring. Later subsystems run their loops on tasks as well.
func (nc *NodeComponents) StartClient(tasks *executor.TaskManager) (Handle, error) {
	nc.tasks = tasks

	c, err := client.Open(nc.cfg.Spec, nc.cfg.ChainDir)
	if err != nil {
		return nil, err
	}
	nc.client = c

	info := c.Info()
	logging.Info("Chain %s at #%d (genesis %s)", nc.cfg.Spec.Name, info.BestNumber,
		logging.FormatHash(info.GenesisHash.String()))

	if nc.cfg.Validator {
		author := nc.cfg.NodeName
		tasks.SpawnEssential(AuthoringTask, func(ctx context.Context) error {
			return c.Author(ctx, nc.cfg.AuthorInterval, author)
		})
	}
	return clientHandle{c}, nil
}

// StartNetwork joins the gossip network and starts block sync.
func (nc *NodeComponents) StartNetwork() (Handle, error) {
	if nc.client == nil {
		return nil, fmt.Errorf("network started before the client")
	}
	cfg := *nc.cfg.Network
	cfg.NodeName = nc.cfg.NodeName
	if nc.cfg.Validator {
		cfg.Role = network.RoleAuthority
	}
	if len(cfg.BootNodes) == 0 {
		cfg.BootNodes = nc.cfg.Spec.BootNodes
	}

	n, err := network.New(&cfg, nc.cfg.Identity, nc.client, nc.tasks)
	if err != nil {
		return nil, err
	}
	if err := n.Start(); err != nil {
		return nil, err
	}
	nc.network = n
	return Named(NetworkName, n), nil
}

// StartRPC serves JSON-RPC unless disabled.
func (nc *NodeComponents) StartRPC() (Handle, error) {
	if nc.cfg.RPC == nil {
		return nil, nil
	}

	deps := rpc.Deps{
		NodeName:        nc.cfg.NodeName,
		Version:         version.HosterVersion,
		ChainName:       nc.cfg.Spec.Name,
		ShouldHavePeers: len(nc.cfg.Spec.BootNodes) > 0 || len(nc.cfg.Network.BootNodes) > 0,
		Chain:           nc.client,
		Network:         nc.network,
	}
	if nc.cfg.Keystore != nil {
		deps.Keys = nc.cfg.Keystore
	}

	srv, err := rpc.NewServer(nc.cfg.RPC, deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return Named(RPCName, srv), nil
}

// StartTelemetry reports to the configured endpoints unless there are none.
func (nc *NodeComponents) StartTelemetry() (Handle, error) {
	if nc.cfg.Telemetry == nil || len(nc.cfg.Telemetry.Endpoints) == 0 {
		return nil, nil
	}
	if nc.client == nil {
		return nil, fmt.Errorf("telemetry started before the client")
	}

	r, err := telemetry.New(nc.cfg.Telemetry, telemetry.Deps{
		NodeName:  nc.cfg.NodeName,
		ChainName: nc.cfg.Spec.Name,
		PeerID:    nc.cfg.Identity.PeerID(),
		Validator: nc.cfg.Validator,
		Chain:     nc.client,
		Network:   nc.network,
		Tasks:     nc.tasks,
	})
	if err != nil {
		return nil, err
	}
	if err := r.Start(); err != nil {
		return nil, err
	}
	return Named(TelemetryName, r), nil
}

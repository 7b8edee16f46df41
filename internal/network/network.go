// Package network connects a node to its peers. Membership and chain status
// travel over serf gossip; blocks are fetched from peers over a QUIC request
// protocol and imported into the local client.
//
// GOSSIP:
// Every node advertises its peer id, genesis hash, best block number, sync
// port and role as serf tags. Tag updates ride the normal gossip, so peers
// learn about new blocks within a few gossip rounds without a separate
// announcement protocol.
//
// SYNC:
// On every sync round the node picks the alive peer on the same genesis with
// the highest advertised best block. If it is ahead, the node opens a QUIC
// connection to that peer's sync port and requests the missing range in
// batches. Peers authenticate with self-signed certificates carrying their
// network key.
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/serf/serf"
	"github.com/quic-go/quic-go"

	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/executor"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/netutil"
)

// Tag names advertised over gossip.
const (
	tagPeerID   = "peer_id"
	tagGenesis  = "genesis"
	tagBest     = "best"
	tagSyncPort = "sync_port"
	tagRole     = "role"
)

// ChainSource is the part of the block client the network needs.
type ChainSource interface {
	Info() client.Info
	BlockByNumber(number uint64) (*client.Block, error)
	ImportBlock(b *client.Block) error
}

// Peer is a remote node as seen through gossip.
type Peer struct {
	Name       string            `json:"name"`
	PeerID     string            `json:"peerId"`
	Addr       net.IP            `json:"addr"`
	Port       uint16            `json:"port"`
	SyncPort   int               `json:"syncPort"`
	Genesis    string            `json:"genesis"`
	BestNumber uint64            `json:"bestNumber"`
	Role       Role              `json:"role"`
	Status     serf.MemberStatus `json:"status"`
	LastSeen   time.Time         `json:"lastSeen"`
}

// SyncAddr returns the host:port of the peer's sync endpoint.
func (p *Peer) SyncAddr() string {
	return net.JoinHostPort(p.Addr.String(), strconv.Itoa(p.SyncPort))
}

// Network is the running network subsystem.
type Network struct {
	cfg      *Config
	identity *Identity
	chain    ChainSource
	genesis  string
	tasks    executor.Spawner

	serf       *serf.Serf
	eventQueue chan serf.Event
	logWriter  *logging.ColorfulSerfWriter

	memberLock sync.RWMutex
	members    map[string]*Peer

	listener   *quic.Listener
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	syncPort   int

	bestMu         sync.Mutex
	advertisedBest uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
	stopOnce sync.Once
	stopErr  error
}

// New creates a network subsystem. Nothing is bound until Start. Background
// loops run as tasks of tasks.
func New(cfg *Config, identity *Identity, chain ChainSource, tasks executor.Spawner) (*Network, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("network identity is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task manager is required")
	}

	cert, err := identity.certificate()
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Network{
		cfg:      cfg,
		identity: identity,
		chain:    chain,
		genesis:  chain.Info().GenesisHash.String(),
		tasks:    tasks,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // peers are identified by key, not by CA
			NextProtos:         []string{alpnProtocol},
			MinVersion:         tls.VersionTLS13,
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		eventQueue: make(chan serf.Event, cfg.EventBufferSize),
		members:    make(map[string]*Peer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start binds the sync endpoint, joins gossip and starts the sync loop.
func (n *Network) Start() error {
	if err := n.startSyncServer(); err != nil {
		return err
	}
	if err := n.startGossip(); err != nil {
		n.cancel()
		n.listener.Close()
		n.wg.Wait()
		if n.logWriter != nil {
			n.logWriter.Close()
		}
		return err
	}

	n.goTask("network-sync", n.syncLoop)

	if len(n.cfg.BootNodes) > 0 {
		if err := n.Join(n.cfg.BootNodes); err != nil {
			// Peers may come up later and join us instead
			logging.Warn("Could not reach boot nodes: %v", err)
		}
	}

	logging.Success("Network started: peer %s, gossip %s, sync port %d",
		logging.FormatPeerID(n.identity.PeerID()), n.GossipAddr(), n.syncPort)
	return nil
}

// startSyncServer binds the QUIC listener and starts accepting.
func (n *Network) startSyncServer() error {
	addr := net.JoinHostPort(n.cfg.BindAddr, strconv.Itoa(n.cfg.SyncPort))
	listener, err := quic.ListenAddr(addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return netutil.BindError("sync endpoint", n.cfg.BindAddr, n.cfg.SyncPort, err)
	}
	n.listener = listener
	n.syncPort = listener.Addr().(*net.UDPAddr).Port

	n.goTask("network-accept", n.acceptLoop)
	return nil
}

// startGossip creates the serf instance.
func (n *Network) startGossip() error {
	serfConfig := serf.DefaultConfig()

	if n.cfg.LogLevel == "ERROR" {
		serfConfig.LogOutput = io.Discard
		serfConfig.MemberlistConfig.LogOutput = io.Discard
	} else {
		n.logWriter = logging.NewColorfulSerfWriter()
		serfConfig.LogOutput = n.logWriter
		serfConfig.MemberlistConfig.LogOutput = n.logWriter
	}

	serfConfig.Init()
	serfConfig.NodeName = n.cfg.NodeName
	serfConfig.MemberlistConfig.BindAddr = n.cfg.BindAddr
	serfConfig.MemberlistConfig.BindPort = n.cfg.P2PPort
	serfConfig.EventCh = n.eventQueue
	n.advertisedBest = n.chain.Info().BestNumber
	serfConfig.Tags = n.buildTags(n.advertisedBest)

	var err error
	n.serf, err = serf.Create(serfConfig)
	if err != nil {
		if netutil.IsAddressInUseError(err) {
			return netutil.BindError("gossip", n.cfg.BindAddr, n.cfg.P2PPort, err)
		}
		return fmt.Errorf("failed to create gossip instance: %w", err)
	}

	n.goTask("network-events", n.processEvents)
	n.goTask("network-gossip-watch", n.watchGossip)

	n.addMember(n.serf.LocalMember())
	return nil
}

// watchGossip marks the subsystem failed if serf shuts down on its own.
func (n *Network) watchGossip() {
	select {
	case <-n.serf.ShutdownCh():
		if n.ctx.Err() == nil {
			n.fail(fmt.Errorf("gossip shut down unexpectedly"))
		}
	case <-n.ctx.Done():
	}
}

// buildTags constructs the gossip tags for this node
func (n *Network) buildTags(best uint64) map[string]string {
	return map[string]string{
		tagPeerID:   n.identity.PeerID(),
		tagGenesis:  n.genesis,
		tagBest:     strconv.FormatUint(best, 10),
		tagSyncPort: strconv.Itoa(n.syncPort),
		tagRole:     string(n.cfg.Role),
	}
}

// advertiseBest updates the best block tag when it changed.
func (n *Network) advertiseBest() {
	best := n.chain.Info().BestNumber

	n.bestMu.Lock()
	defer n.bestMu.Unlock()
	if best == n.advertisedBest {
		return
	}
	if err := n.serf.SetTags(n.buildTags(best)); err != nil {
		logging.Warn("Failed to advertise best block #%d: %v", best, err)
		return
	}
	n.advertisedBest = best
}

// goTask runs fn as a task. Stop waits for every task started this way, and
// stopping the task manager stops the network loops.
func (n *Network) goTask(name string, fn func()) {
	n.wg.Add(1)
	n.tasks.Spawn(name, func(ctx context.Context) error {
		defer n.wg.Done()
		unhook := context.AfterFunc(ctx, n.cancel)
		defer unhook()
		fn()
		return nil
	})
}

// Join attempts to join the gossip network through one or more seed addresses.
func (n *Network) Join(addresses []string) error {
	if len(addresses) == 0 {
		return fmt.Errorf("no join addresses provided")
	}

	logging.Info("Attempting to join network via %v", addresses)

	var lastErr error
	for attempt := 1; attempt <= n.cfg.JoinRetries; attempt++ {
		joinDone := make(chan struct {
			n   int
			err error
		}, 1)

		go func() {
			count, err := n.serf.Join(addresses, false)
			joinDone <- struct {
				n   int
				err error
			}{count, err}
		}()

		timer := time.NewTimer(n.cfg.JoinTimeout)
		select {
		case result := <-joinDone:
			timer.Stop()
			if result.err == nil {
				logging.Success("Joined network, contacted %d nodes", result.n)
				return nil
			}
			lastErr = result.err
			logging.Warn("Join attempt %d/%d failed: %v", attempt, n.cfg.JoinRetries, result.err)

		case <-timer.C:
			lastErr = fmt.Errorf("join attempt timed out after %v", n.cfg.JoinTimeout)
			logging.Warn("Join attempt %d/%d timed out", attempt, n.cfg.JoinRetries)

		case <-n.ctx.Done():
			timer.Stop()
			return n.ctx.Err()
		}

		if attempt < n.cfg.JoinRetries {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-n.ctx.Done():
				return n.ctx.Err()
			}
		}
	}

	return fmt.Errorf("failed to join network after %d attempts: %w", n.cfg.JoinRetries, lastErr)
}

// PeerID returns the local peer id.
func (n *Network) PeerID() string {
	return n.identity.PeerID()
}

// GossipAddr returns the local gossip address.
func (n *Network) GossipAddr() string {
	if n.serf == nil {
		return ""
	}
	m := n.serf.LocalMember()
	return net.JoinHostPort(m.Addr.String(), strconv.Itoa(int(m.Port)))
}

// SyncAddr returns the bound sync endpoint address.
func (n *Network) SyncAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Peers returns alive remote peers sorted by name.
func (n *Network) Peers() []Peer {
	n.memberLock.RLock()
	defer n.memberLock.RUnlock()

	peers := make([]Peer, 0, len(n.members))
	for name, p := range n.members {
		if name == n.cfg.NodeName || p.Status != serf.StatusAlive {
			continue
		}
		peers = append(peers, *p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers
}

// IsSyncing reports whether an alive peer on our chain is ahead of us.
func (n *Network) IsSyncing() bool {
	_, ok := n.syncTarget()
	return ok
}

func (n *Network) fail(err error) {
	n.errMu.Lock()
	if n.err == nil {
		n.err = err
	}
	n.errMu.Unlock()
	n.doneOnce.Do(func() { close(n.done) })
}

// Done is closed when the network stops or fails.
func (n *Network) Done() <-chan struct{} {
	return n.done
}

// Err returns the failure that stopped the network, if any.
func (n *Network) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.err
}

// Stop leaves gossip and closes the sync endpoint. Blocks until background
// goroutines exit or ctx is done.
func (n *Network) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() {
		logging.Info("Shutting down network")
		n.cancel()

		if n.serf != nil {
			if err := n.serf.Leave(); err != nil {
				logging.Warn("Error during graceful leave: %v", err)
			}
			if err := n.serf.Shutdown(); err != nil {
				logging.Error("Error shutting down gossip: %v", err)
			}
		}
		if n.listener != nil {
			n.listener.Close()
		}

		waited := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-ctx.Done():
			n.stopErr = fmt.Errorf("network goroutines still running: %w", ctx.Err())
		}

		if n.logWriter != nil {
			n.logWriter.Close()
		}
		n.doneOnce.Do(func() { close(n.done) })
	})
	return n.stopErr
}

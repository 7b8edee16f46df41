// Package telemetry reports node status to external telemetry endpoints.
//
// Each endpoint is configured as "URL VERBOSITY". An event is delivered to
// every endpoint whose verbosity is at least the event's level. WebSocket
// endpoints (ws, wss) keep one connection open; HTTP endpoints (http, https)
// receive one POST per event.
//
// Delivery is best effort. Every endpoint has its own bounded queue; when a
// slow or unreachable endpoint lets the queue fill up, the oldest event is
// dropped with a warning. Failed sends are retried with exponential backoff
// until the reporter stops. Telemetry never fails the node.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/executor"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/network"
	"github.com/tristanlee/substrate/internal/resources"
	"github.com/tristanlee/substrate/internal/validate"
	"github.com/tristanlee/substrate/internal/version"
)

// Event verbosity levels.
const (
	LevelInfo  = 0
	LevelDebug = 1
)

// Event names.
const (
	MsgConnected   = "system.connected"
	MsgInterval    = "system.interval"
	MsgBlockImport = "block.import"
)

// Config holds reporter configuration.
type Config struct {
	Endpoints   []validate.Endpoint
	Interval    time.Duration // Period of system.interval events
	QueueSize   int           // Per-endpoint queue bound
	SendTimeout time.Duration // Dial and write timeout
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns defaults with no endpoints.
func DefaultConfig() *Config {
	return &Config{
		Interval:    5 * time.Second,
		QueueSize:   64,
		SendTimeout: 10 * time.Second,
		MinBackoff:  time.Second,
		MaxBackoff:  time.Minute,
	}
}

// ChainInfo is the block client view the reporter reads.
type ChainInfo interface {
	Info() client.Info
}

// PeerSet is the network view the reporter reads. May be nil.
type PeerSet interface {
	Peers() []network.Peer
}

// Deps describe the node being reported.
type Deps struct {
	NodeName  string
	ChainName string
	PeerID    string
	Validator bool

	Chain   ChainInfo
	Network PeerSet
	Sampler *resources.Sampler
	Tasks   executor.Spawner // runs delivery and interval loops
}

type sink struct {
	endpoint  validate.Endpoint
	queue     *queue
	transport transport
}

// Reporter is the telemetry subsystem.
type Reporter struct {
	cfg     *Config
	deps    Deps
	session string
	started time.Time
	sinks   []*sink

	lastBest uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New creates a reporter. Nothing is sent until Start.
func New(cfg *Config, deps Deps) (*Reporter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.QueueSize < 1 {
		return nil, fmt.Errorf("telemetry queue size must be positive, got: %d", cfg.QueueSize)
	}
	if err := validate.ValidatePositiveTimeout(cfg.Interval, "telemetry interval"); err != nil {
		return nil, err
	}
	if deps.Chain == nil {
		return nil, fmt.Errorf("telemetry requires a chain")
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("telemetry requires a task manager")
	}
	if deps.Sampler == nil {
		deps.Sampler = resources.NewSampler(time.Now(), cfg.Interval/2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		cfg:     cfg,
		deps:    deps,
		session: uuid.NewString(),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	for _, ep := range cfg.Endpoints {
		t, err := newTransport(ep.URL, cfg.SendTimeout, r.helloMessage)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("telemetry endpoint %s: %w", ep.URL, err)
		}
		r.sinks = append(r.sinks, &sink{endpoint: ep, queue: newQueue(cfg.QueueSize), transport: t})
	}
	return r, nil
}

// Session returns the id attached to every event of this run.
func (r *Reporter) Session() string {
	return r.session
}

// Start queues system.connected and begins delivery and periodic reports.
func (r *Reporter) Start() error {
	r.lastBest = r.deps.Chain.Info().BestNumber
	r.emit(LevelInfo, MsgConnected, r.connectedFields())

	for _, s := range r.sinks {
		r.goTask("telemetry-deliver "+s.endpoint.URL, func() { r.deliver(s) })
	}
	r.goTask("telemetry-interval", r.intervalLoop)

	logging.Info("Telemetry reporting to %d endpoints (session %s)", len(r.sinks), r.session)
	return nil
}

// goTask runs fn as a task. Stop waits for it, and stopping the task manager
// stops the reporter loops.
func (r *Reporter) goTask(name string, fn func()) {
	r.wg.Add(1)
	r.deps.Tasks.Spawn(name, func(ctx context.Context) error {
		defer r.wg.Done()
		unhook := context.AfterFunc(ctx, r.cancel)
		defer unhook()
		fn()
		return nil
	})
}

func (r *Reporter) connectedFields() map[string]any {
	info := r.deps.Chain.Info()
	return map[string]any{
		"name":           r.deps.NodeName,
		"chain":          r.deps.ChainName,
		"genesis_hash":   info.GenesisHash,
		"implementation": version.ImplName,
		"version":        version.HosterVersion,
		"network_id":     r.deps.PeerID,
		"authority":      r.deps.Validator,
		"startup_time":   r.started.UnixMilli(),
		"sysinfo":        resources.Host(),
	}
}

func (r *Reporter) helloMessage() []byte {
	return r.encode(MsgConnected, r.connectedFields())
}

func (r *Reporter) intervalFields() map[string]any {
	info := r.deps.Chain.Info()
	peers := 0
	if r.deps.Network != nil {
		peers = len(r.deps.Network.Peers())
	}
	snap := r.deps.Sampler.Snapshot()
	logging.Debug("Telemetry interval: #%d, %d peers, %s", info.BestNumber, peers, snap.Summary())
	return map[string]any{
		"best":         info.BestHash,
		"height":       info.BestNumber,
		"peers":        peers,
		"memory":       snap.GoMemSys,
		"system_used":  snap.MemoryUsed,
		"load_average": snap.Load1,
		"uptime_secs":  int64(snap.Uptime.Seconds()),
	}
}

func (r *Reporter) intervalLoop() {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.ctx.Done():
			return
		}
	}
}

// report emits one interval event and a block import event if the best
// block moved.
func (r *Reporter) report() {
	info := r.deps.Chain.Info()
	if info.BestNumber != r.lastBest {
		r.emit(LevelDebug, MsgBlockImport, map[string]any{
			"best":   info.BestHash,
			"height": info.BestNumber,
		})
		r.lastBest = info.BestNumber
	}
	r.emit(LevelInfo, MsgInterval, r.intervalFields())
}

func (r *Reporter) encode(msg string, fields map[string]any) []byte {
	payload := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		payload[k] = v
	}
	payload["msg"] = msg
	payload["session"] = r.session
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	out, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Failed to encode telemetry event %s: %v", msg, err)
		return nil
	}
	return out
}

// emit queues an event on every endpoint that wants its level.
func (r *Reporter) emit(level uint8, msg string, fields map[string]any) {
	var encoded []byte
	for _, s := range r.sinks {
		if s.endpoint.Verbosity < level {
			continue
		}
		if encoded == nil {
			if encoded = r.encode(msg, fields); encoded == nil {
				return
			}
		}
		if s.queue.push(encoded) {
			logging.Warn("Telemetry queue for %s full, dropped oldest event", s.endpoint.URL)
		}
	}
}

// deliver drains one endpoint's queue, backing off after failures.
func (r *Reporter) deliver(s *sink) {
	backoff := r.cfg.MinBackoff
	for {
		e, ok := s.queue.peek()
		if !ok {
			select {
			case <-s.queue.notify:
				continue
			case <-r.ctx.Done():
				return
			}
		}

		if err := s.transport.Send(r.ctx, e.data); err != nil {
			if r.ctx.Err() != nil {
				return
			}
			logging.Debug("Telemetry send to %s failed, retrying in %v: %v", s.endpoint.URL, backoff, err)
			select {
			case <-time.After(backoff):
			case <-r.ctx.Done():
				return
			}
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
			continue
		}

		backoff = r.cfg.MinBackoff
		s.queue.pop(e.seq)
	}
}

// Done is closed once the reporter has stopped.
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

// Err always returns nil: delivery failures never fail the node.
func (r *Reporter) Err() error {
	return nil
}

// Stop halts delivery and closes endpoint connections. Queued events are
// discarded.
func (r *Reporter) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.cancel()

		waited := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(waited)
		}()

		select {
		case <-waited:
		case <-ctx.Done():
			r.stopErr = fmt.Errorf("telemetry still sending: %w", ctx.Err())
		}

		for _, s := range r.sinks {
			if err := s.transport.Close(); err != nil {
				logging.Debug("Closing telemetry connection to %s: %v", s.endpoint.URL, err)
			}
			if dropped := s.queue.droppedCount(); dropped > 0 {
				logging.Warn("Telemetry endpoint %s dropped %d events this run", s.endpoint.URL, dropped)
			}
		}
		close(r.done)
	})
	return r.stopErr
}

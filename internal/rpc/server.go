// Package rpc exposes a node's chain and network status over JSON-RPC 2.0.
//
// The same gin router serves HTTP POST on "/" and WebSocket upgrades on
// "/ws" (and on "/" when the client asks to upgrade). GET /health answers
// load balancers and GET /metrics serves prometheus when enabled. Browser
// access is governed by the configured CORS origins, which also gate the
// WebSocket handshake.
package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/netutil"
	"github.com/tristanlee/substrate/internal/network"
)

// maxRequestSize bounds an HTTP request body
const maxRequestSize = 5 << 20

// Chain is the block client view the RPC methods read from.
type Chain interface {
	Info() client.Info
	BlockByNumber(number uint64) (*client.Block, error)
	BlockByHash(hash client.Hash) (*client.Block, error)
}

// PeerSet is the network view the RPC methods read from.
type PeerSet interface {
	Peers() []network.Peer
	IsSyncing() bool
}

// KeyChecker answers author_hasKey.
type KeyChecker interface {
	Has(tag string, public []byte) bool
}

// Deps are the node components the server reports on. Network and Keys may
// be nil.
type Deps struct {
	NodeName        string
	Version         string
	ChainName       string
	ShouldHavePeers bool

	Chain   Chain
	Network PeerSet
	Keys    KeyChecker
}

// Server is the RPC subsystem.
type Server struct {
	cfg     *Config
	deps    Deps
	methods map[string]method
	metrics *metrics
	started time.Time

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	port       int
	upgrader   websocket.Upgrader

	wsMu      sync.Mutex
	wsConns   map[*websocket.Conn]struct{}
	wsClosing bool
	wsWG      sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
	stopOnce sync.Once
	stopErr  error
}

// NewServer builds the router. Nothing is bound until Start.
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Chain == nil {
		return nil, fmt.Errorf("rpc server requires a chain")
	}

	gin.SetMode(gin.ReleaseMode)

	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: newMetrics(cfg.Registry),
		started: time.Now(),
		wsConns: make(map[*websocket.Conn]struct{}),
		done:    make(chan struct{}),
	}
	s.methods = s.buildMethods()

	corsOpts := cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	}
	if len(cfg.CORSOrigins) == 0 {
		// An empty list means no browser origin at all
		corsOpts.AllowOriginFunc = func(string) bool { return false }
	}
	corsHandler := cors.New(corsOpts)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		CheckOrigin:     wsOriginCheck(corsHandler),
	}

	router := gin.New()
	if !logging.IsConfiguredByCLI() {
		gin.DefaultWriter = logging.NewLevelWriter("INFO", "gin")
		gin.DefaultErrorWriter = logging.NewLevelWriter("ERROR", "gin")
	}
	router.Use(loggingMiddleware())
	router.Use(gin.Recovery())
	s.setupRoutes(router)

	s.handler = corsHandler.Handler(router)
	return s, nil
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.POST("/", s.handleHTTP)
	router.GET("/", s.handleWebsocket)
	router.GET("/ws", s.handleWebsocket)
	router.GET("/health", s.handleHealth)

	if s.cfg.Prometheus {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})))
	}
}

// loggingMiddleware logs each request at DEBUG
func loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logging.Debug("rpc: %s \"%s %s\" %d %s",
			param.ClientIP,
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
		return ""
	})
}

// Handler returns the full HTTP handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := netutil.ListenTCP("rpc", s.cfg.BindAddr, s.cfg.Port)
	if err != nil {
		return err
	}
	port, err := netutil.ListenerPort(listener)
	if err != nil {
		listener.Close()
		return err
	}
	s.listener = listener
	s.port = port

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("RPC server failed: %v", err)
			s.fail(err)
		}
	}()

	logging.Success("RPC server listening on %s (%d methods)", listener.Addr(), len(s.methods))
	return nil
}

// Port returns the bound port, or 0 before Start. With a configured port of 0
// it is the port the kernel picked.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHTTP(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize))
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}

	out := s.handleMessage(body)
	if out == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}

// handleHealth reports 200 when the node has the peers it needs and is not
// catching up, 503 otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	h := s.health()
	status := http.StatusOK
	if h.IsSyncing || (h.ShouldHavePeers && h.Peers == 0) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"peers":           h.Peers,
		"isSyncing":       h.IsSyncing,
		"shouldHavePeers": h.ShouldHavePeers,
		"version":         s.deps.Version,
		"uptime":          time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed when the server stops or fails.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that stopped the server, if any.
func (s *Server) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop drains HTTP requests and closes open WebSocket connections.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		logging.Info("Shutting down RPC server")
		if s.httpServer != nil {
			s.stopErr = s.httpServer.Shutdown(ctx)
		}

		s.wsMu.Lock()
		s.wsClosing = true
		for conn := range s.wsConns {
			conn.Close()
		}
		s.wsMu.Unlock()
		s.wsWG.Wait()

		s.doneOnce.Do(func() { close(s.done) })
	})
	return s.stopErr
}

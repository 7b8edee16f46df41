package rpc

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/tristanlee/substrate/internal/logging"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsWriteTimeout     = 10 * time.Second
	wsDefaultReadLimit = 32 * 1024 * 1024
)

// wsOriginCheck accepts requests without an Origin header and otherwise
// applies the CORS allow list.
func wsOriginCheck(c *cors.Cors) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if _, ok := r.Header["Origin"]; !ok {
			return true
		}
		if c.OriginAllowed(r) {
			return true
		}
		logging.Warn("Rejected WebSocket connection from origin %s", r.Header.Get("Origin"))
		return false
	}
}

func (s *Server) handleWebsocket(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusMethodNotAllowed, "use POST for JSON-RPC or upgrade to websocket")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Debug("WebSocket upgrade failed: %v", err)
		return
	}

	if !s.trackConn(conn) {
		conn.Close()
		return
	}
	defer s.untrackConn(conn)

	conn.SetReadLimit(wsDefaultReadLimit)
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		out := s.handleMessage(msg)
		if out == nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			return
		}
	}
}

// trackConn registers conn for closing on Stop. Returns false once stopping.
func (s *Server) trackConn(conn *websocket.Conn) bool {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if s.wsClosing {
		return false
	}
	s.wsConns[conn] = struct{}{}
	s.wsWG.Add(1)
	return true
}

func (s *Server) untrackConn(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsConns, conn)
	s.wsMu.Unlock()
	conn.Close()
	s.wsWG.Done()
}

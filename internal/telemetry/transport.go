package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/version"
)

// transport delivers encoded events to one endpoint.
type transport interface {
	Send(ctx context.Context, msg []byte) error
	Close() error
}

func newTransport(rawURL string, timeout time.Duration, hello func() []byte) (transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
		return &wsTransport{url: rawURL, timeout: timeout, hello: hello}, nil
	case "http", "https":
		return newHTTPTransport(rawURL, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported telemetry scheme %q", u.Scheme)
	}
}

// wsTransport keeps one websocket open and redials after a failure. Every
// redial after the first replays the hello message so the receiver can
// associate the new connection with this node.
type wsTransport struct {
	url     string
	timeout time.Duration
	hello   func() []byte

	mu    sync.Mutex
	conn  *websocket.Conn
	dials int
}

func (t *wsTransport) Send(ctx context.Context, msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		if err := t.dial(ctx); err != nil {
			return err
		}
	}

	t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.conn.Close()
		t.conn = nil
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (t *wsTransport) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.timeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	t.dials++

	if t.dials > 1 && t.hello != nil {
		conn.SetWriteDeadline(time.Now().Add(t.timeout))
		if err := conn.WriteMessage(websocket.TextMessage, t.hello()); err != nil {
			conn.Close()
			return fmt.Errorf("write hello: %w", err)
		}
	}

	// Drain and discard anything the server sends so control frames are handled
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	t.conn = conn
	logging.Debug("Telemetry connected to %s", t.url)
	return nil
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := t.conn.Close()
	t.conn = nil
	return err
}

// httpTransport posts each event as its own request.
type httpTransport struct {
	url    string
	client *resty.Client
}

func newHTTPTransport(rawURL string, timeout time.Duration) *httpTransport {
	client := resty.New()
	client.SetLogger(logging.RestyLogger{})
	client.
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	return &httpTransport{url: rawURL, client: client}
}

func (t *httpTransport) Send(ctx context.Context, msg []byte) error {
	resp, err := t.client.R().SetContext(ctx).SetBody(msg).Post(t.url)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("endpoint returned %s", resp.Status())
	}
	return nil
}

func (t *httpTransport) Close() error {
	return nil
}

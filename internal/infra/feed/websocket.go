// Package feed connects to the push-event feed over WebSocket.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/boddenberg/loandesk-go/internal/port"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketSource implements port.EventSource. Each Connect opens a new
// socket to <baseURL>?user_id=<owner>.
type WebSocketSource struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewWebSocketSource creates a feed source. handshakeTimeout bounds the
// opening handshake only; established connections have no read deadline.
func NewWebSocketSource(baseURL, apiKey string, handshakeTimeout time.Duration, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}
}

// Connect dials the feed for ownerID.
func (s *WebSocketSource) Connect(ctx context.Context, ownerID int64) (port.EventConn, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing event feed url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", strconv.FormatInt(ownerID, 10))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if s.apiKey != "" {
		header.Set("X-API-Key", s.apiKey)
	}

	ws, resp, err := s.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing event feed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing event feed: %w", err)
	}
	s.logger.Debug("event feed connected", zap.Int64("owner_id", ownerID), zap.String("url", u.Redacted()))
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla connection to port.EventConn. Control frames are
// handled by gorilla; only text and binary payloads are returned.
type wsConn struct {
	ws   *websocket.Conn
	once sync.Once
	err  error
}

func (c *wsConn) Next() ([]byte, error) {
	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

// Close may be called from another goroutine to unblock a pending Next.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.err = c.ws.Close()
	})
	return c.err
}

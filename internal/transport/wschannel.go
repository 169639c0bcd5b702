package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Bestalexmartin/Cuebe-sub002/internal/syncengine"
)

var (
	// ErrMissingChannelURL indicates the channel configuration lacks the websocket URL.
	ErrMissingChannelURL = errors.New("transport: channel url is required")
)

const defaultWriteTimeout = 10 * time.Second

// WebsocketChannelConfig describes the dependencies of the websocket channel.
type WebsocketChannelConfig struct {
	// URL is the channel endpoint, e.g. "ws://host/scripts/abc/channel". Required.
	URL string
	// Tokens supplies the credential appended as the access_token query
	// parameter at dial time. Optional.
	Tokens syncengine.TokenProvider
	// Dialer overrides the websocket dialer; defaults to the package default.
	Dialer *websocket.Dialer
	// WriteTimeout bounds each send; defaults to 10s.
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// WebsocketChannel is the client half of the realtime sync channel. Sends are
// best effort: a write against a broken connection fails with
// syncengine.ErrChannelClosed so the retry loop knows to Reconnect first.
type WebsocketChannel struct {
	url          string
	tokens       syncengine.TokenProvider
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebsocketChannel validates the configuration and constructs the channel
// unconnected. Call Connect before the first Send.
func NewWebsocketChannel(cfg WebsocketChannelConfig) (*WebsocketChannel, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, ErrMissingChannelURL
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("transport: invalid channel url: %w", err)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketChannel{
		url:          endpoint,
		tokens:       cfg.Tokens,
		dialer:       dialer,
		writeTimeout: writeTimeout,
		logger:       logger,
	}, nil
}

// Connect dials the channel endpoint, replacing any existing connection.
func (c *WebsocketChannel) Connect(ctx context.Context) error {
	endpoint, err := c.dialURL(ctx)
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial channel: %w", err)
	}

	c.mu.Lock()
	previous := c.conn
	c.conn = conn
	c.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	c.logger.Debug("sync channel connected", zap.String("url", c.url))
	return nil
}

// Send writes one broadcast envelope. A write failure tears the connection
// down and reports it as closed; the caller reconnects before retrying.
func (c *WebsocketChannel) Send(msg syncengine.BroadcastMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: not connected", syncengine.ErrChannelClosed)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		c.dropConn(conn)
		return fmt.Errorf("%w: %v", syncengine.ErrChannelClosed, err)
	}
	return nil
}

// Reconnect re-dials the channel endpoint. Called by the retry loop after a
// send failed on a closed connection.
func (c *WebsocketChannel) Reconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	return c.Connect(ctx)
}

// Close tears the connection down.
func (c *WebsocketChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// dropConn closes a connection after a failed write, but only when it is
// still the current one; a concurrent Reconnect may already have replaced it.
func (c *WebsocketChannel) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// dialURL appends the access_token query parameter when a credential is
// available.
func (c *WebsocketChannel) dialURL(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return c.url, nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve credential: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return c.url, nil
	}
	parsed, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("transport: invalid channel url: %w", err)
	}
	query := parsed.Query()
	query.Set("access_token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

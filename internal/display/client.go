package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"beat-hard/server/internal/net/proto"
	"beat-hard/server/internal/telemetry"
	"beat-hard/server/logging"
	loggingnetwork "beat-hard/server/logging/network"
)

const (
	DefaultURL         = "ws://127.0.0.1:8080/ws"
	DefaultBaseBackoff = 500 * time.Millisecond
	DefaultMaxBackoff  = 10 * time.Second
)

// ClientConfig controls how a display reaches the broadcast channel.
type ClientConfig struct {
	URL string
	// Reconnect keeps redialing with exponential backoff after the channel
	// drops. Without it Run returns on the first disconnect.
	Reconnect   bool
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      telemetry.Logger
	Publisher   logging.Publisher
	Dialer      *websocket.Dialer
}

func (c ClientConfig) normalized() ClientConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.BaseBackoff)
	}
	if c.Logger == nil {
		c.Logger = telemetry.LoggerFunc(nil)
	}
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

// Client subscribes a mirror to the broadcast channel. It never sends.
type Client struct {
	cfg       ClientConfig
	mirror    *Mirror
	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(mirror *Mirror, cfg ClientConfig) *Client {
	return &Client{cfg: cfg.normalized(), mirror: mirror}
}

// Connected reports whether a channel is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run reads until ctx is cancelled or, without reconnect, the channel drops.
// It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.BaseBackoff
	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !c.cfg.Reconnect {
			return err
		}
		if established {
			backoff = c.cfg.BaseBackoff
		}
		c.cfg.Logger.Printf("display channel lost: %v (retry in %s)", err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

// session dials once and reads until the connection fails. established is
// true when the dial succeeded.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.setConn(conn)
	c.connected.Store(true)
	c.cfg.Logger.Printf("display connected to %s", c.cfg.URL)

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer func() {
		stop()
		conn.Close()
		c.setConn(nil)
		c.connected.Store(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errors.New("channel closed by server")
			}
			return true, err
		}
		c.handle(ctx, data)
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	msg, err := proto.DecodeViewMessage(data)
	if err == nil {
		err = c.mirror.Apply(msg)
	}
	if err != nil {
		c.cfg.Logger.Printf("display dropped message: %v", err)
		loggingnetwork.MessageDropped(ctx, c.cfg.Publisher, loggingnetwork.DisplayRef("local"), loggingnetwork.DropPayload{
			Reason:   err.Error(),
			ViewType: string(msg.ViewType),
			Bytes:    len(data),
		})
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Close drops the current connection, if any. Run redials when reconnect is
// enabled.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

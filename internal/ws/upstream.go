package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/provider"
)

// Poster queues work on a connection's serial executor.
type Poster interface {
	Post(fn func())
}

// UpstreamOptions configures dialing a node.
type UpstreamOptions struct {
	URL         string
	DialTimeout time.Duration
	RetryCount  int
	RetryDelay  time.Duration
	ReadLimit   int64
}

// Upstream dials a node's JSON-RPC websocket.
type Upstream struct {
	opts   UpstreamOptions
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewUpstream(opts UpstreamOptions, logger *zap.Logger) *Upstream {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = maxMessageSize
	}
	return &Upstream{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		logger: logger.With(zap.String("upstream", opts.URL)),
	}
}

// URL is the node address this Upstream dials.
func (u *Upstream) URL() string { return u.opts.URL }

// Provider returns the base transport for a provider stack. Frames and
// onClose are delivered through post. onClose is called when the node side
// ends the connection, never after Disconnect; it may be nil.
func (u *Upstream) Provider(ctx context.Context, post Poster, onClose func(error)) provider.Provider {
	return func(onMessage provider.MessageHandler) (provider.Conn, error) {
		wsConn, err := u.dial(ctx)
		if err != nil {
			return nil, err
		}
		c := &upstreamConn{
			conn:      wsConn,
			send:      make(chan []byte, sendBufferSize),
			done:      make(chan struct{}),
			post:      post,
			onMessage: onMessage,
			onClose:   onClose,
			logger:    u.logger,
		}
		go c.writePump()
		go c.readPump(u.opts.ReadLimit)
		return c, nil
	}
}

func (u *Upstream) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= u.opts.RetryCount; attempt++ {
		if attempt > 0 {
			delay := u.opts.RetryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			u.logger.Debug("retrying dial", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, resp, err := u.dialer.DialContext(ctx, u.opts.URL, nil)
		if err == nil {
			u.logger.Debug("upstream connected")
			return conn, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// A node that answers the handshake with a client error will not
		// change its mind.
		if resp != nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s returned %d", ErrHandshakeFailed, u.opts.URL, resp.StatusCode)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("dialing %s: max retries exceeded: %w", u.opts.URL, lastErr)
}

type upstreamConn struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	detached  atomic.Bool

	post      Poster
	onMessage provider.MessageHandler
	onClose   func(error)
	logger    *zap.Logger
}

// Send queues msg for the node. A full buffer closes the connection.
func (c *upstreamConn) Send(msg string) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- []byte(msg):
	default:
		c.logger.Warn("upstream send buffer full, closing")
		c.shutdown()
	}
}

// Disconnect closes the connection. No frames or close notification are
// delivered afterwards.
func (c *upstreamConn) Disconnect() {
	c.detached.Store(true)
	c.shutdown()
}

func (c *upstreamConn) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump reads frames from the node and hands them to the executor.
func (c *upstreamConn) readPump(readLimit int64) {
	var readErr error
	defer func() {
		c.shutdown()
		_ = c.conn.Close()
		if c.onClose == nil {
			return
		}
		if readErr == nil {
			readErr = ErrUpstreamClosed
		}
		err := readErr
		c.post.Post(func() {
			if !c.detached.Load() {
				c.onClose(err)
			}
		})
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("upstream read error", zap.Error(err))
			}
			if !c.detached.Load() {
				readErr = fmt.Errorf("%w: %w", ErrUpstreamClosed, err)
			}
			return
		}
		msg := string(message)
		c.post.Post(func() {
			if !c.detached.Load() {
				c.onMessage(msg)
			}
		})
	}
}

// writePump writes queued frames and keepalive pings to the node.
func (c *upstreamConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("upstream write error", zap.Error(err))
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

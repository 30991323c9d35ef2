package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/chainhead-bridge/internal/config"
	"github.com/dgnsrekt/chainhead-bridge/internal/provider"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB

	// Send buffer size per connection.
	sendBufferSize = 256
)

// Session bridges one downstream client to its own upstream node
// connection. Everything touching the provider stack runs on the session's
// Loop.
type Session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	source config.Source
	send   chan []byte
	done   chan struct{}

	loop     *provider.Loop
	upstream provider.Conn
	limiter  *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Source        config.Source
	Upstream      UpstreamOptions
	Compose       provider.ComposeOptions
	ReadLimit     int64
	RatePerSecond int
}

func newSession(hub *Hub, conn *websocket.Conn, opts SessionOptions, logger *zap.Logger) *Session {
	id := uuid.New().String()
	logger = logger.With(zap.String("session", id), zap.String("network", opts.Source.ID))

	limit := rate.Inf
	burst := 0
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = opts.RatePerSecond * 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      id,
		hub:     hub,
		conn:    conn,
		source:  opts.Source,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		loop:    provider.NewLoop(logger),
		limiter: rate.NewLimiter(limit, burst),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// ID is the session's unique id.
func (s *Session) ID() string { return s.id }

// start opens the provider stack and the pumps. The upstream is opened by
// the first loop task so every client frame is handled after it.
func (s *Session) start(opts SessionOptions) {
	go s.loop.Run(context.Background())

	upstream := NewUpstream(opts.Upstream, s.logger)
	composeOpts := opts.Compose
	composeOpts.Logger = s.logger
	stack := provider.Compose(upstream.Provider(s.ctx, s.loop, s.upstreamClosed), s.loop, composeOpts)

	s.loop.Post(func() {
		conn, err := stack(s.deliver)
		if err != nil {
			s.logger.Warn("upstream unavailable", zap.String("endpoint", upstream.URL()), zap.Error(err))
			s.close()
			return
		}
		s.upstream = conn
		s.logger.Info("session bridged", zap.String("endpoint", upstream.URL()))
	})

	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = maxMessageSize
	}
	go s.writePump()
	go s.readPump(readLimit)
}

// deliver queues a frame for the client. Runs on the loop.
func (s *Session) deliver(msg string) {
	select {
	case s.send <- []byte(msg):
	case <-s.done:
	default:
		s.logger.Warn("client send buffer full, closing", zap.Error(ErrSendBufferFull))
		s.close()
	}
}

// upstreamClosed runs on the loop when the node ends the connection.
func (s *Session) upstreamClosed(err error) {
	s.logger.Info("upstream closed", zap.Error(err))
	s.upstream = nil
	s.close()
}

// close tears the session down once. The upstream is disconnected on the
// loop, after any work already queued there.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.loop.Post(func() {
			if s.upstream != nil {
				s.upstream.Disconnect()
				s.upstream = nil
			}
			s.loop.Stop()
		})
	})
}

// readPump reads client frames and forwards them upstream.
func (s *Session) readPump(readLimit int64) {
	defer func() {
		s.hub.remove(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		msg := string(message)
		s.loop.Post(func() {
			if s.upstream != nil {
				s.upstream.Send(msg)
			}
		})
	}
}

// writePump writes queued frames to the client.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("websocket write error", zap.Error(err))
				s.close()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}

		case <-s.done:
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames that were queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

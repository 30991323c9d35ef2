package ws

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/config"
)

// BridgeOptions configures the downstream websocket endpoint.
type BridgeOptions struct {
	Upstream       config.UpstreamConfig
	ReadLimit      int64
	RatePerSecond  int
	AllowedOrigins []string
}

// Bridge upgrades client connections and pairs each with an upstream node.
type Bridge struct {
	hub      *Hub
	catalog  *config.Catalog
	opts     BridgeOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewBridge(hub *Hub, catalog *config.Catalog, opts BridgeOptions, logger *zap.Logger) *Bridge {
	return &Bridge{
		hub:     hub,
		catalog: catalog,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		logger: logger,
	}
}

// HandleWS handles GET /ws?network=<id>&endpoint=<label or url>.
// Without a network the configured upstream is used.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	source, err := b.resolve(r.URL.Query())
	if err != nil {
		b.logger.Debug("rejecting websocket request", zap.Error(err))
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrUnknownNetwork) || errors.Is(err, config.ErrUnknownEndpoint) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	up := b.opts.Upstream
	opts := SessionOptions{
		Source: source,
		Upstream: UpstreamOptions{
			URL:         source.Endpoint,
			DialTimeout: up.DialTimeout,
			RetryCount:  up.RetryCount,
			RetryDelay:  up.RetryDelay,
			ReadLimit:   b.opts.ReadLimit,
		},
		Compose:       up.ComposeOptions(),
		ReadLimit:     b.opts.ReadLimit,
		RatePerSecond: b.opts.RatePerSecond,
	}

	s := newSession(b.hub, conn, opts, b.logger)
	if !b.hub.add(s) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	s.start(opts)
}

func (b *Bridge) resolve(q url.Values) (config.Source, error) {
	up := b.opts.Upstream
	network, endpoint := q.Get("network"), q.Get("endpoint")
	allowCustom := up.AllowCustomEndpoints
	if network == "" && endpoint == "" {
		// The configured default is trusted even when clients may not pick urls.
		network, endpoint, allowCustom = up.Network, up.Endpoint, true
	}
	return config.ResolveSource(b.catalog, network, endpoint, up.WithChopsticks, allowCustom)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // same-origin only
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/config"
	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
	"github.com/dgnsrekt/chainhead-bridge/internal/ws"
)

type Server struct {
	hub      *ws.Hub
	catalog  *config.Catalog
	upstream config.UpstreamConfig
	prober   *Prober
	started  time.Time
	logger   *zap.Logger
}

func NewServer(hub *ws.Hub, catalog *config.Catalog, upstream config.UpstreamConfig, prober *Prober, logger *zap.Logger) *Server {
	return &Server{
		hub:      hub,
		catalog:  catalog,
		upstream: upstream,
		prober:   prober,
		started:  time.Now(),
		logger:   logger,
	}
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	JSONRPC  string `json:"jsonrpc"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// HandleHealth handles GET /healthz
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		JSONRPC:  rpc.Version,
		Sessions: s.hub.Count(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// ProbeParams are the query parameters of GET /probe.
type ProbeParams struct {
	Network  *string
	Endpoint *string
	Refresh  *bool
}

func bindProbeParams(r *http.Request) (ProbeParams, error) {
	var params ProbeParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "network", q, &params.Network); err != nil {
		return params, fmt.Errorf("invalid format for parameter network: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "endpoint", q, &params.Endpoint); err != nil {
		return params, fmt.Errorf("invalid format for parameter endpoint: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "refresh", q, &params.Refresh); err != nil {
		return params, fmt.Errorf("invalid format for parameter refresh: %w", err)
	}
	return params, nil
}

// HandleProbe handles GET /probe?network=<id>&endpoint=<label or url>&refresh=<bool>
func (s *Server) HandleProbe(w http.ResponseWriter, r *http.Request) {
	params, err := bindProbeParams(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var network, endpoint string
	if params.Network != nil {
		network = *params.Network
	}
	if params.Endpoint != nil {
		endpoint = *params.Endpoint
	}
	allowCustom := s.upstream.AllowCustomEndpoints
	if network == "" && endpoint == "" {
		network, endpoint, allowCustom = s.upstream.Network, s.upstream.Endpoint, true
	}

	source, err := config.ResolveSource(s.catalog, network, endpoint, false, allowCustom)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, config.ErrUnknownNetwork) || errors.Is(err, config.ErrUnknownEndpoint) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	if params.Refresh != nil && *params.Refresh {
		s.prober.Forget(source.Endpoint)
	}

	result, err := s.prober.Probe(r.Context(), source.Endpoint)
	if err != nil {
		s.logger.Debug("probe request failed", zap.String("endpoint", source.Endpoint), zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

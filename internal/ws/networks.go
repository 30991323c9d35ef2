package ws

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/config"
)

// NetworksResponse lists the catalog with a bridge url per network.
type NetworksResponse struct {
	WebsocketURLs map[string]string `json:"websocket_urls"`
	Categories    []config.Category `json:"categories"`
}

// NetworksHandler handles the /networks endpoint.
type NetworksHandler struct {
	catalog *config.Catalog
	logger  *zap.Logger
}

// NewNetworksHandler creates a new NetworksHandler.
func NewNetworksHandler(catalog *config.Catalog, logger *zap.Logger) *NetworksHandler {
	return &NetworksHandler{catalog: catalog, logger: logger}
}

// HandleNetworks handles GET /networks
func (h *NetworksHandler) HandleNetworks(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	baseURL := fmt.Sprintf("%s://%s/ws", scheme, r.Host)

	response := NetworksResponse{
		WebsocketURLs: make(map[string]string),
		Categories:    h.catalog.Categories(),
	}
	for _, cat := range response.Categories {
		for _, n := range cat.Networks {
			response.WebsocketURLs[n.ID] = baseURL + "?network=" + url.QueryEscape(n.ID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode networks response", zap.Error(err))
	}
}

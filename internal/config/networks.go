package config

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownNetwork  = errors.New("unknown network")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrCatalogFull     = errors.New("too many custom endpoints")
)

// SourceTypeWebsocket is the only source kind the bridge connects through.
const SourceTypeWebsocket = "websocket"

// Endpoint is one labelled RPC url of a network.
type Endpoint struct {
	Label string `mapstructure:"label" json:"label"`
	URL   string `mapstructure:"url" json:"url"`
}

// Network is a chain reachable over one of its endpoints.
type Network struct {
	ID          string     `mapstructure:"id" json:"id"`
	Display     string     `mapstructure:"display" json:"display"`
	Endpoints   []Endpoint `mapstructure:"endpoints" json:"endpoints"`
	LightClient bool       `mapstructure:"light_client" json:"lightClient"`
	RelayChain  string     `mapstructure:"relay_chain" json:"relayChain,omitempty"`
}

// Category groups networks for listing.
type Category struct {
	Name     string    `json:"name"`
	Networks []Network `json:"networks"`
}

// Source is a resolved upstream connection target.
type Source struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	Endpoint       string `json:"endpoint"`
	WithChopsticks bool   `json:"withChopsticks"`
}

func NewWebsocketSource(id, endpoint string, withChopsticks bool) Source {
	return Source{Type: SourceTypeWebsocket, ID: id, Endpoint: endpoint, WithChopsticks: withChopsticks}
}

const (
	categoryResonance = "Resonance"
	categoryCustom    = "Custom"
	customNetworkID   = "localhost"

	// maxCustomEndpoints bounds the urls AddCustomEndpoint may register.
	maxCustomEndpoints = 16
)

func builtinCategories() []Category {
	return []Category{
		{
			Name: categoryResonance,
			Networks: []Network{{
				ID:      "resonance",
				Display: "Resonance",
				Endpoints: []Endpoint{
					{Label: "Resonance", URL: "wss://a.t.res.fm"},
				},
			}},
		},
		{
			Name: categoryCustom,
			Networks: []Network{{
				ID:      customNetworkID,
				Display: "Localhost",
				Endpoints: []Endpoint{
					{Label: "Port 9944", URL: "ws://127.0.0.1:9944"},
					{Label: "Port 3000", URL: "ws://127.0.0.1:3000"},
					{Label: "Port 8132", URL: "ws://127.0.0.1:8132"},
				},
			}},
		},
	}
}

// Catalog is the set of networks the bridge may connect to. It is safe for
// concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	categories []Category
}

// NewCatalog returns the built-in networks plus extra ones, which are listed
// under the custom category. An extra network reusing a built-in id replaces it.
func NewCatalog(extra []Network) *Catalog {
	c := &Catalog{categories: builtinCategories()}
	for _, n := range extra {
		c.upsert(n)
	}
	return c
}

func (c *Catalog) upsert(n Network) {
	for ci := range c.categories {
		for ni := range c.categories[ci].Networks {
			if c.categories[ci].Networks[ni].ID == n.ID {
				c.categories[ci].Networks[ni] = n
				return
			}
		}
	}
	custom := c.category(categoryCustom)
	custom.Networks = append(custom.Networks, n)
}

func (c *Catalog) category(name string) *Category {
	for i := range c.categories {
		if c.categories[i].Name == name {
			return &c.categories[i]
		}
	}
	c.categories = append(c.categories, Category{Name: name})
	return &c.categories[len(c.categories)-1]
}

// Categories returns a copy of the catalog in listing order.
func (c *Catalog) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Category, len(c.categories))
	for i, cat := range c.categories {
		out[i] = Category{Name: cat.Name, Networks: make([]Network, len(cat.Networks))}
		for j, n := range cat.Networks {
			n.Endpoints = append([]Endpoint(nil), n.Endpoints...)
			out[i].Networks[j] = n
		}
	}
	return out
}

// Network looks a network up by id.
func (c *Catalog) Network(id string) (Network, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, cat := range c.categories {
		for _, n := range cat.Networks {
			if n.ID == id {
				n.Endpoints = append([]Endpoint(nil), n.Endpoints...)
				return n, nil
			}
		}
	}
	return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
}

// Default is the first Resonance network.
func (c *Catalog) Default() Network {
	n, _ := c.Network("resonance")
	return n
}

// AddCustomEndpoint registers uri on the localhost network under its own
// url as label. Registering a known url again is a no-op.
func (c *Catalog) AddCustomEndpoint(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ci := range c.categories {
		for ni := range c.categories[ci].Networks {
			n := &c.categories[ci].Networks[ni]
			if n.ID != customNetworkID {
				continue
			}
			added := 0
			for _, e := range n.Endpoints {
				if e.Label == uri {
					return nil
				}
				if e.Label == e.URL {
					added++
				}
			}
			if added >= maxCustomEndpoints {
				return fmt.Errorf("%w: limit is %d", ErrCatalogFull, maxCustomEndpoints)
			}
			n.Endpoints = append(n.Endpoints, Endpoint{Label: uri, URL: uri})
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownNetwork, customNetworkID)
}

// Resolve picks an endpoint of a network. An empty networkID means the
// default network and an empty label its first endpoint; a label may also
// be given as the endpoint url itself.
func (c *Catalog) Resolve(networkID, label string, withChopsticks bool) (Source, error) {
	var n Network
	if networkID == "" {
		n = c.Default()
	} else {
		var err error
		if n, err = c.Network(networkID); err != nil {
			return Source{}, err
		}
	}
	if len(n.Endpoints) == 0 {
		return Source{}, fmt.Errorf("%w: network %s has no endpoints", ErrUnknownEndpoint, n.ID)
	}
	if label == "" {
		return NewWebsocketSource(n.ID, n.Endpoints[0].URL, withChopsticks), nil
	}
	for _, e := range n.Endpoints {
		if e.Label == label || e.URL == label {
			return NewWebsocketSource(n.ID, e.URL, withChopsticks), nil
		}
	}
	return Source{}, fmt.Errorf("%w: %s on network %s", ErrUnknownEndpoint, label, n.ID)
}

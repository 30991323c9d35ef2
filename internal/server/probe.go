package server

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/chainhead-bridge/internal/provider"
	"github.com/dgnsrekt/chainhead-bridge/internal/ws"
)

const (
	probeCacheNumCounters = 10_000
	probeCacheMaxCost     = 1_000 // each result costs 1
)

// ProbeResult is the outcome of a capability check against one endpoint.
type ProbeResult struct {
	Endpoint   string              `json:"endpoint"`
	Capability provider.Capability `json:"-"`
	Result     string              `json:"capability"`
	Supported  bool                `json:"qpowChainHead"`
	CheckedAt  time.Time           `json:"checkedAt"`
}

// Prober checks endpoints for the qpow chain-head family and remembers the
// answer for ttl. Concurrent checks of one endpoint share a single probe.
type Prober struct {
	upstream func(url string) *ws.Upstream
	timeout  time.Duration
	ttl      time.Duration
	logger   *zap.Logger

	results *ristretto.Cache[string, ProbeResult]
	group   singleflight.Group
}

func NewProber(upstream func(url string) *ws.Upstream, timeout, ttl time.Duration, logger *zap.Logger) (*Prober, error) {
	results, err := ristretto.NewCache(&ristretto.Config[string, ProbeResult]{
		NumCounters:        probeCacheNumCounters,
		MaxCost:            probeCacheMaxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating probe cache: %w", err)
	}
	return &Prober{
		upstream: upstream,
		timeout:  timeout,
		ttl:      ttl,
		logger:   logger,
		results:  results,
	}, nil
}

// Probe returns a cached result for endpoint or runs a fresh probe.
func (p *Prober) Probe(ctx context.Context, endpoint string) (ProbeResult, error) {
	if r, ok := p.results.Get(endpoint); ok {
		return r, nil
	}

	ch := p.group.DoChan(endpoint, func() (any, error) {
		return p.run(endpoint)
	})
	select {
	case <-ctx.Done():
		return ProbeResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ProbeResult{}, res.Err
		}
		return res.Val.(ProbeResult), nil
	}
}

func (p *Prober) run(endpoint string) (ProbeResult, error) {
	// Probes outlive the request that started them; the timeout bounds them.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout+30*time.Second)
	defer cancel()

	loop := provider.NewLoop(p.logger)
	go loop.Run(ctx)
	defer loop.Stop()

	start := time.Now()
	c, err := provider.DetectCapability(ctx, p.upstream(endpoint).Provider(ctx, loop, nil), loop, p.timeout)
	if err != nil {
		p.logger.Warn("probe failed", zap.String("endpoint", endpoint), zap.Error(err))
		return ProbeResult{}, err
	}

	result := ProbeResult{
		Endpoint:   endpoint,
		Capability: c,
		Result:     c.String(),
		Supported:  c == provider.CapabilitySupported,
		CheckedAt:  time.Now(),
	}
	p.results.SetWithTTL(endpoint, result, 1, p.ttl)
	p.results.Wait()

	p.logger.Info("probe complete",
		zap.String("endpoint", endpoint),
		zap.Stringer("capability", c),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// Forget drops the cached result for endpoint. A probe already running for
// it is not shared with later callers.
func (p *Prober) Forget(endpoint string) {
	p.results.Del(endpoint)
	p.group.Forget(endpoint)
}

// Close releases the result cache.
func (p *Prober) Close() {
	p.results.Close()
}

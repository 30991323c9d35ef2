package rpc

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator hands out identifiers that are unique for the lifetime of one
// generator: a monotonically increasing counter salted with the wall clock.
type IDGenerator struct {
	prefix  string
	counter atomic.Uint64
	now     func() time.Time
}

func NewIDGenerator(prefix string) *IDGenerator {
	return &IDGenerator{prefix: prefix, now: time.Now}
}

// Next returns a fresh identifier of the form <prefix>-<unix millis>-<n>.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%d-%d", g.prefix, g.now().UnixMilli(), n)
}

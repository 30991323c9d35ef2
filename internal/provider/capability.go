package provider

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
)

// DefaultProbeTimeout bounds how long a node may stay silent on rpc_methods.
const DefaultProbeTimeout = 5 * time.Second

// Capability records whether a node speaks the qpow chain-head family.
type Capability int

const (
	CapabilityUnknown Capability = iota
	CapabilitySupported
	CapabilityUnsupported
)

func (c Capability) String() string {
	switch c {
	case CapabilitySupported:
		return "supported"
	case CapabilityUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Probe is one in-flight rpc_methods check. Inbound frames must be fed to
// Handle until the probe is no longer needed.
type Probe struct {
	id      string
	done    func(Capability)
	cancel  func()
	settled bool
}

// StartProbe sends rpc_methods on conn and calls done exactly once: with the
// outcome of the first matching response, or CapabilityUnsupported when none
// arrives within timeout.
func StartProbe(conn Conn, sched Scheduler, ids *rpc.IDGenerator, timeout time.Duration, done func(Capability)) *Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	p := &Probe{id: ids.Next(), done: done}
	p.cancel = sched.After(timeout, func() { p.settle(CapabilityUnsupported) })
	conn.Send(rpc.NewRequest(p.id, rpc.MethodRPCMethods))
	return p
}

// Handle consumes the probe's response and reports whether msg was it.
// A response arriving after the deadline is swallowed without effect.
func (p *Probe) Handle(msg string) bool {
	f, ok := rpc.Parse(msg)
	if !ok || !f.IsResponse() {
		return false
	}
	if id, ok := f.StringID(); !ok || id != p.id {
		return false
	}
	p.settle(capabilityFromResult(f.Get("result")))
	return true
}

// Settled reports whether done has been called.
func (p *Probe) Settled() bool { return p.settled }

func (p *Probe) settle(c Capability) {
	if p.settled {
		return
	}
	p.settled = true
	p.cancel()
	p.done(c)
}

func capabilityFromResult(result gjson.Result) Capability {
	methods := result.Get("methods")
	if !methods.Exists() {
		methods = result
	}
	if !methods.IsArray() {
		return CapabilityUnsupported
	}
	for _, m := range methods.Array() {
		if strings.HasPrefix(m.String(), rpc.QPoWPrefix) {
			return CapabilitySupported
		}
	}
	return CapabilityUnsupported
}

// DetectCapability opens a connection through base, probes it once and
// disconnects. The connection runs on loop, which must be running.
func DetectCapability(ctx context.Context, base Provider, loop *Loop, timeout time.Duration) (Capability, error) {
	type outcome struct {
		c   Capability
		err error
	}
	result := make(chan outcome, 1)

	loop.Post(func() {
		var probe *Probe
		conn, err := base(func(msg string) {
			if probe != nil {
				probe.Handle(msg)
			}
		})
		if err != nil {
			result <- outcome{c: CapabilityUnknown, err: err}
			return
		}
		probe = StartProbe(conn, loop, rpc.NewIDGenerator("probe"), timeout, func(c Capability) {
			conn.Disconnect()
			result <- outcome{c: c}
		})
	})

	select {
	case <-ctx.Done():
		return CapabilityUnknown, ctx.Err()
	case <-loop.Done():
		return CapabilityUnknown, ErrClosed
	case o := <-result:
		return o.c, o.err
	}
}

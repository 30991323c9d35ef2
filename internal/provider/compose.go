package provider

import (
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
)

// ComposeOptions selects the adapters Compose may install.
type ComposeOptions struct {
	// LegacyHeads serves chainHead_v1 from the legacy head RPC when the node
	// lacks the qpow family.
	LegacyHeads bool
	// SkipProbe treats the node as lacking the qpow family without asking.
	SkipProbe    bool
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

// Compose opens base and, on the first outgoing frame, probes the node for
// the qpow chain-head family. The outcome picks the rewrite layer once for
// the connection's lifetime: Remap if supported, otherwise Legacy when
// LegacyHeads is set, otherwise none. Compat is layered on top either way.
// Frames sent before the decision are flushed first, then frames received
// before it are replayed in order. Anything the caller sends while handling
// a replayed frame therefore follows its held requests.
func Compose(base Provider, sched Scheduler, opts ComposeOptions) Provider {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return func(onMessage MessageHandler) (Conn, error) {
		c := &composedConn{sched: sched, opts: opts, onMessage: onMessage}
		inner, err := base(c.dispatch)
		if err != nil {
			return nil, err
		}
		c.base = inner
		return c, nil
	}
}

type composedConn struct {
	sched     Scheduler
	opts      ComposeOptions
	onMessage MessageHandler

	base       Conn
	probe      *Probe
	capability Capability

	// top and inbound are set once the stack is built.
	top     Conn
	inbound MessageHandler

	outbox    []string
	inbox     []string
	replaying bool
	closed    bool
}

// Capability reports the probe outcome, CapabilityUnknown until decided.
func (c *composedConn) Capability() Capability { return c.capability }

func (c *composedConn) Send(msg string) {
	if c.closed {
		return
	}
	if c.top != nil {
		c.top.Send(msg)
		return
	}
	c.outbox = append(c.outbox, msg)
	if c.probe != nil {
		return
	}
	if c.opts.SkipProbe {
		c.decide(CapabilityUnsupported)
		return
	}
	c.probe = StartProbe(c.base, c.sched, rpc.NewIDGenerator("probe"), c.opts.ProbeTimeout, c.decide)
}

func (c *composedConn) Disconnect() {
	c.closed = true
	c.base.Disconnect()
}

func (c *composedConn) dispatch(msg string) {
	if c.probe != nil && c.probe.Handle(msg) {
		return
	}
	if c.inbound != nil && !c.replaying {
		c.inbound(msg)
		return
	}
	c.inbox = append(c.inbox, msg)
}

func (c *composedConn) decide(capability Capability) {
	c.capability = capability
	logger := c.opts.Logger.With(zap.Stringer("capability", capability))

	attached := func(h MessageHandler) (Conn, error) {
		c.inbound = h
		return c.base, nil
	}

	var stack Provider = attached
	switch {
	case capability == CapabilitySupported:
		logger.Info("node speaks the qpow chain-head family, remapping methods")
		stack = Remap(stack)
	case c.opts.LegacyHeads:
		logger.Info("serving chain-head follow from legacy head subscriptions")
		stack = Legacy(c.sched, c.opts.Logger)(stack)
	default:
		logger.Info("passing chain-head traffic through unchanged")
	}
	stack = Compat(stack)

	// attached never fails.
	top, _ := stack(c.onMessage)
	c.top = top

	// Frames arriving while held ones drain queue behind them.
	c.replaying = true
	defer func() { c.replaying = false }()

	outbox := c.outbox
	c.outbox = nil
	for _, msg := range outbox {
		if c.closed {
			break
		}
		c.top.Send(msg)
	}
	for len(c.inbox) > 0 {
		msg := c.inbox[0]
		c.inbox = c.inbox[1:]
		c.inbound(msg)
	}
	c.inbox = nil
}

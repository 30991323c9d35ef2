package provider

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
)

// manualScheduler runs deferred work and timers only when told to, so tests
// can observe what happens within a single turn.
type manualScheduler struct {
	queue  []func()
	timers []*manualTimer
}

type manualTimer struct {
	d         time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (s *manualScheduler) Defer(fn func()) { s.queue = append(s.queue, fn) }

func (s *manualScheduler) After(d time.Duration, fn func()) func() {
	t := &manualTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.cancelled = true }
}

// tick drains deferred work, including work queued while draining.
func (s *manualScheduler) tick() {
	for len(s.queue) > 0 {
		fn := s.queue[0]
		s.queue = s.queue[1:]
		fn()
	}
}

func (s *manualScheduler) fireTimers() {
	for _, t := range s.timers {
		if !t.cancelled && !t.fired {
			t.fired = true
			t.fn()
		}
	}
}

// fakeNode stands in for the base transport.
type fakeNode struct {
	sent         []string
	onMessage    MessageHandler
	disconnected bool
	opened       int
}

func (n *fakeNode) provider() Provider {
	return func(onMessage MessageHandler) (Conn, error) {
		n.onMessage = onMessage
		n.opened++
		return n, nil
	}
}

func (n *fakeNode) Send(msg string) { n.sent = append(n.sent, msg) }
func (n *fakeNode) Disconnect()     { n.disconnected = true }
func (n *fakeNode) push(msg string) { n.onMessage(msg) }

// reset forgets what has been sent so far.
func (n *fakeNode) reset() { n.sent = nil }

type recorder struct {
	msgs []string
}

func (r *recorder) handle(msg string) { r.msgs = append(r.msgs, msg) }

func (r *recorder) reset() { r.msgs = nil }

func mustParse(t *testing.T, msg string) rpc.Frame {
	t.Helper()
	f, ok := rpc.Parse(msg)
	require.True(t, ok, "not a JSON object: %s", msg)
	return f
}

func stringID(t *testing.T, msg string) string {
	t.Helper()
	id, ok := mustParse(t, msg).StringID()
	require.True(t, ok, "no string id in %s", msg)
	return id
}

// eventOf returns the follow event discriminator of msg, or "".
func eventOf(t *testing.T, msg string) string {
	t.Helper()
	f := mustParse(t, msg)
	if f.Method() != rpc.MethodFollowEvent {
		return ""
	}
	return f.Get("params.result.event").String()
}

func followEvents(t *testing.T, msgs []string) []string {
	t.Helper()
	var events []string
	for _, msg := range msgs {
		if e := eventOf(t, msg); e != "" {
			events = append(events, e)
		}
	}
	return events
}

// answeringNode replies to rpc_methods through a real Loop.
type answeringNode struct {
	loop         *Loop
	onMessage    MessageHandler
	methods      string
	disconnected atomic.Bool
}

func (n *answeringNode) Send(msg string) {
	f, ok := rpc.Parse(msg)
	if !ok || f.Method() != rpc.MethodRPCMethods {
		return
	}
	resp := `{"jsonrpc":"2.0","id":` + string(f.RawID()) + `,"result":{"methods":` + n.methods + `}}`
	n.loop.Post(func() { n.onMessage(resp) })
}

func (n *answeringNode) Disconnect() { n.disconnected.Store(true) }

// Package provider layers chain-head protocol adapters over a duplex JSON-RPC
// message channel.
//
// Every layer is a Provider wrapping another Provider. All callbacks of one
// connection, and every call into its Conn, must run on the same Scheduler
// (normally a Loop); the layers keep unlocked state on that assumption.
package provider

import "time"

// MessageHandler receives one inbound text frame.
type MessageHandler func(msg string)

// Conn is an open message channel.
type Conn interface {
	Send(msg string)
	Disconnect()
}

// Provider opens a Conn whose inbound frames are delivered to onMessage.
type Provider func(onMessage MessageHandler) (Conn, error)

// Middleware wraps a Provider with another protocol layer.
type Middleware func(Provider) Provider

// Scheduler runs work on a connection's serial executor.
type Scheduler interface {
	// Defer runs fn after the current task and before any task queued later.
	Defer(fn func())
	// After runs fn on the executor once d has elapsed. The returned func
	// cancels it; cancelling after it ran is a no-op.
	After(d time.Duration, fn func()) (cancel func())
}

// Chain applies middlewares so that the first one ends up outermost.
func Chain(p Provider, mws ...Middleware) Provider {
	for i := len(mws) - 1; i >= 0; i-- {
		p = mws[i](p)
	}
	return p
}

// connFuncs adapts a pair of funcs to Conn.
type connFuncs struct {
	send       func(string)
	disconnect func()
}

func (c connFuncs) Send(msg string) { c.send(msg) }
func (c connFuncs) Disconnect()     { c.disconnect() }

package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loop is a serial executor. Tasks run one at a time in the order they were
// posted, which gives a connection single-threaded semantics.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
	logger  *zap.Logger
}

var _ Scheduler = (*Loop)(nil)

func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post queues fn. It never blocks; tasks posted after Stop are discarded.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) Defer(fn func()) { l.Post(fn) }

func (l *Loop) After(d time.Duration, fn func()) (cancel func()) {
	timer := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { timer.Stop() }
}

// Run executes tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
			for {
				fn, ok := l.next()
				if !ok {
					break
				}
				l.run(fn)
			}
		}
	}
}

// Stop discards pending tasks and makes Run return.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

// Done is closed once the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

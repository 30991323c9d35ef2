package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live bridge sessions.
type Hub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down", zap.Int("sessions", h.Count()))
			h.shutdown()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			h.mu.Unlock()
			h.logger.Debug("session registered", zap.String("session", s.id))

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				s.close()
			}
			h.mu.Unlock()
			h.logger.Debug("session unregistered", zap.String("session", s.id))
		}
	}
}

// add registers s. It reports false once the hub has stopped.
func (h *Hub) add(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
		s.close()
	}
}

// shutdown closes all sessions.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.sessions {
		s.close()
		delete(h.sessions, s)
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

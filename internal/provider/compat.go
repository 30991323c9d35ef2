package provider

import (
	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
)

// recentHashes bounds how many block hashes Compat remembers per follow.
const recentHashes = 1024

// hashSet is a bounded set evicting its oldest member first.
type hashSet struct {
	members map[string]struct{}
	order   []string
}

func newHashSet() *hashSet {
	return &hashSet{members: make(map[string]struct{})}
}

func (s *hashSet) has(h string) bool {
	_, ok := s.members[h]
	return ok
}

// add reports whether h was new.
func (s *hashSet) add(h string) bool {
	if s.has(h) {
		return false
	}
	s.members[h] = struct{}{}
	s.order = append(s.order, h)
	if len(s.order) > recentHashes {
		delete(s.members, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// followView is what Compat remembers about one follow subscription.
type followView struct {
	announced *hashSet
	finalized *hashSet
	best      string
}

// Compat smooths over follow event streams that repeat themselves, as
// legacy head subscriptions do when a node re-sends its current head.
// A newBlock for an already announced hash, a bestBlockChanged naming the
// current best and a finalized event finalizing nothing new are dropped.
func Compat(p Provider) Provider {
	return func(onMessage MessageHandler) (Conn, error) {
		views := make(map[string]*followView)

		inner, err := p(func(msg string) {
			if keepFollowEvent(views, msg) {
				onMessage(msg)
			}
		})
		if err != nil {
			return nil, err
		}

		return connFuncs{
			send: func(msg string) {
				if f, ok := rpc.Parse(msg); ok && f.Method() == rpc.MethodUnfollow {
					delete(views, f.Param(0).String())
				}
				inner.Send(msg)
			},
			disconnect: inner.Disconnect,
		}, nil
	}
}

func keepFollowEvent(views map[string]*followView, msg string) bool {
	f, ok := rpc.Parse(msg)
	if !ok || f.Method() != rpc.MethodFollowEvent {
		return true
	}

	subID := f.SubscriptionToken()
	result := f.Get("params.result")
	event := result.Get("event").String()

	if event == rpc.EventStop {
		delete(views, subID)
		return true
	}

	view := views[subID]
	if view == nil {
		view = &followView{announced: newHashSet(), finalized: newHashSet()}
		views[subID] = view
	}

	switch event {
	case rpc.EventNewBlock:
		if !view.announced.add(result.Get("blockHash").String()) {
			return false
		}
	case rpc.EventBestBlockChanged:
		hash := result.Get("bestBlockHash").String()
		if hash == view.best {
			return false
		}
		view.best = hash
	case rpc.EventFinalized:
		hashes := result.Get("finalizedBlockHashes").Array()
		if len(hashes) == 0 {
			break
		}
		fresh := false
		for _, h := range hashes {
			if view.finalized.add(h.String()) {
				fresh = true
			}
		}
		if !fresh {
			return false
		}
	}
	return true
}

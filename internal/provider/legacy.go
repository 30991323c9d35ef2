package provider

import (
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dgnsrekt/chainhead-bridge/internal/rpc"
)

type headKind int

const (
	newHeads headKind = iota
	finalizedHeads
)

func (k headKind) unsubscribeMethod() string {
	if k == finalizedHeads {
		return rpc.MethodUnsubscribeFinalizedHeads
	}
	return rpc.MethodUnsubscribeNewHeads
}

func (k headKind) String() string {
	if k == finalizedHeads {
		return "finalizedHeads"
	}
	return "newHeads"
}

// follow is one chainHead_v1_follow session served from legacy subscriptions.
type follow struct {
	id               string
	initialized      bool
	newHeadsID       string
	finalizedID      string
	pendingNewHeads  string
	pendingFinalized string
}

// ready is true once both legacy subscription ids are known. Events are
// only ever forwarded in this state.
func (f *follow) ready() bool {
	return f.newHeadsID != "" && f.finalizedID != ""
}

func (f *follow) legacyID(kind headKind) string {
	if kind == finalizedHeads {
		return f.finalizedID
	}
	return f.newHeadsID
}

type pendingSubscribe struct {
	followID string
	kind     headKind
}

type legacyToken struct {
	kind  headKind
	token string
}

// translator carries the per-connection tables of Legacy.
type translator struct {
	inner     Conn
	onMessage MessageHandler
	sched     Scheduler
	ids       *rpc.IDGenerator
	logger    *zap.Logger

	follows      map[string]*follow
	pending      map[string]pendingSubscribe
	tokens       map[legacyToken]string
	unsubscribes map[string]struct{}
}

// Legacy serves chainHead_v1_follow, _unfollow and _header from the legacy
// chain_subscribeNewHeads / chain_subscribeFinalizedHeads RPC. Follow sessions
// are terminated locally and their events synthesized from legacy head
// notifications.
func Legacy(sched Scheduler, logger *zap.Logger) Middleware {
	return func(p Provider) Provider {
		return func(onMessage MessageHandler) (Conn, error) {
			t := &translator{
				onMessage:    onMessage,
				sched:        sched,
				ids:          rpc.NewIDGenerator("legacy"),
				logger:       logger,
				follows:      make(map[string]*follow),
				pending:      make(map[string]pendingSubscribe),
				tokens:       make(map[legacyToken]string),
				unsubscribes: make(map[string]struct{}),
			}
			inner, err := p(t.receive)
			if err != nil {
				return nil, err
			}
			t.inner = inner
			return connFuncs{send: t.send, disconnect: inner.Disconnect}, nil
		}
	}
}

func (t *translator) send(msg string) {
	f, ok := rpc.Parse(msg)
	if !ok {
		t.inner.Send(msg)
		return
	}

	switch f.Method() {
	case rpc.MethodFollow:
		t.follow(f)
	case rpc.MethodUnfollow:
		t.unfollow(f)
	case rpc.MethodHeader:
		t.header(f)
	default:
		t.inner.Send(msg)
	}
}

func (t *translator) follow(req rpc.Frame) {
	sub := &follow{
		id:               t.ids.Next(),
		pendingNewHeads:  t.ids.Next(),
		pendingFinalized: t.ids.Next(),
	}
	t.follows[sub.id] = sub
	t.pending[sub.pendingNewHeads] = pendingSubscribe{followID: sub.id, kind: newHeads}
	t.pending[sub.pendingFinalized] = pendingSubscribe{followID: sub.id, kind: finalizedHeads}

	t.logger.Debug("translating follow to legacy subscriptions", zap.String("followID", sub.id))

	t.inner.Send(rpc.NewRequest(sub.pendingNewHeads, rpc.MethodSubscribeNewHeads))
	t.inner.Send(rpc.NewRequest(sub.pendingFinalized, rpc.MethodSubscribeFinalizedHeads))

	t.reply(rpc.NewResult(req.RawID(), sub.id))
}

func (t *translator) unfollow(req rpc.Frame) {
	followID := req.Param(0).String()
	if sub, ok := t.follows[followID]; ok {
		t.logger.Debug("closing legacy subscriptions", zap.String("followID", followID))

		for _, kind := range []headKind{newHeads, finalizedHeads} {
			if legacyID := sub.legacyID(kind); legacyID != "" {
				t.unsubscribe(kind.unsubscribeMethod(), legacyID)
				delete(t.tokens, legacyToken{kind: kind, token: legacyID})
			}
		}
		delete(t.follows, followID)
	}

	t.reply(rpc.NewResult(req.RawID(), nil))
}

func (t *translator) unsubscribe(method, legacyID string) {
	id := t.ids.Next()
	t.unsubscribes[id] = struct{}{}
	t.inner.Send(rpc.NewRequest(id, method, legacyID))
}

func (t *translator) header(req rpc.Frame) {
	hash := req.Param(1)
	if hash.Type != gjson.String || hash.Str == "" {
		t.reply(rpc.NewError(req.RawID(), rpc.CodeInvalidParams, "Invalid params", "Block hash cannot be null"))
		return
	}
	t.inner.Send(rpc.NewRequestRaw(req.RawID(), rpc.MethodGetHeader, hash.Str))
}

// reply delivers a synthesized response on the next tick, so the caller
// sees it only after its send call has returned.
func (t *translator) reply(msg string) {
	t.sched.Defer(func() { t.onMessage(msg) })
}

func (t *translator) receive(msg string) {
	f, ok := rpc.Parse(msg)
	if !ok {
		t.onMessage(msg)
		return
	}

	if f.IsResponse() {
		if t.acknowledge(f) {
			return
		}
		t.onMessage(msg)
		return
	}

	switch f.Method() {
	case rpc.MethodNewHead:
		if t.head(f, newHeads) {
			return
		}
	case rpc.MethodFinalizedHead:
		if t.head(f, finalizedHeads) {
			return
		}
	}
	t.onMessage(msg)
}

// acknowledge consumes responses to requests the translator issued itself.
func (t *translator) acknowledge(f rpc.Frame) bool {
	id, ok := f.StringID()
	if !ok {
		return false
	}
	if _, ok := t.unsubscribes[id]; ok {
		delete(t.unsubscribes, id)
		return true
	}

	p, ok := t.pending[id]
	if !ok {
		return false
	}
	delete(t.pending, id)

	result := f.Get("result")
	sub, ok := t.follows[p.followID]
	if !ok {
		// Unfollowed before the node answered; release what it handed out.
		if result.Type == gjson.String && result.Str != "" {
			t.unsubscribe(p.kind.unsubscribeMethod(), result.Str)
		}
		return true
	}

	if result.Type != gjson.String || result.Str == "" {
		t.logger.Warn("legacy subscription rejected",
			zap.String("followID", sub.id),
			zap.Stringer("kind", p.kind),
			zap.String("error", f.Get("error").Raw),
		)
		return true
	}

	switch p.kind {
	case newHeads:
		sub.newHeadsID = result.Str
		sub.pendingNewHeads = ""
	case finalizedHeads:
		sub.finalizedID = result.Str
		sub.pendingFinalized = ""
	}
	t.tokens[legacyToken{kind: p.kind, token: result.Str}] = sub.id

	t.logger.Debug("legacy subscription acknowledged",
		zap.String("followID", sub.id),
		zap.Stringer("kind", p.kind),
		zap.String("subscription", result.Str),
		zap.Bool("ready", sub.ready()),
	)
	return true
}

// head turns a legacy head notification into follow events. It reports
// false when the notification belongs to no follow session.
func (t *translator) head(f rpc.Frame, kind headKind) bool {
	followID, ok := t.tokens[legacyToken{kind: kind, token: f.SubscriptionToken()}]
	if !ok {
		return false
	}
	sub := t.follows[followID]
	if sub == nil {
		return false
	}

	if !sub.ready() {
		t.logger.Debug("dropping head before both legacy subscriptions are known",
			zap.String("followID", sub.id),
			zap.Stringer("kind", kind),
		)
		return true
	}

	header := f.Get("params.result")
	hash := rpc.NormalizeHash(header.Get("hash").String())
	if hash == "" {
		t.logger.Warn("dropping legacy head without hash",
			zap.String("followID", sub.id),
			zap.Stringer("kind", kind),
			zap.String("header", header.Raw),
		)
		return true
	}

	if !sub.initialized {
		sub.initialized = true
		t.onMessage(rpc.FollowEvent(sub.id, rpc.NewInitialized(hash)))
	}

	switch kind {
	case newHeads:
		var parent *string
		if p := header.Get("parentHash"); p.Type == gjson.String && p.Str != "" {
			parent = &p.Str
		}
		t.onMessage(rpc.FollowEvent(sub.id, rpc.NewNewBlock(hash, parent)))
		t.onMessage(rpc.FollowEvent(sub.id, rpc.NewBestBlockChanged(hash)))
	case finalizedHeads:
		t.onMessage(rpc.FollowEvent(sub.id, rpc.NewFinalized(hash)))
	}
	return true
}

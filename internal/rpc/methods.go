package rpc

import "strings"

const Version = "2.0"

// Method family prefixes.
const (
	CanonicalPrefix = "chainHead_v1_"
	QPoWPrefix      = "qpowChainHead_v1_"
)

// Canonical chain-head protocol.
const (
	MethodFollow      = "chainHead_v1_follow"
	MethodUnfollow    = "chainHead_v1_unfollow"
	MethodHeader      = "chainHead_v1_header"
	MethodFollowEvent = "chainHead_v1_followEvent"
)

// Legacy head-tracking RPC.
const (
	MethodSubscribeNewHeads         = "chain_subscribeNewHeads"
	MethodUnsubscribeNewHeads       = "chain_unsubscribeNewHeads"
	MethodSubscribeFinalizedHeads   = "chain_subscribeFinalizedHeads"
	MethodUnsubscribeFinalizedHeads = "chain_unsubscribeFinalizedHeads"
	MethodGetHeader                 = "chain_getHeader"
	MethodNewHead                   = "chain_newHead"
	MethodFinalizedHead             = "chain_finalizedHead"
)

// MethodRPCMethods lists the methods a node exposes.
const MethodRPCMethods = "rpc_methods"

// Follow event discriminators.
const (
	EventInitialized      = "initialized"
	EventNewBlock         = "newBlock"
	EventBestBlockChanged = "bestBlockChanged"
	EventFinalized        = "finalized"
	EventStop             = "stop"
)

// CodeInvalidParams is the JSON-RPC "Invalid params" error code.
const CodeInvalidParams = -32602

// RewriteMethod maps a canonical chain-head method onto the qpow family.
// Names outside the canonical family are returned unchanged.
func RewriteMethod(method string) string {
	if rest, ok := strings.CutPrefix(method, CanonicalPrefix); ok {
		return QPoWPrefix + rest
	}
	return method
}

// RestoreMethod is the inverse of RewriteMethod.
func RestoreMethod(method string) string {
	if rest, ok := strings.CutPrefix(method, QPoWPrefix); ok {
		return CanonicalPrefix + rest
	}
	return method
}

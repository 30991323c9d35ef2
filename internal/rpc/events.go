package rpc

// Follow event payloads, carried in the result of a
// chainHead_v1_followEvent notification.

type Initialized struct {
	Event                string   `json:"event"`
	FinalizedBlockHashes []string `json:"finalizedBlockHashes"`
}

type NewBlock struct {
	Event           string  `json:"event"`
	BlockHash       string  `json:"blockHash"`
	ParentBlockHash *string `json:"parentBlockHash"`
	NewRuntime      any     `json:"newRuntime"`
}

type BestBlockChanged struct {
	Event         string `json:"event"`
	BestBlockHash string `json:"bestBlockHash"`
}

// Finalized always carries an empty pruned list when synthesized from the
// legacy RPC, which has no notion of pruning.
type Finalized struct {
	Event                string   `json:"event"`
	FinalizedBlockHashes []string `json:"finalizedBlockHashes"`
	PrunedBlockHashes    []string `json:"prunedBlockHashes"`
}

func NewInitialized(finalized string) Initialized {
	return Initialized{Event: EventInitialized, FinalizedBlockHashes: []string{finalized}}
}

func NewNewBlock(hash string, parent *string) NewBlock {
	return NewBlock{Event: EventNewBlock, BlockHash: hash, ParentBlockHash: parent}
}

func NewBestBlockChanged(hash string) BestBlockChanged {
	return BestBlockChanged{Event: EventBestBlockChanged, BestBlockHash: hash}
}

func NewFinalized(hash string) Finalized {
	return Finalized{Event: EventFinalized, FinalizedBlockHashes: []string{hash}, PrunedBlockHashes: []string{}}
}

// FollowEvent wraps an event payload in its notification frame.
func FollowEvent(followID string, event any) string {
	return NewNotification(MethodFollowEvent, followID, event)
}

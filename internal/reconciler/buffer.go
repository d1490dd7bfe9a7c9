package reconciler

import (
	"sort"

	"agri-token-ledger/internal/domain"
)

// buffer holds the out-of-order events of one asset sorted by block.
type buffer struct {
	limit  int
	events []*domain.ChainEvent
}

func newBuffer(limit int) *buffer {
	return &buffer{limit: limit}
}

func (b *buffer) len() int { return len(b.events) }

// add inserts ev in block order. It reports false for a full buffer and
// dup for an event already held at the same block and type.
func (b *buffer) add(ev *domain.ChainEvent) (ok, dup bool) {
	i := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].BlockNumber >= ev.BlockNumber
	})
	for j := i; j < len(b.events) && b.events[j].BlockNumber == ev.BlockNumber; j++ {
		if b.events[j].Type == ev.Type {
			return false, true
		}
	}
	if len(b.events) >= b.limit {
		return false, false
	}
	b.events = append(b.events, nil)
	copy(b.events[i+1:], b.events[i:])
	b.events[i] = ev
	return true, false
}

// hasStrictBelow reports whether a strict event older than block is held.
func (b *buffer) hasStrictBelow(block uint64) bool {
	for _, ev := range b.events {
		if ev.BlockNumber >= block {
			return false
		}
		if ev.Type.IsStrict() {
			return true
		}
	}
	return false
}

// dropStale removes events the asset cursors have already passed.
func (b *buffer) dropStale(asset *domain.Asset) []*domain.ChainEvent {
	var stale []*domain.ChainEvent
	kept := b.events[:0]
	for _, ev := range b.events {
		cursor := asset.LastProcessedBlock
		if !ev.Type.IsStrict() {
			cursor = asset.MetadataBlock
		}
		if ev.BlockNumber <= cursor {
			stale = append(stale, ev)
			continue
		}
		kept = append(kept, ev)
	}
	b.events = kept
	return stale
}

// next pops the next event that can be applied to asset, or returns nil.
// Metadata waits for tokenization; strict events leave in block order and
// only once their predecessor has been applied.
func (b *buffer) next(asset *domain.Asset) *domain.ChainEvent {
	tokenized := asset.LastProcessedBlock > 0
	for i, ev := range b.events {
		if !ev.Type.IsStrict() {
			if tokenized {
				return b.remove(i)
			}
			continue
		}
		if ev.Type != domain.EventAssetTokenized && !tokenized {
			// Oldest strict event is blocked; so is everything after it,
			// but metadata behind it may still go.
			return b.nextMetadata(asset, i+1)
		}
		if ev.PreviousBlock > asset.LastProcessedBlock {
			return b.nextMetadata(asset, i+1)
		}
		return b.remove(i)
	}
	return nil
}

func (b *buffer) nextMetadata(asset *domain.Asset, from int) *domain.ChainEvent {
	if asset.LastProcessedBlock == 0 {
		return nil
	}
	for i := from; i < len(b.events); i++ {
		if !b.events[i].Type.IsStrict() {
			return b.remove(i)
		}
	}
	return nil
}

func (b *buffer) remove(i int) *domain.ChainEvent {
	ev := b.events[i]
	b.events = append(b.events[:i], b.events[i+1:]...)
	return ev
}

// discard removes ev if it is held.
func (b *buffer) discard(ev *domain.ChainEvent) {
	for i, held := range b.events {
		if held == ev {
			b.remove(i)
			return
		}
	}
}

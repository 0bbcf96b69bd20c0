package core

// orphan.go implements the bounded orphan-block pool (§4.8 "buffer in
// bounded orphan pool keyed by parent hash; when the parent is later
// committed, re-enqueue the orphan as IncomingBlock"). Grounded on
// core/orphan/orphan_node.go's Detect/Archive/Recycle shape, adapted from
// an archive-indexed-by-hash to a pool indexed by parent-hash (the key the
// Chain Controller actually needs to look orphans up by), and bounded with
// an LRU cache (github.com/hashicorp/golang-lru/v2) rather than an
// unbounded map per §9's orphan-pool bound note.

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// OrphanPool buffers blocks whose parent is not yet known, keyed by parent
// hash, until that parent commits.
type OrphanPool struct {
	byParent *lru.Cache[Hash, []*Block]
}

// NewOrphanPool constructs a pool bounded to capacity distinct parent
// hashes (each may buffer more than one candidate block).
func NewOrphanPool(capacity int) *OrphanPool {
	if capacity <= 0 {
		capacity = 256
	}
	c, _ := lru.New[Hash, []*Block](capacity)
	return &OrphanPool{byParent: c}
}

// Add buffers b under its parent hash.
func (p *OrphanPool) Add(b *Block) {
	parent := b.Header.PreviousBlockHash
	existing, _ := p.byParent.Get(parent)
	existing = append(existing, b)
	p.byParent.Add(parent, existing)
}

// TakeChildren removes and returns every orphan whose parent hash is
// parentHash, to be re-enqueued as IncomingBlock once that parent commits.
func (p *OrphanPool) TakeChildren(parentHash Hash) []*Block {
	children, ok := p.byParent.Get(parentHash)
	if !ok {
		return nil
	}
	p.byParent.Remove(parentHash)
	return children
}

// Len returns the number of distinct parent hashes currently buffered.
func (p *OrphanPool) Len() int { return p.byParent.Len() }

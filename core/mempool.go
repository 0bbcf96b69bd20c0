package core

// mempool.go implements the Mempool component (§4.4): a bounded
// pending-transaction buffer with dedup, admission checks, and
// drain-to-block. Grounded on core/txpool_addtx.go/txpool_snapshot.go/
// txpool_stub.go's lock-guarded map+slice shape (sync.RWMutex over a
// lookup map plus an ordered slice), generalized to bounded capacity,
// fee-based eviction, and sender/nonce indexing.

import (
	"sort"
	"sync"
	"time"

	"github.com/solacechain/node/internal/errs"
)

// MempoolConfig parameterizes admission bounds.
type MempoolConfig struct {
	Capacity      int    // default 10,000
	FeeMinimum    Amount
	MaxTimestampSkew time.Duration // ± W seconds
	MaxPurposeBytes  int
}

type mempoolEntry struct {
	tx         *Transaction
	receivedAt time.Time
}

// Mempool is the bounded pending-transaction buffer owned exclusively by
// the Chain Controller.
type Mempool struct {
	mu     sync.RWMutex
	cfg    MempoolConfig
	lookup map[Hash]*mempoolEntry
	bySender map[Address]map[uint64]Hash // sender -> nonce -> tx hash
}

// NewMempool constructs an empty mempool.
func NewMempool(cfg MempoolConfig) *Mempool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10_000
	}
	if cfg.MaxTimestampSkew <= 0 {
		cfg.MaxTimestampSkew = 5 * time.Second
	}
	if cfg.MaxPurposeBytes <= 0 {
		cfg.MaxPurposeBytes = MaxPurposeBytes
	}
	return &Mempool{
		cfg:      cfg,
		lookup:   make(map[Hash]*mempoolEntry),
		bySender: make(map[Address]map[uint64]Hash),
	}
}

// VerifyFn checks a transaction's signature; supplied by the caller so the
// mempool does not need to know which PublicKey belongs to which sender —
// that binding lives in World State/validator registration.
type VerifyFn func(tx *Transaction) bool

// withinTimestampSkew reports whether ts falls within ±skew of now. Shared
// by Mempool.Admit and the Block Validator's stage 6 so a transaction is
// held to the same clock-skew window whether it arrives loose or already
// packaged inside a block (§4.7 "the same stateless checks as mempool
// admission").
func withinTimestampSkew(ts int64, now time.Time, skew time.Duration) bool {
	d := now.Sub(time.Unix(ts, 0))
	if d < 0 {
		d = -d
	}
	return d <= skew
}

// Admit runs the stateless checks and stateful dedup of §4.4, rejecting
// with a typed errs.Kind on failure. now is injected for testability.
func (m *Mempool) Admit(tx *Transaction, verify VerifyFn, now time.Time) error {
	if tx == nil {
		return errs.New(errs.KindMalformed, "mempool: nil transaction")
	}
	if len(tx.Purpose) > m.cfg.MaxPurposeBytes {
		return errs.New(errs.KindOversize, "mempool: purpose exceeds bound")
	}
	if len(tx.Signature) > MaxSignatureBytes {
		return errs.New(errs.KindOversize, "mempool: signature exceeds bound")
	}
	if !GreaterOrEqual(tx.Fee, m.cfg.FeeMinimum) {
		return errs.New(errs.KindFeeTooLow, "mempool: fee below minimum")
	}
	if _, ok := AddChecked(tx.Amount, tx.Fee); !ok {
		return errs.New(errs.KindMalformed, "mempool: amount+fee overflow")
	}
	if !withinTimestampSkew(tx.Timestamp, now, m.cfg.MaxTimestampSkew) {
		return errs.New(errs.KindTimestampSkew, "mempool: timestamp outside admission window")
	}
	if verify != nil && !verify(tx) {
		return errs.New(errs.KindBadSignature, "mempool: signature does not verify")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := tx.Hash()
	if _, exists := m.lookup[h]; exists {
		return errs.New(errs.KindDuplicateTx, "mempool: duplicate transaction hash")
	}
	if nonces, ok := m.bySender[tx.Sender]; ok {
		if _, pending := nonces[tx.Nonce]; pending {
			return errs.New(errs.KindDuplicateNonce, "mempool: duplicate (sender, nonce) pending")
		}
	}

	if len(m.lookup) >= m.cfg.Capacity {
		if !m.evictOneCheaperThan(tx.Fee) {
			return errs.New(errs.KindMempoolFull, "mempool: full, no evictable entry below newcomer fee")
		}
	}

	entry := &mempoolEntry{tx: tx, receivedAt: now}
	m.lookup[h] = entry
	if m.bySender[tx.Sender] == nil {
		m.bySender[tx.Sender] = make(map[uint64]Hash)
	}
	m.bySender[tx.Sender][tx.Nonce] = h
	return nil
}

// evictOneCheaperThan removes the oldest entry whose fee is strictly below
// newFee, returning whether one was found. Caller holds m.mu.
func (m *Mempool) evictOneCheaperThan(newFee Amount) bool {
	var oldestHash Hash
	var oldestAt time.Time
	found := false
	for h, e := range m.lookup {
		if CmpAmount(e.tx.Fee, newFee) >= 0 {
			continue
		}
		if !found || e.receivedAt.Before(oldestAt) {
			oldestHash, oldestAt, found = h, e.receivedAt, true
		}
	}
	if !found {
		return false
	}
	m.removeLocked(oldestHash)
	return true
}

func (m *Mempool) removeLocked(h Hash) {
	e, ok := m.lookup[h]
	if !ok {
		return
	}
	delete(m.lookup, h)
	if nonces, ok := m.bySender[e.tx.Sender]; ok {
		delete(nonces, e.tx.Nonce)
		if len(nonces) == 0 {
			delete(m.bySender, e.tx.Sender)
		}
	}
}

// Remove deletes the given transaction hashes, called by the Chain
// Controller after a block is committed.
func (m *Mempool) Remove(hashes []Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		m.removeLocked(h)
	}
}

// Size returns the current pending transaction count.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lookup)
}

// Has reports whether a transaction hash is currently pending.
func (m *Mempool) Has(h Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lookup[h]
	return ok
}

// Drain returns transactions in ascending (sender, nonce) order, senders
// ordered by descending aggregate fee, never leaving a nonce gap for any
// single sender within the returned batch, and bounded by maxCount and
// maxBytes.
func (m *Mempool) Drain(maxCount int, maxBytes int) []*Transaction {
	m.mu.RLock()
	type senderGroup struct {
		addr    Address
		nonces  []uint64
		totalFee Amount
	}
	groups := make(map[Address]*senderGroup)
	for _, e := range m.lookup {
		g, ok := groups[e.tx.Sender]
		if !ok {
			g = &senderGroup{addr: e.tx.Sender}
			groups[e.tx.Sender] = g
		}
		g.nonces = append(g.nonces, e.tx.Nonce)
		g.totalFee = MustAdd(g.totalFee, e.tx.Fee)
	}
	lookupCopy := m.lookup
	bySenderCopy := m.bySender
	m.mu.RUnlock()

	ordered := make([]*senderGroup, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.nonces, func(i, j int) bool { return g.nonces[i] < g.nonces[j] })
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		c := CmpAmount(ordered[i].totalFee, ordered[j].totalFee)
		if c != 0 {
			return c > 0
		}
		return ordered[i].addr.Less(ordered[j].addr)
	})

	var out []*Transaction
	totalBytes := 0
	for _, g := range ordered {
		nonceMap := bySenderCopy[g.addr]
		for i, n := range g.nonces {
			if i > 0 && n != g.nonces[i-1]+1 {
				break
			}
			if maxCount > 0 && len(out) >= maxCount {
				return out
			}
			h := nonceMap[n]
			e := lookupCopy[h]
			if e == nil {
				break
			}
			encoded := EncodeTransaction(e.tx)
			if maxBytes > 0 && totalBytes+len(encoded) > maxBytes {
				return out
			}
			out = append(out, e.tx)
			totalBytes += len(encoded)
		}
	}
	return out
}

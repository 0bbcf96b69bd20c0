package core

// store.go implements the Store component (§4.3): a crash-consistent
// key-value mapping for blocks, transactions, and account state with
// atomic multi-key write batches, grounded on core/ledger.go's
// NewLedger/OpenLedger (WAL file opened O_CREATE|O_RDWR|O_APPEND, replay
// via length-prefixed records, periodic snapshot, domain-prefixed
// bookkeeping) generalized into the explicit domain-prefixed keyspace
// §4.3 names. The directory lock is github.com/gofrs/flock (from the
// erigon example) guarding against two node processes opening the same
// data directory, a concern the teacher's single-process ledger.go never
// needed to handle explicitly.

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/solacechain/node/internal/errs"
)

// walRecord is one atomic batch: every field it carries commits together
// or not at all (§4.3 "partial batches are never observable").
type walRecord struct {
	Blocks    []rawBlockEntry
	Accounts  []rawAccountEntry
	HasHead   bool
	HeadHeight uint64
	HeadHash  []byte
	MetaKeys  []string
	MetaVals  [][]byte
}

type rawBlockEntry struct {
	Hash   []byte
	Height uint64
	Raw    []byte // EncodeBlock output
}

type rawAccountEntry struct {
	Addr    []byte
	BalLo   uint64
	BalHi   uint64
	Nonce   uint64
}

// StoreConfig configures Store.Open.
type StoreConfig struct {
	Dir              string
	SnapshotEvery    uint64 // commit a snapshot every N batches; 0 disables
	Logger           *logrus.Logger
}

// Store is the persistent, crash-consistent block/tx/account keyspace.
type Store struct {
	mu  sync.Mutex
	dir string
	log *logrus.Logger

	flock   *flock.Flock
	walFile *os.File

	blocksByHash   map[Hash]*Block
	blocksByHeight map[uint64]Hash
	txIndex        map[Hash]Hash // tx hash -> containing block hash
	accounts       map[Address]AccountState
	head           ChainHead
	haveHead       bool
	meta           map[string][]byte

	snapshotEvery    uint64
	batchesSinceSnap uint64
}

const (
	walFileName      = "store.wal"
	snapshotFileName = "store.snap"
	lockFileName     = "store.lock"
)

// OpenStore opens or creates the store directory, replaying its WAL (and
// snapshot, if present) to rebuild the in-memory index. This is the single
// source of truth for reconstructing World State on startup (§4.3).
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "store: mkdir")
	}
	fl := flock.New(filepath.Join(cfg.Dir, lockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "store: acquire lock")
	}
	if !ok {
		return nil, errs.New(errs.KindStoreCorruption, "store: data directory already in use by another process")
	}

	s := &Store{
		dir:            cfg.Dir,
		log:            cfg.Logger,
		flock:          fl,
		blocksByHash:   make(map[Hash]*Block),
		blocksByHeight: make(map[uint64]Hash),
		txIndex:        make(map[Hash]Hash),
		accounts:       make(map[Address]AccountState),
		meta:           make(map[string][]byte),
		snapshotEvery:  cfg.SnapshotEvery,
	}

	if err := s.loadSnapshot(); err != nil {
		fl.Unlock()
		return nil, err
	}
	walPath := filepath.Join(cfg.Dir, walFileName)
	if err := s.replayWAL(walPath); err != nil {
		fl.Unlock()
		return nil, err
	}
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		fl.Unlock()
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "store: open wal")
	}
	s.walFile = f
	return s, nil
}

func (s *Store) replayWAL(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindStoreCorruption, err, "store: open wal for replay")
	}
	defer f.Close()
	r := bufio.NewReader(f)
	for {
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return errs.Wrap(errs.KindStoreCorruption, err, "store: wal length prefix")
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			// A truncated trailing record means a crash mid-write; the
			// record never committed, so stop replay here rather than
			// failing startup.
			s.log.WithError(err).Warn("store: truncated wal record, stopping replay")
			break
		}
		var rec walRecord
		if err := rlp.DecodeBytes(buf, &rec); err != nil {
			s.log.WithError(err).Warn("store: corrupt wal record, stopping replay")
			break
		}
		s.applyRecord(rec)
	}
	return nil
}

func (s *Store) applyRecord(rec walRecord) {
	for _, be := range rec.Blocks {
		blk, err := DecodeBlock(be.Raw, 0, 0)
		if err != nil {
			continue
		}
		var h Hash
		copy(h[:], be.Hash)
		// blocksByHash archives every block seen (canonical, orphaned, or a
		// losing fork branch kept for possible future extension, §4.9 step
		// 2). blocksByHeight must track only the canonical chain, so it is
		// rebuilt from previous-block-hash pointers when head moves below,
		// never set here — otherwise a fork block buffered at an
		// already-occupied height would clobber the canonical mapping.
		s.blocksByHash[h] = blk
		for _, tx := range blk.Transactions {
			s.txIndex[tx.Hash()] = h
		}
	}
	for _, ae := range rec.Accounts {
		var a Address
		copy(a[:], ae.Addr)
		s.accounts[a] = AccountState{Balance: Amount{Lo: ae.BalLo, Hi: ae.BalHi}, Nonce: ae.Nonce}
	}
	if rec.HasHead {
		var h Hash
		copy(h[:], rec.HeadHash)
		s.head = ChainHead{Height: rec.HeadHeight, Hash: h}
		s.haveHead = true
		s.reindexCanonicalHeightsLocked(rec.HeadHeight, h)
	}
	for i, k := range rec.MetaKeys {
		s.meta[k] = rec.MetaVals[i]
	}
}

// reindexCanonicalHeightsLocked rebuilds blocksByHeight along the chain
// ending at (height, hash) by walking previous-block-hash pointers
// backward until it reaches a height already correctly indexed, so a
// reorg's new canonical path overwrites exactly the heights that changed.
// Caller holds s.mu.
func (s *Store) reindexCanonicalHeightsLocked(height uint64, hash Hash) {
	cur := hash
	h := height
	for {
		if existing, ok := s.blocksByHeight[h]; ok && existing == cur {
			return
		}
		s.blocksByHeight[h] = cur
		blk, ok := s.blocksByHash[cur]
		if !ok || h == 0 {
			return
		}
		cur = blk.Header.PreviousBlockHash
		h--
	}
}

// commit appends rec to the WAL, fsyncs, then applies it in memory — the
// WAL write and fsync happen before the in-memory index is mutated, so a
// crash mid-commit never leaves a partially-applied batch observable after
// restart (the replay above would simply not see the truncated record).
func (s *Store) commit(rec walRecord) error {
	buf, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return errs.Wrap(errs.KindStoreCorruption, err, "store: encode wal record")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	if _, err := s.walFile.Write(lenBuf[:]); err != nil {
		return errs.Wrap(errs.KindStoreCorruption, err, "store: write wal length")
	}
	if _, err := s.walFile.Write(buf); err != nil {
		return errs.Wrap(errs.KindStoreCorruption, err, "store: write wal body")
	}
	if err := s.walFile.Sync(); err != nil {
		return errs.Wrap(errs.KindStoreCorruption, err, "store: fsync wal")
	}
	s.applyRecord(rec)
	s.batchesSinceSnap++
	if s.snapshotEvery > 0 && s.batchesSinceSnap >= s.snapshotEvery {
		if err := s.writeSnapshotLocked(); err != nil {
			s.log.WithError(err).Warn("store: snapshot write failed")
		} else {
			s.batchesSinceSnap = 0
		}
	}
	return nil
}

// PutBlock archives b by hash; fails with AlreadyPresent if it already
// exists. It does not by itself affect the canonical height index — that
// follows head via SetHead (see reindexCanonicalHeightsLocked).
func (s *Store) PutBlock(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := b.Hash()
	if _, ok := s.blocksByHash[h]; ok {
		return errs.New(errs.KindAlreadyPresent, "store: block already present")
	}
	return s.commit(walRecord{Blocks: []rawBlockEntry{{Hash: h[:], Height: b.Header.Height, Raw: EncodeBlock(b)}}})
}

// GetBlockByHeight returns the block committed at that height, if any.
func (s *Store) GetBlockByHeight(h uint64) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.blocksByHeight[h]
	if !ok {
		return nil, false
	}
	b, ok := s.blocksByHash[hash]
	return b, ok
}

// GetBlockByHash returns the block with that hash, if any.
func (s *Store) GetBlockByHash(h Hash) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocksByHash[h]
	return b, ok
}

// HasBlock reports whether block-by-hash already exists.
func (s *Store) HasBlock(h Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocksByHash[h]
	return ok
}

// SetHead atomically records the current chain head.
func (s *Store) SetHead(height uint64, hash Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(walRecord{HasHead: true, HeadHeight: height, HeadHash: hash[:]})
}

// Head returns the last-recorded chain head.
func (s *Store) Head() (ChainHead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, s.haveHead
}

// AccountEntry is one (address -> state) write in an ApplyAccounts batch.
type AccountEntry struct {
	Address Address
	State   AccountState
}

// ApplyAccounts atomically writes a batch of account states.
func (s *Store) ApplyAccounts(entries []AccountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := walRecord{Accounts: make([]rawAccountEntry, len(entries))}
	for i, e := range entries {
		rec.Accounts[i] = rawAccountEntry{Addr: e.Address[:], BalLo: e.State.Balance.Lo, BalHi: e.State.Balance.Hi, Nonce: e.State.Nonce}
	}
	return s.commit(rec)
}

// GetAccount returns the stored state for addr, or the zero value if
// absent (§3 "Absent key ⇒ balance 0, nonce 0").
func (s *Store) GetAccount(addr Address) AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[addr]
}

// AllAccounts returns a snapshot copy of every known account, used to
// rebuild World State on startup.
func (s *Store) AllAccounts() map[Address]AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Address]AccountState, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out
}

// PutMeta atomically writes a single meta key (used by the hash-tree
// signer's sequence-counter persistence).
func (s *Store) PutMeta(key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(walRecord{MetaKeys: []string{key}, MetaVals: [][]byte{val}})
}

// GetMeta reads a meta key.
func (s *Store) GetMeta(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.meta[key]
	return v, ok
}

// IterBlocksFrom returns a restartable, finite, ascending sequence of
// (height, Block) starting at height h.
func (s *Store) IterBlocksFrom(h uint64) []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Block
	height := h
	for {
		hash, ok := s.blocksByHeight[height]
		if !ok {
			break
		}
		out = append(out, s.blocksByHash[hash])
		height++
	}
	return out
}

// Close releases the directory lock and closes the WAL file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.walFile != nil {
		if err := s.walFile.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.flock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ---------------------------------------------------------------------
// Snapshot: a periodic full dump of in-memory state so WAL replay on
// restart only needs to cover batches since the last snapshot, grounded
// on ledger.go's snapshotPath/pruneInterval fields.
// ---------------------------------------------------------------------

type snapshotFile struct {
	Blocks   []rawBlockEntry
	Accounts []rawAccountEntry
	HasHead  bool
	Height   uint64
	Hash     []byte
	MetaKeys []string
	MetaVals [][]byte
}

func (s *Store) writeSnapshotLocked() error {
	snap := snapshotFile{HasHead: s.haveHead}
	for hash, blk := range s.blocksByHash {
		snap.Blocks = append(snap.Blocks, rawBlockEntry{Hash: hash[:], Height: blk.Header.Height, Raw: EncodeBlock(blk)})
	}
	for addr, st := range s.accounts {
		snap.Accounts = append(snap.Accounts, rawAccountEntry{Addr: addr[:], BalLo: st.Balance.Lo, BalHi: st.Balance.Hi, Nonce: st.Nonce})
	}
	if s.haveHead {
		snap.Height = s.head.Height
		snap.Hash = s.head.Hash[:]
	}
	for k, v := range s.meta {
		snap.MetaKeys = append(snap.MetaKeys, k)
		snap.MetaVals = append(snap.MetaVals, v)
	}
	buf, err := rlp.EncodeToBytes(&snap)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	tmp := filepath.Join(s.dir, snapshotFileName+".tmp")
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("store: write snapshot tmp: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, snapshotFileName))
}

func (s *Store) loadSnapshot() error {
	path := filepath.Join(s.dir, snapshotFileName)
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.KindStoreCorruption, err, "store: read snapshot")
	}
	var snap snapshotFile
	if err := rlp.DecodeBytes(buf, &snap); err != nil {
		return errs.Wrap(errs.KindStoreCorruption, err, "store: decode snapshot")
	}
	s.applyRecord(walRecord{
		Blocks:     snap.Blocks,
		Accounts:   snap.Accounts,
		HasHead:    snap.HasHead,
		HeadHeight: snap.Height,
		HeadHash:   snap.Hash,
		MetaKeys:   snap.MetaKeys,
		MetaVals:   snap.MetaVals,
	})
	return nil
}

package core_test

import (
	"testing"

	. "github.com/solacechain/node/core"
	"github.com/solacechain/node/internal/errs"
	"github.com/solacechain/node/internal/testutil"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := OpenStore(StoreConfig{Dir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestStorePutAndGetBlock(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := openTestStore(t, sb.DataDir())
	defer s.Close()

	b := &Block{Header: BlockHeader{Height: 0}}
	if err := s.PutBlock(b); err != nil {
		t.Fatalf("put block: %v", err)
	}
	if err := s.PutBlock(b); !errs.Is(err, errs.KindAlreadyPresent) {
		t.Fatalf("expected already-present rejection on duplicate put, got %v", err)
	}

	got, ok := s.GetBlockByHash(b.Hash())
	if !ok || got.Header.Height != 0 {
		t.Fatalf("expected to retrieve the put block by hash")
	}
	if _, ok := s.GetBlockByHeight(0); ok {
		t.Fatalf("height index must not be populated until SetHead moves the canonical chain")
	}

	if err := s.SetHead(0, b.Hash()); err != nil {
		t.Fatalf("set head: %v", err)
	}
	headBlk, ok := s.GetBlockByHeight(0)
	if !ok || headBlk.Hash() != b.Hash() {
		t.Fatalf("expected height 0 to resolve to the head block after SetHead")
	}
	head, ok := s.Head()
	if !ok || head.Height != 0 || head.Hash != b.Hash() {
		t.Fatalf("unexpected head: %+v ok=%v", head, ok)
	}
}

func TestStoreApplyAccountsAndAllAccounts(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := openTestStore(t, sb.DataDir())
	defer s.Close()

	addr := Address{1}
	if err := s.ApplyAccounts([]AccountEntry{{Address: addr, State: AccountState{Balance: AmountFromUint64(500), Nonce: 3}}}); err != nil {
		t.Fatalf("apply accounts: %v", err)
	}
	got := s.GetAccount(addr)
	if got.Nonce != 3 || CmpAmount(got.Balance, AmountFromUint64(500)) != 0 {
		t.Fatalf("unexpected account state: %+v", got)
	}
	all := s.AllAccounts()
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 known account, got %d", len(all))
	}
}

func TestStoreCanonicalHeightIndexFollowsReorg(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := openTestStore(t, sb.DataDir())
	defer s.Close()

	genesis := &Block{Header: BlockHeader{Height: 0}}
	mustPut(t, s, genesis)

	// The two siblings differ in Timestamp, a hashed header field (the
	// signature is excluded from the block hash).
	branchA := &Block{Header: BlockHeader{Height: 1, Slot: 1, PreviousBlockHash: genesis.Hash(), Timestamp: 0xA}}
	branchB := &Block{Header: BlockHeader{Height: 1, Slot: 1, PreviousBlockHash: genesis.Hash(), Timestamp: 0xB}}
	mustPut(t, s, branchA)
	mustPut(t, s, branchB)

	if err := s.SetHead(1, branchA.Hash()); err != nil {
		t.Fatalf("set head a: %v", err)
	}
	if got, ok := s.GetBlockByHeight(1); !ok || got.Hash() != branchA.Hash() {
		t.Fatalf("expected height 1 to resolve to branchA")
	}

	// Simulate switching to branchB (a fork-resolution outcome): the
	// canonical height index must repoint at height 1 without the stale
	// branchA entry leaking through.
	if err := s.SetHead(1, branchB.Hash()); err != nil {
		t.Fatalf("set head b: %v", err)
	}
	if got, ok := s.GetBlockByHeight(1); !ok || got.Hash() != branchB.Hash() {
		t.Fatalf("expected height 1 to resolve to branchB after reorg, got %+v ok=%v", got, ok)
	}
}

func mustPut(t *testing.T, s *Store, b *Block) {
	t.Helper()
	if err := s.PutBlock(b); err != nil {
		t.Fatalf("put block height %d: %v", b.Header.Height, err)
	}
}

func TestStoreIterBlocksFromContiguousRange(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := openTestStore(t, sb.DataDir())
	defer s.Close()

	var prev Hash
	for h := uint64(0); h < 3; h++ {
		b := &Block{Header: BlockHeader{Height: h, PreviousBlockHash: prev}}
		mustPut(t, s, b)
		if err := s.SetHead(h, b.Hash()); err != nil {
			t.Fatalf("set head: %v", err)
		}
		prev = b.Hash()
	}
	blocks := s.IterBlocksFrom(0)
	if len(blocks) != 3 {
		t.Fatalf("expected 3 contiguous blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if b.Header.Height != uint64(i) {
			t.Fatalf("expected ascending heights, got %+v at index %d", b.Header, i)
		}
	}
}

func TestStoreWALReplaySurvivesRestart(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	dir := sb.DataDir()

	s := openTestStore(t, dir)
	genesis := &Block{Header: BlockHeader{Height: 0}}
	mustPut(t, s, genesis)
	if err := s.SetHead(0, genesis.Hash()); err != nil {
		t.Fatalf("set head: %v", err)
	}
	addr := Address{9}
	if err := s.ApplyAccounts([]AccountEntry{{Address: addr, State: AccountState{Balance: AmountFromUint64(42), Nonce: 1}}}); err != nil {
		t.Fatalf("apply accounts: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2 := openTestStore(t, dir)
	defer s2.Close()
	head, ok := s2.Head()
	if !ok || head.Height != 0 || head.Hash != genesis.Hash() {
		t.Fatalf("expected head to survive restart, got %+v ok=%v", head, ok)
	}
	got := s2.GetAccount(addr)
	if got.Nonce != 1 || CmpAmount(got.Balance, AmountFromUint64(42)) != 0 {
		t.Fatalf("expected account state to survive restart via wal replay, got %+v", got)
	}
	if blk, ok := s2.GetBlockByHash(genesis.Hash()); !ok || blk.Header.Height != 0 {
		t.Fatalf("expected genesis block to survive restart")
	}
}

func TestStoreSecondOpenRejectsLockedDirectory(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	dir := sb.DataDir()

	s := openTestStore(t, dir)
	defer s.Close()

	if _, err := OpenStore(StoreConfig{Dir: dir}); err == nil {
		t.Fatalf("expected a second OpenStore on the same directory to fail while the first holds the lock")
	}
}

func TestStorePutMetaGetMeta(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	s := openTestStore(t, sb.DataDir())
	defer s.Close()

	if err := s.PutMeta("hashtree-seq", []byte{0, 0, 0, 7}); err != nil {
		t.Fatalf("put meta: %v", err)
	}
	v, ok := s.GetMeta("hashtree-seq")
	if !ok || len(v) != 4 || v[3] != 7 {
		t.Fatalf("unexpected meta value: %v ok=%v", v, ok)
	}
	if _, ok := s.GetMeta("missing"); ok {
		t.Fatalf("expected missing meta key to report not-found")
	}
}

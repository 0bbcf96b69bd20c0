package core_test

import (
	"context"
	"testing"
	"time"

	. "github.com/solacechain/node/core"
	"github.com/solacechain/node/internal/testutil"
)

// newTestController wires a Controller against a fresh Store with a single
// bootstrap validator, whose keypair is generated here so the Block
// Validator's signature stage (§4.7 stage 4) can actually resolve a public
// key for the producer.
func newTestController(t *testing.T, dir string) (c *Controller, store *Store, producer Address, signer Signer) {
	t.Helper()
	store, err := OpenStore(StoreConfig{Dir: dir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	genesis := &Block{Header: BlockHeader{Height: 0}}
	if err := store.PutBlock(genesis); err != nil {
		t.Fatalf("put genesis: %v", err)
	}
	if err := store.SetHead(0, genesis.Hash()); err != nil {
		t.Fatalf("set head: %v", err)
	}

	signer, err = GenerateEd25519Signer()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	producer = AddressOf(signer.PublicKey().Bytes)

	state := NewWorldState(AmountFromUint64(0), 0)
	validators := NewValidatorSet([]Address{producer})
	blockValidator := NewBlockValidator(100, 1<<20, time.Hour, Amount{}, AmountFromUint64(0), 0)
	assembler := NewAssembler(100, 1<<20)
	fork := NewForkResolver(64)
	orphans := NewOrphanPool(16)
	health := NewPeerHealth()
	// Anchor far in the past with a long duration so Run's slot-clock
	// ticker never fires a production attempt during the test.
	slotClock := NewSlotClock(time.Now().Add(-time.Hour), time.Hour)

	c, err = NewController(ControllerDeps{
		Store: store, Mempool: NewMempool(MempoolConfig{}), State: state,
		Validators: validators, Validator: blockValidator, Assembler: assembler,
		Fork: fork, Orphans: orphans, Transport: nil, SlotClock: slotClock,
		Health: health, Signer: signer, OwnAddr: producer,
		ProducerKeys: func(a Address) (PublicKey, bool) {
			if a == producer {
				return signer.PublicKey(), true
			}
			return PublicKey{}, false
		},
		VerifyTx: func(*Transaction) bool { return true },
		Config:   GenesisConfig{},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c, store, producer, signer
}

func waitForHead(t *testing.T, c *Controller, height uint64, timeout time.Duration) HeadReply {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h := c.HeadQueryHandler(); h.Height == height {
			return h
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for head to reach height %d, last seen %+v", height, c.HeadQueryHandler())
	return HeadReply{}
}

func TestControllerHeadQueryReflectsStoreAtStartup(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	c, store, _, _ := newTestController(t, sb.DataDir())
	defer store.Close()

	head := c.HeadQueryHandler()
	if head.Height != 0 {
		t.Fatalf("expected controller to start at store's head height 0, got %d", head.Height)
	}
}

func TestControllerIngestsDirectExtensionBlock(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	c, store, producer, signer := newTestController(t, sb.DataDir())
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	head, _ := store.Head()

	header := BlockHeader{
		Height: 1, Slot: 1, Timestamp: time.Now().Unix(),
		PreviousBlockHash: head.Hash, MerkleRoot: ComputeMerkleRoot(nil),
		Producer: producer,
	}
	sig, err := signer.Sign(EncodeBlockHeaderSigningBytes(&header))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	header.Signature = sig
	block := &Block{Header: header}

	c.SubmitIncomingBlock(block, "peer1")

	got := waitForHead(t, c, 1, 2*time.Second)
	if got.Hash != block.Hash() {
		t.Fatalf("expected head hash to match the ingested block")
	}

	resp := c.BlockRequestHandler(block.Hash())
	if resp.NotFound || resp.Block == nil || resp.Block.Header.Height != 1 {
		t.Fatalf("expected the ingested block to be retrievable, got %+v", resp)
	}
}

func TestControllerRejectsBlockWithBadSignature(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	c, store, producer, _ := newTestController(t, sb.DataDir())
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	head, _ := store.Head()
	header := BlockHeader{
		Height: 1, Slot: 1, Timestamp: time.Now().Unix(),
		PreviousBlockHash: head.Hash, MerkleRoot: ComputeMerkleRoot(nil),
		Producer: producer, Signature: []byte("not a real signature"),
	}
	block := &Block{Header: header}
	c.SubmitIncomingBlock(block, "peer1")

	// A rejected block must never advance the head; give the controller a
	// generous window to process the event and confirm it stays put.
	time.Sleep(100 * time.Millisecond)
	if got := c.HeadQueryHandler(); got.Height != 0 {
		t.Fatalf("expected head to remain at height 0 after a bad-signature block, got %+v", got)
	}
}

func TestControllerSubmitLocalTransactionDoesNotPanic(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()
	c, store, _, _ := newTestController(t, sb.DataDir())
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	sender := Address{2}
	tx := &Transaction{Sender: sender, Recipient: Address{3}, Amount: AmountFromUint64(1), Timestamp: time.Now().Unix()}
	c.SubmitLocalTransaction(tx)

	// Exercised for absence of panics/races on the ingest path; the mempool
	// itself is not exposed outside the controller, so there is no further
	// externally observable assertion without also driving slot production
	// through the real clock.
	time.Sleep(20 * time.Millisecond)
}

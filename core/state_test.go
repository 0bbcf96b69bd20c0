package core_test

import (
	"testing"

	. "github.com/solacechain/node/core"
	"github.com/solacechain/node/internal/errs"
)

func TestApplyTxDebitsAndCredits(t *testing.T) {
	w := NewWorldState(AmountFromUint64(0), 0)
	sender := Address{1}
	recipient := Address{2}
	w.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(100), Nonce: 0}})

	tx := &Transaction{Sender: sender, Recipient: recipient, Amount: AmountFromUint64(30), Fee: AmountFromUint64(5), Nonce: 0}
	if err := w.ApplyTx(tx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := w.Get(sender).Balance; got != AmountFromUint64(65) {
		t.Fatalf("sender balance: got %+v want 65", got)
	}
	if got := w.Get(sender).Nonce; got != 1 {
		t.Fatalf("sender nonce: got %d want 1", got)
	}
	if got := w.Get(recipient).Balance; got != AmountFromUint64(30) {
		t.Fatalf("recipient balance: got %+v want 30", got)
	}
}

func TestApplyTxRejectsNonceMismatch(t *testing.T) {
	w := NewWorldState(AmountFromUint64(0), 0)
	sender := Address{1}
	w.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(100), Nonce: 3}})
	tx := &Transaction{Sender: sender, Nonce: 0}
	if err := w.ApplyTx(tx); !errs.Is(err, errs.KindInvalidTx) {
		t.Fatalf("expected invalid-tx rejection, got %v", err)
	}
}

func TestApplyTxRejectsInsufficientBalance(t *testing.T) {
	w := NewWorldState(AmountFromUint64(0), 0)
	sender := Address{1}
	w.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(10), Nonce: 0}})
	tx := &Transaction{Sender: sender, Amount: AmountFromUint64(100), Nonce: 0}
	if err := w.ApplyTx(tx); !errs.Is(err, errs.KindInvalidTx) {
		t.Fatalf("expected invalid-tx rejection, got %v", err)
	}
}

func TestApplyBlockCreditsProducerRewardAndFees(t *testing.T) {
	w := NewWorldState(AmountFromUint64(50), 0)
	sender := Address{1}
	producer := Address{9}
	w.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(100), Nonce: 0}})

	b := &Block{
		Header: BlockHeader{Height: 1, Producer: producer},
		Transactions: []*Transaction{
			{Sender: sender, Recipient: Address{2}, Amount: AmountFromUint64(10), Fee: AmountFromUint64(3), Nonce: 0},
		},
	}
	if err := w.ApplyBlock(b); err != nil {
		t.Fatalf("apply block: %v", err)
	}
	if got := w.Get(producer).Balance; got != AmountFromUint64(53) {
		t.Fatalf("producer balance: got %+v want 53 (reward 50 + fee 3)", got)
	}
}

func TestApplyBlockRejectsDuplicateNonceWithinBlock(t *testing.T) {
	w := NewWorldState(AmountFromUint64(0), 0)
	sender := Address{1}
	w.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(1000), Nonce: 0}})
	b := &Block{
		Header: BlockHeader{Height: 1},
		Transactions: []*Transaction{
			{Sender: sender, Nonce: 0},
			{Sender: sender, Nonce: 0},
		},
	}
	if err := w.ApplyBlock(b); !errs.Is(err, errs.KindDuplicateNonce) {
		t.Fatalf("expected duplicate-nonce rejection, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	w := NewWorldState(AmountFromUint64(0), 0)
	addr := Address{1}
	w.LoadFrom(map[Address]AccountState{addr: {Balance: AmountFromUint64(100)}})
	clone := w.Clone()
	_ = clone.ApplyTx(&Transaction{Sender: addr, Recipient: Address{2}, Amount: AmountFromUint64(10), Nonce: 0})
	if w.Get(addr).Balance != AmountFromUint64(100) {
		t.Fatalf("mutating a clone must not affect the original")
	}
	if clone.Get(addr).Balance != AmountFromUint64(90) {
		t.Fatalf("clone should reflect its own mutation")
	}
}

func TestTotalSupplyConservation(t *testing.T) {
	w := NewWorldState(AmountFromUint64(20), 0)
	sender := Address{1}
	w.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(1000)}})
	before := w.TotalSupply()
	b := &Block{
		Header: BlockHeader{Height: 1, Producer: Address{9}},
		Transactions: []*Transaction{
			{Sender: sender, Recipient: Address{2}, Amount: AmountFromUint64(10), Fee: AmountFromUint64(2), Nonce: 0},
		},
	}
	if err := w.ApplyBlock(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	after := w.TotalSupply()
	want := MustAdd(before, AmountFromUint64(20))
	if after != want {
		t.Fatalf("total supply must grow by exactly block-reward: got %+v want %+v", after, want)
	}
}

func TestRebuildFromBlocksMatchesSequentialApply(t *testing.T) {
	producer := Address{9}
	b1 := &Block{Header: BlockHeader{Height: 0, Producer: producer}}
	b2 := &Block{Header: BlockHeader{Height: 1, Producer: producer}}

	direct := NewWorldState(AmountFromUint64(10), 0)
	if err := direct.ApplyBlock(b1); err != nil {
		t.Fatalf("direct apply b1: %v", err)
	}
	if err := direct.ApplyBlock(b2); err != nil {
		t.Fatalf("direct apply b2: %v", err)
	}

	rebuilt, err := RebuildFromBlocks([]*Block{b1, b2}, AmountFromUint64(10), 0)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if direct.Get(producer) != rebuilt.Get(producer) {
		t.Fatalf("replay must be deterministic: got %+v vs %+v", direct.Get(producer), rebuilt.Get(producer))
	}
}

package core_test

import (
	"testing"
	"time"

	. "github.com/solacechain/node/core"
)

func TestAssembleIncludesAdmittedTransactions(t *testing.T) {
	mp := NewMempool(MempoolConfig{})
	sender := Address{1}
	now := time.Now()
	tx := &Transaction{Sender: sender, Recipient: Address{2}, Amount: AmountFromUint64(5), Fee: AmountFromUint64(1), Timestamp: now.Unix()}
	if err := mp.Admit(tx, nil, now); err != nil {
		t.Fatalf("admit: %v", err)
	}

	trial := NewWorldState(AmountFromUint64(10), 0)
	trial.LoadFrom(map[Address]AccountState{sender: {Balance: AmountFromUint64(100)}})

	signer, _ := GenerateEd25519Signer()
	producer := AddressOf(signer.PublicKey().Bytes)
	a := NewAssembler(10, 1<<20)
	head := ChainHead{Height: 0, Hash: Hash{1}}
	b, err := a.Assemble(mp, trial, head, 1, producer, signer, now)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(b.Transactions) != 1 {
		t.Fatalf("expected 1 included transaction, got %d", len(b.Transactions))
	}
	if b.Header.Height != 1 || b.Header.PreviousBlockHash != head.Hash {
		t.Fatalf("unexpected header: %+v", b.Header)
	}
	if len(b.Header.Signature) == 0 {
		t.Fatalf("expected a non-empty header signature")
	}
}

func TestAssembleDiscardsTransactionsFailingTrialApplication(t *testing.T) {
	mp := NewMempool(MempoolConfig{})
	poorSender := Address{1}
	now := time.Now()
	// No balance loaded for poorSender: any debit will fail trial application.
	tx := &Transaction{Sender: poorSender, Recipient: Address{2}, Amount: AmountFromUint64(5), Fee: AmountFromUint64(1), Timestamp: now.Unix()}
	if err := mp.Admit(tx, nil, now); err != nil {
		t.Fatalf("admit: %v", err)
	}

	trial := NewWorldState(AmountFromUint64(10), 0)
	signer, _ := GenerateEd25519Signer()
	producer := AddressOf(signer.PublicKey().Bytes)
	a := NewAssembler(10, 1<<20)
	b, err := a.Assemble(mp, trial, ChainHead{}, 1, producer, signer, now)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(b.Transactions) != 0 {
		t.Fatalf("expected the insufficient-balance transaction to be discarded, got %d included", len(b.Transactions))
	}
}

func TestAssembleRespectsMaxTxPerBlock(t *testing.T) {
	mp := NewMempool(MempoolConfig{})
	now := time.Now()
	trial := NewWorldState(AmountFromUint64(0), 0)
	balances := make(map[Address]AccountState)
	for i := 0; i < 5; i++ {
		sender := Address{byte(i + 1)}
		balances[sender] = AccountState{Balance: AmountFromUint64(1000)}
		tx := &Transaction{Sender: sender, Recipient: Address{99}, Amount: AmountFromUint64(1), Timestamp: now.Unix()}
		if err := mp.Admit(tx, nil, now); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}
	trial.LoadFrom(balances)

	signer, _ := GenerateEd25519Signer()
	a := NewAssembler(2, 1<<20)
	b, err := a.Assemble(mp, trial, ChainHead{}, 1, Address{}, signer, now)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(b.Transactions) != 2 {
		t.Fatalf("expected exactly 2 included transactions, got %d", len(b.Transactions))
	}
}

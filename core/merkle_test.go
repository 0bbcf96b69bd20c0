package core_test

import (
	"testing"

	. "github.com/solacechain/node/core"
)

func txFixture(nonce uint64) *Transaction {
	return &Transaction{Nonce: nonce, Amount: AmountFromUint64(nonce), Fee: AmountFromUint64(1)}
}

func TestComputeMerkleRootEmpty(t *testing.T) {
	if ComputeMerkleRoot(nil) != HashBytes(nil) {
		t.Fatalf("empty body root must equal hash of empty string")
	}
}

func TestComputeMerkleRootOrderSensitive(t *testing.T) {
	a, b := txFixture(1), txFixture(2)
	r1 := ComputeMerkleRoot([]*Transaction{a, b})
	r2 := ComputeMerkleRoot([]*Transaction{b, a})
	if r1 == r2 {
		t.Fatalf("merkle root must depend on transaction order, bodies are sequences not sets")
	}
}

func TestComputeMerkleRootDeterministic(t *testing.T) {
	txs := []*Transaction{txFixture(1), txFixture(2), txFixture(3)}
	if ComputeMerkleRoot(txs) != ComputeMerkleRoot(txs) {
		t.Fatalf("merkle root must be deterministic over identical input")
	}
}

func TestComputeMerkleRootOddCountDuplicatesLast(t *testing.T) {
	one := ComputeMerkleRoot([]*Transaction{txFixture(1)})
	three := ComputeMerkleRoot([]*Transaction{txFixture(1), txFixture(2), txFixture(3)})
	if one == three {
		t.Fatalf("expected different roots for different bodies")
	}
	four := ComputeMerkleRoot([]*Transaction{txFixture(1), txFixture(2), txFixture(3), txFixture(3)})
	if three != four {
		t.Fatalf("expected an odd level to pair its last node with itself")
	}
}

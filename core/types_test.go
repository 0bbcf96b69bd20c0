package core_test

import (
	"testing"

	. "github.com/solacechain/node/core"
)

func TestAddressFromHexRoundTrip(t *testing.T) {
	var want Address
	for i := range want {
		want[i] = byte(i)
	}
	got, err := AddressFromHex(want.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	// Without the 0x prefix should also parse.
	got2, err := AddressFromHex(want.String()[2:])
	if err != nil || got2 != want {
		t.Fatalf("unprefixed parse failed: %v, %s", err, got2)
	}
}

func TestAddressFromHexRejectsBadLength(t *testing.T) {
	if _, err := AddressFromHex("0x1234"); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := AddressFromHex("not hex"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSortAddressesStableOrdering(t *testing.T) {
	var a, b, c Address
	a[0], b[0], c[0] = 3, 1, 2
	sorted := SortAddresses([]Address{a, b, c})
	if sorted[0] != b || sorted[1] != c || sorted[2] != a {
		t.Fatalf("unexpected order: %v", sorted)
	}
}

func TestTransactionHashCaching(t *testing.T) {
	tx := &Transaction{Sender: Address{1}, Recipient: Address{2}, Nonce: 5}
	h1 := tx.Hash()
	h2 := tx.Hash()
	if h1 != h2 {
		t.Fatalf("hash should be stable across calls")
	}
	other := &Transaction{Sender: Address{1}, Recipient: Address{2}, Nonce: 6}
	if tx.Hash() == other.Hash() {
		t.Fatalf("different transactions must hash differently")
	}
}

func TestBlockHashExcludesSignature(t *testing.T) {
	b := &Block{Header: BlockHeader{Height: 1, Slot: 1}}
	h1 := b.Hash()
	b2 := &Block{Header: BlockHeader{Height: 1, Slot: 1, Signature: []byte("sig")}}
	if h1 != b2.Hash() {
		t.Fatalf("block identity must not depend on the producer signature")
	}
}

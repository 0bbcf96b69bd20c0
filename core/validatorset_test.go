package core_test

import (
	"testing"

	. "github.com/solacechain/node/core"
)

func TestLeaderDeterminism(t *testing.T) {
	var a, b, c Address
	a[0], b[0], c[0] = 1, 2, 3
	sorted := SortAddresses([]Address{c, a, b})
	l1, ok1 := Leader(5, sorted)
	l2, ok2 := Leader(5, sorted)
	if !ok1 || !ok2 || l1 != l2 {
		t.Fatalf("leader must be a pure function of (slot, validator set)")
	}
}

func TestLeaderRoundRobin(t *testing.T) {
	sorted := SortAddresses([]Address{{1}, {2}, {3}})
	seen := make(map[Address]bool)
	for slot := uint64(0); slot < 3; slot++ {
		l, ok := Leader(slot, sorted)
		if !ok {
			t.Fatalf("expected a leader at slot %d", slot)
		}
		seen[l] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected every validator to lead exactly one of the first 3 slots, got %d distinct", len(seen))
	}
}

func TestLeaderEmptySet(t *testing.T) {
	if _, ok := Leader(0, nil); ok {
		t.Fatalf("expected no leader for an empty validator set")
	}
}

func TestValidatorSetObserveProducerExpandsMembership(t *testing.T) {
	vs := NewValidatorSet([]Address{{1}})
	newAddr := Address{2}
	if vs.IsMember(newAddr) {
		t.Fatalf("unobserved address should not be a member yet")
	}
	vs.ObserveProducer(newAddr)
	if !vs.IsMember(newAddr) {
		t.Fatalf("expected ObserveProducer to add the address")
	}
	if len(vs.Sorted()) != 2 {
		t.Fatalf("expected 2 members, got %d", len(vs.Sorted()))
	}
}

func TestValidatorSetObserveProducerIdempotent(t *testing.T) {
	vs := NewValidatorSet([]Address{{1}})
	vs.ObserveProducer(Address{1})
	if len(vs.Sorted()) != 1 {
		t.Fatalf("re-observing an existing member must not duplicate it")
	}
}

func TestValidatorSetRegisterRequiresObservedMember(t *testing.T) {
	vs := NewValidatorSet(nil)
	if err := vs.Register(Address{1}, 10); err == nil {
		t.Fatalf("expected registration to fail for an unobserved address")
	}
	vs.ObserveProducer(Address{1})
	if err := vs.Register(Address{1}, 10); err != nil {
		t.Fatalf("register: %v", err)
	}
	info, ok := vs.Info(Address{1})
	if !ok || info.Stake != 10 {
		t.Fatalf("expected stake bookkeeping, got %+v", info)
	}
}

package core

// validatorset.go implements the Validator Set (§3) and the leader
// election half of Slot Clock (§4.6). Grounded on
// core/consensus_validator_management.go's ValidatorManager
// (Register/Stake/Unstake/Slash/List over a lock-guarded map), narrowed to
// a StateRW-free in-memory set since core no longer carries the teacher's
// stake-weighted staking-account ledger entries — leader election here is
// pure equal-weight round-robin per spec.md §3, stake bookkeeping is kept
// only for observability (§9 Design Notes "Validator registration
// bookkeeping").

import (
	"sort"
	"sync"
	"time"

	"github.com/solacechain/node/internal/errs"
)

// ValidatorInfo carries observability metadata about a registered
// validator; it never feeds the deterministic leader function.
type ValidatorInfo struct {
	Addr     Address
	Stake    uint64
	Active   bool
	JoinedAt int64
}

// ValidatorSet is the ordered set of addresses known to be eligible
// producers (§3): bootstrapped from static configuration and augmented as
// new addresses are observed producing valid blocks. Membership at slot S
// is a pure function of (bootstrap ∪ observed-producers-up-to-parent), the
// model spec.md §9 fixes for its "dynamic validator set" open question.
type ValidatorSet struct {
	mu      sync.RWMutex
	members map[Address]*ValidatorInfo
	sorted  []Address // cache, rebuilt on membership change
}

// NewValidatorSet seeds the set from the genesis bootstrap list.
func NewValidatorSet(bootstrap []Address) *ValidatorSet {
	vs := &ValidatorSet{members: make(map[Address]*ValidatorInfo)}
	now := time.Now().Unix()
	for _, a := range bootstrap {
		vs.members[a] = &ValidatorInfo{Addr: a, Active: true, JoinedAt: now}
	}
	vs.rebuildSorted()
	return vs
}

func (vs *ValidatorSet) rebuildSorted() {
	addrs := make([]Address, 0, len(vs.members))
	for a, info := range vs.members {
		if info.Active {
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	vs.sorted = addrs
}

// ObserveProducer augments the set with an address seen producing a valid
// accepted block, per the bootstrap ∪ observed-producers model.
func (vs *ValidatorSet) ObserveProducer(addr Address) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, ok := vs.members[addr]; ok {
		return
	}
	vs.members[addr] = &ValidatorInfo{Addr: addr, Active: true, JoinedAt: time.Now().Unix()}
	vs.rebuildSorted()
}

// Sorted returns the current validator set ordered ascending
// lexicographically by address, the ordering leader() indexes into.
func (vs *ValidatorSet) Sorted() []Address {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]Address, len(vs.sorted))
	copy(out, vs.sorted)
	return out
}

// IsMember reports whether addr is an active eligible producer.
func (vs *ValidatorSet) IsMember(addr Address) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	info, ok := vs.members[addr]
	return ok && info.Active
}

// Leader returns validators_sorted[slot mod |validators_sorted|] (§4.6),
// a pure function of (slot, validator set) — every honest node computes
// the same leader for a given (slot, V), the "leader determinism"
// testable property of §8.
func Leader(slot uint64, sorted []Address) (Address, bool) {
	if len(sorted) == 0 {
		return Address{}, false
	}
	return sorted[slot%uint64(len(sorted))], true
}

// ---------------------------------------------------------------------
// Observability-only staking bookkeeping (§9 "Validator registration
// bookkeeping"): never consulted by Leader/IsMember.
// ---------------------------------------------------------------------

// Register records stake metadata for addr without affecting eligibility
// (eligibility is governed solely by bootstrap/ObserveProducer).
func (vs *ValidatorSet) Register(addr Address, stake uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if info, ok := vs.members[addr]; ok {
		info.Stake += stake
		return nil
	}
	return errs.New(errs.KindMalformed, "validatorset: register unknown address, must be observed as a producer first")
}

// Info returns a copy of the validator's bookkeeping record.
func (vs *ValidatorSet) Info(addr Address) (ValidatorInfo, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	info, ok := vs.members[addr]
	if !ok {
		return ValidatorInfo{}, false
	}
	return *info, true
}

// List returns every known validator's bookkeeping record.
func (vs *ValidatorSet) List() []ValidatorInfo {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]ValidatorInfo, 0, len(vs.members))
	for _, info := range vs.members {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

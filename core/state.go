package core

// state.go implements the World State component (§4.5): in-memory account
// balances and nonces, replay-rebuildable from the Store. Grounded on the
// teacher's Ledger.State/nonces maps and applyBlock in core/ledger.go,
// generalized to the checked-Amount arithmetic and halving reward schedule
// this spec requires.

import (
	"sync"

	"github.com/solacechain/node/internal/errs"
)

// WorldState is the authoritative mapping of accounts to (balance, nonce)
// derived from applying all committed blocks up to head. It is owned
// exclusively by the Chain Controller (§5).
type WorldState struct {
	mu       sync.RWMutex
	accounts map[Address]AccountState

	rewardInitial Amount
	halvingEvery  uint64
}

// NewWorldState constructs an empty state with the given reward schedule.
func NewWorldState(rewardInitial Amount, halvingEvery uint64) *WorldState {
	return &WorldState{
		accounts:      make(map[Address]AccountState),
		rewardInitial: rewardInitial,
		halvingEvery:  halvingEvery,
	}
}

// Get returns the account state for addr, zero value if absent.
func (w *WorldState) Get(addr Address) AccountState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.accounts[addr]
}

// Clone returns a deep copy usable as a trial state fork (assembler/
// validator snapshot at head, §4.8 steps 1/3 and §4.7 stage 6).
func (w *WorldState) Clone() *WorldState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := &WorldState{
		accounts:      make(map[Address]AccountState, len(w.accounts)),
		rewardInitial: w.rewardInitial,
		halvingEvery:  w.halvingEvery,
	}
	for k, v := range w.accounts {
		out.accounts[k] = v
	}
	return out
}

// Snapshot returns a shallow copy of every account, used to build a Store
// ApplyAccounts batch.
func (w *WorldState) Snapshot() map[Address]AccountState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[Address]AccountState, len(w.accounts))
	for k, v := range w.accounts {
		out[k] = v
	}
	return out
}

// LoadFrom seeds the state from a Store's account snapshot (startup
// rebuild) or from genesis initial balances.
func (w *WorldState) LoadFrom(accounts map[Address]AccountState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = make(map[Address]AccountState, len(accounts))
	for k, v := range accounts {
		w.accounts[k] = v
	}
}

// BlockReward returns block-reward(height) under the halving schedule.
func (w *WorldState) BlockReward(height uint64) Amount {
	return HalvingReward(w.rewardInitial, w.halvingEvery, height)
}

// ApplyBlock applies every transaction in order, then credits the
// producer with block-reward(height) + Σfees, per §4.5. Any failure
// (insufficient balance, nonce mismatch, or overflow) rejects the whole
// block with an error; w is not rolled back, so transactions applied before
// the failing one remain applied to w.
func (w *WorldState) ApplyBlock(b *Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seenNonce := make(map[Address]map[uint64]struct{})
	var totalFees Amount
	for _, tx := range b.Transactions {
		if set, ok := seenNonce[tx.Sender]; ok {
			if _, dup := set[tx.Nonce]; dup {
				return errs.New(errs.KindDuplicateNonce, "state: duplicate (sender, nonce) within block")
			}
		} else {
			seenNonce[tx.Sender] = make(map[uint64]struct{})
		}
		seenNonce[tx.Sender][tx.Nonce] = struct{}{}

		if err := w.applyTxLocked(tx); err != nil {
			return err
		}
		var ok bool
		totalFees, ok = AddChecked(totalFees, tx.Fee)
		if !ok {
			return errs.New(errs.KindOverflowInApply, "state: fee accumulation overflow")
		}
	}

	reward := w.BlockReward(b.Header.Height)
	credit, ok := AddChecked(reward, totalFees)
	if !ok {
		return errs.New(errs.KindOverflowInApply, "state: reward+fees overflow")
	}
	producer := w.accounts[b.Header.Producer]
	newProducerBal, ok := AddChecked(producer.Balance, credit)
	if !ok {
		return errs.New(errs.KindOverflowInApply, "state: producer credit overflow")
	}
	producer.Balance = newProducerBal
	w.accounts[b.Header.Producer] = producer
	return nil
}

// applyTxLocked applies one transaction's sender-debit/recipient-credit
// effect with no producer reward credit. Caller holds w.mu.
func (w *WorldState) applyTxLocked(tx *Transaction) error {
	sender := w.accounts[tx.Sender]
	debit, ok := AddChecked(tx.Amount, tx.Fee)
	if !ok {
		return errs.New(errs.KindOverflowInApply, "state: amount+fee overflow")
	}
	if sender.Nonce != tx.Nonce {
		return errs.New(errs.KindInvalidTx, "state: nonce mismatch")
	}
	if !GreaterOrEqual(sender.Balance, debit) {
		return errs.New(errs.KindInvalidTx, "state: insufficient balance")
	}
	newBal, ok := SubChecked(sender.Balance, debit)
	if !ok {
		return errs.New(errs.KindOverflowInApply, "state: balance underflow")
	}
	sender.Balance = newBal
	sender.Nonce++
	w.accounts[tx.Sender] = sender

	recipient := w.accounts[tx.Recipient]
	newRecipBal, ok := AddChecked(recipient.Balance, tx.Amount)
	if !ok {
		return errs.New(errs.KindOverflowInApply, "state: recipient balance overflow")
	}
	recipient.Balance = newRecipBal
	w.accounts[tx.Recipient] = recipient
	return nil
}

// ApplyTx applies a single transaction with no producer reward credit,
// used by the Block Assembler's trial-inclusion loop (§4.8 step 3: discard
// any transaction that fails trial application, continue until limits
// reached) where there is no whole block yet to credit a producer for.
func (w *WorldState) ApplyTx(tx *Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyTxLocked(tx)
}

// TotalSupply sums every account balance, used by the conservation-of-
// tokens testable property.
func (w *WorldState) TotalSupply() Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var total Amount
	for _, st := range w.accounts {
		total = MustAdd(total, st.Balance)
	}
	return total
}

// RebuildFromBlocks replays blocks in ascending height order from genesis,
// the deterministic startup reconstruction §4.3/§8 "replay determinism"
// requires.
func RebuildFromBlocks(blocks []*Block, rewardInitial Amount, halvingEvery uint64) (*WorldState, error) {
	w := NewWorldState(rewardInitial, halvingEvery)
	for _, b := range blocks {
		if err := w.ApplyBlock(b); err != nil {
			return nil, err
		}
	}
	return w, nil
}

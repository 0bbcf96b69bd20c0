package core

// fork.go implements Fork Resolution (§4.9): longest-chain, tie-broken by
// first-seen, with full-replay-based reorg. Grounded on
// core/chain_fork_manager.go's parent-bucketed fork tracking (ForkInfo,
// forks map keyed by parent hex) generalized to the bounded
// common-ancestor walk and full-replay switch protocol this spec
// requires, and on core/orphan/orphan_node.go's archive/recycle shape for
// re-admitting discarded-branch transactions to the mempool.

import (
	"github.com/solacechain/node/internal/errs"
)

// ForkResolver decides whether an incoming non-extending block triggers a
// chain switch, per §4.9.
type ForkResolver struct {
	maxReorgDepth uint64
}

// NewForkResolver constructs a resolver bound to the genesis-configured
// MAX_REORG_DEPTH.
func NewForkResolver(maxReorgDepth uint64) *ForkResolver {
	return &ForkResolver{maxReorgDepth: maxReorgDepth}
}

// ancestorLookup resolves a block by hash, used to walk backward along
// previous-block-hash pointers. Supplied by the caller (Store-backed in
// production, fake-backed in tests).
type ancestorLookup func(h Hash) (*Block, bool)

// FindCommonAncestor walks backward from both head and candidate along
// previous-block-hash pointers until a shared height with matching hashes
// is found, bounded by maxReorgDepth. Returns the ancestor block and a nil
// error, or a DeepReorg error if no ancestor is found within the bound.
func (r *ForkResolver) FindCommonAncestor(head *Block, candidate *Block, lookup ancestorLookup) (*Block, error) {
	ours := head
	theirs := candidate
	depth := uint64(0)

	for depth <= r.maxReorgDepth {
		if ours.Header.Height == theirs.Header.Height {
			if ours.Hash() == theirs.Hash() {
				return ours, nil
			}
			// Walk both back one step.
			o, ok := lookup(ours.Header.PreviousBlockHash)
			if !ok {
				break
			}
			t, ok := lookup(theirs.Header.PreviousBlockHash)
			if !ok {
				break
			}
			ours, theirs = o, t
			depth++
			continue
		}
		if ours.Header.Height > theirs.Header.Height {
			o, ok := lookup(ours.Header.PreviousBlockHash)
			if !ok {
				break
			}
			ours = o
		} else {
			t, ok := lookup(theirs.Header.PreviousBlockHash)
			if !ok {
				break
			}
			theirs = t
		}
		depth++
	}
	return nil, errs.New(errs.KindDeepReorg, "fork: no common ancestor within MAX_REORG_DEPTH")
}

// Decision is the outcome of evaluating a non-extending candidate block
// against the current head, per §4.9 step 2.
type Decision int

const (
	// DecisionKeep: candidate height <= head height, our chain remains
	// best; candidate is stored but otherwise ignored for now.
	DecisionKeep Decision = iota
	// DecisionSwitch: candidate height > head height, proceed to the
	// switch protocol.
	DecisionSwitch
)

// Evaluate implements §4.9 step 2's height comparison.
func Evaluate(headHeight, candidateHeight uint64) Decision {
	if candidateHeight > headHeight {
		return DecisionSwitch
	}
	return DecisionKeep
}

// SwitchResult carries what the Chain Controller needs to complete a
// reorg after a successful validation of the candidate branch.
type SwitchResult struct {
	NewHead      *Block
	NewState     *WorldState
	Reintroduce  []*Transaction // discarded-branch txs whose nonce is still unused on the new branch
}

// ValidateAndSwitch implements §4.9 step 3: validates every block on the
// candidate branch from ancestor to tip against a trial World State forked
// at the ancestor (full replay from genesis, per the rationale in §4.9 —
// any implementation optimizing with incremental unwind must be bit-exact
// to this), then identifies discarded-branch transactions that are still
// unsatisfied on the new branch (the sender's nonce on the final trial state
// equals the transaction's nonce). No other admission check is made here;
// the Chain Controller passes each one through Mempool.Admit.
//
// genesisToAncestor is every committed block from genesis through the
// common ancestor (inclusive); candidateBranch is ancestor-exclusive,
// height-ordered blocks from ancestor+1 through the candidate tip;
// discardedBranch is the blocks being abandoned (our former branch from
// ancestor+1 to our old head), used to recover re-admittable transactions.
//
// validate must leave trial block-applied on success (the Block Validator's
// stage 6/7 already applies b to trial in order to check reward
// conservation) — ValidateAndSwitch does not apply b a second time.
func ValidateAndSwitch(
	genesisToAncestor []*Block,
	candidateBranch []*Block,
	discardedBranch []*Block,
	validate func(b *Block, parent *Block, trial *WorldState) error,
	rewardInitial Amount,
	halvingEvery uint64,
) (*SwitchResult, error) {
	trial, err := RebuildFromBlocks(genesisToAncestor, rewardInitial, halvingEvery)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidTx, err, "fork: replay genesis-to-ancestor")
	}

	parent := genesisToAncestor[len(genesisToAncestor)-1]
	for _, b := range candidateBranch {
		if err := validate(b, parent, trial); err != nil {
			return nil, errs.Wrap(errs.KindInvalidTx, err, "fork: candidate branch failed validation")
		}
		parent = b
	}

	newTip := parent
	discardedTxs := make(map[Hash]*Transaction)
	for _, b := range discardedBranch {
		for _, tx := range b.Transactions {
			discardedTxs[tx.Hash()] = tx
		}
	}
	var reintroduce []*Transaction
	for _, tx := range discardedTxs {
		acct := trial.Get(tx.Sender)
		if acct.Nonce == tx.Nonce {
			reintroduce = append(reintroduce, tx)
		}
	}

	return &SwitchResult{NewHead: newTip, NewState: trial, Reintroduce: reintroduce}, nil
}

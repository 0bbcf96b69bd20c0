package core

// blockvalidator.go implements the Block Validator (§4.7): verifies a
// received block against the parent referenced by its
// previous-block-hash, returning Accept, Reject(kind), or Orphan.
// Grounded on the validation stages implicit in the teacher's sub-block
// endorsement path (core/consensus.go) plus core/orphan/orphan_node.go's
// orphan detection, generalized from the teacher's PoH/PoW hybrid checks
// into the seven ordered stages spec.md §4.7 names.

import (
	"time"

	"github.com/solacechain/node/internal/errs"
)

// Verdict is the Block Validator's outcome.
type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictReject
	VerdictOrphan
)

// BlockValidator holds the bounds and dependencies validation stages
// consult.
type BlockValidator struct {
	maxTxPerBlock int
	maxBlockBytes int
	skewTolerance time.Duration
	feeMinimum    Amount
	rewardInitial Amount
	halvingEvery  uint64
}

// NewBlockValidator constructs a validator bound to the genesis-configured
// limits.
func NewBlockValidator(maxTx int, maxBytes int, skew time.Duration, feeMinimum Amount, rewardInitial Amount, halvingEvery uint64) *BlockValidator {
	return &BlockValidator{
		maxTxPerBlock: maxTx,
		maxBlockBytes: maxBytes,
		skewTolerance: skew,
		feeMinimum:    feeMinimum,
		rewardInitial: rewardInitial,
		halvingEvery:  halvingEvery,
	}
}

// ProducerKeyFn resolves a validator address to its current public key,
// the binding the Block Validator needs to check stage 4 (signature).
type ProducerKeyFn func(addr Address) (PublicKey, bool)

// Validate runs the seven ordered stages of §4.7 against b, given its
// parent (parentKnown=false triggers VerdictOrphan), the validator set
// implied by the parent, a producer-key resolver, a stateless tx-signature
// verifier, a trial World State forked at parent (always applied on a
// throwaway clone, never the caller's live state), maxAcceptedSlot =
// slot_clock.now() + skew_tolerance in slot units, and now (the wall-clock
// instant stage 6's per-transaction timestamp-skew check is measured
// against).
func (v *BlockValidator) Validate(b *Block, parent *Block, parentKnown bool, sortedValidators []Address, producerKey ProducerKeyFn, verifyTx VerifyFn, trialState *WorldState, maxAcceptedSlot uint64, now time.Time) (Verdict, error) {
	if !parentKnown {
		return VerdictOrphan, errs.New(errs.KindOrphan, "blockvalidator: parent unknown")
	}

	// 1. Structure.
	encoded := EncodeBlock(b)
	if v.maxBlockBytes > 0 && len(encoded) > v.maxBlockBytes {
		return VerdictReject, errs.New(errs.KindOversize, "blockvalidator: block exceeds max bytes")
	}
	if v.maxTxPerBlock > 0 && len(b.Transactions) > v.maxTxPerBlock {
		return VerdictReject, errs.New(errs.KindOversize, "blockvalidator: tx count exceeds max")
	}
	if _, err := DecodeBlock(encoded, v.maxTxPerBlock, v.maxBlockBytes); err != nil {
		return VerdictReject, errs.Wrap(errs.KindMalformed, err, "blockvalidator: codec does not round-trip")
	}

	// 2. Linkage.
	if b.Header.Height != parent.Header.Height+1 {
		return VerdictReject, errs.New(errs.KindBadLinkage, "blockvalidator: height mismatch")
	}
	if b.Header.Slot <= parent.Header.Slot {
		return VerdictReject, errs.New(errs.KindBadLinkage, "blockvalidator: slot must exceed parent slot")
	}
	if b.Header.PreviousBlockHash != parent.Hash() {
		return VerdictReject, errs.New(errs.KindBadLinkage, "blockvalidator: previous-block-hash mismatch")
	}

	// 3. Producer eligibility.
	leader, ok := Leader(b.Header.Slot, sortedValidators)
	if !ok || leader != b.Header.Producer {
		return VerdictReject, errs.New(errs.KindWrongLeader, "blockvalidator: producer is not the deterministic leader for this slot")
	}
	if b.Header.Slot > maxAcceptedSlot {
		return VerdictReject, errs.New(errs.KindFutureSlot, "blockvalidator: slot exceeds clock tolerance")
	}

	// 4. Signature.
	pub, ok := producerKey(b.Header.Producer)
	if !ok {
		return VerdictReject, errs.New(errs.KindBadSignature, "blockvalidator: no known public key for producer")
	}
	if !Verify(pub, EncodeBlockHeaderSigningBytes(&b.Header), Signature(b.Header.Signature)) {
		return VerdictReject, errs.New(errs.KindBadSignature, "blockvalidator: producer signature does not verify")
	}

	// 5. Merkle root.
	if ComputeMerkleRoot(b.Transactions) != b.Header.MerkleRoot {
		return VerdictReject, errs.New(errs.KindMerkleMismatch, "blockvalidator: merkle root mismatch")
	}

	// 6. Transactions: the same stateless checks as mempool admission,
	// plus trial application against a copy of World State forked at
	// parent.
	seen := make(map[Address]map[uint64]struct{})
	for _, tx := range b.Transactions {
		if len(tx.Purpose) > MaxPurposeBytes || len(tx.Signature) > MaxSignatureBytes {
			return VerdictReject, errs.New(errs.KindOversize, "blockvalidator: tx field exceeds bound")
		}
		if !withinTimestampSkew(tx.Timestamp, now, v.skewTolerance) {
			return VerdictReject, errs.New(errs.KindTimestampSkew, "blockvalidator: tx timestamp outside admission window")
		}
		if !GreaterOrEqual(tx.Fee, v.feeMinimum) {
			return VerdictReject, errs.New(errs.KindInvalidTx, "blockvalidator: tx fee below minimum")
		}
		if verifyTx != nil && !verifyTx(tx) {
			return VerdictReject, errs.New(errs.KindInvalidTx, "blockvalidator: tx signature does not verify")
		}
		if set, ok := seen[tx.Sender]; ok {
			if _, dup := set[tx.Nonce]; dup {
				return VerdictReject, errs.New(errs.KindDuplicateNonce, "blockvalidator: duplicate (sender, nonce) in block")
			}
		} else {
			seen[tx.Sender] = make(map[uint64]struct{})
		}
		seen[tx.Sender][tx.Nonce] = struct{}{}
	}
	beforeSupply := trialState.TotalSupply()
	if err := trialState.ApplyBlock(b); err != nil {
		return VerdictReject, errs.Wrap(errs.KindInvalidTx, err, "blockvalidator: transaction failed trial application")
	}

	// 7. Reward and fee accounting: conservation of tokens (§8) implies
	// total supply increases by exactly block-reward(height).
	afterSupply := trialState.TotalSupply()
	reward := HalvingReward(v.rewardInitial, v.halvingEvery, b.Header.Height)
	want := MustAdd(beforeSupply, reward)
	if afterSupply != want {
		return VerdictReject, errs.New(errs.KindRewardMismatch, "blockvalidator: implied producer credit does not match block-reward + fees")
	}

	return VerdictAccept, nil
}

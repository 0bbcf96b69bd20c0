package core

// assembler.go implements the Block Assembler (§4.4 production path of
// §4.8): produces a candidate block when the local node is slot leader.
// Grounded on the sub-block assembly loop in core/consensus.go (drain
// pool, build body, fill header, sign), narrowed from the teacher's
// PoH/PoW sub-block hybrid to direct single-block assembly per slot.

import (
	"time"

	"github.com/solacechain/node/internal/errs"
)

// Assembler produces candidate blocks.
type Assembler struct {
	maxTxPerBlock int
	maxBlockBytes int
}

// NewAssembler constructs an assembler bound to the genesis-configured
// bounds.
func NewAssembler(maxTxPerBlock, maxBlockBytes int) *Assembler {
	return &Assembler{maxTxPerBlock: maxTxPerBlock, maxBlockBytes: maxBlockBytes}
}

// Assemble implements §4.8 production steps 1-4: snapshot state, drain the
// mempool, discard any transaction that fails trial application, fill and
// sign the header. It never mutates mempool or the caller's live state —
// trialState should already be a WorldState.Clone() of the head state.
func (a *Assembler) Assemble(mp *Mempool, trialState *WorldState, head ChainHead, slot uint64, producer Address, signer Signer, now time.Time) (*Block, error) {
	candidates := mp.Drain(a.maxTxPerBlock, a.maxBlockBytes)

	var included []*Transaction
	totalBytes := 0
	for _, tx := range candidates {
		if a.maxTxPerBlock > 0 && len(included) >= a.maxTxPerBlock {
			break
		}
		encoded := EncodeTransaction(tx)
		if a.maxBlockBytes > 0 && totalBytes+len(encoded) > a.maxBlockBytes {
			break
		}
		// Discard any transaction that fails trial application (§4.8
		// step 3); trialState accumulates only the txs that succeed, so a
		// later tx's nonce check sees prior included txs' effects. No
		// reward credit here — there is no whole block yet.
		if err := trialState.ApplyTx(tx); err != nil {
			continue
		}
		included = append(included, tx)
		totalBytes += len(encoded)
	}

	header := BlockHeader{
		Height:            head.Height + 1,
		Slot:              slot,
		Timestamp:         now.Unix(),
		PreviousBlockHash: head.Hash,
		MerkleRoot:        ComputeMerkleRoot(included),
		Producer:          producer,
	}
	sig, err := signer.Sign(EncodeBlockHeaderSigningBytes(&header))
	if err != nil {
		return nil, errs.Wrap(errs.KindKeyExhausted, err, "assembler: sign header")
	}
	header.Signature = sig

	return &Block{Header: header, Transactions: included}, nil
}

// Package core implements the consensus engine: leader election, block
// assembly and validation, fork resolution, the mempool, the persistent
// store, and the transport abstraction.
package core

import (
	"encoding/hex"
	"fmt"
	"sort"
)

// Address is a 32-byte identifier derived from a public key by
// domain-separated Blake3 (see AddressOf in crypto.go).
type Address [32]byte

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// Hex is an alias of String kept for parity with teacher call sites that
// spell it Hex() (ValidatorManager, Store keys).
func (a Address) Hex() string { return a.String() }

func (a Address) IsZero() bool { return a == Address{} }

// Less orders addresses ascending lexicographically over their bytes, the
// ordering the validator set and leader election rely on.
func (a Address) Less(b Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func AddressFromHex(s string) (Address, error) {
	var a Address
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("address: %w", err)
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("address: want %d bytes, got %d", len(a), len(b))
	}
	copy(a[:], b)
	return a, nil
}

// SortAddresses returns a new slice sorted ascending lexicographically,
// the ordering the validator set uses for round-robin leader election.
func SortAddresses(in []Address) []Address {
	out := make([]Address, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Hash is a 32-byte Blake3 digest: block identity, transaction identity,
// and Merkle accumulation.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }
func (h Hash) IsZero() bool   { return h == Hash{} }

// Amount is an unsigned 128-bit integer in the smallest token unit,
// represented as two uint64 limbs. See amount.go for checked arithmetic.
type Amount struct {
	Lo, Hi uint64
}

// AmountFromUint64 lifts a uint64 into the low limb.
func AmountFromUint64(v uint64) Amount { return Amount{Lo: v} }

func (a Amount) IsZero() bool { return a.Lo == 0 && a.Hi == 0 }

// Transaction is signed by sender over the canonical serialization of
// every other field (see codec.go EncodeTxSigningBytes).
type Transaction struct {
	Sender    Address
	Recipient Address
	Amount    Amount
	Fee       Amount
	Nonce     uint64
	Timestamp int64
	Purpose   []byte // bounded length, free-form
	Signature []byte

	hash    Hash
	hashSet bool
}

// MaxPurposeBytes bounds the free-form purpose field (§4.2 size bounds).
const MaxPurposeBytes = 256

// MaxSignatureBytes bounds either supported signature variant (ed25519 is
// 64 bytes; the hash-tree scheme's signature is bounded by its height).
const MaxSignatureBytes = 4096

// Hash returns the cached canonical transaction hash, computing it on
// first use. Mutating a Transaction after hashing invalidates the cache;
// callers must only hash fully-populated, immutable transactions.
func (tx *Transaction) Hash() Hash {
	if tx.hashSet {
		return tx.hash
	}
	h := HashBytes(EncodeTxSigningBytes(tx))
	tx.hash = h
	tx.hashSet = true
	return h
}

// BlockHeader is everything a block commits to except the body; the
// producer signs over the canonical encoding of every field but Signature.
type BlockHeader struct {
	Height            uint64
	Slot              uint64
	Timestamp         int64
	PreviousBlockHash Hash
	MerkleRoot        Hash
	Producer          Address
	ProducerSetVer    uint32
	Signature         []byte
}

// Block is header + ordered, bounded transaction body.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction

	hash    Hash
	hashSet bool
}

// Hash returns the cached Blake3 digest of the canonical header
// serialization (§3 Block Identity).
func (b *Block) Hash() Hash {
	if b.hashSet {
		return b.hash
	}
	h := HashBytes(EncodeBlockHeaderSigningBytes(&b.Header))
	b.hash = h
	b.hashSet = true
	return h
}

// AccountState is the World State entry for a single Address.
type AccountState struct {
	Balance Amount
	Nonce   uint64
}

// ChainHead is the (height, block-hash) pair of the current best-known
// chain tip (§3 Chain Head).
type ChainHead struct {
	Height uint64
	Hash   Hash
}

// Wire message tags, canonical codec per §4.2/§6.
const (
	TagBlockAnnounce byte = 0x01
	TagBlockRequest  byte = 0x02
	TagBlockResponse byte = 0x03
	TagTxAnnounce    byte = 0x04
	TagHeadQuery     byte = 0x05
	TagHeadReply     byte = 0x06
)

// Envelope is the canonical wire message wrapper: {tag byte, payload []byte}.
type Envelope struct {
	Tag     byte
	Payload []byte
}

// HeadReply is the payload of a TagHeadReply message.
type HeadReply struct {
	Height uint64
	Hash   Hash
}

// BlockResponse is the payload of a TagBlockResponse message; NotFound is
// true when the requested block is unknown to the responder.
type BlockResponse struct {
	Block    *Block
	NotFound bool
}

// GenesisConfig is the chain configuration read once at startup (§6).
type GenesisConfig struct {
	ChainID            string
	GenesisTimestamp   int64
	SlotDuration       int64 // seconds
	InitialValidators  []Address
	InitialBalances    map[Address]Amount
	RewardInitial      Amount
	RewardHalvingEvery uint64
	MaxTxPerBlock      int
	MaxBlockBytes      int
	MaxReorgDepth      uint64
	MempoolCapacity    int
	FeeMinimum         Amount
	SkewTolerance      int64 // seconds
}

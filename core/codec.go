package core

// codec.go implements the canonical deterministic codec (§4.2): RLP-based
// encoding, grounded on core/ledger.go's rlp import and its length-prefixed
// WAL block records. RLP's canonical form already forbids the ambiguities
// §4.2 rules out (no leading zeros on integers, deterministic byte-string
// and sequence length prefixes, no map types), so it is adopted as-is
// rather than hand-rolling a fixed-width big-endian scheme.

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/solacechain/node/internal/errs"
)

// wireTransaction is the RLP-friendly shape of Transaction: fixed-size
// arrays become slices (RLP has no fixed-size array primitive) and Amount
// becomes two uint64 limbs.
type wireTransaction struct {
	Sender      []byte
	Recipient   []byte
	AmountLo    uint64
	AmountHi    uint64
	FeeLo       uint64
	FeeHi       uint64
	Nonce       uint64
	Timestamp   int64
	Purpose     []byte
	Signature   []byte
}

func toWireTx(tx *Transaction) wireTransaction {
	return wireTransaction{
		Sender:    tx.Sender[:],
		Recipient: tx.Recipient[:],
		AmountLo:  tx.Amount.Lo,
		AmountHi:  tx.Amount.Hi,
		FeeLo:     tx.Fee.Lo,
		FeeHi:     tx.Fee.Hi,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Purpose:   tx.Purpose,
		Signature: tx.Signature,
	}
}

func fromWireTx(w wireTransaction) (*Transaction, error) {
	if len(w.Sender) != len(Address{}) || len(w.Recipient) != len(Address{}) {
		return nil, errs.New(errs.KindMalformed, "codec: bad address length")
	}
	if len(w.Purpose) > MaxPurposeBytes {
		return nil, errs.New(errs.KindMalformed, "codec: purpose exceeds bound")
	}
	if len(w.Signature) > MaxSignatureBytes {
		return nil, errs.New(errs.KindMalformed, "codec: signature exceeds bound")
	}
	tx := &Transaction{
		Amount:    Amount{Lo: w.AmountLo, Hi: w.AmountHi},
		Fee:       Amount{Lo: w.FeeLo, Hi: w.FeeHi},
		Nonce:     w.Nonce,
		Timestamp: w.Timestamp,
		Purpose:   w.Purpose,
		Signature: w.Signature,
	}
	copy(tx.Sender[:], w.Sender)
	copy(tx.Recipient[:], w.Recipient)
	return tx, nil
}

// EncodeTxSigningBytes is the canonical serialization a transaction's
// signature is computed over: every field except Signature.
func EncodeTxSigningBytes(tx *Transaction) []byte {
	w := toWireTx(tx)
	w.Signature = nil
	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode tx signing bytes: %v", err))
	}
	return b
}

// EncodeTransaction is the full canonical encoding including Signature.
func EncodeTransaction(tx *Transaction) []byte {
	w := toWireTx(tx)
	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode tx: %v", err))
	}
	return b
}

// DecodeTransaction reverses EncodeTransaction, failing with Malformed on
// any size, range, or count violation.
func DecodeTransaction(b []byte) (*Transaction, error) {
	var w wireTransaction
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, errs.Wrap(errs.KindMalformed, err, "codec: decode tx")
	}
	return fromWireTx(w)
}

type wireBlockHeader struct {
	Height            uint64
	Slot              uint64
	Timestamp         int64
	PreviousBlockHash []byte
	MerkleRoot        []byte
	Producer          []byte
	ProducerSetVer    uint32
	Signature         []byte
}

func toWireHeader(h *BlockHeader) wireBlockHeader {
	return wireBlockHeader{
		Height:            h.Height,
		Slot:              h.Slot,
		Timestamp:         h.Timestamp,
		PreviousBlockHash: h.PreviousBlockHash[:],
		MerkleRoot:        h.MerkleRoot[:],
		Producer:          h.Producer[:],
		ProducerSetVer:    h.ProducerSetVer,
		Signature:         h.Signature,
	}
}

func fromWireHeader(w wireBlockHeader) (*BlockHeader, error) {
	if len(w.PreviousBlockHash) != len(Hash{}) || len(w.MerkleRoot) != len(Hash{}) || len(w.Producer) != len(Address{}) {
		return nil, errs.New(errs.KindMalformed, "codec: bad header field length")
	}
	h := &BlockHeader{
		Height:         w.Height,
		Slot:           w.Slot,
		Timestamp:      w.Timestamp,
		ProducerSetVer: w.ProducerSetVer,
		Signature:      w.Signature,
	}
	copy(h.PreviousBlockHash[:], w.PreviousBlockHash)
	copy(h.MerkleRoot[:], w.MerkleRoot)
	copy(h.Producer[:], w.Producer)
	return h, nil
}

// EncodeBlockHeaderSigningBytes is the canonical serialization the
// producer signs and the block hash is computed over: every header field
// except Signature.
func EncodeBlockHeaderSigningBytes(h *BlockHeader) []byte {
	w := toWireHeader(h)
	w.Signature = nil
	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode header signing bytes: %v", err))
	}
	return b
}

type wireBlock struct {
	Header wireBlockHeader
	Txs    []wireTransaction
}

// EncodeBlock is the full canonical block encoding (header + body).
func EncodeBlock(b *Block) []byte {
	w := wireBlock{Header: toWireHeader(&b.Header)}
	w.Txs = make([]wireTransaction, len(b.Transactions))
	for i, tx := range b.Transactions {
		w.Txs[i] = toWireTx(tx)
	}
	out, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode block: %v", err))
	}
	return out
}

// DecodeBlock reverses EncodeBlock, failing with Malformed on any size,
// range, or count violation.
func DecodeBlock(raw []byte, maxTx int, maxBytes int) (*Block, error) {
	if maxBytes > 0 && len(raw) > maxBytes {
		return nil, errs.New(errs.KindMalformed, "codec: block exceeds max bytes")
	}
	var w wireBlock
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return nil, errs.Wrap(errs.KindMalformed, err, "codec: decode block")
	}
	if maxTx > 0 && len(w.Txs) > maxTx {
		return nil, errs.New(errs.KindMalformed, "codec: tx count exceeds max")
	}
	hdr, err := fromWireHeader(w.Header)
	if err != nil {
		return nil, err
	}
	txs := make([]*Transaction, len(w.Txs))
	for i, wt := range w.Txs {
		tx, err := fromWireTx(wt)
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return &Block{Header: *hdr, Transactions: txs}, nil
}

// EncodeEnvelope produces the canonical wire wrapper {tag, payload}.
func EncodeEnvelope(e Envelope) []byte {
	out, err := rlp.EncodeToBytes(&e)
	if err != nil {
		panic(fmt.Sprintf("codec: encode envelope: %v", err))
	}
	return out
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := rlp.DecodeBytes(raw, &e); err != nil {
		return e, errs.Wrap(errs.KindMalformed, err, "codec: decode envelope")
	}
	return e, nil
}

type wireHeadReply struct {
	Height uint64
	Hash   []byte
}

// EncodeHeadReply encodes a HeadReply payload.
func EncodeHeadReply(h HeadReply) []byte {
	w := wireHeadReply{Height: h.Height, Hash: h.Hash[:]}
	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode head reply: %v", err))
	}
	return b
}

// DecodeHeadReply decodes a HeadReply payload.
func DecodeHeadReply(raw []byte) (HeadReply, error) {
	var w wireHeadReply
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return HeadReply{}, errs.Wrap(errs.KindMalformed, err, "codec: decode head reply")
	}
	if len(w.Hash) != len(Hash{}) {
		return HeadReply{}, errs.New(errs.KindMalformed, "codec: bad hash length")
	}
	var h HeadReply
	h.Height = w.Height
	copy(h.Hash[:], w.Hash)
	return h, nil
}

type wireBlockResponse struct {
	NotFound bool
	Block    []byte // nested canonical block encoding, empty when NotFound
}

// EncodeBlockResponse encodes a BlockResponse payload (§6 tag 0x03).
func EncodeBlockResponse(r BlockResponse) []byte {
	w := wireBlockResponse{NotFound: r.NotFound}
	if !r.NotFound && r.Block != nil {
		w.Block = EncodeBlock(r.Block)
	}
	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode block response: %v", err))
	}
	return b
}

// DecodeBlockResponse decodes a BlockResponse payload.
func DecodeBlockResponse(raw []byte, maxTx int, maxBytes int) (BlockResponse, error) {
	var w wireBlockResponse
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return BlockResponse{}, errs.Wrap(errs.KindMalformed, err, "codec: decode block response")
	}
	if w.NotFound || len(w.Block) == 0 {
		return BlockResponse{NotFound: true}, nil
	}
	b, err := DecodeBlock(w.Block, maxTx, maxBytes)
	if err != nil {
		return BlockResponse{}, err
	}
	return BlockResponse{Block: b}, nil
}

type wireHandshake struct {
	Magic   uint32
	Version uint32
	ChainID string
}

// EncodeHandshake encodes the connection handshake (§6): magic, protocol
// version, and chain-id, exchanged as the first stream message.
func EncodeHandshake(h Handshake) []byte {
	w := wireHandshake{Magic: h.Magic, Version: h.Version, ChainID: h.ChainID}
	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode handshake: %v", err))
	}
	return b
}

// DecodeHandshake reverses EncodeHandshake.
func DecodeHandshake(raw []byte) (Handshake, error) {
	var w wireHandshake
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return Handshake{}, errs.Wrap(errs.KindMalformed, err, "codec: decode handshake")
	}
	return Handshake{Magic: w.Magic, Version: w.Version, ChainID: w.ChainID}, nil
}

type wireGenesisBalance struct {
	Address []byte
	Lo      uint64
	Hi      uint64
}

type wireGenesisConfig struct {
	ChainID            string
	GenesisTimestamp   int64
	SlotDuration       int64
	InitialValidators  [][]byte
	InitialBalances    []wireGenesisBalance
	RewardInitialLo    uint64
	RewardInitialHi    uint64
	RewardHalvingEvery uint64
	MaxTxPerBlock      int64
	MaxBlockBytes      int64
	MaxReorgDepth      uint64
	MempoolCapacity    int64
	FeeMinimumLo       uint64
	FeeMinimumHi       uint64
	SkewTolerance      int64
}

// EncodeGenesisConfig is the canonical serialization of a GenesisConfig,
// hashed by internal/genesis to produce the Genesis Hash embedded in block
// 0 (§6). Balances are sorted by address so the encoding is independent of
// the input map's iteration order.
func EncodeGenesisConfig(cfg GenesisConfig) []byte {
	addrs := make([]Address, 0, len(cfg.InitialBalances))
	for a := range cfg.InitialBalances {
		addrs = append(addrs, a)
	}
	addrs = SortAddresses(addrs)

	w := wireGenesisConfig{
		ChainID:            cfg.ChainID,
		GenesisTimestamp:   cfg.GenesisTimestamp,
		SlotDuration:       cfg.SlotDuration,
		RewardInitialLo:    cfg.RewardInitial.Lo,
		RewardInitialHi:    cfg.RewardInitial.Hi,
		RewardHalvingEvery: cfg.RewardHalvingEvery,
		MaxTxPerBlock:      int64(cfg.MaxTxPerBlock),
		MaxBlockBytes:      int64(cfg.MaxBlockBytes),
		MaxReorgDepth:      cfg.MaxReorgDepth,
		MempoolCapacity:    int64(cfg.MempoolCapacity),
		FeeMinimumLo:       cfg.FeeMinimum.Lo,
		FeeMinimumHi:       cfg.FeeMinimum.Hi,
		SkewTolerance:      cfg.SkewTolerance,
	}
	for _, v := range cfg.InitialValidators {
		w.InitialValidators = append(w.InitialValidators, append([]byte(nil), v[:]...))
	}
	for _, a := range addrs {
		bal := cfg.InitialBalances[a]
		w.InitialBalances = append(w.InitialBalances, wireGenesisBalance{Address: append([]byte(nil), a[:]...), Lo: bal.Lo, Hi: bal.Hi})
	}

	b, err := rlp.EncodeToBytes(&w)
	if err != nil {
		panic(fmt.Sprintf("codec: encode genesis config: %v", err))
	}
	return b
}

package core

// transport.go implements the Transport abstraction (§4.10): broadcast of
// blocks/txs over gossipsub, direct peer streams for BlockRequest/
// BlockResponse, mDNS bootstrap, and connection handshake/lifecycle.
// Grounded on the teacher's core/network.go (NewNode's libp2p host +
// GossipSub setup, DialSeed, HandlePeerFound mDNS notifee, Subscribe/
// Broadcast topic plumbing), narrowed to the abstract contract §4.10
// specifies (broadcast(block), broadcast(tx), send(peer, msg), incoming
// message stream) and extended with the handshake (magic/version/chain-id)
// and per-peer damping cache §6/§4.10 require, which the teacher's
// network.go does not have. The Chain Controller depends only on the
// Inbound channel and the BroadcastBlock/BroadcastTx methods, never on libp2p types
// directly, per §4.10 "Transport surface is abstract."

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"github.com/solacechain/node/internal/errs"
)

const (
	// ProtocolMagic is the fixed handshake magic value (§6).
	ProtocolMagic uint32 = 0x534f4c43 // "SOLC"
	// ProtocolVersion is the current wire protocol version (§6).
	ProtocolVersion uint32 = 1

	blockTopicName = "solace/blocks/v1"
	txTopicName    = "solace/txs/v1"

	blockStreamProtocol protocol.ID = "/solace/blockreq/1.0.0"
	headStreamProtocol  protocol.ID = "/solace/headquery/1.0.0"
	handshakeProtocol   protocol.ID = "/solace/handshake/1.0.0"

	seenCacheSize = 4096
)

// InboundMessage pairs a decoded Envelope with the peer it arrived from, so
// the Chain Controller can feed rejections back to PeerHealth without
// knowing any peer-identity details itself.
type InboundMessage struct {
	PeerID  string
	Envelope Envelope
}

// Handshake is the first message exchanged on every connection (§6):
// magic, protocol version, and chain-id. Mismatch on any field disconnects.
type Handshake struct {
	Magic     uint32
	Version   uint32
	ChainID   string
}

// Transport is the libp2p-backed implementation of the abstract contract
// §4.10 describes. Connection lifecycle (dial, handshake, disconnect on
// handshake mismatch) and message deduplication are owned here; a failed
// dial or a dropped connection is logged and not retried. The Chain
// Controller only ever sees well-formed decoded messages on Inbound.
type Transport struct {
	host   host.Host
	pubsub *pubsub.PubSub
	chainID string

	// sessionID identifies this process's transport instance in logs; it has
	// no protocol meaning and is never sent on the wire.
	sessionID string

	blockTopic *pubsub.Topic
	txTopic    *pubsub.Topic
	blockSub   *pubsub.Subscription
	txSub      *pubsub.Subscription

	seen   *lru.Cache[string, struct{}]
	health *PeerHealth

	peersMu sync.RWMutex
	peers   map[peer.ID]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	Inbound chan InboundMessage

	blockRequestHandler func(h Hash) BlockResponse
	headQueryHandler    func() HeadReply
}

// NewTransport bootstraps a libp2p host, joins the block/tx gossipsub
// topics, registers the block-request stream handler and the mDNS
// discovery notifee, and dials any configured bootstrap peers. Grounded
// on core/network.go's NewNode.
func NewTransport(ctx context.Context, listenAddr string, chainID string, discoveryTag string, bootstrapPeers []string, health *PeerHealth, blockRequestHandler func(h Hash) BlockResponse, headQueryHandler func() HeadReply) (*Transport, error) {
	cctx, cancel := context.WithCancel(ctx)

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, errs.Wrap(errs.KindMalformed, err, "transport: create host")
	}

	ps, err := pubsub.NewGossipSub(cctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, errs.Wrap(errs.KindMalformed, err, "transport: create gossipsub")
	}

	seen, _ := lru.New[string, struct{}](seenCacheSize)

	t := &Transport{
		host:                h,
		pubsub:              ps,
		chainID:             chainID,
		sessionID:           uuid.New().String(),
		seen:                seen,
		health:              health,
		peers:               make(map[peer.ID]struct{}),
		ctx:                 cctx,
		cancel:              cancel,
		Inbound:             make(chan InboundMessage, 1024),
		blockRequestHandler: blockRequestHandler,
		headQueryHandler:    headQueryHandler,
	}

	blockTopic, err := ps.Join(blockTopicName)
	if err != nil {
		t.Close()
		return nil, errs.Wrap(errs.KindMalformed, err, "transport: join block topic")
	}
	txTopic, err := ps.Join(txTopicName)
	if err != nil {
		t.Close()
		return nil, errs.Wrap(errs.KindMalformed, err, "transport: join tx topic")
	}
	t.blockTopic, t.txTopic = blockTopic, txTopic

	blockSub, err := blockTopic.Subscribe()
	if err != nil {
		t.Close()
		return nil, errs.Wrap(errs.KindMalformed, err, "transport: subscribe block topic")
	}
	txSub, err := txTopic.Subscribe()
	if err != nil {
		t.Close()
		return nil, errs.Wrap(errs.KindMalformed, err, "transport: subscribe tx topic")
	}
	t.blockSub, t.txSub = blockSub, txSub

	go t.readLoop(t.blockSub)
	go t.readLoop(t.txSub)

	h.SetStreamHandler(blockStreamProtocol, t.handleBlockStream)
	h.SetStreamHandler(headStreamProtocol, t.handleHeadQueryStream)
	h.SetStreamHandler(handshakeProtocol, t.handleHandshakeStream)

	mdns.NewMdnsService(h, discoveryTag, t)

	logrus.WithFields(logrus.Fields{"session": t.sessionID, "peer_id": h.ID().String()}).Info("transport: listening")

	for _, addr := range bootstrapPeers {
		if err := t.dial(addr); err != nil {
			logrus.WithField("session", t.sessionID).Warnf("transport: dial seed %s: %v", addr, err)
		}
	}

	return t, nil
}

func (t *Transport) dial(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid addr %s: %w", addr, err)
	}
	if err := t.host.Connect(t.ctx, *pi); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	t.peersMu.Lock()
	t.peers[pi.ID] = struct{}{}
	t.peersMu.Unlock()
	return t.doHandshake(pi.ID)
}

// HandlePeerFound implements mdns.Notifee (§4.10 mDNS bootstrap).
func (t *Transport) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == t.host.ID() {
		return
	}
	t.peersMu.RLock()
	_, known := t.peers[info.ID]
	t.peersMu.RUnlock()
	if known {
		return
	}
	if err := t.host.Connect(t.ctx, info); err != nil {
		logrus.WithField("session", t.sessionID).Warnf("transport: mdns connect %s: %v", info.ID, err)
		return
	}
	t.peersMu.Lock()
	t.peers[info.ID] = struct{}{}
	t.peersMu.Unlock()
	if err := t.doHandshake(info.ID); err != nil {
		logrus.WithField("session", t.sessionID).Warnf("transport: mdns handshake %s: %v", info.ID, err)
	}
}

// doHandshake exchanges the fixed magic/version/chain-id (§6) as the first
// stream message on the connection; mismatch on any field disconnects.
func (t *Transport) doHandshake(p peer.ID) error {
	s, err := t.host.NewStream(t.ctx, p, handshakeProtocol)
	if err != nil {
		return fmt.Errorf("open handshake stream: %w", err)
	}
	defer s.Close()

	ours := Handshake{Magic: ProtocolMagic, Version: ProtocolVersion, ChainID: t.chainID}
	enc := EncodeHandshake(ours)
	if _, err := s.Write(enc); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	buf := make([]byte, 512)
	n, err := s.Read(buf)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	theirs, err := DecodeHandshake(buf[:n])
	if err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if theirs.Magic != ProtocolMagic || theirs.Version != ProtocolVersion || theirs.ChainID != t.chainID {
		t.host.Network().ClosePeer(p)
		return fmt.Errorf("handshake mismatch with %s", p)
	}
	return nil
}

func (t *Transport) handleHandshakeStream(s network.Stream) {
	defer s.Close()
	buf := make([]byte, 512)
	n, err := s.Read(buf)
	if err != nil {
		return
	}
	theirs, err := DecodeHandshake(buf[:n])
	if err != nil || theirs.Magic != ProtocolMagic || theirs.Version != ProtocolVersion || theirs.ChainID != t.chainID {
		s.Reset()
		return
	}
	ours := Handshake{Magic: ProtocolMagic, Version: ProtocolVersion, ChainID: t.chainID}
	s.Write(EncodeHandshake(ours))
}

func (t *Transport) handleBlockStream(s network.Stream) {
	defer s.Close()
	peerID := s.Conn().RemotePeer().String()

	buf := make([]byte, 64)
	n, err := s.Read(buf)
	if err != nil {
		return
	}
	env, err := DecodeEnvelope(buf[:n])
	if err != nil || env.Tag != TagBlockRequest {
		return
	}
	var h Hash
	copy(h[:], env.Payload)

	resp := t.blockRequestHandler(h)
	respEnv := Envelope{Tag: TagBlockResponse, Payload: EncodeBlockResponse(resp)}
	s.Write(EncodeEnvelope(respEnv))
	if t.health != nil {
		t.health.RecordSuccess(peerID)
	}
}

func (t *Transport) handleHeadQueryStream(s network.Stream) {
	defer s.Close()
	buf := make([]byte, 64)
	n, err := s.Read(buf)
	if err != nil {
		return
	}
	env, err := DecodeEnvelope(buf[:n])
	if err != nil || env.Tag != TagHeadQuery {
		return
	}
	reply := t.headQueryHandler()
	respEnv := Envelope{Tag: TagHeadReply, Payload: EncodeHeadReply(reply)}
	s.Write(EncodeEnvelope(respEnv))
}

// QueryHead opens a direct stream to peerID and requests its current chain
// head (§6 HeadQuery/HeadReply).
func (t *Transport) QueryHead(peerID peer.ID) (HeadReply, error) {
	s, err := t.host.NewStream(t.ctx, peerID, headStreamProtocol)
	if err != nil {
		return HeadReply{}, fmt.Errorf("transport: open head query stream: %w", err)
	}
	defer s.Close()

	req := Envelope{Tag: TagHeadQuery}
	if _, err := s.Write(EncodeEnvelope(req)); err != nil {
		return HeadReply{}, fmt.Errorf("transport: write head query: %w", err)
	}
	buf := make([]byte, 128)
	n, err := s.Read(buf)
	if err != nil {
		return HeadReply{}, fmt.Errorf("transport: read head reply: %w", err)
	}
	env, err := DecodeEnvelope(buf[:n])
	if err != nil || env.Tag != TagHeadReply {
		return HeadReply{}, fmt.Errorf("transport: malformed head reply")
	}
	return DecodeHeadReply(env.Payload)
}

// readLoop drains a gossipsub subscription, applies the seen-hash damping
// cache (§4.10 "at-most-once-per-(peer,hash)"), decodes, and forwards well-
// formed envelopes to Inbound.
func (t *Transport) readLoop(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(t.ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == t.host.ID() {
			continue
		}
		peerID := msg.GetFrom().String()
		key := peerID + ":" + HashBytes(msg.Data).String()
		if _, dup := t.seen.Get(key); dup {
			continue
		}
		t.seen.Add(key, struct{}{})

		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			if t.health != nil {
				t.health.RecordRejection(peerID)
			}
			continue
		}
		select {
		case t.Inbound <- InboundMessage{PeerID: peerID, Envelope: env}:
		case <-t.ctx.Done():
			return
		}
	}
}

// BroadcastBlock publishes a BlockAnnounce envelope to the block topic
// (§4.10 broadcast(block)).
func (t *Transport) BroadcastBlock(b *Block) error {
	env := Envelope{Tag: TagBlockAnnounce, Payload: EncodeBlock(b)}
	return t.blockTopic.Publish(t.ctx, EncodeEnvelope(env))
}

// BroadcastTx publishes a TxAnnounce envelope to the tx topic (§4.10
// broadcast(tx)).
func (t *Transport) BroadcastTx(tx *Transaction) error {
	env := Envelope{Tag: TagTxAnnounce, Payload: EncodeTransaction(tx)}
	return t.txTopic.Publish(t.ctx, EncodeEnvelope(env))
}

// RequestBlock opens a direct stream to peerID and requests the block with
// hash h, per the BlockRequest/BlockResponse pair in §6.
func (t *Transport) RequestBlock(peerID peer.ID, h Hash) (BlockResponse, error) {
	s, err := t.host.NewStream(t.ctx, peerID, blockStreamProtocol)
	if err != nil {
		return BlockResponse{}, fmt.Errorf("transport: open block stream: %w", err)
	}
	defer s.Close()

	req := Envelope{Tag: TagBlockRequest, Payload: h[:]}
	if _, err := s.Write(EncodeEnvelope(req)); err != nil {
		return BlockResponse{}, fmt.Errorf("transport: write block request: %w", err)
	}
	buf := make([]byte, 1<<22)
	n, err := s.Read(buf)
	if err != nil {
		return BlockResponse{}, fmt.Errorf("transport: read block response: %w", err)
	}
	env, err := DecodeEnvelope(buf[:n])
	if err != nil || env.Tag != TagBlockResponse {
		return BlockResponse{}, fmt.Errorf("transport: malformed block response")
	}
	return DecodeBlockResponse(env.Payload, 0, 0)
}

// Peers returns the currently known peer IDs as strings.
func (t *Transport) Peers() []string {
	t.peersMu.RLock()
	defer t.peersMu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for p := range t.peers {
		out = append(out, p.String())
	}
	return out
}

// Close tears down the host and stops all background goroutines.
func (t *Transport) Close() error {
	t.cancel()
	return t.host.Close()
}

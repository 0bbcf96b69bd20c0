package core

// controller.go implements the Chain Controller (§4.8): the single
// cooperative state machine that serially processes Tick, IncomingBlock,
// IncomingTransaction, and LocalTransaction events from one bounded
// channel, per §5's single-threaded-per-chain-instance model. Grounded on
// the teacher's sub-block production/endorsement loop in core/consensus.go
// (drain pool, assemble, sign, broadcast) and its SetBroadcaster/Broadcast
// event plumbing in core/network.go, generalized from the teacher's PoH/
// PoW sub-block cadence into the production/ingest/fork/tx-ingest paths
// §4.8 names and the bounded-queue backpressure policy §5 specifies.

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solacechain/node/internal/errs"
)

// eventKind discriminates controllerEvent without runtime type assertion
// on the hot path, so backpressure coalescing (§5) can inspect kind
// cheaply when the queue is full.
type eventKind uint8

const (
	eventTick eventKind = iota
	eventIncomingBlock
	eventIncomingTransaction
	eventLocalTransaction
)

type controllerEvent struct {
	kind   eventKind
	slot   uint64
	block  *Block
	tx     *Transaction
	peerID string
}

// eventQueueCapacity bounds the Chain Controller's single input channel
// (§5 "the event queue is bounded").
const eventQueueCapacity = 4096

// Controller is the Chain Controller: the sole owner of World State,
// Store-write access, and the Mempool (§5 "Shared resources"). All
// mutation happens on its single goroutine inside Run.
type Controller struct {
	store     *Store
	mempool   *Mempool
	state     *WorldState
	validators *ValidatorSet
	validator *BlockValidator
	assembler *Assembler
	fork      *ForkResolver
	orphans   *OrphanPool
	transport *Transport
	slotClock *SlotClock
	health    *PeerHealth

	signer   Signer
	ownAddr  Address
	producerKeys ProducerKeyFn
	verifyTx VerifyFn

	cfg GenesisConfig

	mu           sync.Mutex
	head         ChainHead
	producedSlot uint64 // highest slot a block has already been produced for

	events chan controllerEvent
	tickCh chan uint64

	shutdownOnce sync.Once
	done         chan struct{}
}

// ControllerDeps bundles everything the Chain Controller needs at
// construction; every field is a component built earlier in the pipeline
// (§4.1-§4.10), wired here rather than constructed inline so the
// controller itself stays a pure orchestrator.
type ControllerDeps struct {
	Store      *Store
	Mempool    *Mempool
	State      *WorldState
	Validators *ValidatorSet
	Validator  *BlockValidator
	Assembler  *Assembler
	Fork       *ForkResolver
	Orphans    *OrphanPool
	Transport  *Transport
	SlotClock  *SlotClock
	Health     *PeerHealth
	Signer     Signer
	OwnAddr    Address
	ProducerKeys ProducerKeyFn
	VerifyTx   VerifyFn
	Config     GenesisConfig
}

// NewController wires a Controller from its dependencies and seeds its
// head from whatever the Store currently holds (set by startup replay).
func NewController(d ControllerDeps) (*Controller, error) {
	head, ok := d.Store.Head()
	if !ok {
		return nil, errs.New(errs.KindStoreCorruption, "controller: store has no head at startup")
	}
	c := &Controller{
		store:        d.Store,
		mempool:      d.Mempool,
		state:        d.State,
		validators:   d.Validators,
		validator:    d.Validator,
		assembler:    d.Assembler,
		fork:         d.Fork,
		orphans:      d.Orphans,
		transport:    d.Transport,
		slotClock:    d.SlotClock,
		health:       d.Health,
		signer:       d.Signer,
		ownAddr:      d.OwnAddr,
		producerKeys: d.ProducerKeys,
		verifyTx:     d.VerifyTx,
		cfg:          d.Config,
		head:         head,
		events:       make(chan controllerEvent, eventQueueCapacity),
		tickCh:       make(chan uint64, 1),
		done:         make(chan struct{}),
	}
	return c, nil
}

// enqueue applies §5's backpressure policy to the event queue: on overflow
// transactions and non-head-extending blocks are dropped. Ticks do not pass
// through here; they arrive on tickCh, which buffers a single slot.
// Head-extending blocks are never dropped: enqueue waits until the queue
// has room and returns false only once the controller has shut down. It
// does not mark the process unhealthy or start a shutdown itself.
func (c *Controller) enqueue(ev controllerEvent) (accepted bool) {
	select {
	case c.events <- ev:
		return true
	default:
	}

	switch ev.kind {
	case eventLocalTransaction, eventIncomingTransaction:
		logrus.Warn("controller: event queue full, dropping transaction")
		return false
	case eventIncomingBlock:
		c.mu.Lock()
		extendsHead := ev.block != nil && ev.block.Header.PreviousBlockHash == c.head.Hash
		c.mu.Unlock()
		if !extendsHead {
			logrus.Warn("controller: event queue full, dropping non-head-extending block")
			return false
		}
		// Head-extending blocks are never dropped: block until the queue
		// drains or the controller is shutting down.
		select {
		case c.events <- ev:
			return true
		case <-c.done:
			return false
		}
	}
	return false
}

// SubmitLocalTransaction is the entry point external submitters use
// (§4.8 LocalTransaction event).
func (c *Controller) SubmitLocalTransaction(tx *Transaction) {
	c.enqueue(controllerEvent{kind: eventLocalTransaction, tx: tx})
}

// SubmitIncomingTransaction is the entry point transport uses for
// gossiped transactions (§4.8 IncomingTransaction event).
func (c *Controller) SubmitIncomingTransaction(tx *Transaction, peerID string) {
	c.enqueue(controllerEvent{kind: eventIncomingTransaction, tx: tx, peerID: peerID})
}

// SubmitIncomingBlock is the entry point transport uses for gossiped or
// requested blocks (§4.8 IncomingBlock event).
func (c *Controller) SubmitIncomingBlock(b *Block, peerID string) {
	c.enqueue(controllerEvent{kind: eventIncomingBlock, block: b, peerID: peerID})
}

// Run drains the event queue until ctx is cancelled, processing events
// strictly serially (§5 "all Chain Controller events are processed
// sequentially from a single input queue"). It also drains coalesced
// ticks and transport's Inbound channel, translating the latter into
// IncomingBlock/IncomingTransaction events.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	var inbound <-chan InboundMessage
	if c.transport != nil {
		inbound = c.transport.Inbound
	}
	go c.slotClock.Run(ctx, c.tickCh)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case ev := <-c.events:
			c.process(ev)
		case slot := <-c.tickCh:
			c.process(controllerEvent{kind: eventTick, slot: slot})
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			c.dispatchInbound(msg)
		}
	}
}

// shutdown implements §5's graceful cancellation: no further events are
// processed (Run returns right after this, and its deferred close of done
// releases any enqueue waiting on a head-extending block), and the Store
// is closed. In-flight production is simply abandoned — no partial
// block is ever persisted because production never calls store.PutBlock
// until every step has succeeded.
func (c *Controller) shutdown() {
	c.shutdownOnce.Do(func() {
		if err := c.store.Close(); err != nil {
			logrus.Errorf("controller: store close on shutdown: %v", err)
		}
	})
}

func (c *Controller) dispatchInbound(msg InboundMessage) {
	switch msg.Envelope.Tag {
	case TagBlockAnnounce:
		b, err := DecodeBlock(msg.Envelope.Payload, c.cfg.MaxTxPerBlock, c.cfg.MaxBlockBytes)
		if err != nil {
			if c.health != nil {
				c.health.RecordRejection(msg.PeerID)
			}
			return
		}
		c.enqueue(controllerEvent{kind: eventIncomingBlock, block: b, peerID: msg.PeerID})
	case TagTxAnnounce:
		tx, err := DecodeTransaction(msg.Envelope.Payload)
		if err != nil {
			if c.health != nil {
				c.health.RecordRejection(msg.PeerID)
			}
			return
		}
		c.enqueue(controllerEvent{kind: eventIncomingTransaction, tx: tx, peerID: msg.PeerID})
	}
}

// HeadQueryHandler answers a transport-level HeadQuery with the
// controller's current head. cmd/solaced builds the Controller first
// (ControllerDeps.Transport left nil), passes this method and
// BlockRequestHandler to NewTransport, then attaches the Transport with
// SetTransport.
func (c *Controller) HeadQueryHandler() HeadReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HeadReply{Height: c.head.Height, Hash: c.head.Hash}
}

// BlockRequestHandler answers a transport-level BlockRequest from the
// Store. See HeadQueryHandler's note on construction order.
func (c *Controller) BlockRequestHandler(h Hash) BlockResponse {
	b, ok := c.store.GetBlockByHash(h)
	if !ok {
		return BlockResponse{NotFound: true}
	}
	return BlockResponse{Block: b}
}

// SetTransport wires a Transport constructed after the Controller (the
// Transport's stream handlers are this Controller's HeadQueryHandler and
// BlockRequestHandler, so it is attached here once both exist).
func (c *Controller) SetTransport(t *Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// process is the single dispatch point every event passes through,
// guaranteeing the pointwise invariants §5 relies on.
func (c *Controller) process(ev controllerEvent) {
	switch ev.kind {
	case eventTick:
		c.onTick(ev.slot)
	case eventIncomingBlock:
		c.onIncomingBlock(ev.block, ev.peerID)
	case eventIncomingTransaction:
		c.onIncomingTransaction(ev.tx, ev.peerID, true)
	case eventLocalTransaction:
		c.onIncomingTransaction(ev.tx, "", false)
	}
}

// onTick implements §4.8's Tick handling: if the local node is leader for
// the current slot and no block has yet been produced at this height for
// this slot, produce.
func (c *Controller) onTick(slot uint64) {
	sorted := c.validators.Sorted()
	leader, ok := Leader(slot, sorted)
	if !ok || leader != c.ownAddr {
		return
	}
	if slot <= c.producedSlot {
		return
	}
	c.produce(slot)
}

// produce implements §4.8's production path, steps 1-7. Any failure in
// steps 3-6 aborts the whole attempt; mempool and store remain unchanged.
func (c *Controller) produce(slot uint64) {
	c.mu.Lock()
	head := c.head
	c.mu.Unlock()

	trial := c.state.Clone()
	b, err := c.assembler.Assemble(c.mempool, trial, head, slot, c.ownAddr, c.signer, time.Now())
	if err != nil {
		logrus.Errorf("controller: block assembly failed: %v", err)
		return
	}

	if err := c.state.ApplyBlock(b); err != nil {
		logrus.Errorf("controller: apply assembled block failed: %v", err)
		return
	}
	if err := c.commitAccepted(b); err != nil {
		logrus.Errorf("controller: commit produced block failed: %v", err)
		return
	}
	c.producedSlot = slot

	hashes := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	c.mempool.Remove(hashes)

	if c.transport != nil {
		if err := c.transport.BroadcastBlock(b); err != nil {
			logrus.Warnf("controller: broadcast produced block: %v", err)
		}
	}
}

// commitAccepted persists b, advances head, and applies the resulting
// account snapshot — the shared tail of both the production path (steps
// 5) and the direct-extension ingest path (§4.8 ingest step 2).
func (c *Controller) commitAccepted(b *Block) error {
	if err := c.store.PutBlock(b); err != nil {
		return err
	}
	if err := c.store.SetHead(b.Header.Height, b.Hash()); err != nil {
		return err
	}
	entries := make([]AccountEntry, 0, len(b.Transactions)+1)
	for addr, st := range c.state.Snapshot() {
		entries = append(entries, AccountEntry{Address: addr, State: st})
	}
	if err := c.store.ApplyAccounts(entries); err != nil {
		return err
	}
	c.mu.Lock()
	c.head = ChainHead{Height: b.Header.Height, Hash: b.Hash()}
	c.mu.Unlock()
	c.observeCommitted(b)
	return nil
}

// observeCommitted records b's producer in the validator set and re-admits
// any orphan children of b now that b is committed — the bookkeeping every
// path that commits a block must perform, regardless of whether the block
// arrived via direct extension or a fork switch, so that two nodes which
// received the same blocks through different paths end up with the same
// validator-set view and the same Leader() computation (§4.6/§8 "Leader
// determinism").
func (c *Controller) observeCommitted(b *Block) {
	c.validators.ObserveProducer(b.Header.Producer)
	if children := c.orphans.TakeChildren(b.Hash()); len(children) > 0 {
		// Re-enqueue as IncomingBlock (§4.8 step 4): processed inline via
		// onIncomingBlock rather than sent back through c.events, since
		// this runs on the controller's own processing call and a blocking
		// send back into its own bounded channel would risk deadlock if the
		// queue happened to be full.
		for _, child := range children {
			c.onIncomingBlock(child, "")
		}
	}
}

// onIncomingBlock implements §4.8's ingest path.
func (c *Controller) onIncomingBlock(b *Block, peerID string) {
	if b == nil {
		return
	}
	if c.store.HasBlock(b.Hash()) {
		return
	}
	if !c.store.HasBlock(b.Header.PreviousBlockHash) {
		// Parent unknown: buffer until observeCommitted re-admits it.
		c.orphans.Add(b)
		return
	}

	c.mu.Lock()
	head := c.head
	c.mu.Unlock()

	if b.Header.PreviousBlockHash == head.Hash {
		c.ingestDirectExtension(b, head, peerID)
		return
	}
	c.ingestFork(b, head, peerID)
}

func (c *Controller) ingestDirectExtension(b *Block, head ChainHead, peerID string) {
	parent, ok := c.store.GetBlockByHash(head.Hash)
	if !ok {
		return
	}
	maxAcceptedSlot := c.slotClock.Now() + uint64(c.cfg.SkewTolerance/int64FromDuration(c.slotClock.Duration()))
	trial := c.state.Clone()
	verdict, err := c.validator.Validate(b, parent, true, c.validators.Sorted(), c.producerKeys, c.verifyTx, trial, maxAcceptedSlot, time.Now())
	switch verdict {
	case VerdictOrphan:
		c.orphans.Add(b)
		return
	case VerdictReject:
		if c.health != nil && peerID != "" {
			c.health.RecordRejection(peerID)
		}
		logrus.Warnf("controller: rejected incoming block height=%d: %v", b.Header.Height, err)
		return
	}

	c.state = trial
	if err := c.commitAccepted(b); err != nil {
		logrus.Errorf("controller: commit ingested block failed: %v", err)
		return
	}
	if c.health != nil && peerID != "" {
		c.health.RecordSuccess(peerID)
	}
	hashes := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	c.mempool.Remove(hashes)
	if c.transport != nil {
		if err := c.transport.BroadcastBlock(b); err != nil {
			logrus.Warnf("controller: rebroadcast ingested block: %v", err)
		}
	}
}

// ingestFork implements §4.9's entry point: locate the common ancestor,
// compare heights, and on H_theirs > H_ours run the switch protocol.
func (c *Controller) ingestFork(b *Block, head ChainHead, peerID string) {
	headBlock, ok := c.store.GetBlockByHash(head.Hash)
	if !ok {
		return
	}
	ancestor, err := c.fork.FindCommonAncestor(headBlock, b, c.lookupBlock)
	if err != nil {
		if c.health != nil && peerID != "" {
			c.health.RecordRejection(peerID)
		}
		logrus.Warnf("controller: fork rejected, no common ancestor: %v", err)
		return
	}

	if Evaluate(head.Height, b.Header.Height) == DecisionKeep {
		// Our chain remains best; store b for possible future extension
		// but otherwise do nothing (§4.9 step 2).
		_ = c.store.PutBlock(b)
		return
	}

	candidateBranch := c.collectBranch(ancestor, b)
	discardedBranch := c.collectBranch(ancestor, headBlock)
	genesisToAncestor := c.store.IterBlocksFrom(0)
	// Trim to the ancestor's height inclusive.
	for i, blk := range genesisToAncestor {
		if blk.Hash() == ancestor.Hash() {
			genesisToAncestor = genesisToAncestor[:i+1]
			break
		}
	}

	result, err := ValidateAndSwitch(
		genesisToAncestor, candidateBranch, discardedBranch,
		func(blk *Block, parent *Block, trial *WorldState) error {
			maxAcceptedSlot := c.slotClock.Now() + uint64(c.cfg.SkewTolerance/int64FromDuration(c.slotClock.Duration()))
			verdict, verr := c.validator.Validate(blk, parent, true, c.validators.Sorted(), c.producerKeys, c.verifyTx, trial, maxAcceptedSlot, time.Now())
			if verdict != VerdictAccept {
				return verr
			}
			return nil
		},
		c.cfg.RewardInitial, c.cfg.RewardHalvingEvery,
	)
	if err != nil {
		logrus.Warnf("controller: fork switch aborted: %v", err)
		_ = c.store.PutBlock(b)
		return
	}

	for _, blk := range candidateBranch {
		_ = c.store.PutBlock(blk)
	}
	c.state = result.NewState
	entries := make([]AccountEntry, 0, len(result.NewState.Snapshot()))
	for addr, st := range result.NewState.Snapshot() {
		entries = append(entries, AccountEntry{Address: addr, State: st})
	}
	if err := c.store.ApplyAccounts(entries); err != nil {
		logrus.Errorf("controller: fork switch apply accounts failed: %v", err)
		return
	}
	if err := c.store.SetHead(result.NewHead.Header.Height, result.NewHead.Hash()); err != nil {
		logrus.Errorf("controller: fork switch set head failed: %v", err)
		return
	}
	c.mu.Lock()
	c.head = ChainHead{Height: result.NewHead.Header.Height, Hash: result.NewHead.Hash()}
	c.mu.Unlock()

	// Same bookkeeping commitAccepted performs per block, replayed over the
	// whole winning branch: a node that ingests these blocks via fork switch
	// must end up with the same validator-set/orphan-pool state as a node
	// that received them one at a time via direct extension.
	for _, blk := range candidateBranch {
		c.observeCommitted(blk)
	}

	for _, tx := range result.Reintroduce {
		_ = c.mempool.Admit(tx, c.verifyTx, time.Now())
	}
}

func (c *Controller) collectBranch(ancestor *Block, tip *Block) []*Block {
	var out []*Block
	cur := tip
	for cur.Hash() != ancestor.Hash() {
		out = append([]*Block{cur}, out...)
		parent, ok := c.lookupBlock(cur.Header.PreviousBlockHash)
		if !ok {
			break
		}
		cur = parent
	}
	return out
}

func (c *Controller) lookupBlock(h Hash) (*Block, bool) {
	return c.store.GetBlockByHash(h)
}

// onIncomingTransaction implements §4.8's transaction ingest path:
// admit, and on success and novelty, re-broadcast.
func (c *Controller) onIncomingTransaction(tx *Transaction, peerID string, fromPeer bool) {
	if tx == nil {
		return
	}
	wasKnown := c.mempool.Has(tx.Hash())
	err := c.mempool.Admit(tx, c.verifyTx, time.Now())
	if err != nil {
		if fromPeer && c.health != nil && peerID != "" {
			c.health.RecordRejection(peerID)
		}
		return
	}
	if fromPeer && c.health != nil && peerID != "" {
		c.health.RecordSuccess(peerID)
	}
	if !wasKnown && c.transport != nil {
		if err := c.transport.BroadcastTx(tx); err != nil {
			logrus.Warnf("controller: broadcast tx: %v", err)
		}
	}
}

func int64FromDuration(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	return int64(d / time.Second)
}

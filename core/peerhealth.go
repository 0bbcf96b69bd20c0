package core

// peerhealth.go implements peer health scoring (§9 "Peer health scoring":
// EWMA-based peer RTT/miss tracking feeding the peer-scoring signal §7
// mentions — "repeated rejections from the same peer feed a peer-scoring
// signal ... owned by transport"). Grounded on core/common_structs.go's
// HealthChecker/peerStat fields (latency sample + failure counter per
// peer), generalized to an EWMA and exposed as the Transport's rejection-
// feedback hook.

import (
	"sync"
	"time"
)

// peerStat tracks one peer's rolling health signal.
type peerStat struct {
	rttEWMA    time.Duration
	rejections uint32
	successes  uint32
	lastSeen   time.Time
}

// peerHealthAlpha weights the most recent RTT sample against history.
const peerHealthAlpha = 0.2

// PeerHealth scores peers by round-trip latency and validation-rejection
// history, so the Transport can prioritize or disconnect misbehaving
// peers without the Chain Controller knowing any peer-identity details.
type PeerHealth struct {
	mu    sync.Mutex
	stats map[string]*peerStat
}

// NewPeerHealth constructs an empty tracker.
func NewPeerHealth() *PeerHealth {
	return &PeerHealth{stats: make(map[string]*peerStat)}
}

func (h *PeerHealth) stat(peerID string) *peerStat {
	s, ok := h.stats[peerID]
	if !ok {
		s = &peerStat{}
		h.stats[peerID] = s
	}
	return s
}

// RecordRTT folds a fresh round-trip sample into the peer's EWMA.
func (h *PeerHealth) RecordRTT(peerID string, rtt time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stat(peerID)
	if s.rttEWMA == 0 {
		s.rttEWMA = rtt
	} else {
		s.rttEWMA = time.Duration(float64(s.rttEWMA)*(1-peerHealthAlpha) + float64(rtt)*peerHealthAlpha)
	}
	s.lastSeen = time.Now()
}

// RecordRejection notes that a block or transaction received from peerID
// was rejected by the Block Validator or Mempool.
func (h *PeerHealth) RecordRejection(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stat(peerID).rejections++
}

// RecordSuccess notes that a block or transaction received from peerID was
// accepted.
func (h *PeerHealth) RecordSuccess(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stat(peerID).successes++
}

// Score returns a value in [0,1]; lower means worse-behaved or slower.
// 1.0 for an unseen peer (benefit of the doubt).
func (h *PeerHealth) Score(peerID string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stats[peerID]
	if !ok {
		return 1.0
	}
	total := s.rejections + s.successes
	if total == 0 {
		return 1.0
	}
	return float64(s.successes) / float64(total)
}

// ShouldDisconnect reports whether peerID's rejection rate has crossed the
// threshold at which Transport should drop the connection.
func (h *PeerHealth) ShouldDisconnect(peerID string, minSamples uint32, maxScore float64) bool {
	h.mu.Lock()
	s, ok := h.stats[peerID]
	total := uint32(0)
	if ok {
		total = s.rejections + s.successes
	}
	h.mu.Unlock()
	if total < minSamples {
		return false
	}
	return h.Score(peerID) < maxScore
}

// Package errs provides the typed error-kind taxonomy used across the node.
//
// It follows the teacher's own wrap-with-context idiom (pkg/utils.Wrap) but
// adds a closed set of Kind constants so callers can dispatch on the failure
// category instead of string-matching error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. Callers switch on Kind, never on the
// error string.
type Kind string

const (
	// Input errors: surfaced to the caller (mempool admission, transport),
	// logged, and never abort the controller.
	KindMalformed      Kind = "malformed"
	KindBadSignature   Kind = "bad_signature"
	KindFeeTooLow      Kind = "fee_too_low"
	KindOversize       Kind = "oversize"
	KindTimestampSkew  Kind = "timestamp_skew"
	KindDuplicateTx    Kind = "duplicate_tx"
	KindDuplicateNonce Kind = "duplicate_nonce"
	KindMempoolFull    Kind = "mempool_full"

	// Consensus rejections: reject the block, log with producer address,
	// never propagate further.
	KindBadLinkage     Kind = "bad_linkage"
	KindWrongLeader    Kind = "wrong_leader"
	KindMerkleMismatch Kind = "merkle_mismatch"
	KindInvalidTx      Kind = "invalid_tx"
	KindRewardMismatch Kind = "reward_mismatch"
	KindFutureSlot     Kind = "future_slot"
	KindDeepReorg      Kind = "deep_reorg"
	KindAlreadyPresent Kind = "already_present"
	KindOrphan         Kind = "orphan"

	// Local faults: surface to the controller, which performs a clean
	// shutdown. A partial block or partial accounts batch must never be
	// visible after restart.
	KindKeyExhausted    Kind = "key_exhausted"
	KindStoreCorruption Kind = "store_corruption"
	KindOverflowInApply Kind = "overflow_in_apply"
	KindQueueOverflow   Kind = "queue_overflow"
)

// KindError wraps a cause with a dispatchable Kind.
type KindError struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *KindError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindError) Unwrap() error { return e.Cause }

// New builds a KindError with no wrapped cause.
func New(kind Kind, msg string) error {
	return &KindError{Kind: kind, Msg: msg}
}

// Wrap attaches a Kind and message to an existing error, preserving it for
// errors.Is/As. Mirrors pkg/utils.Wrap's "wrap with context, never
// stringly-compare" idiom, plus the typed kind the core needs for dispatch.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Msg: message, Cause: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

package errs_test

import (
	"errors"
	"testing"

	"github.com/solacechain/node/internal/errs"
)

func TestNewCarriesKind(t *testing.T) {
	err := errs.New(errs.KindOrphan, "parent unknown")
	if !errs.Is(err, errs.KindOrphan) {
		t.Fatalf("expected Is to report true for the kind New was constructed with")
	}
	if errs.KindOf(err) != errs.KindOrphan {
		t.Fatalf("expected KindOf to return %q, got %q", errs.KindOrphan, errs.KindOf(err))
	}
}

func TestWrapNilShortCircuits(t *testing.T) {
	if err := errs.Wrap(errs.KindStoreCorruption, nil, "should not happen"); err != nil {
		t.Fatalf("expected Wrap(kind, nil, msg) to return nil, got %v", err)
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := errs.Wrap(errs.KindStoreCorruption, cause, "write wal")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
	if !errs.Is(err, errs.KindStoreCorruption) {
		t.Fatalf("expected Is to report the wrapping Kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if errs.Is(errors.New("plain"), errs.KindOrphan) {
		t.Fatalf("expected Is to report false for an error with no Kind")
	}
}

func TestIsFalseForMismatchedKind(t *testing.T) {
	err := errs.New(errs.KindOrphan, "x")
	if errs.Is(err, errs.KindDeepReorg) {
		t.Fatalf("expected Is to report false for a different Kind")
	}
}

func TestKindOfEmptyForPlainError(t *testing.T) {
	if k := errs.KindOf(errors.New("plain")); k != "" {
		t.Fatalf("expected empty Kind for a plain error, got %q", k)
	}
}

func TestErrorStringIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("eof")
	err := errs.Wrap(errs.KindMalformed, cause, "decode tx")
	if got := err.Error(); got == "" {
		t.Fatalf("expected a non-empty error string")
	}
}

package core

import (
	"fmt"
	"math/big"
	"math/bits"
)

// amount.go implements checked 128-bit unsigned arithmetic on Amount.
//
// The teacher uses math/big.Int for its InitialReward constant
// (core/consensus.go's init()), but consensus-critical arithmetic must be
// bit-exact and allocation-free across every node, so Amount is narrowed to
// a fixed two-limb representation built on math/bits.Add64/Sub64 rather
// than big.Int.

// AddChecked returns a+b and true, or the zero value and false on overflow.
func AddChecked(a, b Amount) (Amount, bool) {
	lo, carry := bits.Add64(a.Lo, b.Lo, 0)
	hi, carry2 := bits.Add64(a.Hi, b.Hi, carry)
	if carry2 != 0 {
		return Amount{}, false
	}
	return Amount{Lo: lo, Hi: hi}, true
}

// SubChecked returns a-b and true, or the zero value and false if b > a.
func SubChecked(a, b Amount) (Amount, bool) {
	lo, borrow := bits.Sub64(a.Lo, b.Lo, 0)
	hi, borrow2 := bits.Sub64(a.Hi, b.Hi, borrow)
	if borrow2 != 0 {
		return Amount{}, false
	}
	return Amount{Lo: lo, Hi: hi}, true
}

// CmpAmount returns -1, 0, or 1 as a<b, a==b, a>b.
func CmpAmount(a, b Amount) int {
	if a.Hi != b.Hi {
		if a.Hi < b.Hi {
			return -1
		}
		return 1
	}
	if a.Lo != b.Lo {
		if a.Lo < b.Lo {
			return -1
		}
		return 1
	}
	return 0
}

// GreaterOrEqual reports whether a >= b.
func GreaterOrEqual(a, b Amount) bool { return CmpAmount(a, b) >= 0 }

// MustAdd panics on overflow; reserved for call sites that have already
// proven the add cannot overflow (e.g. summing a bounded genesis alloc).
func MustAdd(a, b Amount) Amount {
	v, ok := AddChecked(a, b)
	if !ok {
		panic(fmt.Sprintf("amount: overflow adding %+v + %+v", a, b))
	}
	return v
}

// HalvingReward computes block-reward(height): R0 halved every halveEvery
// heights, floored at zero. Height 0..halveEvery-1 pays R0, the next
// halveEvery pays R0/2, and so on; once R0 has been right-shifted to zero
// the reward stays zero for all further heights.
func HalvingReward(r0 Amount, halveEvery uint64, height uint64) Amount {
	if halveEvery == 0 {
		return r0
	}
	halvings := height / halveEvery
	// r0 is at most 128 bits; beyond ~64 halvings the low limb is already
	// zero and further shifting keeps it zero, so clamp to avoid a
	// meaningless shift count.
	if halvings > 127 {
		return Amount{}
	}
	return shiftRight128(r0, uint(halvings))
}

var big64 = new(big.Int).Lsh(big.NewInt(1), 64)

// ParseAmountDecimal parses a base-10 string into an Amount, used when
// loading genesis balances and reward parameters from YAML (§6 "Genesis
// configuration"), where a 128-bit value is most naturally authored as a
// decimal string rather than split limbs. big.Int is used only here, at
// the config-loading boundary — never on the consensus-critical
// arithmetic path, which stays on the fixed two-limb representation.
func ParseAmountDecimal(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("amount: invalid decimal %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount: negative amount %q", s)
	}
	hi := new(big.Int).Rsh(v, 64)
	if hi.BitLen() > 64 {
		return Amount{}, fmt.Errorf("amount: %q exceeds 128 bits", s)
	}
	lo := new(big.Int).And(v, new(big.Int).Sub(big64, big.NewInt(1)))
	return Amount{Lo: lo.Uint64(), Hi: hi.Uint64()}, nil
}

// String renders the Amount as a base-10 decimal string.
func (a Amount) String() string {
	v := new(big.Int).Lsh(new(big.Int).SetUint64(a.Hi), 64)
	v.Or(v, new(big.Int).SetUint64(a.Lo))
	return v.String()
}

func shiftRight128(a Amount, n uint) Amount {
	if n == 0 {
		return a
	}
	if n >= 128 {
		return Amount{}
	}
	if n >= 64 {
		return Amount{Lo: a.Hi >> (n - 64), Hi: 0}
	}
	lo := (a.Lo >> n) | (a.Hi << (64 - n))
	hi := a.Hi >> n
	return Amount{Lo: lo, Hi: hi}
}

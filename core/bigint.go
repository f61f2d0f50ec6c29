package core

import (
	"fmt"
	"math/big"
)

// Big unsigned integers of fixed width (128, 256, 512 bits). Purse balances
// are U512; the narrower widths exist for contract arithmetic. All operations
// are immutable and overflow-checked — on-chain arithmetic never wraps
// silently.

const (
	WidthU128 = 128
	WidthU256 = 256
	WidthU512 = 512
)

// BigUint is an unsigned integer capped at Width bits.
type BigUint struct {
	Width int
	v     *big.Int
}

var widthBounds = map[int]*big.Int{
	WidthU128: new(big.Int).Lsh(big.NewInt(1), 128),
	WidthU256: new(big.Int).Lsh(big.NewInt(1), 256),
	WidthU512: new(big.Int).Lsh(big.NewInt(1), 512),
}

func NewBigUint(width int, v uint64) BigUint {
	return BigUint{Width: width, v: new(big.Int).SetUint64(v)}
}

func NewU128(v uint64) BigUint { return NewBigUint(WidthU128, v) }
func NewU256(v uint64) BigUint { return NewBigUint(WidthU256, v) }
func NewU512(v uint64) BigUint { return NewBigUint(WidthU512, v) }

// BigUintFromBig wraps an arbitrary-precision value, rejecting negatives and
// values that do not fit the width.
func BigUintFromBig(width int, v *big.Int) (BigUint, error) {
	bound, ok := widthBounds[width]
	if !ok {
		return BigUint{}, fmt.Errorf("unsupported uint width %d", width)
	}
	if v.Sign() < 0 || v.Cmp(bound) >= 0 {
		return BigUint{}, fmt.Errorf("value out of range for u%d", width)
	}
	return BigUint{Width: width, v: new(big.Int).Set(v)}, nil
}

func (u BigUint) big() *big.Int {
	if u.v == nil {
		return new(big.Int)
	}
	return u.v
}

// normWidth resolves the effective width, letting zero values (e.g. a fresh
// counter) inherit the other operand's width; a lone zero value is U512.
func (u BigUint) normWidth(other int) int {
	if u.Width != 0 {
		return u.Width
	}
	if other != 0 {
		return other
	}
	return WidthU512
}

func (u BigUint) IsZero() bool { return u.big().Sign() == 0 }

func (u BigUint) Cmp(other BigUint) int { return u.big().Cmp(other.big()) }

func (u BigUint) Equal(other BigUint) bool {
	return u.Width == other.Width && u.Cmp(other) == 0
}

// Uint64 truncates to the low 64 bits; callers must bounds-check first.
func (u BigUint) Uint64() uint64 { return u.big().Uint64() }

func (u BigUint) String() string { return u.big().String() }

// Add returns u+other at u's width. The second return is false on overflow.
func (u BigUint) Add(other BigUint) (BigUint, bool) {
	width := u.normWidth(other.Width)
	sum := new(big.Int).Add(u.big(), other.big())
	if sum.Cmp(widthBounds[width]) >= 0 {
		return BigUint{}, false
	}
	return BigUint{Width: width, v: sum}, true
}

// Sub returns u-other. The second return is false on underflow.
func (u BigUint) Sub(other BigUint) (BigUint, bool) {
	if u.Cmp(other) < 0 {
		return BigUint{}, false
	}
	return BigUint{Width: u.normWidth(other.Width), v: new(big.Int).Sub(u.big(), other.big())}, true
}

// Div returns u/divisor (integer division). Division by zero returns zero.
func (u BigUint) Div(divisor uint64) BigUint {
	width := u.normWidth(0)
	if divisor == 0 {
		return BigUint{Width: width, v: new(big.Int)}
	}
	return BigUint{
		Width: width,
		v:     new(big.Int).Div(u.big(), new(big.Int).SetUint64(divisor)),
	}
}

// Mul returns u*factor. The second return is false on overflow.
func (u BigUint) Mul(factor uint64) (BigUint, bool) {
	width := u.normWidth(0)
	prod := new(big.Int).Mul(u.big(), new(big.Int).SetUint64(factor))
	if prod.Cmp(widthBounds[width]) >= 0 {
		return BigUint{}, false
	}
	return BigUint{Width: width, v: prod}, true
}

//---------------------------------------------------------------------
// Wire encoding: one length byte, then that many little-endian bytes with
// trailing zeros trimmed. Injective because the length byte pins the count.
//---------------------------------------------------------------------

func (e *encoder) bigUint(u BigUint) {
	be := u.big().Bytes() // big-endian, no leading zeros
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	e.u8(byte(len(le)))
	e.raw(le)
}

func (d *decoder) bigUint(width int) BigUint {
	n := int(d.u8())
	if n > width/8 {
		d.fail(ErrFormatting)
		return BigUint{}
	}
	le := d.take(n)
	if d.err != nil {
		return BigUint{}
	}
	if n > 0 && le[n-1] == 0 {
		// non-canonical: trailing zero bytes must be trimmed
		d.fail(ErrFormatting)
		return BigUint{}
	}
	be := make([]byte, n)
	for i, b := range le {
		be[n-1-i] = b
	}
	return BigUint{Width: width, v: new(big.Int).SetBytes(be)}
}

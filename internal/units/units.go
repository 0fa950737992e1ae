// Package units implements checked 256-bit unsigned amounts tagged with a
// phantom unit so that, say, a Wei value and an Erc20Value can't be added
// together by accident. Every arithmetic operation is checked: overflow and
// underflow return ErrOverflow instead of wrapping.
package units

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned by checked arithmetic that would wrap around the
// 256-bit range, and by checked subtraction that would go negative.
var ErrOverflow = fmt.Errorf("arithmetic overflow")

// Tag identifies the phantom unit carried by an Amount.
type Tag uint8

const (
	TagWei Tag = iota + 1
	TagErc20Value
	TagBlockNumber
	TagTransactionNonce
	TagTransactionCount
	TagGasAmount
	TagLedgerMintIndex
)

func (t Tag) String() string {
	switch t {
	case TagWei:
		return "Wei"
	case TagErc20Value:
		return "Erc20Value"
	case TagBlockNumber:
		return "BlockNumber"
	case TagTransactionNonce:
		return "TransactionNonce"
	case TagTransactionCount:
		return "TransactionCount"
	case TagGasAmount:
		return "GasAmount"
	case TagLedgerMintIndex:
		return "LedgerMintIndex"
	default:
		return "Unknown"
	}
}

// Amount is a checked 256-bit unsigned value tagged with its unit. The zero
// value is not meaningful on its own — always construct via New* or
// FromBigEndian so the tag is set.
type Amount struct {
	tag Tag
	v   uint256.Int
}

// New constructs an Amount of the given unit from a uint64.
func New(tag Tag, v uint64) Amount {
	var i uint256.Int
	i.SetUint64(v)
	return Amount{tag: tag, v: i}
}

// FromBigEndian decodes a big-endian byte slice (at most 32 bytes) into an
// Amount of the given unit.
func FromBigEndian(tag Tag, b []byte) (Amount, error) {
	if len(b) > 32 {
		return Amount{}, fmt.Errorf("units: %d bytes exceeds 256 bits", len(b))
	}
	var i uint256.Int
	i.SetBytes(b)
	return Amount{tag: tag, v: i}, nil
}

// Tag reports the phantom unit of a.
func (a Amount) Tag() Tag { return a.tag }

// IsZero reports whether a is the zero value of its unit.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Uint64 returns the low 64 bits of a, panicking if the value overflows
// uint64. Used only where the unit is known by construction to fit (e.g.
// gas limits, nonces).
func (a Amount) Uint64() uint64 {
	if !a.v.IsUint64() {
		panic(fmt.Sprintf("units: %s value does not fit in uint64", a.tag))
	}
	return a.v.Uint64()
}

// ToBeBytes32 returns the big-endian 32-byte representation of a.
func (a Amount) ToBeBytes32() [32]byte {
	return a.v.Bytes32()
}

func (a Amount) String() string {
	return fmt.Sprintf("%s(%s)", a.tag, a.v.String())
}

func mustSameTag(a, b Amount) {
	if a.tag != b.tag {
		panic(fmt.Sprintf("units: mismatched tags %s vs %s", a.tag, b.tag))
	}
}

// CheckedAdd returns a+b, or ErrOverflow if the sum overflows 256 bits.
// Panics if a and b carry different tags — that is a programming error, not
// a runtime condition callers are expected to handle.
func CheckedAdd(a, b Amount) (Amount, error) {
	mustSameTag(a, b)
	var out uint256.Int
	overflow := out.AddOverflow(&a.v, &b.v)
	if overflow {
		return Amount{}, ErrOverflow
	}
	return Amount{tag: a.tag, v: out}, nil
}

// CheckedSub returns a-b, or ErrOverflow if b > a.
func CheckedSub(a, b Amount) (Amount, error) {
	mustSameTag(a, b)
	if a.v.Lt(&b.v) {
		return Amount{}, ErrOverflow
	}
	var out uint256.Int
	out.Sub(&a.v, &b.v)
	return Amount{tag: a.tag, v: out}, nil
}

// CheckedIncrement returns a+1, or ErrOverflow on wraparound.
func CheckedIncrement(a Amount) (Amount, error) {
	return CheckedAdd(a, New(a.tag, 1))
}

// DivByTwo returns floor(a/2).
func DivByTwo(a Amount) Amount {
	var out uint256.Int
	out.Rsh(&a.v, 1)
	return Amount{tag: a.tag, v: out}
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
// Panics on tag mismatch.
func Cmp(a, b Amount) int {
	mustSameTag(a, b)
	return a.v.Cmp(&b.v)
}

// Lt reports whether a < b.
func Lt(a, b Amount) bool { return Cmp(a, b) < 0 }

// Gt reports whether a > b.
func Gt(a, b Amount) bool { return Cmp(a, b) > 0 }

// ChangeUnits reinterprets the numeric value of a under a new tag. This is
// the only sanctioned way to cross unit boundaries (e.g. converting a raw
// scraped log field into a typed BlockNumber).
func ChangeUnits(a Amount, newTag Tag) Amount {
	return Amount{tag: newTag, v: a.v}
}

// Mul multiplies two amounts of the same tag, used for e.g.
// max_fee_per_gas * gas_limit style products where the result is re-tagged
// by the caller via ChangeUnits.
func Mul(a, b Amount) (Amount, error) {
	mustSameTag(a, b)
	var out uint256.Int
	overflow := out.MulOverflow(&a.v, &b.v)
	if overflow {
		return Amount{}, ErrOverflow
	}
	return Amount{tag: a.tag, v: out}, nil
}

// Div divides a by b (integer division), both of the same tag. Division by
// zero returns ErrOverflow rather than panicking, consistent with the rest
// of this checked-arithmetic surface.
func Div(a, b Amount) (Amount, error) {
	mustSameTag(a, b)
	if b.IsZero() {
		return Amount{}, ErrOverflow
	}
	var out uint256.Int
	out.Div(&a.v, &b.v)
	return Amount{tag: a.tag, v: out}, nil
}

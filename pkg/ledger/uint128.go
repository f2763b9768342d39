package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"strings"
)

var (
	ErrUint128Negative = errors.New("ledger: uint128 must be non-negative")
	ErrUint128Overflow = errors.New("ledger: uint128 must be less than 2**128")
	ErrUint128Syntax   = errors.New("ledger: invalid uint128 syntax")
)

// Uint128 is an unsigned 128-bit integer stored as two little-endian halves.
type Uint128 struct {
	Lo uint64
	Hi uint64
}

// MaxUint128 is 2**128-1.
var MaxUint128 = Uint128{Lo: ^uint64(0), Hi: ^uint64(0)}

// ToUint128 widens v.
func ToUint128(v uint64) Uint128 {
	return Uint128{Lo: v}
}

// BytesToUint128 reads a 16-byte little-endian value.
func BytesToUint128(b [16]byte) Uint128 {
	return Uint128{
		Lo: binary.LittleEndian.Uint64(b[0:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// Bytes returns the 16-byte little-endian representation.
func (u Uint128) Bytes() [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], u.Lo)
	binary.LittleEndian.PutUint64(out[8:16], u.Hi)
	return out
}

// BigToUint128 converts a big.Int, rejecting negative values and values wider than 128 bits.
func BigToUint128(v *big.Int) (Uint128, error) {
	if v == nil {
		return Uint128{}, nil
	}
	if v.Sign() < 0 {
		return Uint128{}, ErrUint128Negative
	}
	if v.BitLen() > 128 {
		return Uint128{}, ErrUint128Overflow
	}
	words := new(big.Int).Set(v)
	lo := new(big.Int).And(words, new(big.Int).SetUint64(^uint64(0))).Uint64()
	hi := words.Rsh(words, 64).Uint64()
	return Uint128{Lo: lo, Hi: hi}, nil
}

// ParseUint128 parses a decimal string, or a hexadecimal one when prefixed with 0x.
func ParseUint128(raw string) (Uint128, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Uint128{}, ErrUint128Syntax
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return HexStringToUint128(s[2:])
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Uint128{}, fmt.Errorf("%w: %q", ErrUint128Syntax, raw)
	}
	return BigToUint128(v)
}

// HexStringToUint128 parses a big-endian hex string of at most 32 digits.
func HexStringToUint128(raw string) (Uint128, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Uint128{}, ErrUint128Syntax
	}
	if len(s) > 32 {
		return Uint128{}, ErrUint128Overflow
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Uint128{}, fmt.Errorf("%w: %v", ErrUint128Syntax, err)
	}
	var be [16]byte
	copy(be[16-len(decoded):], decoded)
	return Uint128{
		Hi: binary.BigEndian.Uint64(be[0:8]),
		Lo: binary.BigEndian.Uint64(be[8:16]),
	}, nil
}

// BigInt returns u as a big.Int.
func (u Uint128) BigInt() *big.Int {
	v := new(big.Int).SetUint64(u.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(u.Lo))
}

// String renders u in decimal.
func (u Uint128) String() string {
	if u.Hi == 0 {
		return fmt.Sprintf("%d", u.Lo)
	}
	return u.BigInt().String()
}

// HexString renders u as 32 big-endian hex digits.
func (u Uint128) HexString() string {
	var be [16]byte
	binary.BigEndian.PutUint64(be[0:8], u.Hi)
	binary.BigEndian.PutUint64(be[8:16], u.Lo)
	return hex.EncodeToString(be[:])
}

func (u Uint128) IsZero() bool {
	return u.Lo == 0 && u.Hi == 0
}

func (u Uint128) IsMax() bool {
	return u == MaxUint128
}

// Cmp returns -1, 0 or +1.
func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	default:
		return 0
	}
}

// Add returns u+v and whether the sum overflowed.
func (u Uint128) Add(v Uint128) (Uint128, bool) {
	lo, carry := bits.Add64(u.Lo, v.Lo, 0)
	hi, overflow := bits.Add64(u.Hi, v.Hi, carry)
	return Uint128{Lo: lo, Hi: hi}, overflow != 0
}

// Sub returns u-v and whether the subtraction underflowed.
func (u Uint128) Sub(v Uint128) (Uint128, bool) {
	lo, borrow := bits.Sub64(u.Lo, v.Lo, 0)
	hi, underflow := bits.Sub64(u.Hi, v.Hi, borrow)
	return Uint128{Lo: lo, Hi: hi}, underflow != 0
}

// Min returns the smaller of u and v.
func (u Uint128) Min(v Uint128) Uint128 {
	if u.Cmp(v) <= 0 {
		return u
	}
	return v
}

// MarshalText renders the decimal form so JSON/YAML documents stay readable.
func (u Uint128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Uint128) UnmarshalText(text []byte) error {
	v, err := ParseUint128(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (u *Uint128) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" {
		return nil
	}
	return u.UnmarshalText([]byte(s))
}

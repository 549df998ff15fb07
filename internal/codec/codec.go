// Package codec converts between hex/byte encodings and the arbitrary
// precision unsigned integers used for on-chain weights, tickets and amounts.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Uint128Size is the byte width of a big-endian u128.
const Uint128Size = 16

// HashSize is the byte width of every hash field.
const HashSize = 32

var (
	ErrMalformedHex     = errors.New("malformed hex")
	ErrLengthMismatch   = errors.New("length mismatch")
	ErrMalformedInteger = errors.New("malformed unsigned integer")
	ErrOverflow         = errors.New("value does not fit in 128 bits")
)

// MaxUint128 is 2^128 - 1.
var MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// HexToBytes decodes s, accepting an optional 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = Trim0x(strings.TrimSpace(s))
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedHex, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return b, nil
}

// BytesToHex encodes b as lower-case hex without prefix.
func BytesToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// Hash32FromHex decodes a 32-byte hash.
func Hash32FromHex(s string) ([HashSize]byte, error) {
	var out [HashSize]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	return Hash32FromBytes(b)
}

// Hash32FromBytes copies b into a fixed 32-byte array.
func Hash32FromBytes(b []byte) ([HashSize]byte, error) {
	var out [HashSize]byte
	if len(b) != HashSize {
		return out, fmt.Errorf("%w: want %d bytes, got %d", ErrLengthMismatch, HashSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// BytesToUint128BE interprets exactly 16 bytes as a big-endian unsigned integer.
func BytesToUint128BE(b []byte) (*big.Int, error) {
	if len(b) != Uint128Size {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrLengthMismatch, Uint128Size, len(b))
	}
	return new(big.Int).SetBytes(b), nil
}

// Uint128ToBytesBE encodes v as 16 big-endian bytes.
func Uint128ToBytesBE(v *big.Int) ([Uint128Size]byte, error) {
	var out [Uint128Size]byte
	if err := CheckUint128(v); err != nil {
		return out, err
	}
	v.FillBytes(out[:])
	return out, nil
}

// CheckUint128 reports whether v is a valid u128.
func CheckUint128(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: nil", ErrMalformedInteger)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative value %s", ErrOverflow, v)
	}
	if v.Cmp(MaxUint128) > 0 {
		return fmt.Errorf("%w: %s", ErrOverflow, v)
	}
	return nil
}

// ConcatBytes joins parts into a newly allocated slice.
func ConcatBytes(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ParseUint128 parses a base-10 string. Signs, exponents, fractions and
// surrounding whitespace inside the digits are rejected.
func ParseUint128(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedInteger)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: %q", ErrMalformedInteger, s)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedInteger, s)
	}
	if v.Cmp(MaxUint128) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, s)
	}
	return v, nil
}

// Trim0x strips a leading 0x or 0X.
func Trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

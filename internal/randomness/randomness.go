// Package randomness replays the commit-reveal combination that turns a drand
// beacon and the operator's revealed secret into a winning ticket.
package randomness

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"math/big"

	"github.com/R3E-Network/draw_auditor/internal/codec"
)

var (
	// ErrCommitMismatch means sha256(secret) differs from the recorded commit.
	ErrCommitMismatch = errors.New("operator secret does not match commit")
	// ErrZeroWeight means a ticket was requested against an empty snapshot.
	ErrZeroWeight = errors.New("total weight is zero")
)

// Commit returns sha256(secret), the value an operator publishes up front.
func Commit(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// VerifyCommit checks sha256(secret) == commit.
func VerifyCommit(secret []byte, commit [32]byte) error {
	h := Commit(secret)
	if subtle.ConstantTimeCompare(h[:], commit[:]) != 1 {
		return ErrCommitMismatch
	}
	return nil
}

// ComputeFinalRandomness verifies the commitment and returns
// drand XOR sha256(secret).
func ComputeFinalRandomness(drand [32]byte, secret []byte, commit [32]byte) ([32]byte, error) {
	if err := VerifyCommit(secret, commit); err != nil {
		return [32]byte{}, err
	}
	return Combine(drand, secret), nil
}

// Combine XORs drand with sha256(secret) without checking any commitment.
func Combine(drand [32]byte, secret []byte) [32]byte {
	h := sha256.Sum256(secret)
	var out [32]byte
	for i := range out {
		out[i] = drand[i] ^ h[i]
	}
	return out
}

// ComputeWinningTicket maps the first 16 bytes of final, read as a
// big-endian u128, into [0, totalWeight).
func ComputeWinningTicket(final [32]byte, totalWeight *big.Int) (*big.Int, error) {
	if totalWeight == nil || totalWeight.Sign() <= 0 {
		return nil, ErrZeroWeight
	}
	v, err := codec.BytesToUint128BE(final[:codec.Uint128Size])
	if err != nil {
		return nil, err
	}
	return v.Mod(v, totalWeight), nil
}

// Package staking holds the read-only records a prize-linked staking
// protocol exposes: weight snapshots, holder ranges, drand beacons and draws.
package staking

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"time"
)

// DrawType distinguishes the frequent small draw from the rare large one.
type DrawType string

const (
	DrawTypeRegular DrawType = "regular"
	DrawTypeBig     DrawType = "big"
)

// Valid reports whether t is a known draw type.
func (t DrawType) Valid() bool {
	return t == DrawTypeRegular || t == DrawTypeBig
}

// DrawStatus represents the lifecycle state of a draw.
type DrawStatus string

const (
	DrawStatusCommitted DrawStatus = "committed"
	DrawStatusRevealed  DrawStatus = "revealed"
	DrawStatusExpired   DrawStatus = "expired"
)

// Snapshot is the per-epoch weight commitment a draw references.
type Snapshot struct {
	Epoch       uint64
	MerkleRoot  [32]byte
	TotalWeight *big.Int
	NumHolders  uint32
	SubmittedAt time.Time
}

// HolderLeaf is one holder's half-open range [CumulativeStart, CumulativeEnd).
type HolderLeaf struct {
	Address         string
	CumulativeStart *big.Int
	CumulativeEnd   *big.Int
}

// Weight returns CumulativeEnd - CumulativeStart.
func (l HolderLeaf) Weight() *big.Int {
	if l.CumulativeStart == nil || l.CumulativeEnd == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(l.CumulativeEnd, l.CumulativeStart)
}

// Contains reports whether start <= ticket < end.
func (l HolderLeaf) Contains(ticket *big.Int) bool {
	if ticket == nil || l.CumulativeStart == nil || l.CumulativeEnd == nil {
		return false
	}
	return l.CumulativeStart.Cmp(ticket) <= 0 && ticket.Cmp(l.CumulativeEnd) < 0
}

// Beacon is a drand round as stored by the oracle. Signature is kept for
// the randomness == sha256(signature) sanity check; BLS verification is
// left to the oracle.
type Beacon struct {
	Round      uint64
	Randomness [32]byte
	Signature  []byte
}

// Draw is a single prize draw record. Optional fields are nil until the
// draw is revealed.
type Draw struct {
	ID              uint64
	Type            DrawType
	Epoch           uint64
	Status          DrawStatus
	OperatorCommit  [32]byte
	TargetRound     uint64
	DrandRandomness *[32]byte
	OperatorSecret  []byte
	FinalRandomness *[32]byte
	Winner          string
	RewardAmount    *big.Int
	TotalWeight     *big.Int
	MerkleRoot      *[32]byte
	CreatedAt       time.Time
	RevealedAt      time.Time
	RevealDeadline  time.Time
}

// Terminal reports whether the draw reached revealed or expired.
func (d Draw) Terminal() bool {
	return d.Status == DrawStatusRevealed || d.Status == DrawStatusExpired
}

type leafJSON struct {
	Address         string `json:"address"`
	CumulativeStart string `json:"cumulative_start"`
	CumulativeEnd   string `json:"cumulative_end"`
}

// MarshalJSON encodes range bounds as decimal strings.
func (l HolderLeaf) MarshalJSON() ([]byte, error) {
	return json.Marshal(leafJSON{
		Address:         l.Address,
		CumulativeStart: decimalString(l.CumulativeStart),
		CumulativeEnd:   decimalString(l.CumulativeEnd),
	})
}

type snapshotJSON struct {
	Epoch       uint64    `json:"epoch"`
	MerkleRoot  string    `json:"merkle_root"`
	TotalWeight string    `json:"total_weight"`
	NumHolders  uint32    `json:"num_holders"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Epoch:       s.Epoch,
		MerkleRoot:  hex.EncodeToString(s.MerkleRoot[:]),
		TotalWeight: decimalString(s.TotalWeight),
		NumHolders:  s.NumHolders,
		SubmittedAt: s.SubmittedAt,
	})
}

type drawJSON struct {
	ID              uint64     `json:"id"`
	Type            DrawType   `json:"draw_type"`
	Epoch           uint64     `json:"epoch"`
	Status          DrawStatus `json:"status"`
	OperatorCommit  string     `json:"operator_commit"`
	TargetRound     uint64     `json:"target_drand_round"`
	DrandRandomness string     `json:"drand_randomness,omitempty"`
	OperatorSecret  string     `json:"operator_secret,omitempty"`
	FinalRandomness string     `json:"final_randomness,omitempty"`
	Winner          string     `json:"winner,omitempty"`
	RewardAmount    string     `json:"reward_amount"`
	TotalWeight     string     `json:"total_weight,omitempty"`
	MerkleRoot      string     `json:"merkle_root,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	RevealedAt      *time.Time `json:"revealed_at,omitempty"`
	RevealDeadline  *time.Time `json:"reveal_deadline,omitempty"`
}

// MarshalJSON renders hashes as hex and amounts as decimal strings.
func (d Draw) MarshalJSON() ([]byte, error) {
	out := drawJSON{
		ID:             d.ID,
		Type:           d.Type,
		Epoch:          d.Epoch,
		Status:         d.Status,
		OperatorCommit: hex.EncodeToString(d.OperatorCommit[:]),
		TargetRound:    d.TargetRound,
		OperatorSecret: hex.EncodeToString(d.OperatorSecret),
		Winner:         d.Winner,
		RewardAmount:   decimalString(d.RewardAmount),
		CreatedAt:      timePtr(d.CreatedAt),
		RevealedAt:     timePtr(d.RevealedAt),
		RevealDeadline: timePtr(d.RevealDeadline),
	}
	if d.DrandRandomness != nil {
		out.DrandRandomness = hex.EncodeToString(d.DrandRandomness[:])
	}
	if d.FinalRandomness != nil {
		out.FinalRandomness = hex.EncodeToString(d.FinalRandomness[:])
	}
	if d.TotalWeight != nil {
		out.TotalWeight = d.TotalWeight.String()
	}
	if d.MerkleRoot != nil {
		out.MerkleRoot = hex.EncodeToString(d.MerkleRoot[:])
	}
	return json.Marshal(out)
}

func decimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

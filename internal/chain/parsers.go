package chain

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
)

// Query results are converted to typed records here and nowhere else.
// Uint128 values must arrive as JSON strings; a JSON number is rejected so a
// weight can never pass through float64.

func malformed(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedPayload, field, fmt.Sprintf(format, args...))
}

func requireField(obj gjson.Result, field string) (gjson.Result, error) {
	v := obj.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return v, malformed(field, "missing")
	}
	return v, nil
}

// ParseUint128Field reads a required Uint128 encoded as a decimal string.
func ParseUint128Field(obj gjson.Result, field string) (*big.Int, error) {
	v, err := requireField(obj, field)
	if err != nil {
		return nil, err
	}
	return parseUint128(v, field)
}

func optionalUint128(obj gjson.Result, field string) (*big.Int, error) {
	v := obj.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	return parseUint128(v, field)
}

func parseUint128(v gjson.Result, field string) (*big.Int, error) {
	if v.Type != gjson.String {
		return nil, malformed(field, "Uint128 must be a string, got %s", v.Type)
	}
	n, err := codec.ParseUint128(v.Str)
	if err != nil {
		return nil, malformed(field, "%v", err)
	}
	return n, nil
}

// ParseU64Field reads a required u64 serialised as a JSON integer.
func ParseU64Field(obj gjson.Result, field string) (uint64, error) {
	v, err := requireField(obj, field)
	if err != nil {
		return 0, err
	}
	if v.Type != gjson.Number {
		return 0, malformed(field, "expected integer, got %s", v.Type)
	}
	n, err := strconv.ParseUint(v.Raw, 10, 64)
	if err != nil {
		return 0, malformed(field, "expected unsigned integer, got %s", v.Raw)
	}
	return n, nil
}

// ParseBytesField reads a byte field encoded as an array of numbers, the
// cw_serde form of Vec<u8>, or as a hex string.
func ParseBytesField(obj gjson.Result, field string) ([]byte, error) {
	v, err := requireField(obj, field)
	if err != nil {
		return nil, err
	}
	return parseBytes(v, field)
}

func optionalBytes(obj gjson.Result, field string) ([]byte, error) {
	v := obj.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	return parseBytes(v, field)
}

func parseBytes(v gjson.Result, field string) ([]byte, error) {
	if v.Type == gjson.String {
		b, err := codec.HexToBytes(v.Str)
		if err != nil {
			return nil, malformed(field, "%v", err)
		}
		return b, nil
	}
	if !v.IsArray() {
		return nil, malformed(field, "expected byte array or hex string, got %s", v.Type)
	}
	items := v.Array()
	out := make([]byte, len(items))
	for i, item := range items {
		if item.Type != gjson.Number {
			return nil, malformed(field, "element %d is %s", i, item.Type)
		}
		n, err := strconv.ParseUint(item.Raw, 10, 8)
		if err != nil {
			return nil, malformed(field, "element %d out of byte range: %s", i, item.Raw)
		}
		out[i] = byte(n)
	}
	return out, nil
}

// ParseHashField reads a required 32-byte hash (hex string or byte array).
func ParseHashField(obj gjson.Result, field string) ([32]byte, error) {
	b, err := ParseBytesField(obj, field)
	if err != nil {
		return [32]byte{}, err
	}
	h, err := codec.Hash32FromBytes(b)
	if err != nil {
		return h, malformed(field, "%v", err)
	}
	return h, nil
}

func optionalHash(obj gjson.Result, field string) (*[32]byte, error) {
	b, err := optionalBytes(obj, field)
	if err != nil || b == nil {
		return nil, err
	}
	h, err := codec.Hash32FromBytes(b)
	if err != nil {
		return nil, malformed(field, "%v", err)
	}
	return &h, nil
}

// parseTimestamp reads a cosmwasm Timestamp (nanoseconds as a string).
func parseTimestamp(obj gjson.Result, field string) (time.Time, error) {
	v := obj.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return time.Time{}, nil
	}
	if v.Type != gjson.String {
		return time.Time{}, malformed(field, "timestamp must be a string, got %s", v.Type)
	}
	ns, err := strconv.ParseInt(v.Str, 10, 64)
	if err != nil {
		return time.Time{}, malformed(field, "bad timestamp %q", v.Str)
	}
	return time.Unix(0, ns).UTC(), nil
}

// ParseDraw converts a reward distributor Draw.
func ParseDraw(obj gjson.Result) (staking.Draw, error) {
	if !obj.IsObject() {
		return staking.Draw{}, malformed("draw", "expected object, got %s", obj.Type)
	}
	var (
		d   staking.Draw
		err error
	)
	if d.ID, err = ParseU64Field(obj, "id"); err != nil {
		return d, err
	}
	d.Type = staking.DrawType(obj.Get("draw_type").String())
	if !d.Type.Valid() {
		return d, malformed("draw_type", "unknown %q", d.Type)
	}
	if d.Epoch, err = ParseU64Field(obj, "epoch"); err != nil {
		return d, err
	}
	d.Status = staking.DrawStatus(obj.Get("status").String())
	switch d.Status {
	case staking.DrawStatusCommitted, staking.DrawStatusRevealed, staking.DrawStatusExpired:
	default:
		return d, malformed("status", "unknown %q", d.Status)
	}
	if d.OperatorCommit, err = ParseHashField(obj, "operator_commit"); err != nil {
		return d, err
	}
	if d.TargetRound, err = ParseU64Field(obj, "target_drand_round"); err != nil {
		return d, err
	}
	if d.DrandRandomness, err = optionalHash(obj, "drand_randomness"); err != nil {
		return d, err
	}
	if d.OperatorSecret, err = optionalBytes(obj, "operator_secret"); err != nil {
		return d, err
	}
	if d.FinalRandomness, err = optionalHash(obj, "final_randomness"); err != nil {
		return d, err
	}
	d.Winner = obj.Get("winner").String()
	if d.RewardAmount, err = ParseUint128Field(obj, "reward_amount"); err != nil {
		return d, err
	}
	if d.TotalWeight, err = optionalUint128(obj, "total_weight"); err != nil {
		return d, err
	}
	if d.MerkleRoot, err = optionalHash(obj, "merkle_root"); err != nil {
		return d, err
	}
	if d.CreatedAt, err = parseTimestamp(obj, "created_at"); err != nil {
		return d, err
	}
	if d.RevealedAt, err = parseTimestamp(obj, "revealed_at"); err != nil {
		return d, err
	}
	if d.RevealDeadline, err = parseTimestamp(obj, "reveal_deadline"); err != nil {
		return d, err
	}
	return d, nil
}

// ParseSnapshot converts a reward distributor Snapshot.
func ParseSnapshot(obj gjson.Result) (staking.Snapshot, error) {
	if !obj.IsObject() {
		return staking.Snapshot{}, malformed("snapshot", "expected object, got %s", obj.Type)
	}
	var (
		s   staking.Snapshot
		err error
	)
	if s.Epoch, err = ParseU64Field(obj, "epoch"); err != nil {
		return s, err
	}
	if s.MerkleRoot, err = ParseHashField(obj, "merkle_root"); err != nil {
		return s, err
	}
	if s.TotalWeight, err = ParseUint128Field(obj, "total_weight"); err != nil {
		return s, err
	}
	n, err := ParseU64Field(obj, "num_holders")
	if err != nil {
		return s, err
	}
	if n > 1<<32-1 {
		return s, malformed("num_holders", "%d exceeds u32", n)
	}
	s.NumHolders = uint32(n)
	if s.SubmittedAt, err = parseTimestamp(obj, "submitted_at"); err != nil {
		return s, err
	}
	return s, nil
}

// ParseBeacon converts a drand oracle StoredBeacon.
func ParseBeacon(obj gjson.Result) (staking.Beacon, error) {
	if !obj.IsObject() {
		return staking.Beacon{}, malformed("beacon", "expected object, got %s", obj.Type)
	}
	var (
		b   staking.Beacon
		err error
	)
	if b.Round, err = ParseU64Field(obj, "round"); err != nil {
		return b, err
	}
	if b.Randomness, err = ParseHashField(obj, "randomness"); err != nil {
		return b, err
	}
	if b.Signature, err = optionalBytes(obj, "signature"); err != nil {
		return b, err
	}
	return b, nil
}

package winner

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/internal/randomness"
)

var (
	ErrDrawNotRevealed     = errors.New("draw is not revealed")
	ErrBeaconRoundMismatch = errors.New("beacon round does not match draw target round")
	ErrIncompleteDraw      = errors.New("draw record is incomplete")
)

// Finding codes. A report with any finding is never verified.
const (
	FindingWinnerMismatch      = "winner_mismatch"
	FindingInclusionFailed     = "inclusion_failed"
	FindingMissingProof        = "missing_proof"
	FindingWinnerNotInSnapshot = "winner_not_in_snapshot"
	FindingDrandMismatch       = "drand_randomness_mismatch"
	FindingFinalMismatch       = "final_randomness_mismatch"
	FindingTotalWeightMismatch = "total_weight_mismatch"
	FindingMerkleRootMismatch  = "merkle_root_mismatch"
	FindingOnChainInclusion    = "onchain_inclusion_mismatch"
)

// Finding is one disagreement between the recorded draw and the replay.
type Finding struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// AuditInput carries everything needed to replay a revealed draw.
// Snapshot is optional when the draw records its own root and weight.
type AuditInput struct {
	Draw     staking.Draw
	Beacon   staking.Beacon
	Leaves   []staking.HolderLeaf
	Proofs   map[string]merkle.ProofPath
	Snapshot *staking.Snapshot
}

// AuditReport is the outcome of AuditDraw.
type AuditReport struct {
	DrawID            uint64
	Winner            staking.HolderLeaf
	RecordedWinner    string
	Ticket            *big.Int
	TotalWeight       *big.Int
	FinalRandomness   [32]byte
	MerkleRoot        [32]byte
	WinnerMatches     bool
	InclusionVerified bool
	Verified          bool
	Findings          []Finding
}

// AuditDraw replays a revealed draw. Integrity failures (commit mismatch,
// invalid partition, unresolvable ticket) are returned as errors and no
// report is produced. Disagreements that still allow a replay become
// findings and force Verified to false.
func AuditDraw(in AuditInput) (AuditReport, error) {
	d := in.Draw
	if d.Status != staking.DrawStatusRevealed {
		return AuditReport{}, fmt.Errorf("%w: draw %d is %s", ErrDrawNotRevealed, d.ID, d.Status)
	}
	if len(d.OperatorSecret) == 0 {
		return AuditReport{}, fmt.Errorf("%w: draw %d has no operator secret", ErrIncompleteDraw, d.ID)
	}
	if in.Beacon.Round != d.TargetRound {
		return AuditReport{}, fmt.Errorf("%w: beacon %d, target %d", ErrBeaconRoundMismatch, in.Beacon.Round, d.TargetRound)
	}

	final, err := randomness.ComputeFinalRandomness(in.Beacon.Randomness, d.OperatorSecret, d.OperatorCommit)
	if err != nil {
		return AuditReport{}, fmt.Errorf("draw %d: %w", d.ID, err)
	}

	report := AuditReport{
		DrawID:          d.ID,
		RecordedWinner:  d.Winner,
		FinalRandomness: final,
	}

	if d.DrandRandomness != nil && *d.DrandRandomness != in.Beacon.Randomness {
		report.addFinding(FindingDrandMismatch, "recorded drand randomness %x, beacon %x", d.DrandRandomness[:], in.Beacon.Randomness[:])
	}
	if d.FinalRandomness != nil && *d.FinalRandomness != final {
		report.addFinding(FindingFinalMismatch, "recorded final randomness %x, recomputed %x", d.FinalRandomness[:], final[:])
	}

	total, err := report.resolveTotalWeight(d, in.Snapshot)
	if err != nil {
		return AuditReport{}, err
	}
	report.TotalWeight = total

	if err := ValidatePartition(in.Leaves, total); err != nil {
		return AuditReport{}, fmt.Errorf("draw %d: %w", d.ID, err)
	}

	ticket, err := randomness.ComputeWinningTicket(final, total)
	if err != nil {
		return AuditReport{}, fmt.Errorf("draw %d: %w", d.ID, err)
	}
	report.Ticket = ticket

	resolved, err := ResolveWinner(ticket, in.Leaves)
	if err != nil {
		return AuditReport{}, fmt.Errorf("draw %d: %w", d.ID, err)
	}
	report.Winner = resolved
	report.WinnerMatches = resolved.Address == d.Winner
	if !report.WinnerMatches {
		report.addFinding(FindingWinnerMismatch, "recorded winner %q, ticket %s resolves to %q", d.Winner, ticket, resolved.Address)
	}

	root, err := report.resolveRoot(d, in.Snapshot)
	if err != nil {
		return AuditReport{}, err
	}
	report.MerkleRoot = root
	report.InclusionVerified = report.verifyRecordedWinner(root, in)

	report.Verified = report.WinnerMatches && report.InclusionVerified && len(report.Findings) == 0
	return report, nil
}

func (r *AuditReport) resolveTotalWeight(d staking.Draw, snap *staking.Snapshot) (*big.Int, error) {
	switch {
	case d.TotalWeight != nil:
		if snap != nil && snap.TotalWeight != nil && snap.TotalWeight.Cmp(d.TotalWeight) != 0 {
			r.addFinding(FindingTotalWeightMismatch, "draw records %s, snapshot %d has %s", d.TotalWeight, snap.Epoch, snap.TotalWeight)
		}
		return d.TotalWeight, nil
	case snap != nil && snap.TotalWeight != nil:
		return snap.TotalWeight, nil
	default:
		return nil, fmt.Errorf("%w: draw %d has no total weight and no snapshot", ErrIncompleteDraw, d.ID)
	}
}

func (r *AuditReport) resolveRoot(d staking.Draw, snap *staking.Snapshot) ([32]byte, error) {
	switch {
	case d.MerkleRoot != nil:
		if snap != nil && snap.MerkleRoot != *d.MerkleRoot {
			r.addFinding(FindingMerkleRootMismatch, "draw records root %x, snapshot %d has %x", d.MerkleRoot[:], snap.Epoch, snap.MerkleRoot[:])
		}
		return *d.MerkleRoot, nil
	case snap != nil:
		return snap.MerkleRoot, nil
	default:
		return [32]byte{}, fmt.Errorf("%w: draw %d has no merkle root and no snapshot", ErrIncompleteDraw, d.ID)
	}
}

// verifyRecordedWinner checks the on-chain winner's own leaf, not the
// resolved one, so a wrong winner with a valid proof is still caught above.
func (r *AuditReport) verifyRecordedWinner(root [32]byte, in AuditInput) bool {
	var (
		leaf  staking.HolderLeaf
		found bool
	)
	for _, l := range in.Leaves {
		if l.Address == in.Draw.Winner {
			leaf, found = l, true
			break
		}
	}
	if !found {
		r.addFinding(FindingWinnerNotInSnapshot, "recorded winner %q has no leaf", in.Draw.Winner)
		return false
	}
	proof, ok := in.Proofs[leaf.Address]
	if !ok {
		r.addFinding(FindingMissingProof, "no proof supplied for %s", leaf.Address)
		return false
	}
	ok = merkle.VerifyInclusion(root, proof, merkle.Leaf{
		Address: leaf.Address,
		Start:   leaf.CumulativeStart,
		End:     leaf.CumulativeEnd,
	})
	if !ok {
		r.addFinding(FindingInclusionFailed, "proof for %s does not reach root %x", leaf.Address, root[:])
	}
	return ok
}

func (r *AuditReport) addFinding(code, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{Code: code, Detail: fmt.Sprintf(format, args...)})
}

// RecordOnChainInclusion compares the distributor's own inclusion answer for
// the recorded winner with the local one. Disagreement is a finding.
func (r *AuditReport) RecordOnChainInclusion(onChain bool) {
	if onChain == r.InclusionVerified {
		return
	}
	r.addFinding(FindingOnChainInclusion, "distributor says inclusion %t, local verifier %t", onChain, r.InclusionVerified)
	r.Verified = false
}

// HasFinding reports whether a finding with code was recorded.
func (r AuditReport) HasFinding(code string) bool {
	for _, f := range r.Findings {
		if f.Code == code {
			return true
		}
	}
	return false
}

type reportJSON struct {
	DrawID            uint64             `json:"draw_id"`
	Winner            staking.HolderLeaf `json:"winner"`
	RecordedWinner    string             `json:"recorded_winner"`
	Ticket            string             `json:"ticket"`
	TotalWeight       string             `json:"total_weight"`
	FinalRandomness   string             `json:"final_randomness"`
	MerkleRoot        string             `json:"merkle_root"`
	WinnerMatches     bool               `json:"winner_matches"`
	InclusionVerified bool               `json:"inclusion_verified"`
	Verified          bool               `json:"verified"`
	Findings          []Finding          `json:"findings"`
}

// MarshalJSON renders integers as decimal strings and hashes as hex.
func (r AuditReport) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		DrawID:            r.DrawID,
		Winner:            r.Winner,
		RecordedWinner:    r.RecordedWinner,
		FinalRandomness:   hex.EncodeToString(r.FinalRandomness[:]),
		MerkleRoot:        hex.EncodeToString(r.MerkleRoot[:]),
		WinnerMatches:     r.WinnerMatches,
		InclusionVerified: r.InclusionVerified,
		Verified:          r.Verified,
		Findings:          r.Findings,
	}
	if r.Ticket != nil {
		out.Ticket = r.Ticket.String()
	}
	if r.TotalWeight != nil {
		out.TotalWeight = r.TotalWeight.String()
	}
	if out.Findings == nil {
		out.Findings = []Finding{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

package winner

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/internal/randomness"
)

func holder(addr string, start, end int64) staking.HolderLeaf {
	return staking.HolderLeaf{Address: addr, CumulativeStart: big.NewInt(start), CumulativeEnd: big.NewInt(end)}
}

func fourHolders() []staking.HolderLeaf {
	return []staking.HolderLeaf{
		holder("inj1aaa", 0, 100),
		holder("inj1bbb", 100, 350),
		holder("inj1ccc", 350, 600),
		holder("inj1ddd", 600, 1000),
	}
}

type fixture struct {
	input  AuditInput
	tree   *merkle.Tree
	secret []byte
}

// newFixture builds a revealed draw whose ticket is exactly ticket.
func newFixture(t *testing.T, ticket uint64, winner string) fixture {
	t.Helper()
	leaves := fourHolders()
	mleaves := make([]merkle.Leaf, len(leaves))
	for i, l := range leaves {
		mleaves[i] = merkle.Leaf{Address: l.Address, Start: l.CumulativeStart, End: l.CumulativeEnd}
	}
	tree, err := merkle.BuildTree(mleaves)
	require.NoError(t, err)

	proofs := make(map[string]merkle.ProofPath, len(leaves))
	for i, l := range leaves {
		p, err := tree.Proof(i)
		require.NoError(t, err)
		proofs[l.Address] = p
	}

	secret := []byte("operator-secret-42")
	var want [32]byte
	new(big.Int).SetUint64(ticket).FillBytes(want[:16])
	h := sha256.Sum256(secret)
	var drand [32]byte
	for i := range drand {
		drand[i] = want[i] ^ h[i]
	}

	root := tree.Root
	draw := staking.Draw{
		ID:              9,
		Type:            staking.DrawTypeRegular,
		Epoch:           3,
		Status:          staking.DrawStatusRevealed,
		OperatorCommit:  randomness.Commit(secret),
		TargetRound:     1234,
		DrandRandomness: &drand,
		OperatorSecret:  secret,
		FinalRandomness: &want,
		Winner:          winner,
		RewardAmount:    big.NewInt(5000),
		TotalWeight:     big.NewInt(1000),
		MerkleRoot:      &root,
	}
	return fixture{
		input: AuditInput{
			Draw:   draw,
			Beacon: staking.Beacon{Round: 1234, Randomness: drand},
			Leaves: leaves,
			Proofs: proofs,
			Snapshot: &staking.Snapshot{
				Epoch:       3,
				MerkleRoot:  root,
				TotalWeight: big.NewInt(1000),
				NumHolders:  4,
			},
		},
		tree:   tree,
		secret: secret,
	}
}

func TestValidatePartition(t *testing.T) {
	total := big.NewInt(1000)
	assert.NoError(t, ValidatePartition(fourHolders(), total))

	shuffled := []staking.HolderLeaf{fourHolders()[2], fourHolders()[0], fourHolders()[3], fourHolders()[1]}
	assert.NoError(t, ValidatePartition(shuffled, total))
	assert.Equal(t, "inj1ccc", shuffled[0].Address, "input order untouched")

	tests := []struct {
		name   string
		leaves []staking.HolderLeaf
	}{
		{name: "empty", leaves: nil},
		{name: "gap", leaves: []staking.HolderLeaf{holder("a", 0, 100), holder("b", 101, 1000)}},
		{name: "overlap", leaves: []staking.HolderLeaf{holder("a", 0, 100), holder("b", 99, 1000)}},
		{name: "not from zero", leaves: []staking.HolderLeaf{holder("a", 1, 1000)}},
		{name: "short of total", leaves: []staking.HolderLeaf{holder("a", 0, 999)}},
		{name: "past total", leaves: []staking.HolderLeaf{holder("a", 0, 1001)}},
		{name: "empty range", leaves: []staking.HolderLeaf{holder("a", 0, 0), holder("b", 0, 1000)}},
		{name: "duplicate", leaves: []staking.HolderLeaf{holder("a", 0, 500), holder("a", 500, 1000)}},
		{name: "nil bound", leaves: []staking.HolderLeaf{{Address: "a", CumulativeStart: big.NewInt(0)}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidatePartition(tc.leaves, total), ErrInvalidPartition)
		})
	}

	assert.ErrorIs(t, ValidatePartition(fourHolders(), big.NewInt(0)), randomness.ErrZeroWeight)
}

func TestResolveWinnerCoversEveryTicket(t *testing.T) {
	leaves := fourHolders()
	for ticket := int64(0); ticket < 1000; ticket++ {
		got, err := ResolveWinner(big.NewInt(ticket), leaves)
		require.NoError(t, err, "ticket %d", ticket)
		assert.True(t, got.Contains(big.NewInt(ticket)))
	}

	got, err := ResolveWinner(big.NewInt(200), leaves)
	require.NoError(t, err)
	assert.Equal(t, "inj1bbb", got.Address)
}

func TestResolveWinnerIntegrityErrors(t *testing.T) {
	_, err := ResolveWinner(big.NewInt(1000), fourHolders())
	assert.ErrorIs(t, err, ErrWinnerNotFound)

	overlapping := append(fourHolders(), holder("inj1eee", 150, 250))
	_, err = ResolveWinner(big.NewInt(200), overlapping)
	assert.ErrorIs(t, err, ErrAmbiguousWinner)
}

func TestAuditDrawVerified(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")

	report, err := AuditDraw(fx.input)
	require.NoError(t, err)

	assert.True(t, report.Verified)
	assert.True(t, report.WinnerMatches)
	assert.True(t, report.InclusionVerified)
	assert.Equal(t, "inj1bbb", report.Winner.Address)
	assert.Equal(t, int64(200), report.Ticket.Int64())
	assert.Empty(t, report.Findings)
	assert.Equal(t, fx.tree.Root, report.MerkleRoot)
}

func TestAuditDrawWrongWinnerWithValidProof(t *testing.T) {
	// inj1ddd has a valid proof, but ticket 200 belongs to inj1bbb.
	fx := newFixture(t, 200, "inj1ddd")

	report, err := AuditDraw(fx.input)
	require.NoError(t, err)

	assert.True(t, report.InclusionVerified)
	assert.False(t, report.WinnerMatches)
	assert.False(t, report.Verified)
	assert.True(t, report.HasFinding(FindingWinnerMismatch))
	assert.Equal(t, "inj1bbb", report.Winner.Address)
}

func TestRecordOnChainInclusion(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")
	report, err := AuditDraw(fx.input)
	require.NoError(t, err)

	report.RecordOnChainInclusion(true)
	assert.True(t, report.Verified)
	assert.Empty(t, report.Findings)

	report.RecordOnChainInclusion(false)
	assert.False(t, report.Verified)
	assert.True(t, report.HasFinding(FindingOnChainInclusion))
	assert.True(t, report.InclusionVerified, "local answer is kept")
}

func TestAuditDrawTamperedProof(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")
	proof := append(merkle.ProofPath(nil), fx.input.Proofs["inj1bbb"]...)
	proof[0][0] ^= 0x80
	fx.input.Proofs["inj1bbb"] = proof

	report, err := AuditDraw(fx.input)
	require.NoError(t, err)
	assert.True(t, report.WinnerMatches)
	assert.False(t, report.InclusionVerified)
	assert.False(t, report.Verified)
	assert.True(t, report.HasFinding(FindingInclusionFailed))
}

func TestAuditDrawMissingProof(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")
	delete(fx.input.Proofs, "inj1bbb")

	report, err := AuditDraw(fx.input)
	require.NoError(t, err)
	assert.False(t, report.Verified)
	assert.True(t, report.HasFinding(FindingMissingProof))
}

func TestAuditDrawCommitMismatchStopsBeforeTicket(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")
	fx.input.Draw.OperatorSecret = []byte("not the committed secret")
	// A broken partition would fail later; the commit check must win.
	fx.input.Leaves = fx.input.Leaves[:1]

	report, err := AuditDraw(fx.input)
	assert.ErrorIs(t, err, randomness.ErrCommitMismatch)
	assert.Nil(t, report.Ticket)
}

func TestAuditDrawLifecycleChecks(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")

	committed := fx.input
	committed.Draw.Status = staking.DrawStatusCommitted
	_, err := AuditDraw(committed)
	assert.ErrorIs(t, err, ErrDrawNotRevealed)

	expired := fx.input
	expired.Draw.Status = staking.DrawStatusExpired
	_, err = AuditDraw(expired)
	assert.ErrorIs(t, err, ErrDrawNotRevealed)

	wrongRound := fx.input
	wrongRound.Beacon.Round = 1235
	_, err = AuditDraw(wrongRound)
	assert.ErrorIs(t, err, ErrBeaconRoundMismatch)

	noSecret := fx.input
	noSecret.Draw.OperatorSecret = nil
	_, err = AuditDraw(noSecret)
	assert.ErrorIs(t, err, ErrIncompleteDraw)

	noWeight := fx.input
	noWeight.Draw.TotalWeight = nil
	noWeight.Snapshot = nil
	_, err = AuditDraw(noWeight)
	assert.ErrorIs(t, err, ErrIncompleteDraw)
}

func TestAuditDrawCrossChecks(t *testing.T) {
	t.Run("recorded final randomness", func(t *testing.T) {
		fx := newFixture(t, 200, "inj1bbb")
		bad := *fx.input.Draw.FinalRandomness
		bad[31] ^= 0x01
		fx.input.Draw.FinalRandomness = &bad

		report, err := AuditDraw(fx.input)
		require.NoError(t, err)
		assert.False(t, report.Verified)
		assert.True(t, report.HasFinding(FindingFinalMismatch))
	})

	t.Run("recorded drand randomness", func(t *testing.T) {
		fx := newFixture(t, 200, "inj1bbb")
		bad := *fx.input.Draw.DrandRandomness
		bad[0] ^= 0x01
		fx.input.Draw.DrandRandomness = &bad

		report, err := AuditDraw(fx.input)
		require.NoError(t, err)
		assert.True(t, report.HasFinding(FindingDrandMismatch))
		assert.False(t, report.Verified)
	})

	t.Run("snapshot root", func(t *testing.T) {
		fx := newFixture(t, 200, "inj1bbb")
		fx.input.Snapshot.MerkleRoot[0] ^= 0x01

		report, err := AuditDraw(fx.input)
		require.NoError(t, err)
		assert.True(t, report.HasFinding(FindingMerkleRootMismatch))
		assert.False(t, report.Verified)
	})

	t.Run("falls back to snapshot", func(t *testing.T) {
		fx := newFixture(t, 200, "inj1bbb")
		fx.input.Draw.MerkleRoot = nil
		fx.input.Draw.TotalWeight = nil

		report, err := AuditDraw(fx.input)
		require.NoError(t, err)
		assert.True(t, report.Verified)
	})
}

func TestAuditDrawInvalidPartitionIsFatal(t *testing.T) {
	fx := newFixture(t, 200, "inj1bbb")
	fx.input.Leaves = fx.input.Leaves[1:]

	_, err := AuditDraw(fx.input)
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestAuditReportJSON(t *testing.T) {
	fx := newFixture(t, 200, "inj1ddd")
	report, err := AuditDraw(fx.input)
	require.NoError(t, err)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	parsed := gjson.ParseBytes(raw)
	assert.Equal(t, "200", parsed.Get("ticket").String())
	assert.Equal(t, "inj1bbb", parsed.Get("winner.address").String())
	assert.False(t, parsed.Get("verified").Bool())
	assert.Equal(t, FindingWinnerMismatch, parsed.Get("findings.0.code").String())
}

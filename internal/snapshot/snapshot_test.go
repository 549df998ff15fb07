package snapshot

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
)

type holderJSON struct {
	Address string   `json:"address"`
	Balance string   `json:"balance,omitempty"`
	Start   string   `json:"cumulative_start"`
	End     string   `json:"cumulative_end"`
	Proof   []string `json:"proof,omitempty"`
}

func holders() []holderJSON {
	return []holderJSON{
		{Address: "inj1alice", Balance: "100", Start: "0", End: "100"},
		{Address: "inj1bob", Balance: "250", Start: "100", End: "350"},
		{Address: "inj1carol", Balance: "400", Start: "350", End: "750"},
		{Address: "inj1dave", Balance: "250", Start: "750", End: "1000"},
	}
}

func rootOf(t *testing.T, hs []holderJSON) merkle.Hash {
	t.Helper()
	leaves := make([]merkle.Leaf, len(hs))
	for i, h := range hs {
		s, _ := new(big.Int).SetString(h.Start, 10)
		e, _ := new(big.Int).SetString(h.End, 10)
		leaves[i] = merkle.Leaf{Address: h.Address, Start: s, End: e}
	}
	tree, err := merkle.BuildTree(leaves)
	require.NoError(t, err)
	return tree.Root
}

func encode(t *testing.T, epoch uint64, root *merkle.Hash, hs []holderJSON) []byte {
	t.Helper()
	doc := map[string]interface{}{"epoch": epoch, "total_weight": "1000", "holders": hs}
	if root != nil {
		doc["merkle_root"] = codec.BytesToHex(root[:])
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func TestParse(t *testing.T) {
	root := rootOf(t, holders())
	doc, err := Parse(encode(t, 7, &root, holders()))
	require.NoError(t, err)

	assert.Equal(t, uint64(7), doc.Epoch)
	require.NotNil(t, doc.MerkleRoot)
	assert.Equal(t, root, *doc.MerkleRoot)
	assert.Equal(t, "1000", doc.TotalWeight.String())
	require.Len(t, doc.Holders, 4)
	assert.Equal(t, "inj1carol", doc.Holders[2].Leaf.Address)
	assert.Equal(t, "400", doc.Holders[2].Leaf.Weight().String())
	assert.Equal(t, "400", doc.Holders[2].Balance.String())
	assert.Nil(t, doc.Holders[2].Proof)
	assert.Len(t, doc.Leaves(), 4)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"not object":        `[]`,
		"missing holders":   `{"epoch": 1}`,
		"numeric weight":    `{"holders": [{"address": "a", "cumulative_start": 0, "cumulative_end": "1"}]}`,
		"float string":      `{"holders": [{"address": "a", "cumulative_start": "0", "cumulative_end": "1.5"}]}`,
		"negative":          `{"holders": [{"address": "a", "cumulative_start": "-1", "cumulative_end": "1"}]}`,
		"missing address":   `{"holders": [{"cumulative_start": "0", "cumulative_end": "1"}]}`,
		"duplicate address": `{"holders": [{"address": "a", "cumulative_start": "0", "cumulative_end": "1"}, {"address": "a", "cumulative_start": "1", "cumulative_end": "2"}]}`,
		"short proof hash":  `{"holders": [{"address": "a", "cumulative_start": "0", "cumulative_end": "1", "proof": ["abcd"]}]}`,
		"bad root":          `{"merkle_root": "zz", "holders": []}`,
		"string epoch":      `{"epoch": "1", "holders": []}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestProofsBuiltFromHolderList(t *testing.T) {
	root := rootOf(t, holders())
	doc, err := Parse(encode(t, 7, nil, holders()))
	require.NoError(t, err)

	proofs, err := doc.Proofs(root)
	require.NoError(t, err)
	require.Len(t, proofs, 4)
	for _, h := range doc.Holders {
		leaf := merkle.Leaf{Address: h.Leaf.Address, Start: h.Leaf.CumulativeStart, End: h.Leaf.CumulativeEnd}
		assert.True(t, merkle.VerifyInclusion(root, proofs[h.Leaf.Address], leaf), h.Leaf.Address)
	}
}

func TestProofsRootMismatch(t *testing.T) {
	doc, err := Parse(encode(t, 7, nil, holders()))
	require.NoError(t, err)

	tampered := holders()
	tampered[1].End = "351"
	tampered[2].Start = "351"
	_, err = doc.Proofs(rootOf(t, tampered))
	assert.ErrorIs(t, err, ErrRootMismatch)
}

func TestProofsSuppliedAreKept(t *testing.T) {
	hs := holders()
	for i := range hs {
		hs[i].Proof = []string{codec.BytesToHex(make([]byte, 32))}
	}
	doc, err := Parse(encode(t, 7, nil, hs))
	require.NoError(t, err)

	var anyRoot merkle.Hash
	anyRoot[0] = 1
	proofs, err := doc.Proofs(anyRoot)
	require.NoError(t, err)
	assert.Len(t, proofs["inj1bob"], 1)
}

func TestCheck(t *testing.T) {
	root := rootOf(t, holders())
	doc, err := Parse(encode(t, 7, &root, holders()))
	require.NoError(t, err)

	assert.NoError(t, doc.Check(staking.Snapshot{Epoch: 7, MerkleRoot: root}))
	assert.ErrorIs(t, doc.Check(staking.Snapshot{Epoch: 8, MerkleRoot: root}), ErrEpochMismatch)
	assert.ErrorIs(t, doc.Check(staking.Snapshot{Epoch: 7}), ErrRootMismatch)
}

func TestResolve(t *testing.T) {
	l := NewLoader("https://snapshots.example/epoch-{epoch}.json", time.Second, nil)
	loc, err := l.Resolve(12, "ipfs://ignored")
	require.NoError(t, err)
	assert.Equal(t, "https://snapshots.example/epoch-12.json", loc)

	l = NewLoader("", time.Second, nil)
	loc, err = l.Resolve(12, "https://hub.example/s/{epoch}")
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example/s/12", loc)

	_, err = l.Resolve(12, "")
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestLoadFromFile(t *testing.T) {
	root := rootOf(t, holders())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "epoch-7.json"), encode(t, 7, &root, holders()), 0o600))

	for _, tmpl := range []string{
		filepath.Join(dir, "epoch-{epoch}.json"),
		"file://" + filepath.Join(dir, "epoch-{epoch}.json"),
	} {
		l := NewLoader(tmpl, time.Second, nil)
		leaves, proofs, err := l.Load(context.Background(), staking.Snapshot{Epoch: 7, MerkleRoot: root}, "")
		require.NoError(t, err, tmpl)
		assert.Len(t, leaves, 4)
		assert.Len(t, proofs, 4)
	}
}

func TestLoadOverHTTP(t *testing.T) {
	root := rootOf(t, holders())
	body := encode(t, 3, nil, holders())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapshots/3.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	l := NewLoader("", time.Second, nil)
	leaves, proofs, err := l.Load(context.Background(), staking.Snapshot{Epoch: 3, MerkleRoot: root}, srv.URL+"/snapshots/{epoch}.json")
	require.NoError(t, err)
	assert.Len(t, leaves, 4)
	assert.Contains(t, proofs, "inj1dave")

	_, _, err = l.Load(context.Background(), staking.Snapshot{Epoch: 4, MerkleRoot: root}, srv.URL+"/snapshots/{epoch}.json")
	assert.Error(t, err)
}

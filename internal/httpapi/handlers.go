package httpapi

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/chain"
	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/errors"
	"github.com/R3E-Network/draw_auditor/internal/httputil"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/internal/snapshot"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// maxSmallBody bounds requests that carry no holder list.
const maxSmallBody = 64 << 10

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) auditDraw(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, errors.BadRequest("invalid draw id", err), "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.auditTimeout)
	defer cancel()

	res, err := h.auditor.AuditDraw(ctx, id)
	if err != nil {
		h.writeError(w, r, err, res.AuditID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// auditWins replays every draw an address won. It shares the on-demand
// audit timeout across all of them.
func (h *handler) auditWins(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.auditTimeout)
	defer cancel()

	out, err := h.auditor.AuditWinsOf(ctx, mux.Vars(r)["address"])
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) pools(w http.ResponseWriter, r *http.Request) {
	view, err := h.auditor.Pools(r.Context())
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) listAudits(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, errors.BadRequest("invalid draw id", err), "")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			h.writeError(w, r, errors.BadRequest("invalid limit", err), "")
			return
		}
	}
	recs, err := h.auditor.Audits(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"audits": recs})
}

func (h *handler) getAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := h.auditor.Audit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// auditInputs replays a draw from caller-supplied data:
//
//	{"draw": {...}, "beacon": {...}, "snapshot": {...}?,
//	 "holders": [...], "proofs": {"<address>": ["<hex>", ...]}?}
//
// draw, beacon and snapshot use the contracts' query shapes.
func (h *handler) auditInputs(w http.ResponseWriter, r *http.Request) {
	body, err := readJSON(r, httputil.MaxBody)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	in, err := parseAuditRequest(body)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	res, err := h.auditor.AuditInputs(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err, res.AuditID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseAuditRequest(body gjson.Result) (winner.AuditInput, error) {
	var in winner.AuditInput
	draw, err := chain.ParseDraw(body.Get("draw"))
	if err != nil {
		return in, badInput("draw", err)
	}
	beacon, err := chain.ParseBeacon(body.Get("beacon"))
	if err != nil {
		return in, badInput("beacon", err)
	}
	in.Draw, in.Beacon = draw, beacon

	if s := body.Get("snapshot"); s.Exists() && s.Type != gjson.Null {
		snap, err := chain.ParseSnapshot(s)
		if err != nil {
			return in, badInput("snapshot", err)
		}
		in.Snapshot = &snap
	}

	holders, err := snapshot.ParseHolders(body.Get("holders"))
	if err != nil {
		return in, badInput("holders", err)
	}
	doc := &snapshot.Document{Holders: holders}
	if p := body.Get("proofs"); p.Exists() {
		if !p.IsObject() {
			return in, errors.BadRequest("proofs must be an object keyed by address", nil)
		}
		byAddr := make(map[string]merkle.ProofPath)
		var perr error
		p.ForEach(func(addr, list gjson.Result) bool {
			path, err := parseProof(list)
			if err != nil {
				perr = badInput("proofs."+addr.String(), err)
				return false
			}
			byAddr[addr.String()] = path
			return true
		})
		if perr != nil {
			return in, perr
		}
		for i := range doc.Holders {
			if path, ok := byAddr[doc.Holders[i].Leaf.Address]; ok {
				doc.Holders[i].Proof = path
			}
		}
	}

	in.Leaves = doc.Leaves()
	in.Proofs = make(map[string]merkle.ProofPath)
	switch root := auditRoot(in); {
	case root != nil && len(doc.Holders) > 0:
		// Missing proofs are rebuilt from the holder list and must reach root.
		if in.Proofs, err = doc.Proofs(*root); err != nil {
			return in, err
		}
	default:
		for _, e := range doc.Holders {
			if e.Proof != nil {
				in.Proofs[e.Leaf.Address] = e.Proof
			}
		}
	}
	return in, nil
}

func auditRoot(in winner.AuditInput) *[32]byte {
	if in.Draw.MerkleRoot != nil {
		return in.Draw.MerkleRoot
	}
	if in.Snapshot != nil {
		return &in.Snapshot.MerkleRoot
	}
	return nil
}

func (h *handler) verifyInclusion(w http.ResponseWriter, r *http.Request) {
	body, err := readJSON(r, maxSmallBody)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	root, err := codec.Hash32FromHex(body.Get("merkle_root").String())
	if err != nil {
		h.writeError(w, r, badInput("merkle_root", err), "")
		return
	}
	proof, err := parseProof(body.Get("proof"))
	if err != nil {
		h.writeError(w, r, badInput("proof", err), "")
		return
	}
	addr := body.Get("leaf_address").String()
	if addr == "" {
		h.writeError(w, r, errors.BadRequest("leaf_address is required", nil), "")
		return
	}
	start, err := uintField(body, "cumulative_start", true)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	end, err := uintField(body, "cumulative_end", true)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}

	included := h.auditor.VerifyInclusion(root, proof, merkle.Leaf{Address: addr, Start: start, End: end})
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"included": included})
}

func (h *handler) odds(w http.ResponseWriter, r *http.Request) {
	body, err := readJSON(r, maxSmallBody)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	var req auditor.ProjectRequest
	fields := []struct {
		name     string
		dst      **big.Int
		required bool
	}{
		{"stake_weight", &req.StakeWeight, true},
		{"stake_amount", &req.StakeAmount, false},
		{"pool_total_weight", &req.PoolTotalWeight, false},
		{"epoch_rewards", &req.EpochRewards, false},
		{"regular_pool_annual_budget", &req.RegularPoolAnnualBudget, false},
		{"big_pool_annual_budget", &req.BigPoolAnnualBudget, false},
		{"base_yield_annual_budget", &req.BaseYieldAnnualBudget, false},
	}
	for _, f := range fields {
		if *f.dst, err = uintField(body, f.name, f.required); err != nil {
			h.writeError(w, r, err, "")
			return
		}
	}

	view, err := h.auditor.Project(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func readJSON(r *http.Request, limit int64) (gjson.Result, error) {
	raw, err := httputil.ReadAllStrict(r.Body, limit)
	if err != nil {
		return gjson.Result{}, errors.BadRequest("request body too large or unreadable", err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, errors.BadRequest("request body is not valid JSON", nil)
	}
	body := gjson.ParseBytes(raw)
	if !body.IsObject() {
		return gjson.Result{}, errors.BadRequest("request body must be a JSON object", nil)
	}
	return body, nil
}

// uintField reads a Uint128 that must be sent as a decimal string.
func uintField(body gjson.Result, name string, required bool) (*big.Int, error) {
	v := body.Get(name)
	if !v.Exists() || v.Type == gjson.Null {
		if required {
			return nil, errors.BadRequest(name+" is required", nil).WithDetails("field", name)
		}
		return nil, nil
	}
	if v.Type != gjson.String {
		return nil, errors.BadRequest(name+" must be a decimal string", nil).WithDetails("field", name)
	}
	n, err := codec.ParseUint128(v.Str)
	if err != nil {
		return nil, badInput(name, err)
	}
	return n, nil
}

func badInput(field string, err error) error {
	return errors.BadRequest("invalid "+field, err).
		WithDetails("field", field).
		WithDetails("reason", err.Error())
}

// writeError classifies err and writes the error envelope. auditID points
// at the stored record of a failed audit.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error, auditID string) {
	se := errors.Classify(err)
	if se.Details == nil && se.HTTPStatus < http.StatusInternalServerError && se.Err != nil {
		se.WithDetails("reason", se.Err.Error())
	}
	if auditID != "" {
		se.WithDetails("audit_id", auditID)
	}

	entry := h.log.WithError(err).WithField("path", r.URL.Path).WithField("code", se.Code)
	switch {
	case se.HTTPStatus >= http.StatusInternalServerError:
		entry.Error("request failed")
	case se.Code == errors.CodeCommitMismatch || se.Code == errors.CodeIntegrity:
		entry.Warn("integrity failure")
	default:
		entry.Debug("request rejected")
	}
	httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(errors.CodeNotFound), "route not found", nil)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, string(errors.CodeBadRequest), "method not allowed", nil)
}

// parseProof reads a JSON array of hex sibling hashes. An absent value is an
// empty path.
func parseProof(v gjson.Result) (merkle.ProofPath, error) {
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, fmt.Errorf("expected an array of hex strings")
	}
	var hexes []string
	for _, s := range v.Array() {
		if s.Type != gjson.String {
			return nil, fmt.Errorf("expected hex strings")
		}
		hexes = append(hexes, s.String())
	}
	return merkle.ParseProofHex(hexes)
}

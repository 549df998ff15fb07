package auditor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/metrics"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// maxWinsPage is the distributor's cap on user_win_details pages.
const maxWinsPage = 100

// Tally finding codes, raised when the distributor's per-address win record
// disagrees with the draws it lists.
const (
	FindingWinCountMismatch  = "win_count_mismatch"
	FindingWinAmountMismatch = "win_amount_mismatch"
	FindingWinnerNotAddress  = "win_not_awarded_to_address"
)

// WinAudit is the outcome for one draw an address won. Error is set when the
// draw could not be replayed; a commit mismatch lands here too.
type WinAudit struct {
	DrawID       uint64           `json:"draw_id"`
	DrawType     string           `json:"draw_type"`
	RewardAmount string           `json:"reward_amount"`
	AuditID      string           `json:"audit_id,omitempty"`
	Verified     bool             `json:"verified"`
	Findings     []winner.Finding `json:"findings,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// WinsAudit re-audits every draw an address won and checks the
// distributor's running tally against them.
type WinsAudit struct {
	Address        string           `json:"address"`
	TotalWins      uint32           `json:"total_wins"`
	TotalWonAmount string           `json:"total_won_amount"`
	Draws          []WinAudit       `json:"draws"`
	Findings       []winner.Finding `json:"findings"`
	Verified       bool             `json:"verified"`
}

func (w *WinsAudit) addFinding(code, format string, args ...any) {
	w.Findings = append(w.Findings, winner.Finding{Code: code, Detail: fmt.Sprintf(format, args...)})
	metrics.RecordFinding(code)
}

// AuditWinsOf fetches every draw address won, replays each one and stores
// the outcomes. Per-draw failures are reported in the result; only chain
// errors and cancellation abort the run.
func (s *Service) AuditWinsOf(ctx context.Context, address string) (WinsAudit, error) {
	if s.chain == nil || s.snapshots == nil {
		return WinsAudit{}, errors.New("auditor: chain and snapshot sources are required")
	}
	tally, err := s.chain.UserWins(ctx, address)
	s.upstream("chain", err)
	if err != nil {
		return WinsAudit{}, err
	}
	draws, err := s.wonDraws(ctx, address)
	if err != nil {
		return WinsAudit{}, err
	}

	out := WinsAudit{
		Address:        address,
		TotalWins:      tally.TotalWins,
		TotalWonAmount: bigOrZero(tally.TotalWonAmount).String(),
		Draws:          make([]WinAudit, 0, len(draws)),
		Findings:       []winner.Finding{},
	}
	out.checkTally(tally.TotalWins, tally.DrawIDs, bigOrZero(tally.TotalWonAmount), draws)

	verified := len(out.Findings) == 0
	for _, d := range draws {
		wa := s.auditWon(ctx, d)
		if err := ctx.Err(); err != nil {
			return WinsAudit{}, err
		}
		verified = verified && wa.Verified
		out.Draws = append(out.Draws, wa)
	}
	out.Verified = verified

	entry := s.log.WithField("address", address).WithField("draws", len(draws))
	if out.Verified {
		entry.Info("wins verified")
	} else {
		entry.WithField("findings", out.Findings).Warn("wins did not verify")
	}
	return out, nil
}

// wonDraws pages through user_win_details in ascending draw id order.
func (s *Service) wonDraws(ctx context.Context, address string) ([]staking.Draw, error) {
	var (
		all   []staking.Draw
		after *uint64
	)
	for {
		page, err := s.chain.UserWinDetails(ctx, address, after, s.winsPage)
		s.upstream("chain", err)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if uint32(len(page)) < s.winsPage {
			return all, nil
		}
		last := page[len(page)-1].ID
		if after != nil && last <= *after {
			return nil, fmt.Errorf("user win details for %s did not advance past draw %d", address, *after)
		}
		after = &last
	}
}

func (w *WinsAudit) checkTally(total uint32, ids []uint64, amount *big.Int, draws []staking.Draw) {
	if int(total) != len(ids) || len(ids) != len(draws) {
		w.addFinding(FindingWinCountMismatch, "tally says %d wins over %d draw ids, %d draws listed", total, len(ids), len(draws))
	} else {
		for i, d := range draws {
			if d.ID != ids[i] {
				w.addFinding(FindingWinCountMismatch, "draw id %d listed where tally has %d", d.ID, ids[i])
				break
			}
		}
	}

	sum := new(big.Int)
	for _, d := range draws {
		if d.Winner != w.Address {
			w.addFinding(FindingWinnerNotAddress, "draw %d was won by %q", d.ID, d.Winner)
		}
		sum.Add(sum, bigOrZero(d.RewardAmount))
	}
	if sum.Cmp(amount) != 0 {
		w.addFinding(FindingWinAmountMismatch, "tally says %s won, listed draws sum to %s", amount, sum)
	}
}

func (s *Service) auditWon(ctx context.Context, d staking.Draw) WinAudit {
	wa := WinAudit{DrawID: d.ID, DrawType: string(d.Type), RewardAmount: bigOrZero(d.RewardAmount).String()}
	in, err := s.gatherFor(ctx, d)
	if err != nil {
		wa.Error = err.Error()
		return wa
	}
	res, err := s.AuditInputs(ctx, in)
	wa.AuditID = res.AuditID
	if err != nil {
		wa.Error = err.Error()
		return wa
	}
	wa.Verified = res.Report.Verified
	wa.Findings = res.Report.Findings
	return wa
}

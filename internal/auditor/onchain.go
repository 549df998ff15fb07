package auditor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/drand"
	"github.com/R3E-Network/draw_auditor/internal/winner"
)

// crossCheckInclusion asks the distributor to verify the recorded winner's
// proof and records a finding when it disagrees with the local verifier.
// An unreachable chain leaves the local answer standing.
func (s *Service) crossCheckInclusion(ctx context.Context, in winner.AuditInput, report *winner.AuditReport) {
	if s.chain == nil {
		return
	}
	proof, ok := in.Proofs[in.Draw.Winner]
	if !ok {
		return
	}
	for _, leaf := range in.Leaves {
		if leaf.Address != in.Draw.Winner {
			continue
		}
		onChain, err := s.chain.VerifyInclusionOnChain(ctx, codec.BytesToHex(report.MerkleRoot[:]),
			proof.Hex(), leaf.Address, leaf.CumulativeStart, leaf.CumulativeEnd)
		s.upstream("chain", err)
		if err != nil {
			s.log.WithError(err).WithField("draw_id", in.Draw.ID).Warn("on-chain inclusion check unavailable")
			return
		}
		report.RecordOnChainInclusion(onChain)
		return
	}
}

// countExpired counts expired draws and committed draws whose reveal
// deadline has passed. A draw without a recorded deadline falls back to
// its creation time plus the distributor's reveal window, fetched at most
// once per call.
func (s *Service) countExpired(ctx context.Context, draws []staking.Draw) int {
	var (
		now     = s.now()
		window  time.Duration
		fetched bool
		n       int
	)
	for _, d := range draws {
		entry := s.log.WithField("draw_id", d.ID).WithField("draw_type", d.Type)
		switch d.Status {
		case staking.DrawStatusExpired:
			n++
			entry.Debug("draw expired without reveal")
		case staking.DrawStatusCommitted:
			due := d.RevealDeadline
			if due.IsZero() && !d.CreatedAt.IsZero() {
				if !fetched {
					window, fetched = s.revealWindow(ctx), true
				}
				if window > 0 {
					due = d.CreatedAt.Add(window)
				}
			}
			if !due.IsZero() && now.After(due) {
				n++
				entry.WithField("deadline", due).Debug("reveal deadline passed")
			}
		}
	}
	return n
}

func (s *Service) revealWindow(ctx context.Context) time.Duration {
	cfg, err := s.chain.DistributorConfig(ctx)
	s.upstream("chain", err)
	if err != nil {
		s.log.WithError(err).Warn("distributor config unavailable, skipping reveal deadlines")
		return 0
	}
	return cfg.RevealDeadline
}

// CheckOracle compares the oracle's drand network with want. A mismatch
// wraps drand.ErrNetworkMismatch: the relays and the oracle would then
// disagree on every beacon.
func (s *Service) CheckOracle(ctx context.Context, want drand.Network) error {
	if s.chain == nil {
		return errors.New("auditor: chain source is required")
	}
	cfg, err := s.chain.OracleConfig(ctx)
	s.upstream("chain", err)
	if err != nil {
		return fmt.Errorf("oracle config: %w", err)
	}
	return want.Check(drand.Network{ChainHash: cfg.ChainHash, GenesisTime: cfg.GenesisTime, Period: cfg.Period})
}

// PoolsView shows the undistributed prize pools and what each draw pays.
type PoolsView struct {
	RegularPool        string `json:"regular_pool"`
	BigPool            string `json:"big_pool"`
	RegularPoolDisplay string `json:"regular_pool_display"`
	BigPoolDisplay     string `json:"big_pool_display"`
	RegularDrawReward  string `json:"regular_draw_reward"`
	BigDrawReward      string `json:"big_draw_reward"`
	RevealDeadline     string `json:"reveal_deadline"`
}

// Pools reads the distributor's pool balances and reward config.
func (s *Service) Pools(ctx context.Context) (PoolsView, error) {
	if s.chain == nil {
		return PoolsView{}, errors.New("auditor: chain source is required")
	}
	pb, err := s.chain.PoolBalances(ctx)
	s.upstream("chain", err)
	if err != nil {
		return PoolsView{}, err
	}
	cfg, err := s.chain.DistributorConfig(ctx)
	s.upstream("chain", err)
	if err != nil {
		return PoolsView{}, err
	}
	regular, bigPool := bigOrZero(pb.RegularPool), bigOrZero(pb.BigPool)
	return PoolsView{
		RegularPool:        regular.String(),
		BigPool:            bigPool.String(),
		RegularPoolDisplay: s.displayAmount(decimal.NewFromBigInt(regular, 0)),
		BigPoolDisplay:     s.displayAmount(decimal.NewFromBigInt(bigPool, 0)),
		RegularDrawReward:  bigOrZero(cfg.RegularDrawReward).String(),
		BigDrawReward:      bigOrZero(cfg.BigDrawReward).String(),
		RevealDeadline:     cfg.RevealDeadline.String(),
	}, nil
}

// Package auditor replays draws against independently fetched inputs and
// projects prize odds, wiring the chain, drand and snapshot adapters around
// the pure engine packages.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/R3E-Network/draw_auditor/internal/cache"
	"github.com/R3E-Network/draw_auditor/internal/chain"
	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
	"github.com/R3E-Network/draw_auditor/internal/metrics"
	"github.com/R3E-Network/draw_auditor/internal/randomness"
	"github.com/R3E-Network/draw_auditor/internal/snapshot"
	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/winner"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

// ErrBeaconConflict means the oracle and a drand relay disagree on a round.
var ErrBeaconConflict = errors.New("auditor: oracle beacon differs from drand relay")

// ChainReader is the subset of chain.Reader the service uses.
type ChainReader interface {
	Draw(ctx context.Context, id uint64) (staking.Draw, error)
	DrawHistory(ctx context.Context, startAfter *uint64, limit uint32) ([]staking.Draw, error)
	Snapshot(ctx context.Context, epoch uint64) (staking.Snapshot, error)
	Beacon(ctx context.Context, round uint64) (staking.Beacon, error)
	EpochState(ctx context.Context) (chain.EpochState, error)
	HubConfig(ctx context.Context) (chain.HubConfig, error)
	DistributorConfig(ctx context.Context) (chain.DistributorConfig, error)
	PoolBalances(ctx context.Context) (chain.PoolBalances, error)
	OracleConfig(ctx context.Context) (chain.OracleConfig, error)
	UserWins(ctx context.Context, address string) (chain.UserWins, error)
	UserWinDetails(ctx context.Context, address string, startAfter *uint64, limit uint32) ([]staking.Draw, error)
	VerifyInclusionOnChain(ctx context.Context, rootHex string, proofHex []string, address string, start, end *big.Int) (bool, error)
}

// BeaconSource fetches beacons straight from drand.
type BeaconSource interface {
	Beacon(ctx context.Context, round uint64) (staking.Beacon, error)
}

// SnapshotSource loads holder ranges and proofs for an on-chain snapshot.
type SnapshotSource interface {
	Load(ctx context.Context, snap staking.Snapshot, publishedURI string) ([]staking.HolderLeaf, map[string]merkle.ProofPath, error)
}

// Options wires a Service. Chain and Store are required for AuditDraw;
// everything else is optional.
type Options struct {
	Chain     ChainReader
	Drand     BeaconSource
	Snapshots SnapshotSource
	Store     storage.AuditStore
	Cache     cache.Cache
	Odds      OddsSettings
	Logger    *logger.Logger
}

// Service is safe for concurrent use.
type Service struct {
	chain     ChainReader
	drand     BeaconSource
	snapshots SnapshotSource
	store     storage.AuditStore
	cache     cache.Cache
	odds      OddsSettings
	log       *logger.Logger
	now       func() time.Time
	winsPage  uint32
}

// New creates a service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("auditor: store is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("auditor")
	}
	return &Service{
		chain:     opts.Chain,
		drand:     opts.Drand,
		snapshots: opts.Snapshots,
		store:     opts.Store,
		cache:     opts.Cache,
		odds:      opts.Odds,
		log:       opts.Logger,
		now:       time.Now,
		winsPage:  maxWinsPage,
	}, nil
}

// Result is a stored audit run.
type Result struct {
	AuditID string             `json:"audit_id"`
	Report  winner.AuditReport `json:"report"`
}

// AuditDraw fetches draw id and everything needed to replay it, then
// audits and stores the outcome.
func (s *Service) AuditDraw(ctx context.Context, id uint64) (Result, error) {
	if s.chain == nil || s.snapshots == nil {
		return Result{}, errors.New("auditor: chain and snapshot sources are required")
	}
	in, err := s.gather(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return s.AuditInputs(ctx, in)
}

func (s *Service) gather(ctx context.Context, id uint64) (winner.AuditInput, error) {
	draw, err := s.chain.Draw(ctx, id)
	s.upstream("chain", err)
	if err != nil {
		return winner.AuditInput{}, err
	}
	return s.gatherFor(ctx, draw)
}

// gatherFor collects the beacon and holder set for an already fetched draw.
func (s *Service) gatherFor(ctx context.Context, draw staking.Draw) (winner.AuditInput, error) {
	id := draw.ID
	if draw.Status != staking.DrawStatusRevealed {
		return winner.AuditInput{}, fmt.Errorf("%w: draw %d is %s", winner.ErrDrawNotRevealed, id, draw.Status)
	}

	beacon, err := s.beacon(ctx, draw.TargetRound)
	if err != nil {
		return winner.AuditInput{}, fmt.Errorf("draw %d beacon: %w", id, err)
	}

	snap, err := s.chain.Snapshot(ctx, draw.Epoch)
	s.upstream("chain", err)
	if err != nil {
		return winner.AuditInput{}, fmt.Errorf("draw %d snapshot: %w", id, err)
	}

	leaves, proofs, err := s.snapshots.Load(ctx, snap, "")
	if errors.Is(err, snapshot.ErrNoSource) {
		var st chain.EpochState
		st, err = s.chain.EpochState(ctx)
		s.upstream("chain", err)
		if err == nil {
			leaves, proofs, err = s.snapshots.Load(ctx, snap, st.SnapshotURI)
		}
	}
	s.upstream("snapshot", err)
	if err != nil {
		return winner.AuditInput{}, fmt.Errorf("draw %d holders: %w", id, err)
	}

	return winner.AuditInput{Draw: draw, Beacon: beacon, Leaves: leaves, Proofs: proofs, Snapshot: &snap}, nil
}

// beacon prefers the oracle's stored copy and cross-checks it against drand
// when a relay is configured. Relay failures only matter when the oracle has
// no copy.
func (s *Service) beacon(ctx context.Context, round uint64) (staking.Beacon, error) {
	stored, err := s.chain.Beacon(ctx, round)
	s.upstream("chain", err)
	if err != nil && !errors.Is(err, chain.ErrNotFound) {
		return staking.Beacon{}, err
	}
	oracleMissing := err != nil
	if s.drand == nil {
		return stored, err
	}

	relayed, rerr := s.drand.Beacon(ctx, round)
	s.upstream("drand", rerr)
	if oracleMissing {
		return relayed, rerr
	}
	if rerr != nil {
		s.log.WithError(rerr).WithField("round", round).Warn("drand cross-check unavailable")
		return stored, nil
	}
	if relayed.Randomness != stored.Randomness {
		return staking.Beacon{}, fmt.Errorf("%w: round %d oracle %x relay %x",
			ErrBeaconConflict, round, stored.Randomness, relayed.Randomness)
	}
	return stored, nil
}

// AuditInputs audits caller-supplied inputs and stores the outcome.
// Integrity failures are stored too before being returned.
func (s *Service) AuditInputs(ctx context.Context, in winner.AuditInput) (Result, error) {
	start := s.now()
	report, auditErr := winner.AuditDraw(in)
	if auditErr == nil {
		s.crossCheckInclusion(ctx, in, &report)
	}
	elapsed := s.now().Sub(start)

	entry := s.log.WithField("draw_id", in.Draw.ID).WithField("draw_type", in.Draw.Type)
	outcome := metrics.OutcomeVerified
	switch {
	case auditErr != nil:
		outcome = metrics.OutcomeError
		if errors.Is(auditErr, randomness.ErrCommitMismatch) {
			metrics.RecordCommitMismatch()
			entry.WithError(auditErr).Error("OPERATOR SECRET DOES NOT MATCH COMMITMENT")
		} else {
			entry.WithError(auditErr).Error("draw audit failed")
		}
	case !report.Verified:
		outcome = metrics.OutcomeUnverified
		entry.WithField("findings", report.Findings).
			WithField("winner", report.Winner.Address).
			WithField("recorded_winner", report.RecordedWinner).
			Error("draw did not verify")
	default:
		entry.WithField("winner", report.Winner.Address).Info("draw verified")
	}
	metrics.RecordAudit(string(in.Draw.Type), outcome, elapsed)
	for _, f := range report.Findings {
		metrics.RecordFinding(f.Code)
	}
	if auditErr == nil && report.RecordedWinner != "" {
		metrics.RecordInclusionCheck(report.InclusionVerified)
	}

	rec, err := s.store.CreateAudit(ctx, recordFor(in.Draw, report, auditErr, start))
	if err != nil {
		entry.WithError(err).Warn("store audit")
	}
	if auditErr != nil {
		return Result{AuditID: rec.ID, Report: report}, auditErr
	}
	return Result{AuditID: rec.ID, Report: report}, nil
}

func recordFor(d staking.Draw, r winner.AuditReport, auditErr error, at time.Time) storage.AuditRecord {
	rec := storage.AuditRecord{
		DrawID:         d.ID,
		DrawType:       string(d.Type),
		Epoch:          d.Epoch,
		RecordedWinner: d.Winner,
		Verified:       r.Verified,
		Findings:       r.Findings,
		CreatedAt:      at.UTC(),
	}
	if auditErr != nil {
		rec.Verified = false
		rec.Error = auditErr.Error()
		return rec
	}
	rec.Winner = r.Winner.Address
	if r.Ticket != nil {
		rec.Ticket = r.Ticket.String()
	}
	rec.FinalRandomness = codec.BytesToHex(r.FinalRandomness[:])
	return rec
}

// Audit returns a stored audit by id.
func (s *Service) Audit(ctx context.Context, id string) (storage.AuditRecord, error) {
	return s.store.GetAudit(ctx, id)
}

// Audits lists stored audits for a draw, newest first.
func (s *Service) Audits(ctx context.Context, drawID uint64, limit int) ([]storage.AuditRecord, error) {
	return s.store.ListAudits(ctx, drawID, limit)
}

// VerifyInclusion checks a holder range against root.
func (s *Service) VerifyInclusion(root merkle.Hash, proof merkle.ProofPath, leaf merkle.Leaf) bool {
	ok := merkle.VerifyInclusion(root, proof, leaf)
	metrics.RecordInclusionCheck(ok)
	return ok
}

// PendingDraws returns revealed draws among the newest limit that have no
// stored audit. Expired draws, and committed ones past their reveal
// deadline, have nothing to replay; they are only counted and logged, since
// an operator can let an unfavourable draw lapse.
func (s *Service) PendingDraws(ctx context.Context, limit uint32) ([]staking.Draw, error) {
	if s.chain == nil {
		return nil, errors.New("auditor: chain source is required")
	}
	draws, err := s.chain.DrawHistory(ctx, nil, limit)
	s.upstream("chain", err)
	if err != nil {
		return nil, err
	}
	var pending []staking.Draw
	for _, d := range draws {
		if d.Status != staking.DrawStatusRevealed {
			continue
		}
		done, err := s.store.HasAudit(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, d)
		}
	}
	metrics.SetExpiredDraws(s.countExpired(ctx, draws))
	return pending, nil
}

func (s *Service) upstream(source string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	metrics.RecordUpstream(source, err == nil || errors.Is(err, chain.ErrNotFound))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

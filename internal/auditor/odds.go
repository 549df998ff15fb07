package auditor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/draw_auditor/internal/cache"
	"github.com/R3E-Network/draw_auditor/internal/format"
	"github.com/R3E-Network/draw_auditor/internal/metrics"
	"github.com/R3E-Network/draw_auditor/internal/odds"
)

var (
	// ErrMissingBudget means neither epoch rewards nor annual budgets were given.
	ErrMissingBudget = errors.New("auditor: epoch rewards or annual budgets required")
	// ErrMissingPool means the pool weight was not given and no chain is configured.
	ErrMissingPool = errors.New("auditor: pool total weight required")
)

// OddsSettings are the cadence and display defaults for projections. The
// staking hub's epoch duration, split and eligibility ages override them
// when reachable.
type OddsSettings struct {
	Decimals           int32
	Denom              string
	EpochDuration      time.Duration
	RegularEveryEpochs uint64
	BigEveryEpochs     uint64
	Split              odds.Split
	// MinEpochsRegular and MinEpochsBig are how many epochs a stake must
	// age before it can win each draw type.
	MinEpochsRegular uint64
	MinEpochsBig     uint64
}

// ProjectRequest describes one stake. Nil fields are filled from chain
// state or OddsSettings. Explicit annual budgets win over EpochRewards.
type ProjectRequest struct {
	StakeWeight             *big.Int
	StakeAmount             *big.Int
	PoolTotalWeight         *big.Int
	EpochRewards            *big.Int
	RegularPoolAnnualBudget *big.Int
	BigPoolAnnualBudget     *big.Int
	BaseYieldAnnualBudget   *big.Int
}

// DrawView summarises one draw type.
type DrawView struct {
	DrawsPerYear  string `json:"draws_per_year"`
	PrizePerDraw  string `json:"prize_per_draw"`
	ExpectedWins  string `json:"expected_wins"`
	ExpectedPrize string `json:"expected_prize"`
	// EligibleAfterEpochs is the stake age required before it can win.
	EligibleAfterEpochs uint64 `json:"eligible_after_epochs"`
}

// ProjectionView is the rendered projection.
type ProjectionView struct {
	WinProbability        string                `json:"win_probability"`
	WinProbabilityDisplay string                `json:"win_probability_display"`
	BaseYield             string                `json:"base_yield"`
	ExpectedPrize         string                `json:"expected_prize"`
	StdDev                string                `json:"std_dev"`
	HasVariance           bool                  `json:"has_variance"`
	Regular               DrawView              `json:"regular"`
	Big                   DrawView              `json:"big"`
	Scenarios             []format.ScenarioView `json:"scenarios"`
}

// Project resolves req into an odds.Input, projects it and renders the
// result. Identical inputs are served from the cache.
func (s *Service) Project(ctx context.Context, req ProjectRequest) (ProjectionView, error) {
	in, settings, err := s.projectionInput(ctx, req)
	if err != nil {
		return ProjectionView{}, err
	}

	// Eligibility is not part of the cache key, so it is stamped on after
	// the lookup.
	key := cache.ProjectionKey(in)
	var view ProjectionView
	if cache.GetJSON(ctx, s.cache, key, &view) {
		return withEligibility(view, settings), nil
	}

	proj, err := odds.Project(in)
	if err != nil {
		return ProjectionView{}, err
	}
	metrics.RecordProjection()
	view = s.render(proj)
	if err := cache.SetJSON(ctx, s.cache, key, view); err != nil {
		s.log.WithError(err).Debug("cache projection")
	}
	return withEligibility(view, settings), nil
}

func withEligibility(v ProjectionView, settings OddsSettings) ProjectionView {
	v.Regular.EligibleAfterEpochs = settings.MinEpochsRegular
	v.Big.EligibleAfterEpochs = settings.MinEpochsBig
	return v
}

func (s *Service) projectionInput(ctx context.Context, req ProjectRequest) (odds.Input, OddsSettings, error) {
	settings := s.odds
	if s.chain != nil {
		hub, err := s.chain.HubConfig(ctx)
		s.upstream("chain", err)
		if err == nil {
			settings.EpochDuration = hub.EpochDuration
			settings.Split = hub.Split
			settings.MinEpochsRegular = hub.MinEpochsRegular
			settings.MinEpochsBig = hub.MinEpochsBig
		} else {
			s.log.WithError(err).Warn("hub config unavailable, using configured cadence")
		}
	}

	in := odds.Input{StakeWeight: req.StakeWeight, StakeAmount: req.StakeAmount, PoolTotalWeight: req.PoolTotalWeight}
	if in.PoolTotalWeight == nil {
		pool, err := s.poolWeight(ctx)
		if err != nil {
			return odds.Input{}, settings, err
		}
		in.PoolTotalWeight = pool
	}

	var err error
	if in.RegularDrawsPerYear, err = odds.DrawsPerYear(settings.EpochDuration, settings.RegularEveryEpochs); err != nil {
		return odds.Input{}, settings, fmt.Errorf("regular cadence: %w", err)
	}
	if in.BigDrawsPerYear, err = odds.DrawsPerYear(settings.EpochDuration, settings.BigEveryEpochs); err != nil {
		return odds.Input{}, settings, fmt.Errorf("big cadence: %w", err)
	}

	switch {
	case req.RegularPoolAnnualBudget != nil || req.BigPoolAnnualBudget != nil || req.BaseYieldAnnualBudget != nil:
		in.RegularPoolAnnualBudget = bigOrZero(req.RegularPoolAnnualBudget)
		in.BigPoolAnnualBudget = bigOrZero(req.BigPoolAnnualBudget)
		in.BaseYieldAnnualBudget = bigOrZero(req.BaseYieldAnnualBudget)
	case req.EpochRewards != nil:
		epochs, err := odds.EpochsPerYear(settings.EpochDuration)
		if err != nil {
			return odds.Input{}, settings, err
		}
		b, err := odds.AnnualBudgets(req.EpochRewards, epochs, settings.Split)
		if err != nil {
			return odds.Input{}, settings, err
		}
		in.RegularPoolAnnualBudget = b.RegularPool
		in.BigPoolAnnualBudget = b.BigPool
		in.BaseYieldAnnualBudget = b.BaseYield
	default:
		return odds.Input{}, settings, ErrMissingBudget
	}
	return in, settings, nil
}

// poolWeight uses the finalized snapshot weight, falling back to total
// staked before the first snapshot.
func (s *Service) poolWeight(ctx context.Context) (*big.Int, error) {
	if s.chain == nil {
		return nil, ErrMissingPool
	}
	st, err := s.chain.EpochState(ctx)
	s.upstream("chain", err)
	if err != nil {
		return nil, fmt.Errorf("epoch state: %w", err)
	}
	if st.SnapshotTotalWeight != nil && st.SnapshotTotalWeight.Sign() > 0 {
		return st.SnapshotTotalWeight, nil
	}
	return st.TotalStaked, nil
}

// displayAmount renders a base-unit amount in tokens.
func (s *Service) displayAmount(d decimal.Decimal) string {
	out := format.Amount(d.Shift(-s.odds.Decimals), format.DisplayPlaces)
	if s.odds.Denom != "" {
		out += " " + s.odds.Denom
	}
	return out
}

func (s *Service) render(p odds.Projection) ProjectionView {
	amount := s.displayAmount
	draw := func(d odds.DrawStats) DrawView {
		return DrawView{
			DrawsPerYear:  d.DrawsPerYear.StringFixed(2),
			PrizePerDraw:  amount(d.PrizePerDraw),
			ExpectedWins:  d.ExpectedWins.StringFixed(6),
			ExpectedPrize: amount(d.ExpectedPrize),
		}
	}
	view := ProjectionView{
		WinProbabilityDisplay: format.RatProbability(p.WinProbability),
		BaseYield:             amount(p.BaseYield),
		ExpectedPrize:         amount(p.ExpectedPrize),
		StdDev:                amount(p.StdDev),
		HasVariance:           p.HasVariance,
		Regular:               draw(p.Regular),
		Big:                   draw(p.Big),
		Scenarios:             format.Scenarios(p, s.odds.Decimals, s.odds.Denom),
	}
	if p.WinProbability != nil {
		view.WinProbability = p.WinProbability.RatString()
	}
	return view
}

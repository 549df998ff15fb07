// Package odds projects a staker's annual prize income from their share of
// the pool, treating every draw as an independent Bernoulli trial.
package odds

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrZeroPool         = errors.New("pool total weight is zero")
	ErrZeroStake        = errors.New("stake weight is zero")
	ErrStakeExceedsPool = errors.New("stake weight exceeds pool total weight")
)

// Scenario labels in ascending payout order.
const (
	LabelFloor   = "floor"
	LabelUnlucky = "unlucky"
	LabelTypical = "typical"
	LabelLucky   = "lucky"
	LabelJackpot = "jackpot"
)

// VarianceThreshold is the sd/E ratio at or below which percentile
// scenarios are suppressed.
var VarianceThreshold = decimal.RequireFromString("0.001")

var zScores = []struct {
	label string
	z     decimal.Decimal
}{
	{LabelUnlucky, decimal.RequireFromString("-1.28")},
	{LabelTypical, decimal.Zero},
	{LabelLucky, decimal.RequireFromString("1.28")},
	{LabelJackpot, decimal.RequireFromString("2.33")},
}

// ratPrecision is the number of fractional digits kept when a rational is
// converted to a decimal.
const ratPrecision = 18

// Input describes one hypothetical or actual stake. Amounts are in base
// units of the reward token. DrawsPerYear values may be fractional.
type Input struct {
	StakeWeight             *big.Int
	PoolTotalWeight         *big.Int
	RegularPoolAnnualBudget *big.Int
	BigPoolAnnualBudget     *big.Int
	BaseYieldAnnualBudget   *big.Int
	RegularDrawsPerYear     *big.Rat
	BigDrawsPerYear         *big.Rat
	// StakeAmount is the APR denominator. Defaults to StakeWeight.
	StakeAmount *big.Int
}

// DrawStats is the annual expectation for one draw type.
type DrawStats struct {
	DrawsPerYear  decimal.Decimal
	PrizePerDraw  decimal.Decimal
	ExpectedWins  decimal.Decimal
	ExpectedPrize decimal.Decimal
	Variance      decimal.Decimal
}

// Scenario is a named payout estimate.
type Scenario struct {
	Label        string
	Z            decimal.Decimal
	AnnualPayout decimal.Decimal
	APR          decimal.Decimal
}

// Projection is the full output of Project.
type Projection struct {
	WinProbability *big.Rat
	BaseYield      decimal.Decimal
	Regular        DrawStats
	Big            DrawStats
	ExpectedPrize  decimal.Decimal
	Variance       decimal.Decimal
	StdDev         decimal.Decimal
	HasVariance    bool
	Scenarios      []Scenario
}

// Scenario returns the scenario with label, if emitted.
func (p Projection) Scenario(label string) (Scenario, bool) {
	for _, s := range p.Scenarios {
		if s.Label == label {
			return s, true
		}
	}
	return Scenario{}, false
}

// Project computes the win probability, expected prize income, its variance
// and the percentile scenarios for in.
func Project(in Input) (Projection, error) {
	if in.PoolTotalWeight == nil || in.PoolTotalWeight.Sign() <= 0 {
		return Projection{}, ErrZeroPool
	}
	if in.StakeWeight == nil || in.StakeWeight.Sign() <= 0 {
		return Projection{}, ErrZeroStake
	}
	if in.StakeWeight.Cmp(in.PoolTotalWeight) > 0 {
		return Projection{}, ErrStakeExceedsPool
	}
	stake := in.StakeAmount
	if stake == nil || stake.Sign() <= 0 {
		stake = in.StakeWeight
	}

	p := new(big.Rat).SetFrac(in.StakeWeight, in.PoolTotalWeight)

	regular, regularVar := drawStats(p, in.RegularPoolAnnualBudget, in.RegularDrawsPerYear)
	bigDraw, bigVar := drawStats(p, in.BigPoolAnnualBudget, in.BigDrawsPerYear)

	proj := Projection{
		WinProbability: p,
		BaseYield:      ratToDecimal(mulInt(p, in.BaseYieldAnnualBudget)),
		Regular:        regular,
		Big:            bigDraw,
	}
	proj.ExpectedPrize = regular.ExpectedPrize.Add(bigDraw.ExpectedPrize)

	variance := new(big.Rat).Add(regularVar, bigVar)
	proj.Variance = ratToDecimal(variance)
	proj.StdDev = sqrt(variance)
	proj.HasVariance = HasVariance(proj.StdDev, proj.ExpectedPrize)

	stakeDec := decimal.NewFromBigInt(stake, 0)
	add := func(label string, z, payout decimal.Decimal) {
		proj.Scenarios = append(proj.Scenarios, Scenario{
			Label:        label,
			Z:            z,
			AnnualPayout: payout,
			APR:          apr(payout, stakeDec),
		})
	}

	add(LabelFloor, decimal.Zero, proj.BaseYield)
	mean := proj.BaseYield.Add(proj.ExpectedPrize)
	if !proj.HasVariance {
		add(LabelTypical, decimal.Zero, mean)
		return proj, nil
	}
	for _, s := range zScores {
		payout := mean.Add(s.z.Mul(proj.StdDev))
		if payout.LessThan(proj.BaseYield) {
			payout = proj.BaseYield
		}
		add(s.label, s.z, payout)
	}
	return proj, nil
}

// HasVariance reports whether sd is material relative to the expected prize.
func HasVariance(sd, expected decimal.Decimal) bool {
	if !expected.IsPositive() {
		return false
	}
	return sd.GreaterThan(expected.Mul(VarianceThreshold))
}

// drawStats returns the annual stats for one draw type and its exact
// variance: E = p * budget, Var = n * p(1-p) * (budget/n)^2.
func drawStats(p *big.Rat, budget *big.Int, drawsPerYear *big.Rat) (DrawStats, *big.Rat) {
	zero := new(big.Rat)
	if budget == nil || budget.Sign() <= 0 || drawsPerYear == nil || drawsPerYear.Sign() <= 0 {
		return DrawStats{
			DrawsPerYear:  ratToDecimal(orZero(drawsPerYear)),
			PrizePerDraw:  decimal.Zero,
			ExpectedWins:  ratToDecimal(new(big.Rat).Mul(p, orZero(drawsPerYear))),
			ExpectedPrize: decimal.Zero,
			Variance:      decimal.Zero,
		}, zero
	}

	n := drawsPerYear
	prize := new(big.Rat).Quo(new(big.Rat).SetInt(budget), n)
	expectedPrize := new(big.Rat).Mul(n, new(big.Rat).Mul(p, prize))

	q := new(big.Rat).Sub(big.NewRat(1, 1), p)
	variance := new(big.Rat).Mul(n, p)
	variance.Mul(variance, q)
	variance.Mul(variance, new(big.Rat).Mul(prize, prize))

	return DrawStats{
		DrawsPerYear:  ratToDecimal(n),
		PrizePerDraw:  ratToDecimal(prize),
		ExpectedWins:  ratToDecimal(new(big.Rat).Mul(n, p)),
		ExpectedPrize: ratToDecimal(expectedPrize),
		Variance:      ratToDecimal(variance),
	}, variance
}

func apr(payout, stake decimal.Decimal) decimal.Decimal {
	if stake.IsZero() {
		return decimal.Zero
	}
	return payout.Mul(decimal.NewFromInt(100)).DivRound(stake, ratPrecision)
}

func mulInt(r *big.Rat, v *big.Int) *big.Rat {
	if v == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Mul(r, new(big.Rat).SetInt(v))
}

func orZero(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return r
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	return decimal.RequireFromString(r.FloatString(ratPrecision))
}

// sqrt takes the square root at 256 bits of precision. This is the only
// place the projection leaves exact arithmetic.
func sqrt(r *big.Rat) decimal.Decimal {
	if r.Sign() <= 0 {
		return decimal.Zero
	}
	f := new(big.Float).SetPrec(256).SetRat(r)
	f.Sqrt(f)
	return decimal.RequireFromString(f.Text('f', ratPrecision))
}

package odds

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() Input {
	return Input{
		StakeWeight:             big.NewInt(100),
		PoolTotalWeight:         big.NewInt(1000),
		RegularPoolAnnualBudget: big.NewInt(365000),
		BigPoolAnnualBudget:     big.NewInt(52000),
		BaseYieldAnnualBudget:   big.NewInt(10000),
		RegularDrawsPerYear:     big.NewRat(365, 1),
		BigDrawsPerYear:         big.NewRat(52, 1),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestProjectExpectations(t *testing.T) {
	proj, err := Project(baseInput())
	require.NoError(t, err)

	assert.Zero(t, big.NewRat(1, 10).Cmp(proj.WinProbability))
	assert.True(t, proj.BaseYield.Equal(dec("1000")))

	assert.True(t, proj.Regular.PrizePerDraw.Equal(dec("1000")))
	assert.True(t, proj.Regular.ExpectedWins.Equal(dec("36.5")))
	assert.True(t, proj.Regular.ExpectedPrize.Equal(dec("36500")))
	// 365 * 0.1 * 0.9 * 1000^2
	assert.True(t, proj.Regular.Variance.Equal(dec("32850000")))

	// 52 * 0.1 * 0.9 * 1000^2
	assert.True(t, proj.Big.Variance.Equal(dec("4680000")))
	assert.True(t, proj.ExpectedPrize.Equal(dec("41700")))
	assert.True(t, proj.Variance.Equal(dec("37530000")))

	sd, _ := proj.StdDev.Float64()
	assert.InDelta(t, 6126.17, sd, 0.01)
	assert.True(t, proj.HasVariance)
}

func TestProjectScenariosMonotonic(t *testing.T) {
	proj, err := Project(baseInput())
	require.NoError(t, err)
	require.Len(t, proj.Scenarios, 5)

	labels := []string{LabelFloor, LabelUnlucky, LabelTypical, LabelLucky, LabelJackpot}
	for i, s := range proj.Scenarios {
		assert.Equal(t, labels[i], s.Label)
		if i > 0 {
			assert.True(t, proj.Scenarios[i-1].AnnualPayout.LessThanOrEqual(s.AnnualPayout), "%s <= %s", labels[i-1], s.Label)
		}
	}

	typical, ok := proj.Scenario(LabelTypical)
	require.True(t, ok)
	assert.True(t, typical.AnnualPayout.Equal(dec("42700")))
	assert.True(t, typical.APR.Equal(dec("42700")))

	floor, _ := proj.Scenario(LabelFloor)
	assert.True(t, floor.AnnualPayout.Equal(proj.BaseYield))
}

func TestProjectUnluckyFlooredAtBaseYield(t *testing.T) {
	in := baseInput()
	in.StakeWeight = big.NewInt(1)
	in.PoolTotalWeight = big.NewInt(1000000)

	proj, err := Project(in)
	require.NoError(t, err)
	require.True(t, proj.HasVariance)

	unlucky, ok := proj.Scenario(LabelUnlucky)
	require.True(t, ok)
	assert.True(t, unlucky.AnnualPayout.Equal(proj.BaseYield))
}

func TestProjectWholePoolHasNoVariance(t *testing.T) {
	in := baseInput()
	in.StakeWeight = big.NewInt(1000)

	proj, err := Project(in)
	require.NoError(t, err)

	assert.Zero(t, big.NewRat(1, 1).Cmp(proj.WinProbability))
	assert.True(t, proj.Variance.IsZero())
	assert.False(t, proj.HasVariance)
	require.Len(t, proj.Scenarios, 2)
	assert.Equal(t, LabelFloor, proj.Scenarios[0].Label)
	assert.Equal(t, LabelTypical, proj.Scenarios[1].Label)
	assert.True(t, proj.Scenarios[1].AnnualPayout.Equal(dec("427000")))
}

func TestProjectWithoutPrizeBudgets(t *testing.T) {
	in := baseInput()
	in.RegularPoolAnnualBudget = nil
	in.BigPoolAnnualBudget = big.NewInt(0)

	proj, err := Project(in)
	require.NoError(t, err)
	assert.False(t, proj.HasVariance)
	require.Len(t, proj.Scenarios, 2)
	assert.True(t, proj.Scenarios[1].AnnualPayout.Equal(proj.Scenarios[0].AnnualPayout))
}

func TestProjectStakeAmountDrivesAPR(t *testing.T) {
	in := baseInput()
	in.StakeAmount = big.NewInt(1000)

	proj, err := Project(in)
	require.NoError(t, err)
	typical, _ := proj.Scenario(LabelTypical)
	assert.True(t, typical.APR.Equal(dec("4270")))
}

func TestProjectErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   error
	}{
		{name: "zero pool", mutate: func(in *Input) { in.PoolTotalWeight = big.NewInt(0) }, want: ErrZeroPool},
		{name: "nil pool", mutate: func(in *Input) { in.PoolTotalWeight = nil }, want: ErrZeroPool},
		{name: "zero stake", mutate: func(in *Input) { in.StakeWeight = big.NewInt(0) }, want: ErrZeroStake},
		{name: "stake exceeds pool", mutate: func(in *Input) { in.StakeWeight = big.NewInt(1001) }, want: ErrStakeExceedsPool},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := baseInput()
			tc.mutate(&in)
			_, err := Project(in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestHasVariance(t *testing.T) {
	assert.False(t, HasVariance(dec("1"), decimal.Zero))
	assert.False(t, HasVariance(dec("0.1"), dec("100")))
	assert.True(t, HasVariance(dec("0.11"), dec("100")))
}

func TestSplit(t *testing.T) {
	good := Split{ProtocolFeeBps: 500, BaseYieldBps: 500, RegularPoolBps: 7000, BigPoolBps: 2000}
	assert.NoError(t, good.Validate())

	bad := good
	bad.RegularPoolBps = 8000
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSplit)
}

func TestAnnualBudgets(t *testing.T) {
	split := Split{ProtocolFeeBps: 500, BaseYieldBps: 500, RegularPoolBps: 7000, BigPoolBps: 2000}
	epochs, err := EpochsPerYear(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, big.NewRat(365, 1).Cmp(epochs))

	b, err := AnnualBudgets(big.NewInt(10001), epochs, split)
	require.NoError(t, err)
	// 10001 * 7000 / 10000 floors to 7000 per epoch.
	assert.Equal(t, int64(7000*365), b.RegularPool.Int64())
	assert.Equal(t, int64(2000*365), b.BigPool.Int64())
	assert.Equal(t, int64(500*365), b.BaseYield.Int64())
	assert.Equal(t, int64(500*365), b.ProtocolFee.Int64())

	_, err = AnnualBudgets(big.NewInt(1), epochs, Split{})
	assert.ErrorIs(t, err, ErrInvalidSplit)
	_, err = AnnualBudgets(big.NewInt(1), nil, split)
	assert.ErrorIs(t, err, ErrInvalidCadence)
}

func TestDrawsPerYear(t *testing.T) {
	n, err := DrawsPerYear(24*time.Hour, 7)
	require.NoError(t, err)
	assert.Zero(t, big.NewRat(365, 7).Cmp(n))

	n, err = DrawsPerYear(time.Hour, 1)
	require.NoError(t, err)
	assert.Zero(t, big.NewRat(8760, 1).Cmp(n))

	_, err = DrawsPerYear(0, 1)
	assert.ErrorIs(t, err, ErrInvalidCadence)
	_, err = DrawsPerYear(time.Hour, 0)
	assert.ErrorIs(t, err, ErrInvalidCadence)
}

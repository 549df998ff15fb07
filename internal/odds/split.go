package odds

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// BpsDenominator is 100%.
const BpsDenominator = 10000

// Year is the projection horizon.
const Year = 365 * 24 * time.Hour

var (
	ErrInvalidSplit   = errors.New("reward split must sum to 10000 bps")
	ErrInvalidCadence = errors.New("epoch duration and draw interval must be positive")
)

// Split is the staking hub's per-epoch reward split in basis points.
type Split struct {
	ProtocolFeeBps uint32 `json:"protocol_fee_bps" yaml:"protocol_fee_bps"`
	BaseYieldBps   uint32 `json:"base_yield_bps" yaml:"base_yield_bps"`
	RegularPoolBps uint32 `json:"regular_pool_bps" yaml:"regular_pool_bps"`
	BigPoolBps     uint32 `json:"big_pool_bps" yaml:"big_pool_bps"`
}

// Validate checks the four shares sum to exactly 10000.
func (s Split) Validate() error {
	total := s.ProtocolFeeBps + s.BaseYieldBps + s.RegularPoolBps + s.BigPoolBps
	if total != BpsDenominator {
		return fmt.Errorf("%w: fee %d + base %d + regular %d + big %d = %d",
			ErrInvalidSplit, s.ProtocolFeeBps, s.BaseYieldBps, s.RegularPoolBps, s.BigPoolBps, total)
	}
	return nil
}

// Budgets are annual amounts per destination in reward base units.
type Budgets struct {
	ProtocolFee *big.Int
	BaseYield   *big.Int
	RegularPool *big.Int
	BigPool     *big.Int
}

// AnnualBudgets splits one epoch's rewards the way the hub does (each share
// floored independently) and scales every share to a year.
func AnnualBudgets(epochRewards *big.Int, epochsPerYear *big.Rat, split Split) (Budgets, error) {
	if err := split.Validate(); err != nil {
		return Budgets{}, err
	}
	if epochRewards == nil || epochRewards.Sign() < 0 {
		return Budgets{}, errors.New("epoch rewards must be non-negative")
	}
	if epochsPerYear == nil || epochsPerYear.Sign() <= 0 {
		return Budgets{}, ErrInvalidCadence
	}
	annual := func(bps uint32) *big.Int {
		share := new(big.Int).Mul(epochRewards, big.NewInt(int64(bps)))
		share.Quo(share, big.NewInt(BpsDenominator))
		scaled := new(big.Rat).Mul(new(big.Rat).SetInt(share), epochsPerYear)
		return new(big.Int).Quo(scaled.Num(), scaled.Denom())
	}
	return Budgets{
		ProtocolFee: annual(split.ProtocolFeeBps),
		BaseYield:   annual(split.BaseYieldBps),
		RegularPool: annual(split.RegularPoolBps),
		BigPool:     annual(split.BigPoolBps),
	}, nil
}

// EpochsPerYear returns Year / epochDuration.
func EpochsPerYear(epochDuration time.Duration) (*big.Rat, error) {
	return DrawsPerYear(epochDuration, 1)
}

// DrawsPerYear returns how many draws happen in a year when one draw runs
// every epochsBetweenDraws epochs of epochDuration each.
func DrawsPerYear(epochDuration time.Duration, epochsBetweenDraws uint64) (*big.Rat, error) {
	if epochDuration <= 0 || epochsBetweenDraws == 0 {
		return nil, ErrInvalidCadence
	}
	interval := new(big.Int).Mul(big.NewInt(int64(epochDuration)), new(big.Int).SetUint64(epochsBetweenDraws))
	return new(big.Rat).SetFrac(big.NewInt(int64(Year)), interval), nil
}

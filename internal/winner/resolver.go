// Package winner resolves the holder owning a winning ticket and audits a
// revealed draw end to end: commitment, ticket, range lookup and inclusion.
package winner

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/randomness"
)

var (
	ErrInvalidPartition = errors.New("holder ranges do not partition total weight")
	ErrWinnerNotFound   = errors.New("no holder range contains ticket")
	ErrAmbiguousWinner  = errors.New("more than one holder range contains ticket")
)

// ValidatePartition checks that leaves tile [0, totalWeight) exactly once
// with unique addresses. The input slice is not reordered.
func ValidatePartition(leaves []staking.HolderLeaf, totalWeight *big.Int) error {
	if totalWeight == nil || totalWeight.Sign() <= 0 {
		return randomness.ErrZeroWeight
	}
	if len(leaves) == 0 {
		return fmt.Errorf("%w: no holders", ErrInvalidPartition)
	}

	sorted := make([]staking.HolderLeaf, len(leaves))
	copy(sorted, leaves)
	for i, l := range sorted {
		if l.CumulativeStart == nil || l.CumulativeEnd == nil {
			return fmt.Errorf("%w: holder %d (%s) has missing bounds", ErrInvalidPartition, i, l.Address)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CumulativeStart.Cmp(sorted[j].CumulativeStart) < 0
	})

	seen := make(map[string]struct{}, len(sorted))
	cursor := new(big.Int)
	sum := new(big.Int)
	for _, l := range sorted {
		if _, dup := seen[l.Address]; dup {
			return fmt.Errorf("%w: duplicate address %s", ErrInvalidPartition, l.Address)
		}
		seen[l.Address] = struct{}{}

		if l.CumulativeEnd.Cmp(l.CumulativeStart) <= 0 {
			return fmt.Errorf("%w: empty range [%s,%s) for %s", ErrInvalidPartition, l.CumulativeStart, l.CumulativeEnd, l.Address)
		}
		switch l.CumulativeStart.Cmp(cursor) {
		case 1:
			return fmt.Errorf("%w: gap [%s,%s) before %s", ErrInvalidPartition, cursor, l.CumulativeStart, l.Address)
		case -1:
			return fmt.Errorf("%w: overlap at %s for %s", ErrInvalidPartition, l.CumulativeStart, l.Address)
		}
		sum.Add(sum, l.Weight())
		cursor.Set(l.CumulativeEnd)
	}

	if cursor.Cmp(totalWeight) != 0 {
		return fmt.Errorf("%w: ranges end at %s, total weight is %s", ErrInvalidPartition, cursor, totalWeight)
	}
	if sum.Cmp(totalWeight) != 0 {
		return fmt.Errorf("%w: range sizes sum to %s, total weight is %s", ErrInvalidPartition, sum, totalWeight)
	}
	return nil
}

// ResolveWinner scans every leaf and returns the one whose range contains
// ticket. It fails when none or several do.
func ResolveWinner(ticket *big.Int, leaves []staking.HolderLeaf) (staking.HolderLeaf, error) {
	var (
		found staking.HolderLeaf
		hits  int
	)
	for _, l := range leaves {
		if !l.Contains(ticket) {
			continue
		}
		hits++
		if hits == 1 {
			found = l
		}
	}
	switch hits {
	case 0:
		return staking.HolderLeaf{}, fmt.Errorf("%w: ticket %s", ErrWinnerNotFound, ticket)
	case 1:
		return found, nil
	default:
		return staking.HolderLeaf{}, fmt.Errorf("%w: ticket %s matched %d ranges", ErrAmbiguousWinner, ticket, hits)
	}
}

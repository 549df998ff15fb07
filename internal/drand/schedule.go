package drand

import (
	"fmt"
	"strings"
	"time"
)

// Schedule maps wall-clock time to drand rounds. Round 1 is emitted at
// Genesis and a new round every Period.
type Schedule struct {
	Genesis time.Time
	Period  time.Duration
}

// RoundAt returns the latest round emitted at or before t, or 0 before
// genesis.
func (s Schedule) RoundAt(t time.Time) uint64 {
	if s.Period <= 0 || t.Before(s.Genesis) {
		return 0
	}
	return uint64(t.Sub(s.Genesis)/s.Period) + 1
}

// TimeOfRound returns when round is emitted.
func (s Schedule) TimeOfRound(round uint64) time.Time {
	if round == 0 {
		return s.Genesis
	}
	return s.Genesis.Add(time.Duration(round-1) * s.Period)
}

// Network identifies a drand chain and its round timing.
type Network struct {
	ChainHash   string
	GenesisTime int64
	Period      time.Duration
}

// Schedule converts the network timing into a round schedule.
func (n Network) Schedule() Schedule {
	return Schedule{Genesis: time.Unix(n.GenesisTime, 0).UTC(), Period: n.Period}
}

// Check returns ErrNetworkMismatch naming the first field where other
// differs from n. Chain hashes compare case-insensitively.
func (n Network) Check(other Network) error {
	switch {
	case !strings.EqualFold(n.ChainHash, other.ChainHash):
		return fmt.Errorf("%w: chain hash %s, want %s", ErrNetworkMismatch, other.ChainHash, n.ChainHash)
	case n.GenesisTime != other.GenesisTime:
		return fmt.Errorf("%w: genesis %d, want %d", ErrNetworkMismatch, other.GenesisTime, n.GenesisTime)
	case n.Period != other.Period:
		return fmt.Errorf("%w: period %s, want %s", ErrNetworkMismatch, other.Period, n.Period)
	}
	return nil
}

package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/odds"
)

// Contracts holds the deployed contract addresses.
type Contracts struct {
	Distributor string
	Oracle      string
	StakingHub  string
}

// Reader exposes the typed queries the auditor needs.
type Reader struct {
	client    *Client
	contracts Contracts
}

// NewReader binds a client to a contract set.
func NewReader(client *Client, contracts Contracts) *Reader {
	return &Reader{client: client, contracts: contracts}
}

// HubConfig is the subset of the staking hub config used for projections.
type HubConfig struct {
	EpochDuration    time.Duration
	Split            odds.Split
	MinEpochsRegular uint64
	MinEpochsBig     uint64
}

// EpochState is the staking hub's current epoch record.
type EpochState struct {
	CurrentEpoch        uint64
	TotalStaked         *big.Int
	SnapshotFinalized   bool
	SnapshotTotalWeight *big.Int
	SnapshotNumHolders  uint32
	SnapshotURI         string
}

// DistributorConfig holds per-draw reward amounts and the reveal window.
type DistributorConfig struct {
	RevealDeadline    time.Duration
	RegularDrawReward *big.Int
	BigDrawReward     *big.Int
}

// PoolBalances are the undistributed prize pools.
type PoolBalances struct {
	RegularPool *big.Int
	BigPool     *big.Int
}

// UserWins is the distributor's tally of one address's prizes.
type UserWins struct {
	Address        string
	TotalWins      uint32
	TotalWonAmount *big.Int
	DrawIDs        []uint64
}

// OracleConfig is the drand network the oracle accepts beacons from.
type OracleConfig struct {
	ChainHash   string
	GenesisTime int64
	Period      time.Duration
}

type drawQuery struct {
	Draw struct {
		DrawID uint64 `json:"draw_id"`
	} `json:"draw"`
}

type drawHistoryQuery struct {
	DrawHistory struct {
		StartAfter *uint64 `json:"start_after,omitempty"`
		Limit      *uint32 `json:"limit,omitempty"`
	} `json:"draw_history"`
}

type snapshotQuery struct {
	Snapshot struct {
		Epoch uint64 `json:"epoch"`
	} `json:"snapshot"`
}

type beaconQuery struct {
	Beacon struct {
		Round uint64 `json:"round"`
	} `json:"beacon"`
}

type userWinsQuery struct {
	UserWins struct {
		Address string `json:"address"`
	} `json:"user_wins"`
}

type userWinDetailsQuery struct {
	UserWinDetails struct {
		Address    string  `json:"address"`
		StartAfter *uint64 `json:"start_after,omitempty"`
		Limit      *uint32 `json:"limit,omitempty"`
	} `json:"user_win_details"`
}

type emptyQuery map[string]struct{}

// Draw fetches one draw by id.
func (r *Reader) Draw(ctx context.Context, id uint64) (staking.Draw, error) {
	var q drawQuery
	q.Draw.DrawID = id
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, q)
	if err != nil {
		return staking.Draw{}, fmt.Errorf("draw %d: %w", id, err)
	}
	return ParseDraw(data)
}

// DrawHistory lists draws after startAfter (nil for the newest page).
func (r *Reader) DrawHistory(ctx context.Context, startAfter *uint64, limit uint32) ([]staking.Draw, error) {
	var q drawHistoryQuery
	q.DrawHistory.StartAfter = startAfter
	if limit > 0 {
		q.DrawHistory.Limit = &limit
	}
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, q)
	if err != nil {
		return nil, fmt.Errorf("draw history: %w", err)
	}
	items := data.Get("draws")
	if !items.IsArray() {
		return nil, malformed("draws", "expected array, got %s", items.Type)
	}
	var draws []staking.Draw
	for _, item := range items.Array() {
		d, err := ParseDraw(item)
		if err != nil {
			return nil, err
		}
		draws = append(draws, d)
	}
	return draws, nil
}

// Snapshot fetches the snapshot for epoch.
func (r *Reader) Snapshot(ctx context.Context, epoch uint64) (staking.Snapshot, error) {
	var q snapshotQuery
	q.Snapshot.Epoch = epoch
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, q)
	if err != nil {
		return staking.Snapshot{}, fmt.Errorf("snapshot %d: %w", epoch, err)
	}
	if data.Type == gjson.Null {
		return staking.Snapshot{}, fmt.Errorf("snapshot %d: %w", epoch, ErrNotFound)
	}
	return ParseSnapshot(data)
}

// Beacon fetches the oracle's stored beacon for round.
func (r *Reader) Beacon(ctx context.Context, round uint64) (staking.Beacon, error) {
	var q beaconQuery
	q.Beacon.Round = round
	data, err := r.client.SmartQuery(ctx, r.contracts.Oracle, q)
	if err != nil {
		return staking.Beacon{}, fmt.Errorf("beacon %d: %w", round, err)
	}
	if data.Type == gjson.Null {
		return staking.Beacon{}, fmt.Errorf("beacon %d: %w", round, ErrNotFound)
	}
	return ParseBeacon(data)
}

// UserWins fetches the win tally for address.
func (r *Reader) UserWins(ctx context.Context, address string) (UserWins, error) {
	var q userWinsQuery
	q.UserWins.Address = address
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, q)
	if err != nil {
		return UserWins{}, fmt.Errorf("user wins %s: %w", address, err)
	}
	var w UserWins
	addr, err := requireField(data, "address")
	if err != nil {
		return w, err
	}
	if addr.Type != gjson.String {
		return w, malformed("address", "expected string, got %s", addr.Type)
	}
	w.Address = addr.Str
	total, err := ParseU64Field(data, "total_wins")
	if err != nil {
		return w, err
	}
	if total > math.MaxUint32 {
		return w, malformed("total_wins", "%d overflows u32", total)
	}
	w.TotalWins = uint32(total)
	if w.TotalWonAmount, err = ParseUint128Field(data, "total_won_amount"); err != nil {
		return w, err
	}
	ids, err := requireField(data, "draw_ids")
	if err != nil {
		return w, err
	}
	if !ids.IsArray() {
		return w, malformed("draw_ids", "expected array, got %s", ids.Type)
	}
	for i, id := range ids.Array() {
		if id.Type != gjson.Number {
			return w, malformed("draw_ids", "element %d: expected integer, got %s", i, id.Type)
		}
		n, err := strconv.ParseUint(id.Raw, 10, 64)
		if err != nil {
			return w, malformed("draw_ids", "element %d: expected unsigned integer, got %s", i, id.Raw)
		}
		w.DrawIDs = append(w.DrawIDs, n)
	}
	return w, nil
}

// UserWinDetails lists the draws address won with ids above startAfter.
// The distributor caps limit at 100.
func (r *Reader) UserWinDetails(ctx context.Context, address string, startAfter *uint64, limit uint32) ([]staking.Draw, error) {
	var q userWinDetailsQuery
	q.UserWinDetails.Address = address
	q.UserWinDetails.StartAfter = startAfter
	if limit > 0 {
		q.UserWinDetails.Limit = &limit
	}
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, q)
	if err != nil {
		return nil, fmt.Errorf("user win details %s: %w", address, err)
	}
	if !data.IsArray() {
		return nil, malformed("user_win_details", "expected array, got %s", data.Type)
	}
	var draws []staking.Draw
	for _, item := range data.Array() {
		d, err := ParseDraw(item)
		if err != nil {
			return nil, err
		}
		draws = append(draws, d)
	}
	return draws, nil
}

// VerifyInclusionOnChain asks the distributor to check a proof. The auditor
// compares its answer with the local verifier and never relies on it alone.
func (r *Reader) VerifyInclusionOnChain(ctx context.Context, rootHex string, proofHex []string, address string, start, end *big.Int) (bool, error) {
	q := map[string]interface{}{
		"verify_inclusion": map[string]interface{}{
			"merkle_root":      rootHex,
			"proof":            proofHex,
			"leaf_address":     address,
			"cumulative_start": start.String(),
			"cumulative_end":   end.String(),
		},
	}
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, q)
	if err != nil {
		return false, fmt.Errorf("verify inclusion: %w", err)
	}
	if data.Type != gjson.True && data.Type != gjson.False {
		return false, malformed("verify_inclusion", "expected bool, got %s", data.Type)
	}
	return data.Bool(), nil
}

// HubConfig fetches the staking hub's reward split and cadence.
func (r *Reader) HubConfig(ctx context.Context) (HubConfig, error) {
	data, err := r.client.SmartQuery(ctx, r.contracts.StakingHub, emptyQuery{"config": {}})
	if err != nil {
		return HubConfig{}, fmt.Errorf("hub config: %w", err)
	}
	var cfg HubConfig
	secs, err := ParseU64Field(data, "epoch_duration_seconds")
	if err != nil {
		return cfg, err
	}
	cfg.EpochDuration = time.Duration(secs) * time.Second
	bps := func(field string) (uint32, error) {
		v, err := ParseU64Field(data, field)
		if err != nil {
			return 0, err
		}
		if v > odds.BpsDenominator {
			return 0, malformed(field, "%d exceeds 10000", v)
		}
		return uint32(v), nil
	}
	if cfg.Split.ProtocolFeeBps, err = bps("protocol_fee_bps"); err != nil {
		return cfg, err
	}
	if cfg.Split.BaseYieldBps, err = bps("base_yield_bps"); err != nil {
		return cfg, err
	}
	if cfg.Split.RegularPoolBps, err = bps("regular_pool_bps"); err != nil {
		return cfg, err
	}
	if cfg.Split.BigPoolBps, err = bps("big_pool_bps"); err != nil {
		return cfg, err
	}
	if cfg.MinEpochsRegular, err = ParseU64Field(data, "min_epochs_regular"); err != nil {
		return cfg, err
	}
	if cfg.MinEpochsBig, err = ParseU64Field(data, "min_epochs_big"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EpochState fetches the hub's current epoch.
func (r *Reader) EpochState(ctx context.Context) (EpochState, error) {
	data, err := r.client.SmartQuery(ctx, r.contracts.StakingHub, emptyQuery{"epoch_state": {}})
	if err != nil {
		return EpochState{}, fmt.Errorf("epoch state: %w", err)
	}
	var st EpochState
	if st.CurrentEpoch, err = ParseU64Field(data, "current_epoch"); err != nil {
		return st, err
	}
	if st.TotalStaked, err = ParseUint128Field(data, "total_staked"); err != nil {
		return st, err
	}
	if st.SnapshotTotalWeight, err = ParseUint128Field(data, "snapshot_total_weight"); err != nil {
		return st, err
	}
	st.SnapshotFinalized = data.Get("snapshot_finalized").Bool()
	st.SnapshotNumHolders = uint32(data.Get("snapshot_num_holders").Uint())
	st.SnapshotURI = data.Get("snapshot_uri").String()
	return st, nil
}

// DistributorConfig fetches reward amounts per draw.
func (r *Reader) DistributorConfig(ctx context.Context) (DistributorConfig, error) {
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, emptyQuery{"config": {}})
	if err != nil {
		return DistributorConfig{}, fmt.Errorf("distributor config: %w", err)
	}
	var cfg DistributorConfig
	secs, err := ParseU64Field(data, "reveal_deadline_seconds")
	if err != nil {
		return cfg, err
	}
	cfg.RevealDeadline = time.Duration(secs) * time.Second
	if cfg.RegularDrawReward, err = ParseUint128Field(data, "regular_draw_reward"); err != nil {
		return cfg, err
	}
	if cfg.BigDrawReward, err = ParseUint128Field(data, "big_draw_reward"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PoolBalances fetches the undistributed prize pools.
func (r *Reader) PoolBalances(ctx context.Context) (PoolBalances, error) {
	data, err := r.client.SmartQuery(ctx, r.contracts.Distributor, emptyQuery{"pool_balances": {}})
	if err != nil {
		return PoolBalances{}, fmt.Errorf("pool balances: %w", err)
	}
	var pb PoolBalances
	if pb.RegularPool, err = ParseUint128Field(data, "regular_pool"); err != nil {
		return pb, err
	}
	if pb.BigPool, err = ParseUint128Field(data, "big_pool"); err != nil {
		return pb, err
	}
	return pb, nil
}

// OracleConfig fetches the drand network parameters.
func (r *Reader) OracleConfig(ctx context.Context) (OracleConfig, error) {
	data, err := r.client.SmartQuery(ctx, r.contracts.Oracle, emptyQuery{"config": {}})
	if err != nil {
		return OracleConfig{}, fmt.Errorf("oracle config: %w", err)
	}
	var cfg OracleConfig
	hash, err := requireField(data, "chain_hash")
	if err != nil {
		return cfg, err
	}
	if hash.Type != gjson.String || hash.Str == "" {
		return cfg, malformed("chain_hash", "expected non-empty string, got %s", hash.Type)
	}
	cfg.ChainHash = hash.Str
	genesis, err := ParseU64Field(data, "genesis_time")
	if err != nil {
		return cfg, err
	}
	cfg.GenesisTime = int64(genesis)
	period, err := ParseU64Field(data, "period_seconds")
	if err != nil {
		return cfg, err
	}
	cfg.Period = time.Duration(period) * time.Second
	return cfg, nil
}

package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"givepool/core/types"
	"givepool/crypto"
)

const (
	// TypeDonationCredited is emitted when a cross-chain or legacy donation is
	// applied to a fundraiser total.
	TypeDonationCredited = "settlement.donationCredited"
	// TypeCrossChainStaked captures a bridge-relayed stake instruction that was
	// authenticated and applied.
	TypeCrossChainStaked = "settlement.crossChainStaked"
	// TypeStaked captures local principal delegation into the pool.
	TypeStaked = "settlement.staked"
	// TypeUnstaked captures principal released back to a staker.
	TypeUnstaked = "settlement.unstaked"
	// TypeYieldHarvested is emitted once per harvest with the split amounts.
	TypeYieldHarvested = "settlement.yieldHarvested"
	// TypeRewardsClaimed is emitted when a staker withdraws accrued yield.
	TypeRewardsClaimed = "settlement.rewardsClaimed"
	// TypeYieldSplitUpdated records a per-staker split override.
	TypeYieldSplitUpdated = "settlement.yieldSplitUpdated"
)

// DonationCredited captures a donation applied to a fundraiser.
type DonationCredited struct {
	Fundraiser    string
	Donor         [20]byte
	Amount        *big.Int
	SourceChainID uint64
	Fingerprint   [32]byte
	Legacy        bool
}

// EventType satisfies the Event interface.
func (DonationCredited) EventType() string { return TypeDonationCredited }

// Event converts the structured payload into a broadcastable event.
func (e DonationCredited) Event() *types.Event {
	attrs := map[string]string{
		"fundraiser": e.Fundraiser,
		"donor":      crypto.MustNewAddress(crypto.GivePrefix, e.Donor[:]).String(),
		"amount":     formatAmount(e.Amount),
	}
	if e.SourceChainID > 0 {
		attrs["sourceChainId"] = strconv.FormatUint(e.SourceChainID, 10)
	}
	if e.Fingerprint != ([32]byte{}) {
		attrs["fingerprint"] = hex.EncodeToString(e.Fingerprint[:])
	}
	if e.Legacy {
		attrs["legacy"] = "true"
	}
	return &types.Event{Type: TypeDonationCredited, Attributes: attrs}
}

// CrossChainStaked captures a bridge-relayed stake applied to the pool.
type CrossChainStaked struct {
	Fundraiser    string
	Staker        [20]byte
	Amount        *big.Int
	SourceChainID uint64
	Fingerprint   [32]byte
}

// EventType satisfies the Event interface.
func (CrossChainStaked) EventType() string { return TypeCrossChainStaked }

// Event converts the structured payload into a broadcastable event.
func (e CrossChainStaked) Event() *types.Event {
	attrs := map[string]string{
		"fundraiser":    e.Fundraiser,
		"staker":        crypto.MustNewAddress(crypto.GivePrefix, e.Staker[:]).String(),
		"amount":        formatAmount(e.Amount),
		"sourceChainId": strconv.FormatUint(e.SourceChainID, 10),
		"fingerprint":   hex.EncodeToString(e.Fingerprint[:]),
	}
	return &types.Event{Type: TypeCrossChainStaked, Attributes: attrs}
}

// Staked captures local principal delegated into the pool.
type Staked struct {
	Staker       [20]byte
	Amount       *big.Int
	NewPrincipal *big.Int
	PoolTotal    *big.Int
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	attrs := map[string]string{
		"staker":       crypto.MustNewAddress(crypto.GivePrefix, e.Staker[:]).String(),
		"amount":       formatAmount(e.Amount),
		"newPrincipal": formatAmount(e.NewPrincipal),
	}
	if e.PoolTotal != nil {
		attrs["poolTotal"] = e.PoolTotal.String()
	}
	return &types.Event{Type: TypeStaked, Attributes: attrs}
}

// Unstaked captures principal released back to a staker.
type Unstaked struct {
	Staker       [20]byte
	Amount       *big.Int
	NewPrincipal *big.Int
	PoolTotal    *big.Int
}

// EventType satisfies the Event interface.
func (Unstaked) EventType() string { return TypeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e Unstaked) Event() *types.Event {
	attrs := map[string]string{
		"staker":       crypto.MustNewAddress(crypto.GivePrefix, e.Staker[:]).String(),
		"amount":       formatAmount(e.Amount),
		"newPrincipal": formatAmount(e.NewPrincipal),
	}
	if e.PoolTotal != nil {
		attrs["poolTotal"] = e.PoolTotal.String()
	}
	return &types.Event{Type: TypeUnstaked, Attributes: attrs}
}

// YieldHarvested records a harvest and the resulting three-way split.
type YieldHarvested struct {
	Harvested      *big.Int
	CauseAmount    *big.Int
	StakerAmount   *big.Int
	PlatformAmount *big.Int
	YieldPerShare  *big.Int
}

// EventType satisfies the Event interface.
func (YieldHarvested) EventType() string { return TypeYieldHarvested }

// Event converts the structured payload into a broadcastable event.
func (e YieldHarvested) Event() *types.Event {
	attrs := map[string]string{
		"harvested":      formatAmount(e.Harvested),
		"causeAmount":    formatAmount(e.CauseAmount),
		"stakerAmount":   formatAmount(e.StakerAmount),
		"platformAmount": formatAmount(e.PlatformAmount),
	}
	if e.YieldPerShare != nil {
		attrs["yieldPerShare"] = e.YieldPerShare.String()
	}
	return &types.Event{Type: TypeYieldHarvested, Attributes: attrs}
}

// RewardsClaimed captures the yield payout for a staker.
type RewardsClaimed struct {
	Staker [20]byte
	Paid   *big.Int
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"staker": crypto.MustNewAddress(crypto.GivePrefix, e.Staker[:]).String(),
		"paid":   formatAmount(e.Paid),
	}
	return &types.Event{Type: TypeRewardsClaimed, Attributes: attrs}
}

// YieldSplitUpdated records a per-staker override of the pool split.
type YieldSplitUpdated struct {
	Staker      [20]byte
	CauseBps    uint32
	StakerBps   uint32
	PlatformBps uint32
}

// EventType satisfies the Event interface.
func (YieldSplitUpdated) EventType() string { return TypeYieldSplitUpdated }

// Event converts the structured payload into a broadcastable event.
func (e YieldSplitUpdated) Event() *types.Event {
	attrs := map[string]string{
		"staker":      crypto.MustNewAddress(crypto.GivePrefix, e.Staker[:]).String(),
		"causeBps":    strconv.FormatUint(uint64(e.CauseBps), 10),
		"stakerBps":   strconv.FormatUint(uint64(e.StakerBps), 10),
		"platformBps": strconv.FormatUint(uint64(e.PlatformBps), 10),
	}
	return &types.Event{Type: TypeYieldSplitUpdated, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

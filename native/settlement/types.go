package settlement

import "math/big"

// ActionKind identifies the semantic intent of a cross-chain instruction. The
// kind is part of the fingerprint preimage so a stake fingerprint can never
// authenticate a donation and vice versa.
type ActionKind string

const (
	// ActionDonate credits a fundraiser's donation total.
	ActionDonate ActionKind = "donate"
	// ActionStake delegates principal into the fundraiser's stake pool.
	ActionStake ActionKind = "stake"
)

// Valid reports whether the action kind is one of the supported instructions.
func (k ActionKind) Valid() bool {
	return k == ActionDonate || k == ActionStake
}

// CrossChainInstruction is the ephemeral payload relayed by the bridge. It is
// consumed once and never persisted; only its fingerprint is retained.
type CrossChainInstruction struct {
	SourceChainID uint64
	Actor         [20]byte
	FundraiserID  string
	Amount        *big.Int
	Action        ActionKind
	Fingerprint   [32]byte
}

// Fundraiser tracks a campaign's cumulative donations. The total is append-only
// and the record is never destroyed.
type Fundraiser struct {
	ID             string
	Beneficiary    [20]byte
	TotalDonations *big.Int
	PoolID         string
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (f *Fundraiser) Copy() *Fundraiser {
	if f == nil {
		return nil
	}
	clone := *f
	if f.TotalDonations != nil {
		clone.TotalDonations = new(big.Int).Set(f.TotalDonations)
	}
	return &clone
}

// StakerPosition tracks a single staker's principal and yield entitlements.
// Positions are zeroed when principal reaches zero, never physically deleted.
type StakerPosition struct {
	Address          [20]byte
	Principal        *big.Int
	PaidPerShare     *big.Int
	AccruedUnclaimed *big.Int
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (p *StakerPosition) Copy() *StakerPosition {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Principal != nil {
		clone.Principal = new(big.Int).Set(p.Principal)
	}
	if p.PaidPerShare != nil {
		clone.PaidPerShare = new(big.Int).Set(p.PaidPerShare)
	}
	if p.AccruedUnclaimed != nil {
		clone.AccruedUnclaimed = new(big.Int).Set(p.AccruedUnclaimed)
	}
	return &clone
}

// YieldSplit describes how harvested yield is divided between the cause
// beneficiary, the staker, and the platform treasury. Shares are expressed in
// basis points and must sum to exactly 10000.
type YieldSplit struct {
	CauseBps    uint32
	StakerBps   uint32
	PlatformBps uint32
}

// Validate enforces the 10000 basis point conservation invariant.
func (s YieldSplit) Validate() error {
	if uint64(s.CauseBps)+uint64(s.StakerBps)+uint64(s.PlatformBps) != 10_000 {
		return ErrInvalidSplitConfiguration
	}
	return nil
}

// PoolState holds the pool-wide staking aggregates and the reward-per-share
// accumulator. YieldPerShareStored only ever increases, and only during a
// harvest. CarryScaled retains yield (scaled by the accumulator precision)
// that could not be attributed yet: harvests with zero principal and division
// remainders both park here and roll into the next harvest.
type PoolState struct {
	FundraiserID        string
	TotalPrincipal      *big.Int
	YieldPerShareStored *big.Int
	CarryScaled         *big.Int
	LastHarvestUnix     int64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (p *PoolState) Copy() *PoolState {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalPrincipal != nil {
		clone.TotalPrincipal = new(big.Int).Set(p.TotalPrincipal)
	}
	if p.YieldPerShareStored != nil {
		clone.YieldPerShareStored = new(big.Int).Set(p.YieldPerShareStored)
	}
	if p.CarryScaled != nil {
		clone.CarryScaled = new(big.Int).Set(p.CarryScaled)
	}
	return &clone
}

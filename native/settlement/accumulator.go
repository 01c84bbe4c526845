package settlement

import "math/big"

// harvest folds newly earned yield into the reward-per-share accumulator.
// The increment is computed over scaled units with the carried remainder from
// previous harvests, so truncation dust is neither lost nor double-counted:
//
//	numer = earned*precision + carry
//	yps  += numer / totalPrincipal
//	carry = numer % totalPrincipal
//
// With zero principal the whole harvest parks in the carry and rolls into the
// next harvest that has stakers. The accumulator never decreases.
func (e *Engine) harvest(pool *PoolState, earned *big.Int) error {
	if pool == nil {
		return errNilState
	}
	amount := cloneBigInt(earned)
	if amount.Sign() < 0 {
		return errInvalidAmount
	}
	numer := new(big.Int).Mul(amount, precision)
	numer.Add(numer, pool.CarryScaled)
	if pool.TotalPrincipal.Sign() == 0 {
		pool.CarryScaled = numer
		pool.LastHarvestUnix = e.now()
		return nil
	}
	increment := new(big.Int).Quo(numer, pool.TotalPrincipal)
	pool.CarryScaled = new(big.Int).Rem(numer, pool.TotalPrincipal)
	pool.YieldPerShareStored = new(big.Int).Add(pool.YieldPerShareStored, increment)
	pool.LastHarvestUnix = e.now()
	return nil
}

// syncStaker settles a position against the current accumulator value. The
// pending gross entitlement is split by the staker's effective yield split:
// the staker share is credited to the accrued-unclaimed balance, while the
// cause and platform shares are returned to the caller for payout. The
// snapshot then advances, making a second sync without an intervening harvest
// a no-op. Must run before any principal mutation so historical yield settles
// against the old principal.
func (e *Engine) syncStaker(pool *PoolState, pos *StakerPosition) (gross, cause, platform *big.Int, err error) {
	if pool == nil || pos == nil {
		return nil, nil, nil, errNilState
	}
	delta := new(big.Int).Sub(pool.YieldPerShareStored, pos.PaidPerShare)
	if delta.Sign() <= 0 || pos.Principal.Sign() == 0 {
		pos.PaidPerShare = new(big.Int).Set(pool.YieldPerShareStored)
		zero := big.NewInt(0)
		return zero, new(big.Int), new(big.Int), nil
	}
	pending := new(big.Int).Mul(pos.Principal, delta)
	pending.Quo(pending, precision)

	split, err := e.effectiveSplit(pos.Address)
	if err != nil {
		return nil, nil, nil, err
	}
	causeAmt, stakerAmt, platformAmt := splitAmount(pending, split)
	pos.AccruedUnclaimed = new(big.Int).Add(pos.AccruedUnclaimed, stakerAmt)
	pos.PaidPerShare = new(big.Int).Set(pool.YieldPerShareStored)
	return pending, causeAmt, platformAmt, nil
}

// settlePosition is the sync entry point for stake, unstake and claim paths.
// Outside a harvest the accumulator has not moved, so the cause and platform
// portions are normally zero; any residue is folded back into the pool carry
// so it cannot leak.
func (e *Engine) settlePosition(pool *PoolState, pos *StakerPosition) error {
	_, causeAmt, platformAmt, err := e.syncStaker(pool, pos)
	if err != nil {
		return err
	}
	residue := new(big.Int).Add(causeAmt, platformAmt)
	if residue.Sign() > 0 {
		scaled := new(big.Int).Mul(residue, precision)
		pool.CarryScaled = new(big.Int).Add(pool.CarryScaled, scaled)
	}
	return nil
}

// Earned is a read-only projection of a staker's claimable yield: the accrued
// balance plus the staker share of any un-synced pending entitlement. State is
// not mutated.
func (e *Engine) Earned(staker [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(staker, pool)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Set(pos.AccruedUnclaimed)
	delta := new(big.Int).Sub(pool.YieldPerShareStored, pos.PaidPerShare)
	if delta.Sign() > 0 && pos.Principal.Sign() > 0 {
		pending := new(big.Int).Mul(pos.Principal, delta)
		pending.Quo(pending, precision)
		split, err := e.effectiveSplit(staker)
		if err != nil {
			return nil, err
		}
		_, stakerAmt, _ := splitAmount(pending, split)
		total.Add(total, stakerAmt)
	}
	return total, nil
}

package settlement

import (
	"math/big"

	"givepool/core/events"
)

// HarvestReceipt summarises a completed harvest for callers and indexers.
type HarvestReceipt struct {
	Harvested      *big.Int
	CauseAmount    *big.Int
	StakerAmount   *big.Int
	PlatformAmount *big.Int
}

// HarvestAndDistribute pulls freshly earned yield from the external source,
// folds it into the accumulator, settles every staker position against the new
// accumulator value, and only then pays the cause and platform portions out.
// Internal bookkeeping is fully committed before the external transfers run;
// a transferee that re-enters the engine observes finalised state and fails
// the reentrancy guard.
func (e *Engine) HarvestAndDistribute() (*HarvestReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.yieldSource == nil {
		return nil, errNilYieldSource
	}
	release, err := e.guard.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	var receipt *HarvestReceipt
	err = e.withRollback(func() error {
		earned, err := e.yieldSource.PullEarnedYield()
		if err != nil {
			return err
		}
		earned = cloneBigInt(earned)
		if earned.Sign() < 0 {
			return errInvalidAmount
		}
		pool, err := e.ensurePool()
		if err != nil {
			return err
		}
		if earned.Sign() > 0 {
			if err := e.mint(e.moduleAddr, earned); err != nil {
				return err
			}
		}
		if err := e.harvest(pool, earned); err != nil {
			return err
		}

		causeTotal := big.NewInt(0)
		stakerTotal := big.NewInt(0)
		platformTotal := big.NewInt(0)
		stakers, err := e.state.StakerList(e.poolID)
		if err != nil {
			return err
		}
		for _, addr := range stakers {
			pos, err := e.ensurePosition(addr, pool)
			if err != nil {
				return err
			}
			gross, causeAmt, platformAmt, err := e.syncStaker(pool, pos)
			if err != nil {
				return err
			}
			if err := e.state.PutPosition(e.poolID, pos); err != nil {
				return err
			}
			if gross.Sign() == 0 {
				continue
			}
			causeTotal.Add(causeTotal, causeAmt)
			platformTotal.Add(platformTotal, platformAmt)
			stakerTotal.Add(stakerTotal, new(big.Int).Sub(gross, new(big.Int).Add(causeAmt, platformAmt)))
		}
		if err := e.state.PutPool(e.poolID, pool); err != nil {
			return err
		}

		if causeTotal.Sign() > 0 {
			if pool.FundraiserID == "" {
				return errPoolUnbound
			}
			fundraiser, err := e.loadFundraiser(pool.FundraiserID)
			if err != nil {
				return err
			}
			if err := e.transfer(e.moduleAddr, fundraiser.Beneficiary, causeTotal); err != nil {
				return err
			}
		}
		if platformTotal.Sign() > 0 {
			if e.treasuryAddr == ([20]byte{}) {
				return errNilTreasury
			}
			if err := e.transfer(e.moduleAddr, e.treasuryAddr, platformTotal); err != nil {
				return err
			}
		}

		receipt = &HarvestReceipt{
			Harvested:      earned,
			CauseAmount:    causeTotal,
			StakerAmount:   stakerTotal,
			PlatformAmount: platformTotal,
		}
		e.emit(events.YieldHarvested{
			Harvested:      earned,
			CauseAmount:    causeTotal,
			StakerAmount:   stakerTotal,
			PlatformAmount: platformTotal,
			YieldPerShare:  new(big.Int).Set(pool.YieldPerShareStored),
		}.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ClaimAllRewards pays out the caller's accrued yield. The balance is zeroed
// before the transfer leaves the module account; a re-entering payee finds
// nothing left to claim.
func (e *Engine) ClaimAllRewards(staker [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	release, err := e.guard.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()

	payout := big.NewInt(0)
	err = e.withRollback(func() error {
		pool, err := e.ensurePool()
		if err != nil {
			return err
		}
		pos, err := e.ensurePosition(staker, pool)
		if err != nil {
			return err
		}
		if err := e.settlePosition(pool, pos); err != nil {
			return err
		}
		if pos.AccruedUnclaimed.Sign() == 0 {
			return e.state.PutPosition(e.poolID, pos)
		}
		payout = new(big.Int).Set(pos.AccruedUnclaimed)
		pos.AccruedUnclaimed = big.NewInt(0)
		if err := e.state.PutPosition(e.poolID, pos); err != nil {
			return err
		}
		if err := e.state.PutPool(e.poolID, pool); err != nil {
			return err
		}
		if err := e.transfer(e.moduleAddr, staker, payout); err != nil {
			return err
		}
		e.emit(events.RewardsClaimed{Staker: staker, Paid: payout}.Event())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// SetYieldSplit stores a per-staker override of the pool's default split. The
// staker argument is the authenticated caller; callers can only override their
// own split.
func (e *Engine) SetYieldSplit(staker [20]byte, split YieldSplit) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := split.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		if e.poolID == "" {
			return errPoolNotConfigured
		}
		if err := e.state.PutYieldSplit(e.poolID, staker, split); err != nil {
			return err
		}
		e.emit(events.YieldSplitUpdated{
			Staker:      staker,
			CauseBps:    split.CauseBps,
			StakerBps:   split.StakerBps,
			PlatformBps: split.PlatformBps,
		}.Event())
		return nil
	})
}

// effectiveSplit resolves the split for a staker, falling back to the pool
// default when no override exists.
func (e *Engine) effectiveSplit(staker [20]byte) (YieldSplit, error) {
	if e == nil || e.state == nil {
		return YieldSplit{}, errNilState
	}
	override, err := e.state.GetYieldSplit(e.poolID, staker)
	if err != nil {
		return YieldSplit{}, err
	}
	if override == nil {
		return e.defaultSplit, nil
	}
	return *override, nil
}

// splitAmount divides an amount by a yield split. The platform takes the
// subtraction remainder so the three portions always sum exactly to amount.
func splitAmount(amount *big.Int, split YieldSplit) (cause, staker, platform *big.Int) {
	cause = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(split.CauseBps)))
	cause.Quo(cause, basisPoints)
	staker = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(split.StakerBps)))
	staker.Quo(staker, basisPoints)
	platform = new(big.Int).Sub(amount, cause)
	platform.Sub(platform, staker)
	return cause, staker, platform
}

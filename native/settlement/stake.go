package settlement

import (
	"math/big"

	"givepool/core/events"
)

// Stake delegates principal from the staker's ledger account into the pool.
// Historical yield is settled against the old principal before the new amount
// is recorded.
func (e *Engine) Stake(staker [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		return e.stakeLocked(staker, amount, false)
	})
}

// Unstake releases principal back to the staker. The principal transfer is the
// last step so a failed payout cannot leave the ledgers partially applied.
func (e *Engine) Unstake(staker [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release, err := e.guard.acquire()
	if err != nil {
		return err
	}
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		amt := cloneBigInt(amount)
		if amt.Sign() <= 0 {
			return errInvalidAmount
		}
		pool, err := e.ensurePool()
		if err != nil {
			return err
		}
		pos, err := e.ensurePosition(staker, pool)
		if err != nil {
			return err
		}
		if pos.Principal.Cmp(amt) < 0 {
			return ErrInsufficientPrincipal
		}
		if err := e.settlePosition(pool, pos); err != nil {
			return err
		}
		pos.Principal = new(big.Int).Sub(pos.Principal, amt)
		pool.TotalPrincipal = new(big.Int).Sub(pool.TotalPrincipal, amt)
		if err := e.state.PutPosition(e.poolID, pos); err != nil {
			return err
		}
		if err := e.state.PutPool(e.poolID, pool); err != nil {
			return err
		}
		if err := e.transfer(e.moduleAddr, staker, amt); err != nil {
			return err
		}
		e.emit(events.Unstaked{
			Staker:       staker,
			Amount:       amt,
			NewPrincipal: new(big.Int).Set(pos.Principal),
			PoolTotal:    new(big.Int).Set(pool.TotalPrincipal),
		}.Event())
		return nil
	})
}

// stakeLocked applies a stake under the caller's lock. Bridged stakes mint the
// amount into the pool module account because the matching debit happened on
// the source chain; local stakes move it from the staker's ledger account.
func (e *Engine) stakeLocked(staker [20]byte, amount *big.Int, bridged bool) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return errInvalidAmount
	}
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
	if bridged {
		if err := e.mint(e.moduleAddr, amt); err != nil {
			return err
		}
	} else {
		if err := e.transfer(staker, e.moduleAddr, amt); err != nil {
			return err
		}
	}
	pos.Principal = new(big.Int).Add(pos.Principal, amt)
	pool.TotalPrincipal = new(big.Int).Add(pool.TotalPrincipal, amt)
	if err := e.state.PutPosition(e.poolID, pos); err != nil {
		return err
	}
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return err
	}
	if !bridged {
		e.emit(events.Staked{
			Staker:       staker,
			Amount:       amt,
			NewPrincipal: new(big.Int).Set(pos.Principal),
			PoolTotal:    new(big.Int).Set(pool.TotalPrincipal),
		}.Event())
	}
	return nil
}

// Position returns a copy of the staker's current position.
func (e *Engine) Position(staker [20]byte) (*StakerPosition, error) {
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
	return pos.Copy(), nil
}

// withRollback brackets a mutating operation with a state snapshot. A failure
// reverts every write made since the snapshot; success finalises the state
// before the engine lock is released, so an open revision is never truncated
// out from under an in-flight operation.
func (e *Engine) withRollback(fn func() error) error {
	rev := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertTo(rev)
		return err
	}
	if committer, ok := e.state.(interface{ Commit() }); ok {
		committer.Commit()
	}
	return nil
}

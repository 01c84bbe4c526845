package settlement

import "math/big"

// ReserveYieldSource reports the balance of a designated reserve account as
// freshly earned yield and empties the account on every pull. Venues deposit
// harvest proceeds into the reserve out of band; the engine mints the pulled
// amount into the pool module account itself, and because the pull runs inside
// the harvest's rollback scope a failed harvest restores the reserve balance.
type ReserveYieldSource struct {
	state   EngineState
	reserve [20]byte
}

// NewReserveYieldSource builds a yield source draining the given ledger account.
func NewReserveYieldSource(state EngineState, reserve [20]byte) *ReserveYieldSource {
	return &ReserveYieldSource{state: state, reserve: reserve}
}

// PullEarnedYield drains the reserve account and returns the drained amount.
func (s *ReserveYieldSource) PullEarnedYield() (*big.Int, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	acc, err := s.state.GetAccount(s.reserve)
	if err != nil {
		return nil, err
	}
	acc = acc.EnsureBalances()
	earned := new(big.Int).Set(acc.Balance)
	if earned.Sign() == 0 {
		return earned, nil
	}
	acc.Balance = big.NewInt(0)
	if err := s.state.PutAccount(s.reserve, acc); err != nil {
		return nil, err
	}
	return earned, nil
}

package types

import "math/big"

// Account is the value-ledger record for a platform participant. The settlement
// engine moves balances between accounts; bridged deposits whose debit happened
// on the source chain are credited to the pool module account.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// EnsureBalances normalises nil balance pointers left behind by older encodings.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}

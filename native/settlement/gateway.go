package settlement

import (
	"math/big"
	"strings"

	"givepool/core/events"
	"givepool/core/types"
)

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// RegisterFundraiser seeds a fundraiser account. Campaign metadata lives
// elsewhere; the engine only needs the identifier, the beneficiary receiving
// the cause share, and the stake pool binding. Registering against the
// engine's configured pool binds that pool to the fundraiser.
func (e *Engine) RegisterFundraiser(id string, beneficiary [20]byte, poolID string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return errInvalidInstruction
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		existing, err := e.state.GetFundraiser(trimmed)
		if err != nil {
			return err
		}
		if existing != nil {
			return errInvalidInstruction
		}
		fundraiser := &Fundraiser{
			ID:             trimmed,
			Beneficiary:    beneficiary,
			TotalDonations: big.NewInt(0),
			PoolID:         strings.TrimSpace(poolID),
		}
		if err := e.state.PutFundraiser(fundraiser); err != nil {
			return err
		}
		if fundraiser.PoolID != "" && fundraiser.PoolID == e.poolID {
			pool, err := e.ensurePool()
			if err != nil {
				return err
			}
			pool.FundraiserID = trimmed
			return e.state.PutPool(e.poolID, pool)
		}
		return nil
	})
}

// HandleCrossChainDonation applies a bridge-relayed donation instruction:
// caller authorisation, fingerprint verification, replay check-and-mark, and
// only then the fundraiser credit. The mark lands strictly before the credit
// becomes observable to any concurrent instruction for the same fingerprint.
func (e *Engine) HandleCrossChainDonation(caller, actor [20]byte, fundraiserID string, amount *big.Int, fingerprint [32]byte, sourceChainID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		if err := e.authorizeBridge(caller); err != nil {
			return err
		}
		instr := CrossChainInstruction{
			SourceChainID: sourceChainID,
			Actor:         actor,
			FundraiserID:  fundraiserID,
			Amount:        amount,
			Action:        ActionDonate,
			Fingerprint:   fingerprint,
		}
		if err := VerifyInstruction(instr); err != nil {
			return err
		}
		if err := e.checkAndMark(fingerprint); err != nil {
			return err
		}
		if err := e.creditDonation(actor, fundraiserID, amount, sourceChainID, fingerprint, false); err != nil {
			return err
		}
		return nil
	})
}

// HandleCrossChainStake applies a bridge-relayed stake instruction through
// the same authorise/verify/mark sequence, then delegates to the stake ledger.
func (e *Engine) HandleCrossChainStake(caller, actor [20]byte, fundraiserID string, amount *big.Int, fingerprint [32]byte, sourceChainID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		if err := e.authorizeBridge(caller); err != nil {
			return err
		}
		instr := CrossChainInstruction{
			SourceChainID: sourceChainID,
			Actor:         actor,
			FundraiserID:  fundraiserID,
			Amount:        amount,
			Action:        ActionStake,
			Fingerprint:   fingerprint,
		}
		if err := VerifyInstruction(instr); err != nil {
			return err
		}
		if _, err := e.loadFundraiser(fundraiserID); err != nil {
			return err
		}
		if err := e.checkAndMark(fingerprint); err != nil {
			return err
		}
		if err := e.stakeLocked(actor, amount, true); err != nil {
			return err
		}
		e.emit(events.CrossChainStaked{
			Fundraiser:    strings.TrimSpace(fundraiserID),
			Staker:        actor,
			Amount:        cloneBigInt(amount),
			SourceChainID: sourceChainID,
			Fingerprint:   fingerprint,
		}.Event())
		return nil
	})
}

// HandleCrossChainDonationLegacy bypasses fingerprint verification and the
// processed-message ledger for backward compatibility with pre-fingerprint
// bridges. The path is NOT idempotent: a resent instruction double-credits.
// It stays behind an explicit configuration flag so operators opt in.
func (e *Engine) HandleCrossChainDonationLegacy(caller, actor [20]byte, fundraiserID string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withRollback(func() error {
		if !e.allowLegacy {
			return ErrLegacyPathDisabled
		}
		if err := e.authorizeBridge(caller); err != nil {
			return err
		}
		return e.creditDonation(actor, fundraiserID, amount, 0, [32]byte{}, true)
	})
}

func (e *Engine) authorizeBridge(caller [20]byte) error {
	if e.bridgeCaller == ([20]byte{}) || caller != e.bridgeCaller {
		return ErrNotAuthorizedCaller
	}
	return nil
}

func (e *Engine) creditDonation(actor [20]byte, fundraiserID string, amount *big.Int, sourceChainID uint64, fingerprint [32]byte, legacy bool) error {
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return errInvalidAmount
	}
	fundraiser, err := e.loadFundraiser(fundraiserID)
	if err != nil {
		return err
	}
	fundraiser.TotalDonations = new(big.Int).Add(fundraiser.TotalDonations, amt)
	if err := e.state.PutFundraiser(fundraiser); err != nil {
		return err
	}
	e.emit(events.DonationCredited{
		Fundraiser:    fundraiser.ID,
		Donor:         actor,
		Amount:        amt,
		SourceChainID: sourceChainID,
		Fingerprint:   fingerprint,
		Legacy:        legacy,
	}.Event())
	return nil
}

// FundraiserTotal returns the cumulative donation total for a fundraiser.
func (e *Engine) FundraiserTotal(fundraiserID string) (*big.Int, error) {
	fundraiser, err := e.loadFundraiser(fundraiserID)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(fundraiser.TotalDonations), nil
}

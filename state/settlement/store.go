package settlement

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"givepool/core/types"
	"givepool/native/settlement"
	"givepool/storage"
)

// Key prefixes for the settlement keyspace. Every record the engine touches
// lives under one of these so unrelated subsystems can share the database.
const (
	prefixFundraiser = "settlement/fundraiser/"
	prefixPool       = "settlement/pool/"
	prefixPosition   = "settlement/pos/"
	prefixStakerList = "settlement/stakers/"
	prefixSplit      = "settlement/split/"
	prefixAccount    = "settlement/acct/"
	prefixProcessed  = "settlement/processed/"
)

var errNilRecord = errors.New("settlement store: refusing to persist nil record")

// RLP has no signed integers and no maps, so the stored shapes mirror the
// engine types with unsigned fields and explicit lists.

type storedFundraiser struct {
	ID             string
	Beneficiary    [20]byte
	TotalDonations *big.Int
	PoolID         string
}

type storedPool struct {
	FundraiserID        string
	TotalPrincipal      *big.Int
	YieldPerShareStored *big.Int
	CarryScaled         *big.Int
	LastHarvestUnix     uint64
}

type storedPosition struct {
	Address          [20]byte
	Principal        *big.Int
	PaidPerShare     *big.Int
	AccruedUnclaimed *big.Int
}

type storedSplit struct {
	CauseBps    uint32
	StakerBps   uint32
	PlatformBps uint32
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

type storedStakerList struct {
	Addresses [][20]byte
}

// journalEntry records the prior value of a key so a revert can restore it.
type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// Store is the persistent settlement.EngineState. Writes go through to the
// backing database immediately; a journal records every overwritten value so
// Snapshot/RevertTo can unwind a failed operation. Commit discards the journal
// once the caller considers the state final.
type Store struct {
	db      storage.Database
	journal []journalEntry
}

// NewStore wraps a key-value database as settlement engine state.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

var _ settlement.EngineState = (*Store)(nil)

func fundraiserKey(id string) string { return prefixFundraiser + id }

func poolKey(poolID string) string { return prefixPool + poolID }

func stakerListKey(poolID string) string { return prefixStakerList + poolID }

func processedKey(fp [32]byte) string { return prefixProcessed + hex.EncodeToString(fp[:]) }

func accountKey(addr [20]byte) string { return prefixAccount + hex.EncodeToString(addr[:]) }

func positionKey(poolID string, addr [20]byte) string {
	return fmt.Sprintf("%s%s/%s", prefixPosition, poolID, hex.EncodeToString(addr[:]))
}

func splitKey(poolID string, addr [20]byte) string {
	return fmt.Sprintf("%s%s/%s", prefixSplit, poolID, hex.EncodeToString(addr[:]))
}

// write journals the previous value of key and then writes the new one.
func (s *Store) write(key string, value []byte) error {
	prev, err := s.db.Get([]byte(key))
	existed := true
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		existed = false
		prev = nil
	}
	s.journal = append(s.journal, journalEntry{key: key, prev: prev, existed: existed})
	return s.db.Put([]byte(key), value)
}

func (s *Store) writeRLP(key string, record interface{}) error {
	if record == nil {
		return errNilRecord
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("settlement store: encode %s: %w", key, err)
	}
	return s.write(key, encoded)
}

// readRLP decodes the record at key into out. It reports false without error
// when the key does not exist.
func (s *Store) readRLP(key string, out interface{}) (bool, error) {
	raw, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("settlement store: decode %s: %w", key, err)
	}
	return true, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func (s *Store) GetFundraiser(id string) (*settlement.Fundraiser, error) {
	var stored storedFundraiser
	ok, err := s.readRLP(fundraiserKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &settlement.Fundraiser{
		ID:             stored.ID,
		Beneficiary:    stored.Beneficiary,
		TotalDonations: nonNil(stored.TotalDonations),
		PoolID:         stored.PoolID,
	}, nil
}

func (s *Store) PutFundraiser(f *settlement.Fundraiser) error {
	if f == nil {
		return errNilRecord
	}
	return s.writeRLP(fundraiserKey(f.ID), &storedFundraiser{
		ID:             f.ID,
		Beneficiary:    f.Beneficiary,
		TotalDonations: nonNil(f.TotalDonations),
		PoolID:         f.PoolID,
	})
}

func (s *Store) GetPool(poolID string) (*settlement.PoolState, error) {
	var stored storedPool
	ok, err := s.readRLP(poolKey(poolID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &settlement.PoolState{
		FundraiserID:        stored.FundraiserID,
		TotalPrincipal:      nonNil(stored.TotalPrincipal),
		YieldPerShareStored: nonNil(stored.YieldPerShareStored),
		CarryScaled:         nonNil(stored.CarryScaled),
		LastHarvestUnix:     int64(stored.LastHarvestUnix),
	}, nil
}

func (s *Store) PutPool(poolID string, pool *settlement.PoolState) error {
	if pool == nil {
		return errNilRecord
	}
	return s.writeRLP(poolKey(poolID), &storedPool{
		FundraiserID:        pool.FundraiserID,
		TotalPrincipal:      nonNil(pool.TotalPrincipal),
		YieldPerShareStored: nonNil(pool.YieldPerShareStored),
		CarryScaled:         nonNil(pool.CarryScaled),
		LastHarvestUnix:     uint64(pool.LastHarvestUnix),
	})
}

func (s *Store) GetPosition(poolID string, addr [20]byte) (*settlement.StakerPosition, error) {
	var stored storedPosition
	ok, err := s.readRLP(positionKey(poolID, addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &settlement.StakerPosition{
		Address:          stored.Address,
		Principal:        nonNil(stored.Principal),
		PaidPerShare:     nonNil(stored.PaidPerShare),
		AccruedUnclaimed: nonNil(stored.AccruedUnclaimed),
	}, nil
}

func (s *Store) PutPosition(poolID string, pos *settlement.StakerPosition) error {
	if pos == nil {
		return errNilRecord
	}
	key := positionKey(poolID, pos.Address)
	known, err := s.db.Has([]byte(key))
	if err != nil {
		return err
	}
	if !known {
		if err := s.appendStaker(poolID, pos.Address); err != nil {
			return err
		}
	}
	return s.writeRLP(key, &storedPosition{
		Address:          pos.Address,
		Principal:        nonNil(pos.Principal),
		PaidPerShare:     nonNil(pos.PaidPerShare),
		AccruedUnclaimed: nonNil(pos.AccruedUnclaimed),
	})
}

// appendStaker keeps the pool's staker index in first-seen order so harvest
// iteration is deterministic across restarts.
func (s *Store) appendStaker(poolID string, addr [20]byte) error {
	var list storedStakerList
	if _, err := s.readRLP(stakerListKey(poolID), &list); err != nil {
		return err
	}
	for _, existing := range list.Addresses {
		if existing == addr {
			return nil
		}
	}
	list.Addresses = append(list.Addresses, addr)
	return s.writeRLP(stakerListKey(poolID), &list)
}

func (s *Store) StakerList(poolID string) ([][20]byte, error) {
	var list storedStakerList
	if _, err := s.readRLP(stakerListKey(poolID), &list); err != nil {
		return nil, err
	}
	return list.Addresses, nil
}

func (s *Store) GetYieldSplit(poolID string, addr [20]byte) (*settlement.YieldSplit, error) {
	var stored storedSplit
	ok, err := s.readRLP(splitKey(poolID, addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &settlement.YieldSplit{
		CauseBps:    stored.CauseBps,
		StakerBps:   stored.StakerBps,
		PlatformBps: stored.PlatformBps,
	}, nil
}

func (s *Store) PutYieldSplit(poolID string, addr [20]byte, split settlement.YieldSplit) error {
	return s.writeRLP(splitKey(poolID, addr), &storedSplit{
		CauseBps:    split.CauseBps,
		StakerBps:   split.StakerBps,
		PlatformBps: split.PlatformBps,
	})
}

func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := s.readRLP(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return (&types.Account{Nonce: stored.Nonce, Balance: nonNil(stored.Balance)}).EnsureBalances(), nil
}

func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errNilRecord
	}
	account = account.EnsureBalances()
	return s.writeRLP(accountKey(addr), &storedAccount{
		Nonce:   account.Nonce,
		Balance: account.Balance,
	})
}

// MarkProcessed records the fingerprint. It reports false when the fingerprint
// was already present, leaving the existing mark untouched.
func (s *Store) MarkProcessed(fingerprint [32]byte) (bool, error) {
	key := processedKey(fingerprint)
	known, err := s.db.Has([]byte(key))
	if err != nil {
		return false, err
	}
	if known {
		return false, nil
	}
	if err := s.write(key, []byte{0x01}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) IsProcessed(fingerprint [32]byte) (bool, error) {
	return s.db.Has([]byte(processedKey(fingerprint)))
}

// Snapshot returns a revision marker for the current journal position.
func (s *Store) Snapshot() int {
	return len(s.journal)
}

// RevertTo unwinds every write made after the given revision, restoring the
// journaled prior values in reverse order.
func (s *Store) RevertTo(revision int) {
	if revision < 0 || revision > len(s.journal) {
		return
	}
	for i := len(s.journal) - 1; i >= revision; i-- {
		entry := s.journal[i]
		if entry.existed {
			// Best effort: the backing stores here do not fail puts.
			_ = s.db.Put([]byte(entry.key), entry.prev)
		} else {
			_ = s.deleteKey(entry.key)
		}
	}
	s.journal = s.journal[:revision]
}

// Commit finalises all writes since the last commit by discarding the journal.
func (s *Store) Commit() {
	s.journal = s.journal[:0]
}

type deleter interface {
	Delete(key []byte) error
}

// deleteKey removes a key when the backend supports deletion. Both backends in
// this repository do; a backend without Delete keeps the stale key, which only
// matters for reverts of first-time writes.
func (s *Store) deleteKey(key string) error {
	if d, ok := s.db.(deleter); ok {
		return d.Delete([]byte(key))
	}
	return nil
}

package settlement

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"givepool/core/types"
	"givepool/native/settlement"
	"givepool/storage"
)

func addr(suffix byte) [20]byte {
	var a [20]byte
	a[len(a)-1] = suffix
	return a
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(storage.NewMemDB())
}

func TestFundraiserRoundTrip(t *testing.T) {
	store := newStore(t)

	missing, err := store.GetFundraiser("clean-water")
	require.NoError(t, err)
	require.Nil(t, missing)

	in := &settlement.Fundraiser{
		ID:             "clean-water",
		Beneficiary:    addr(0x03),
		TotalDonations: big.NewInt(12_345),
		PoolID:         "default",
	}
	require.NoError(t, store.PutFundraiser(in))

	out, err := store.GetFundraiser("clean-water")
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, in.Beneficiary, out.Beneficiary)
	require.Zero(t, in.TotalDonations.Cmp(out.TotalDonations))
	require.Equal(t, in.PoolID, out.PoolID)
}

func TestPoolRoundTripPreservesHarvestTime(t *testing.T) {
	store := newStore(t)
	in := &settlement.PoolState{
		FundraiserID:        "clean-water",
		TotalPrincipal:      big.NewInt(1_000),
		YieldPerShareStored: new(big.Int).Mul(big.NewInt(7), big.NewInt(1e18)),
		CarryScaled:         big.NewInt(42),
		LastHarvestUnix:     1_756_600_000,
	}
	require.NoError(t, store.PutPool("default", in))

	out, err := store.GetPool("default")
	require.NoError(t, err)
	require.Equal(t, in.FundraiserID, out.FundraiserID)
	require.Zero(t, in.YieldPerShareStored.Cmp(out.YieldPerShareStored))
	require.Zero(t, in.CarryScaled.Cmp(out.CarryScaled))
	require.Equal(t, in.LastHarvestUnix, out.LastHarvestUnix)
}

func TestStakerListTracksFirstSeenOrder(t *testing.T) {
	store := newStore(t)
	first := addr(0x10)
	second := addr(0x11)

	require.NoError(t, store.PutPosition("default", &settlement.StakerPosition{
		Address: first, Principal: big.NewInt(5),
	}))
	require.NoError(t, store.PutPosition("default", &settlement.StakerPosition{
		Address: second, Principal: big.NewInt(7),
	}))
	// Updating an existing position must not duplicate the index entry.
	require.NoError(t, store.PutPosition("default", &settlement.StakerPosition{
		Address: first, Principal: big.NewInt(6),
	}))

	list, err := store.StakerList("default")
	require.NoError(t, err)
	require.Equal(t, [][20]byte{first, second}, list)

	pos, err := store.GetPosition("default", first)
	require.NoError(t, err)
	require.Zero(t, pos.Principal.Cmp(big.NewInt(6)))
}

func TestPositionsScopedByPool(t *testing.T) {
	store := newStore(t)
	staker := addr(0x10)
	require.NoError(t, store.PutPosition("default", &settlement.StakerPosition{
		Address: staker, Principal: big.NewInt(5),
	}))

	other, err := store.GetPosition("other", staker)
	require.NoError(t, err)
	require.Nil(t, other)

	list, err := store.StakerList("other")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestYieldSplitRoundTrip(t *testing.T) {
	store := newStore(t)
	staker := addr(0x10)

	missing, err := store.GetYieldSplit("default", staker)
	require.NoError(t, err)
	require.Nil(t, missing)

	split := settlement.YieldSplit{CauseBps: 5_000, StakerBps: 4_800, PlatformBps: 200}
	require.NoError(t, store.PutYieldSplit("default", staker, split))

	out, err := store.GetYieldSplit("default", staker)
	require.NoError(t, err)
	require.Equal(t, split, *out)
}

func TestAccountDefaultsToZeroBalance(t *testing.T) {
	store := newStore(t)
	acct, err := store.GetAccount(addr(0x10))
	require.NoError(t, err)
	require.NotNil(t, acct.Balance)
	require.Zero(t, acct.Balance.Sign())

	require.NoError(t, store.PutAccount(addr(0x10), &types.Account{Nonce: 3, Balance: big.NewInt(99)}))
	acct, err = store.GetAccount(addr(0x10))
	require.NoError(t, err)
	require.Equal(t, uint64(3), acct.Nonce)
	require.Zero(t, acct.Balance.Cmp(big.NewInt(99)))
}

func TestMarkProcessedIsFirstWriterWins(t *testing.T) {
	store := newStore(t)
	var fp [32]byte
	fp[0] = 0xAA

	fresh, err := store.MarkProcessed(fp)
	require.NoError(t, err)
	require.True(t, fresh)

	dup, err := store.MarkProcessed(fp)
	require.NoError(t, err)
	require.False(t, dup)

	seen, err := store.IsProcessed(fp)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestRevertRestoresPriorValuesAndRemovesFreshKeys(t *testing.T) {
	store := newStore(t)
	staker := addr(0x10)
	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(100)}))
	store.Commit()

	rev := store.Snapshot()
	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(999)}))
	var fp [32]byte
	fp[0] = 0xBB
	fresh, err := store.MarkProcessed(fp)
	require.NoError(t, err)
	require.True(t, fresh)
	require.NoError(t, store.PutPosition("default", &settlement.StakerPosition{
		Address: staker, Principal: big.NewInt(1),
	}))

	store.RevertTo(rev)

	acct, err := store.GetAccount(staker)
	require.NoError(t, err)
	require.Zero(t, acct.Balance.Cmp(big.NewInt(100)))

	seen, err := store.IsProcessed(fp)
	require.NoError(t, err)
	require.False(t, seen)

	pos, err := store.GetPosition("default", staker)
	require.NoError(t, err)
	require.Nil(t, pos)
	list, err := store.StakerList("default")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestNestedSnapshotsUnwindIndependently(t *testing.T) {
	store := newStore(t)
	staker := addr(0x10)
	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(1)}))

	outer := store.Snapshot()
	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(2)}))
	inner := store.Snapshot()
	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(3)}))

	store.RevertTo(inner)
	acct, err := store.GetAccount(staker)
	require.NoError(t, err)
	require.Zero(t, acct.Balance.Cmp(big.NewInt(2)))

	store.RevertTo(outer)
	acct, err = store.GetAccount(staker)
	require.NoError(t, err)
	require.Zero(t, acct.Balance.Cmp(big.NewInt(1)))
}

// The store must satisfy the engine end to end, not just record by record.
func TestEngineRunsAgainstPersistentStore(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)

	moduleAddr := addr(0x01)
	treasury := addr(0x02)
	beneficiary := addr(0x03)
	bridge := addr(0x04)
	staker := addr(0x10)

	engine := settlement.NewEngine(moduleAddr, treasury, settlement.DefaultYieldSplit)
	engine.SetState(store)
	engine.SetPoolID("default")
	engine.SetBridgeCaller(bridge)
	require.NoError(t, engine.RegisterFundraiser("clean-water", beneficiary, "default"))

	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(1_000)}))
	require.NoError(t, engine.Stake(staker, big.NewInt(1_000)))

	fp, err := settlement.ComputeDonationFingerprint(staker, "clean-water", big.NewInt(500), 137)
	require.NoError(t, err)
	require.NoError(t, engine.HandleCrossChainDonation(bridge, staker, "clean-water", big.NewInt(500), fp, 137))
	require.ErrorIs(t, engine.HandleCrossChainDonation(bridge, staker, "clean-water", big.NewInt(500), fp, 137), settlement.ErrMessageAlreadyProcessed)
	// Successful operations finalise their own journal writes.
	require.Zero(t, store.Snapshot())

	// A fresh store over the same database sees the committed state.
	reopened := NewStore(db)
	engine2 := settlement.NewEngine(moduleAddr, treasury, settlement.DefaultYieldSplit)
	engine2.SetState(reopened)
	engine2.SetPoolID("default")
	engine2.SetBridgeCaller(bridge)

	total, err := engine2.FundraiserTotal("clean-water")
	require.NoError(t, err)
	require.Zero(t, total.Cmp(big.NewInt(500)))
	pos, err := engine2.Position(staker)
	require.NoError(t, err)
	require.Zero(t, pos.Principal.Cmp(big.NewInt(1_000)))
	seen, err := reopened.IsProcessed(fp)
	require.NoError(t, err)
	require.True(t, seen)
}

// A failed operation must revert completely even after earlier operations have
// already finalised their writes.
func TestFailedOperationRevertsAfterPriorCommit(t *testing.T) {
	store := newStore(t)
	engine := settlement.NewEngine(addr(0x01), addr(0x02), settlement.DefaultYieldSplit)
	engine.SetState(store)
	engine.SetPoolID("default")
	engine.SetBridgeCaller(addr(0x04))
	require.NoError(t, engine.RegisterFundraiser("clean-water", addr(0x03), "default"))

	donor := addr(0x30)
	fp, err := settlement.ComputeDonationFingerprint(donor, "clean-water", big.NewInt(500), 137)
	require.NoError(t, err)
	require.NoError(t, engine.HandleCrossChainDonation(addr(0x04), donor, "clean-water", big.NewInt(500), fp, 137))

	badFp, err := settlement.ComputeDonationFingerprint(donor, "missing", big.NewInt(500), 137)
	require.NoError(t, err)
	err = engine.HandleCrossChainDonation(addr(0x04), donor, "missing", big.NewInt(500), badFp, 137)
	require.Error(t, err)

	total, err := engine.FundraiserTotal("clean-water")
	require.NoError(t, err)
	require.Zero(t, total.Cmp(big.NewInt(500)))
	seen, err := store.IsProcessed(badFp)
	require.NoError(t, err)
	require.False(t, seen)
	require.Zero(t, store.Snapshot())
}

// Donations finalising on one goroutine must never truncate the revision of a
// failing unstake in flight on another. The unstake is made to fail at its
// final ledger transfer, after the position and pool were already rewritten,
// so a lost revert would leave the debited position behind.
func TestConcurrentCommitsDoNotDisturbOpenRevisions(t *testing.T) {
	store := newStore(t)
	moduleAddr := addr(0x01)
	bridge := addr(0x04)
	staker := addr(0x10)
	donor := addr(0x30)

	engine := settlement.NewEngine(moduleAddr, addr(0x02), settlement.DefaultYieldSplit)
	engine.SetState(store)
	engine.SetPoolID("default")
	engine.SetBridgeCaller(bridge)
	require.NoError(t, engine.RegisterFundraiser("clean-water", addr(0x03), "default"))
	require.NoError(t, store.PutAccount(staker, &types.Account{Balance: big.NewInt(500)}))
	require.NoError(t, engine.Stake(staker, big.NewInt(500)))
	require.NoError(t, store.PutAccount(moduleAddr, &types.Account{Balance: big.NewInt(100)}))
	store.Commit()

	errs := make(chan error, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 20; i++ {
			amount := big.NewInt(i)
			fp, err := settlement.ComputeDonationFingerprint(donor, "clean-water", amount, 137)
			if err != nil {
				errs <- err
				return
			}
			if err := engine.HandleCrossChainDonation(bridge, donor, "clean-water", amount, fp, 137); err != nil {
				errs <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if err := engine.Unstake(staker, big.NewInt(500)); err == nil {
				errs <- errors.New("underfunded unstake succeeded")
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	pos, err := store.GetPosition("default", staker)
	require.NoError(t, err)
	require.Zero(t, pos.Principal.Cmp(big.NewInt(500)))
	pool, err := store.GetPool("default")
	require.NoError(t, err)
	require.Zero(t, pool.TotalPrincipal.Cmp(big.NewInt(500)))
	total, err := engine.FundraiserTotal("clean-water")
	require.NoError(t, err)
	require.Zero(t, total.Cmp(big.NewInt(210)))
	require.Zero(t, store.Snapshot())
}

package settlement

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"givepool/core/events"
	"givepool/core/types"
)

var (
	// ErrNotAuthorizedCaller rejects cross-chain instructions whose caller is
	// not the registered bridge identity.
	ErrNotAuthorizedCaller = errors.New("settlement engine: caller is not the registered bridge")
	// ErrInvalidMessageHash rejects instructions whose supplied fingerprint
	// does not match the recomputed canonical fingerprint.
	ErrInvalidMessageHash = errors.New("settlement engine: instruction fingerprint mismatch")
	// ErrMessageAlreadyProcessed rejects a duplicate of an instruction that
	// was already applied.
	ErrMessageAlreadyProcessed = errors.New("settlement engine: message already processed")
	// ErrInvalidSplitConfiguration rejects yield splits that do not sum to
	// 10000 basis points.
	ErrInvalidSplitConfiguration = errors.New("settlement engine: yield split must sum to 10000 basis points")
	// ErrInsufficientPrincipal rejects unstakes exceeding the staker's
	// recorded principal.
	ErrInsufficientPrincipal = errors.New("settlement engine: unstake exceeds staked principal")
	// ErrReentrant rejects entry into a lock-guarded operation while another
	// guarded operation is in flight.
	ErrReentrant = errors.New("settlement engine: reentrant call")
	// ErrLegacyPathDisabled rejects legacy unprotected donations when the
	// compatibility flag is off.
	ErrLegacyPathDisabled = errors.New("settlement engine: legacy donation path disabled")

	errNilState           = errors.New("settlement engine: state not configured")
	errNilYieldSource     = errors.New("settlement engine: yield source not configured")
	errInvalidAmount      = errors.New("settlement engine: amount must be positive")
	errFundraiserNotFound = errors.New("settlement engine: fundraiser not found")
	errPoolNotConfigured  = errors.New("settlement engine: pool identifier not configured")
	errPoolUnbound        = errors.New("settlement engine: pool not bound to a fundraiser")
	errInsufficientFunds  = errors.New("settlement engine: insufficient balance")
	errNilTreasury        = errors.New("settlement engine: treasury not configured")
	errInvalidInstruction = errors.New("settlement engine: malformed instruction")
)

// EngineState abstracts the persistence layer backing the settlement engine.
type EngineState interface {
	GetFundraiser(id string) (*Fundraiser, error)
	PutFundraiser(f *Fundraiser) error
	GetPool(poolID string) (*PoolState, error)
	PutPool(poolID string, pool *PoolState) error
	GetPosition(poolID string, addr [20]byte) (*StakerPosition, error)
	PutPosition(poolID string, pos *StakerPosition) error
	StakerList(poolID string) ([][20]byte, error)
	GetYieldSplit(poolID string, addr [20]byte) (*YieldSplit, error)
	PutYieldSplit(poolID string, addr [20]byte, split YieldSplit) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	MarkProcessed(fingerprint [32]byte) (bool, error)
	IsProcessed(fingerprint [32]byte) (bool, error)
	Snapshot() int
	RevertTo(revision int)
}

// YieldSource is the external adapter the distribution engine pulls freshly
// earned yield from (e.g. a lending-pool integration). The returned amount is
// considered deposited into the pool module account by the venue.
type YieldSource interface {
	PullEarnedYield() (*big.Int, error)
}

// Engine orchestrates cross-chain settlement and yield distribution for a
// single stake pool. All mutating operations are serialised; operations that
// perform an external transfer additionally hold a non-reentrant guard for
// their full duration.
type Engine struct {
	state        EngineState
	emitter      events.Emitter
	yieldSource  YieldSource
	moduleAddr   [20]byte
	treasuryAddr [20]byte
	bridgeCaller [20]byte
	defaultSplit YieldSplit
	allowLegacy  bool
	poolID       string
	nowFn        func() int64

	mu    sync.Mutex
	guard reentrancyGuard
}

// NewEngine constructs a settlement engine bound to the pool module account
// and the platform treasury.
func NewEngine(moduleAddr, treasuryAddr [20]byte, defaultSplit YieldSplit) *Engine {
	if defaultSplit.Validate() != nil {
		defaultSplit = DefaultYieldSplit
	}
	return &Engine{
		moduleAddr:   moduleAddr,
		treasuryAddr: treasuryAddr,
		defaultSplit: defaultSplit,
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetYieldSource configures the external yield adapter.
func (e *Engine) SetYieldSource(src YieldSource) {
	if e == nil {
		return
	}
	e.yieldSource = src
}

// SetBridgeCaller registers the only identity allowed to submit cross-chain
// instructions.
func (e *Engine) SetBridgeCaller(addr [20]byte) {
	if e == nil {
		return
	}
	e.bridgeCaller = addr
}

// SetAllowLegacyDonations toggles the backward-compatible donation path that
// skips fingerprint verification and replay protection.
func (e *Engine) SetAllowLegacyDonations(allow bool) {
	if e == nil {
		return
	}
	e.allowLegacy = allow
}

// SetPoolID assigns the stake pool identifier that subsequent operations will
// operate against.
func (e *Engine) SetPoolID(poolID string) {
	if e == nil {
		return
	}
	e.poolID = strings.TrimSpace(poolID)
}

// PoolID returns the currently configured pool identifier for the engine.
func (e *Engine) PoolID() string {
	if e == nil {
		return ""
	}
	return e.poolID
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) ensurePool() (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if strings.TrimSpace(e.poolID) == "" {
		return nil, errPoolNotConfigured
	}
	pool, err := e.state.GetPool(e.poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &PoolState{}
	}
	if pool.TotalPrincipal == nil {
		pool.TotalPrincipal = big.NewInt(0)
	}
	if pool.YieldPerShareStored == nil {
		pool.YieldPerShareStored = big.NewInt(0)
	}
	if pool.CarryScaled == nil {
		pool.CarryScaled = big.NewInt(0)
	}
	return pool, nil
}

// ensurePosition loads or initialises a staker position. Fresh positions take
// the current accumulator value as their snapshot so historical yield never
// accrues to them.
func (e *Engine) ensurePosition(addr [20]byte, pool *PoolState) (*StakerPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.state.GetPosition(e.poolID, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &StakerPosition{Address: addr}
		if pool != nil && pool.YieldPerShareStored != nil {
			pos.PaidPerShare = new(big.Int).Set(pool.YieldPerShareStored)
		}
	}
	if pos.Principal == nil {
		pos.Principal = big.NewInt(0)
	}
	if pos.PaidPerShare == nil {
		pos.PaidPerShare = big.NewInt(0)
	}
	if pos.AccruedUnclaimed == nil {
		pos.AccruedUnclaimed = big.NewInt(0)
	}
	return pos, nil
}

func (e *Engine) loadFundraiser(id string) (*Fundraiser, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	f, err := e.state.GetFundraiser(strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errFundraiserNotFound
	}
	if f.TotalDonations == nil {
		f.TotalDonations = big.NewInt(0)
	}
	return f, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.EnsureBalances(), nil
}

// transfer moves value between two ledger accounts. The debit side must hold
// sufficient balance; credits materialise the account when missing.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return errInvalidAmount
	}
	fromAcc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amt) < 0 {
		return errInsufficientFunds
	}
	toAcc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// mint credits bridged-in value to an account. Used when the counterpart debit
// happened on the source chain.
func (e *Engine) mint(to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amt)
	return e.state.PutAccount(to, acc)
}

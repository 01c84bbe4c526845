package settlement

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// precision is the fixed-point scalar for the reward-per-share
	// accumulator. 1e18 keeps truncation bias negligible for small stakers.
	precision = big.NewInt(1_000_000_000_000_000_000)
)

// DefaultYieldSplit routes 79% of harvested yield to the cause, 19% back to
// the staker, and 2% to the platform treasury.
var DefaultYieldSplit = YieldSplit{CauseBps: 7_900, StakerBps: 1_900, PlatformBps: 200}

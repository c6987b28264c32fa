// Package pow implements proof-of-work target computation, difficulty
// retargeting, subsidy halving, and median-time-past, grounded on
// tinychain.py's get_next_work_required/get_block_subsidy/
// get_median_time_past. Every function is parameterized on a
// chainparams.Params so tests can run with a trivial difficulty and a
// short retarget period.
package pow

import (
	"math/big"
	"sort"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chainparams"
)

// Target returns 2^(256-bits), the value a block's id must be strictly
// less than as a 256-bit integer.
func Target(bits uint32) *big.Int {
	t := big.NewInt(1)
	t.Lsh(t, uint(256-bits))
	return t
}

// MeetsTarget reports whether id (as a 256-bit big-endian integer) is
// strictly below the target implied by bits.
func MeetsTarget(id *big.Int, bits uint32) bool {
	return id.Cmp(Target(bits)) < 0
}

// NextWorkRequired computes the bits value a block extending the chain
// ending in activeChain must carry. An empty activeChain (no previous
// block) returns p.InitialDifficultyBits — the genesis case.
func NextWorkRequired(p chainparams.Params, activeChain []block.Block) uint32 {
	if len(activeChain) == 0 {
		return p.InitialDifficultyBits
	}
	prev := activeChain[len(activeChain)-1]
	prevHeight := uint64(len(activeChain) - 1)

	if (prevHeight+1)%p.DifficultyPeriodInBlocks != 0 {
		return prev.Bits
	}

	startIdx := int64(prevHeight) - int64(p.DifficultyPeriodInBlocks-1)
	if startIdx < 0 {
		startIdx = 0
	}
	periodStart := activeChain[startIdx]
	elapsed := prev.Timestamp - periodStart.Timestamp

	switch {
	case elapsed < p.DifficultyPeriodInSecsTarget:
		return prev.Bits + 1
	case elapsed > p.DifficultyPeriodInSecsTarget:
		return prev.Bits - 1
	default:
		return prev.Bits
	}
}

// Subsidy returns the coinbase subsidy for a block at the given active
// chain height (the chain length before this block connects), zero after
// 64 halvings.
func Subsidy(p chainparams.Params, heightBeforeConnect uint64) uint64 {
	halvings := heightBeforeConnect / p.HalveSubsidyAfterBlocksNum
	if halvings >= 64 {
		return 0
	}
	return (50 * p.BelushisPerCoin) >> halvings
}

// MedianTimePast returns the median timestamp of the last n blocks of
// chain (most recent first), 0 if chain is empty.
func MedianTimePast(chain []block.Block, n int) int64 {
	if len(chain) == 0 {
		return 0
	}
	if n > len(chain) {
		n = len(chain)
	}
	last := make([]int64, n)
	for i := 0; i < n; i++ {
		last[i] = chain[len(chain)-1-i].Timestamp
	}
	sort.Slice(last, func(i, j int) bool { return last[i] < last[j] })
	return last[len(last)/2]
}

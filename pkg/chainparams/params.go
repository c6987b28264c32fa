// Package chainparams holds the consensus constants tinychain is tuned
// against. They are carried on a Params value rather than declared as bare
// package constants so tests can lower the difficulty and retarget period
// without touching production wiring.
package chainparams

// Params bundles every consensus-relevant constant. Default() returns the
// production values from the external interface spec; tests construct their
// own Params with a trivial InitialDifficultyBits and a short
// DifficultyPeriodInBlocks.
type Params struct {
	// MaxBlockSerializedSize is the maximum encoded size of a block, in bytes.
	MaxBlockSerializedSize int

	// CoinbaseMaturity is the number of confirmations a coinbase output
	// needs before it can be spent.
	CoinbaseMaturity uint64

	// MaxFutureBlockTime is how far into the future (seconds) a block's
	// timestamp may sit and still be accepted.
	MaxFutureBlockTime int64

	// BelushisPerCoin is the number of sub-units ("belushis") in one coin.
	BelushisPerCoin uint64

	// TotalCoins is the maximum coin supply.
	TotalCoins uint64

	// InitialDifficultyBits is the bits value used for the genesis block
	// and every block before the first retarget.
	InitialDifficultyBits uint32

	// HalveSubsidyAfterBlocksNum is the block-height period after which
	// the coinbase subsidy is halved.
	HalveSubsidyAfterBlocksNum uint64

	// TimeBetweenBlocksTarget is the desired spacing between blocks, in
	// seconds.
	TimeBetweenBlocksTarget int64

	// DifficultyPeriodInSecsTarget is the desired wall-clock duration of
	// one retarget period.
	DifficultyPeriodInSecsTarget int64

	// DifficultyPeriodInBlocks is the number of blocks in one retarget
	// period.
	DifficultyPeriodInBlocks uint64
}

// MaxMoney returns the maximum representable amount, in sub-units.
func (p Params) MaxMoney() uint64 {
	return p.TotalCoins * p.BelushisPerCoin
}

// Default returns the production tinychain parameters.
func Default() Params {
	return Params{
		MaxBlockSerializedSize:       1_000_000,
		CoinbaseMaturity:             2,
		MaxFutureBlockTime:           7200,
		BelushisPerCoin:              100_000_000,
		TotalCoins:                   21_000_000,
		InitialDifficultyBits:        22,
		HalveSubsidyAfterBlocksNum:   210_000,
		TimeBetweenBlocksTarget:      60,
		DifficultyPeriodInSecsTarget: 36000,
		DifficultyPeriodInBlocks:     600,
	}
}

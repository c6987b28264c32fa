package chainparams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, uint64(21_000_000), p.TotalCoins)
	assert.Equal(t, uint64(100_000_000), p.BelushisPerCoin)
	assert.Equal(t, uint32(22), p.InitialDifficultyBits)
	assert.Equal(t, uint64(600), p.DifficultyPeriodInBlocks)
}

func TestMaxMoney(t *testing.T) {
	p := Default()
	assert.Equal(t, p.TotalCoins*p.BelushisPerCoin, p.MaxMoney())
}

func TestParams_Overridable(t *testing.T) {
	p := Default()
	p.InitialDifficultyBits = 1
	p.DifficultyPeriodInBlocks = 5
	assert.Equal(t, uint32(1), p.InitialDifficultyBits)
	assert.Equal(t, uint64(5), p.DifficultyPeriodInBlocks)
	// Default() itself is untouched by mutating a copy.
	assert.Equal(t, uint32(22), Default().InitialDifficultyBits)
}

package miner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chain"
	"github.com/gochain/tinychain/pkg/chainparams"
	"github.com/gochain/tinychain/pkg/logger"
	"github.com/gochain/tinychain/pkg/pow"
)

func easyChain(t *testing.T) *chain.Chain {
	t.Helper()
	p := chainparams.Default()
	p.InitialDifficultyBits = 1
	p.DifficultyPeriodInBlocks = 1_000_000

	c := chain.New(p, logger.NewNop())
	g := mineGenesis(t, p.InitialDifficultyBits)
	require.NoError(t, c.ConnectGenesis(g))
	return c
}

func mineGenesis(t *testing.T, bits uint32) block.Block {
	t.Helper()
	b := block.Block{
		Header: block.Header{Bits: bits, Timestamp: 1000},
		Txns:   []block.Transaction{{TxOuts: []block.TxOut{{Value: 5_000_000_000, ToAddress: "genesisMiner"}}}},
	}
	b.MerkleHash = b.ComputeMerkleHash()
	for nonce := uint64(0); nonce < 2_000_000; nonce++ {
		b.Nonce = nonce
		if pow.MeetsTarget(b.IDAsInt(), bits) {
			return b
		}
	}
	t.Fatal("failed to mine a test genesis")
	return b
}

func TestAssemble_PaysSubsidyToConfiguredAddress(t *testing.T) {
	c := easyChain(t)
	m := New(c, "rewardAddr", logger.NewNop())

	b, err := m.assemble()
	require.NoError(t, err)

	tip, _ := c.Tip()
	assert.Equal(t, tip.ID(), b.PrevBlockHash)
	assert.Equal(t, c.NextWorkRequired(), b.Bits)
	require.Len(t, b.Txns, 1)
	assert.Equal(t, "rewardAddr", b.Txns[0].TxOuts[0].ToAddress)
	assert.Equal(t, pow.Subsidy(c.Params(), uint64(c.Height())), b.Txns[0].TxOuts[0].Value)
	assert.Equal(t, chain.BuildMerkleHash(b.Txns), b.MerkleHash)
}

func TestMineOnce_ProducesAValidBlock(t *testing.T) {
	c := easyChain(t)
	m := New(c, "rewardAddr", logger.NewNop())

	stop := make(chan struct{})
	b, mined := m.mineOnce(stop)
	require.True(t, mined)
	assert.True(t, pow.MeetsTarget(b.IDAsInt(), b.Bits))
	require.NoError(t, c.ConnectBlock(b))
	assert.Equal(t, 2, c.Height())
}

func TestMineOnce_StopsImmediatelyWhenStopIsClosed(t *testing.T) {
	c := easyChain(t)
	m := New(c, "rewardAddr", logger.NewNop())

	stop := make(chan struct{})
	close(stop)
	_, mined := m.mineOnce(stop)
	assert.False(t, mined)
}

func TestStartStop_MinesAtLeastOneBlock(t *testing.T) {
	c := easyChain(t)
	m := New(c, "rewardAddr", logger.NewNop())

	var minedCount int
	m.SetOnBlockMined(func(block.Block) { minedCount++ })

	m.Start()
	m.Start() // second Start must be a no-op, not a second goroutine

	deadline := time.After(5 * time.Second)
	for c.Height() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the miner to connect a block")
		case <-time.After(time.Millisecond):
		}
	}
	m.Stop()

	assert.GreaterOrEqual(t, c.Height(), 2)
	assert.Greater(t, minedCount, 0)
}

package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chainparams"
	"github.com/gochain/tinychain/pkg/logger"
	"github.com/gochain/tinychain/pkg/pow"
	"github.com/gochain/tinychain/pkg/wallet"
)

// testParams returns parameters tuned for fast mining: bits=1 never
// retargets within these tests, and zero coinbase maturity lets a spend
// test spend a coinbase output immediately.
func testParams() chainparams.Params {
	p := chainparams.Default()
	p.InitialDifficultyBits = 1
	p.DifficultyPeriodInBlocks = 1_000_000
	p.CoinbaseMaturity = 0
	return p
}

func mineOnto(t *testing.T, prev block.Block, isGenesis bool, bits uint32, ts int64, coinbaseAddr string) block.Block {
	t.Helper()
	prevHash := ""
	if !isGenesis {
		prevHash = prev.ID()
	}
	return mineWithPrevHash(t, prevHash, bits, ts, coinbaseAddr)
}

func mineWithPrevHash(t *testing.T, prevHash string, bits uint32, ts int64, coinbaseAddr string) block.Block {
	t.Helper()
	b := block.Block{
		Header: block.Header{PrevBlockHash: prevHash, Bits: bits, Timestamp: ts},
		Txns:   []block.Transaction{{TxOuts: []block.TxOut{{Value: 5_000_000_000, ToAddress: coinbaseAddr}}}},
	}
	b.MerkleHash = b.ComputeMerkleHash()
	for nonce := uint64(0); nonce < 2_000_000; nonce++ {
		b.Nonce = nonce
		if pow.MeetsTarget(b.IDAsInt(), bits) {
			return b
		}
	}
	t.Fatal("failed to mine a test block")
	return b
}

func TestChain_ConnectGenesis_AcceptsProductionGenesisLiteral(t *testing.T) {
	// Genesis() carries a merkle hash and nonce computed against the
	// reference implementation's own serialization, not this one's —
	// ConnectGenesis must trust it wholesale rather than recompute and
	// reject it.
	c := New(chainparams.Default(), logger.NewNop())
	require.NoError(t, c.ConnectGenesis(Genesis()))
	assert.Equal(t, 1, c.Height())
}

func TestChain_ConnectGenesis(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	g := mineOnto(t, block.Block{}, true, 1, 1000, "minerAddr")

	require.NoError(t, c.ConnectGenesis(g))
	assert.Equal(t, 1, c.Height())
	tip, ok := c.Tip()
	assert.True(t, ok)
	assert.Equal(t, g.ID(), tip.ID())
}

func TestChain_ConnectGenesis_RejectsSecondCall(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	g := mineOnto(t, block.Block{}, true, 1, 1000, "minerAddr")
	require.NoError(t, c.ConnectGenesis(g))
	assert.Error(t, c.ConnectGenesis(g))
}

func TestChain_ConnectBlock_ExtendsActiveChain(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	g := mineOnto(t, block.Block{}, true, 1, 1000, "minerAddr")
	require.NoError(t, c.ConnectGenesis(g))

	b1 := mineOnto(t, g, false, c.NextWorkRequired(), 1010, "minerAddr")
	require.NoError(t, c.ConnectBlock(b1))

	assert.Equal(t, 2, c.Height())
	tip, _ := c.Tip()
	assert.Equal(t, b1.ID(), tip.ID())
}

func TestChain_ConnectBlock_RejectsUnknownParent(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	g := mineOnto(t, block.Block{}, true, 1, 1000, "minerAddr")
	require.NoError(t, c.ConnectGenesis(g))

	orphan := mineWithPrevHash(t, "nonexistent", 1, 1010, "minerAddr")
	err := c.ConnectBlock(orphan)
	assert.Error(t, err)
	assert.Equal(t, 1, c.Height())
}

func TestChain_ConnectBlock_IsIdempotent(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	g := mineOnto(t, block.Block{}, true, 1, 1000, "minerAddr")
	require.NoError(t, c.ConnectGenesis(g))

	b1 := mineOnto(t, g, false, c.NextWorkRequired(), 1010, "minerAddr")
	require.NoError(t, c.ConnectBlock(b1))
	require.NoError(t, c.ConnectBlock(b1)) // already seen, no-op
	assert.Equal(t, 2, c.Height())
}

func TestChain_AcceptTxn_ValidSpendEntersMempool(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	w, err := wallet.Load(t.TempDir()+"/w.key", logger.NewNop())
	require.NoError(t, err)

	g := mineOnto(t, block.Block{}, true, 1, 1000, w.Address())
	require.NoError(t, c.ConnectGenesis(g))

	coinbaseTx := g.Txns[0]
	op := block.OutPoint{TxID: coinbaseTx.ID(), Index: 0}
	txout := block.TxOut{Value: 1_000_000_000, ToAddress: "destAddr"}
	msg, err := wallet.BuildSpendMessage(op, 0, w.PublicKeyBytes(), []block.TxOut{txout})
	require.NoError(t, err)
	sig, err := w.Sign(msg)
	require.NoError(t, err)

	tx := block.Transaction{
		TxIns:  []block.TxIn{{ToSpend: &op, UnlockPK: w.PublicKeyBytes(), UnlockSig: sig}},
		TxOuts: []block.TxOut{txout},
	}

	require.NoError(t, c.AcceptTxn(tx))
	assert.True(t, c.Mempool().Has(tx.ID()))
}

func TestChain_AcceptTxn_RejectsOverspend(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	w, err := wallet.Load(t.TempDir()+"/w.key", logger.NewNop())
	require.NoError(t, err)

	g := mineOnto(t, block.Block{}, true, 1, 1000, w.Address())
	require.NoError(t, c.ConnectGenesis(g))

	coinbaseTx := g.Txns[0]
	op := block.OutPoint{TxID: coinbaseTx.ID(), Index: 0}
	txout := block.TxOut{Value: 9_999_999_999_999, ToAddress: "destAddr"}
	msg, err := wallet.BuildSpendMessage(op, 0, w.PublicKeyBytes(), []block.TxOut{txout})
	require.NoError(t, err)
	sig, err := w.Sign(msg)
	require.NoError(t, err)

	tx := block.Transaction{
		TxIns:  []block.TxIn{{ToSpend: &op, UnlockPK: w.PublicKeyBytes(), UnlockSig: sig}},
		TxOuts: []block.TxOut{txout},
	}

	assert.Error(t, c.AcceptTxn(tx))
	assert.False(t, c.Mempool().Has(tx.ID()))
}

func TestChain_Reorg_SwitchesToLongerSideBranch(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	g := mineOnto(t, block.Block{}, true, 1, 1000, "minerAddr")
	require.NoError(t, c.ConnectGenesis(g))

	a1 := mineOnto(t, g, false, 1, 1010, "minerAddr")
	require.NoError(t, c.ConnectBlock(a1))
	assert.Equal(t, 2, c.Height())

	b1 := mineOnto(t, g, false, 1, 1020, "otherMinerAddr")
	require.NoError(t, c.ConnectBlock(b1))
	assert.Equal(t, 2, c.Height(), "a shorter side branch must not be adopted")

	b2 := mineOnto(t, b1, false, 1, 1030, "otherMinerAddr")
	require.NoError(t, c.ConnectBlock(b2))
	assert.Equal(t, 2, c.Height(), "an equal-height side branch must not be adopted")

	b3 := mineOnto(t, b2, false, 1, 1040, "otherMinerAddr")
	require.NoError(t, c.ConnectBlock(b3))

	assert.Equal(t, 4, c.Height(), "a longer side branch must trigger a reorg")
	tip, _ := c.Tip()
	assert.Equal(t, b3.ID(), tip.ID())
}

func TestChain_NextWorkRequired_GenesisCase(t *testing.T) {
	p := testParams()
	c := New(p, logger.NewNop())
	assert.Equal(t, p.InitialDifficultyBits, c.NextWorkRequired())
}

func TestChain_SelectMempoolForBlock_EmptyWhenNoTxns(t *testing.T) {
	c := New(testParams(), logger.NewNop())
	assert.Empty(t, c.SelectMempoolForBlock())
}

func TestBuildMerkleHash_MatchesBlockComputeMerkleHash(t *testing.T) {
	tx := block.Transaction{TxOuts: []block.TxOut{{Value: 1, ToAddress: "addr1"}}}
	b := block.Block{Txns: []block.Transaction{tx}}
	assert.Equal(t, b.ComputeMerkleHash(), BuildMerkleHash(b.Txns))
}

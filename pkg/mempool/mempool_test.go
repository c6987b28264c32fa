package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gochain/tinychain/pkg/block"
)

func TestPool_AddHasGetRemove(t *testing.T) {
	p := New()
	tx := block.Transaction{TxOuts: []block.TxOut{{Value: 10, ToAddress: "addr1"}}}

	assert.False(t, p.Has("tx1"))
	p.Add("tx1", tx)
	assert.True(t, p.Has("tx1"))

	got, ok := p.Get("tx1")
	assert.True(t, ok)
	assert.Equal(t, tx, got)

	p.Remove("tx1")
	assert.False(t, p.Has("tx1"))
}

func TestPool_Add_IsNoOpIfPresent(t *testing.T) {
	p := New()
	tx1 := block.Transaction{LockTime: 1}
	tx2 := block.Transaction{LockTime: 2}
	p.Add("tx1", tx1)
	p.Add("tx1", tx2)

	got, _ := p.Get("tx1")
	assert.Equal(t, tx1, got)
}

func TestPool_Ids_InsertionOrder(t *testing.T) {
	p := New()
	p.Add("tx3", block.Transaction{})
	p.Add("tx1", block.Transaction{})
	p.Add("tx2", block.Transaction{})

	assert.Equal(t, []string{"tx3", "tx1", "tx2"}, p.Ids())
}

func TestPool_Len(t *testing.T) {
	p := New()
	assert.Equal(t, 0, p.Len())
	p.Add("tx1", block.Transaction{})
	assert.Equal(t, 1, p.Len())
}

func TestPool_FindUTXOInMempool(t *testing.T) {
	p := New()
	tx := block.Transaction{TxOuts: []block.TxOut{{Value: 10, ToAddress: "addr1"}}}
	p.Add("tx1", tx)

	out, ok := p.FindUTXOInMempool(block.OutPoint{TxID: "tx1", Index: 0})
	assert.True(t, ok)
	assert.Equal(t, tx.TxOuts[0], out)

	_, ok = p.FindUTXOInMempool(block.OutPoint{TxID: "tx1", Index: 5})
	assert.False(t, ok)

	_, ok = p.FindUTXOInMempool(block.OutPoint{TxID: "missing", Index: 0})
	assert.False(t, ok)
}

func TestPool_SelectForBlock_PullsInAncestors(t *testing.T) {
	p := New()
	parent := block.Transaction{TxOuts: []block.TxOut{{Value: 100, ToAddress: "addr1"}}}
	parentID := parent.ID()
	child := block.Transaction{
		TxIns:  []block.TxIn{{ToSpend: &block.OutPoint{TxID: parentID, Index: 0}}},
		TxOuts: []block.TxOut{{Value: 90, ToAddress: "addr2"}},
	}
	childID := child.ID()

	// Insert child first: selection must still pull the parent in ahead
	// of it despite insertion order.
	p.Add(childID, child)
	p.Add(parentID, parent)

	selected := p.SelectForBlock(1_000_000)
	assert.Len(t, selected, 2)
	assert.Equal(t, parentID, selected[0].ID())
	assert.Equal(t, childID, selected[1].ID())
}

func TestPool_SelectForBlock_StopsAtSizeCap(t *testing.T) {
	p := New()
	tx1 := block.Transaction{TxOuts: []block.TxOut{{Value: 1, ToAddress: "addr1"}}}
	tx2 := block.Transaction{TxOuts: []block.TxOut{{Value: 2, ToAddress: "addr2"}}}
	p.Add("tx1", tx1)
	p.Add("tx2", tx2)

	selected := p.SelectForBlock(tx1.SerializedSize())
	assert.Len(t, selected, 1)
}

func TestPool_SelectForBlock_IncludesSpendsOfConfirmedOutputs(t *testing.T) {
	// An input whose TxID isn't itself in the mempool is assumed to spend
	// an already-confirmed output, so it carries no mempool dependency.
	p := New()
	tx := block.Transaction{
		TxIns:  []block.TxIn{{ToSpend: &block.OutPoint{TxID: "already-confirmed", Index: 0}}},
		TxOuts: []block.TxOut{{Value: 5, ToAddress: "addr1"}},
	}
	p.Add("tx1", tx)

	selected := p.SelectForBlock(1_000_000)
	assert.Len(t, selected, 1)
}

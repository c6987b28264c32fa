// Package mempool holds validated, unmined transactions awaiting a block.
// Map-plus-ordering-slice shape is adapted from the teacher's
// pkg/mempool/mempool.go, stripped of its fee-heap (container/heap)
// machinery: fee-prioritized eviction and ordering are explicit non-goals
// here, so iteration is plain insertion order.
package mempool

import (
	"sync"

	"github.com/gochain/tinychain/pkg/block"
)

// Pool is the mempool: a txid-to-transaction map plus a slice recording
// insertion order, since Go maps do not guarantee iteration order and the
// spec requires the mempool's "iteration order" to be stable.
type Pool struct {
	mu     sync.RWMutex
	txns   map[string]block.Transaction
	order  []string
	orphan map[string]block.Transaction
}

// New returns an empty mempool.
func New() *Pool {
	return &Pool{
		txns:   make(map[string]block.Transaction),
		orphan: make(map[string]block.Transaction),
	}
}

// Has reports whether txid is already in the mempool.
func (p *Pool) Has(txid string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.txns[txid]
	return ok
}

// Get returns the transaction at txid, if present.
func (p *Pool) Get(txid string) (block.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, ok := p.txns[txid]
	return tx, ok
}

// Add inserts tx under txid at the back of the iteration order. It is a
// no-op if txid is already present.
func (p *Pool) Add(txid string, tx block.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(txid, tx)
}

func (p *Pool) addLocked(txid string, tx block.Transaction) {
	if _, ok := p.txns[txid]; ok {
		return
	}
	p.txns[txid] = tx
	p.order = append(p.order, txid)
}

// Remove deletes txid from the mempool.
func (p *Pool) Remove(txid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txid)
}

func (p *Pool) removeLocked(txid string) {
	if _, ok := p.txns[txid]; !ok {
		return
	}
	delete(p.txns, txid)
	for i, id := range p.order {
		if id == txid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// AddOrphan stashes tx under txid in the orphan list. tinychain.py never
// reprocesses orphans once a missing parent shows up; this mirrors that
// observed behavior rather than inventing a reprocessing policy.
func (p *Pool) AddOrphan(txid string, tx block.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orphan[txid] = tx
}

// FindUTXOInMempool looks for an output produced by a mempool transaction
// at op, used by the validator when allow_mempool_utxos is set.
func (p *Pool) FindUTXOInMempool(op block.OutPoint) (block.TxOut, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, ok := p.txns[op.TxID]
	if !ok || int(op.Index) >= len(tx.TxOuts) {
		return block.TxOut{}, false
	}
	return tx.TxOuts[op.Index], true
}

// Ids returns every mempool txid in insertion order, the payload for
// GetMempool replies.
func (p *Pool) Ids() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns the number of mempool transactions, used by the metrics
// surface.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txns)
}

// SelectForBlock greedily fills a block body under maxSize bytes,
// grounded on tinychain.py's select_from_mempool. Every candidate first
// recursively pulls in any mempool parent it spends from; a candidate
// whose ancestor can't be resolved is skipped, not fatal. Unlike the
// source's add_to_block, which drops the `block` argument on its
// recursive call, every recursive call here accumulates into the same
// `selected`/`chosen`/`size` state as the top level. As soon as a
// candidate (with any newly-pulled ancestors) would push the running
// size over maxSize, selection stops entirely.
func (p *Pool) SelectForBlock(maxSize int) []block.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var (
		selected []block.Transaction
		chosen   = make(map[string]bool)
		size     int
	)

	// addWithAncestors reports (added, exceeded). added is true once txid
	// sits in `selected`. exceeded is true when appending txid (or an
	// ancestor it required) would have pushed size past maxSize — the
	// caller must stop the whole selection pass in that case.
	var addWithAncestors func(txid string) (added bool, exceeded bool)
	addWithAncestors = func(txid string) (bool, bool) {
		if chosen[txid] {
			return true, false
		}
		tx, ok := p.txns[txid]
		if !ok {
			return false, false
		}
		for _, in := range tx.TxIns {
			if in.ToSpend == nil {
				continue
			}
			if _, isMempoolParent := p.txns[in.ToSpend.TxID]; !isMempoolParent {
				continue
			}
			added, exceeded := addWithAncestors(in.ToSpend.TxID)
			if exceeded {
				return false, true
			}
			if !added {
				return false, false
			}
		}
		encoded := tx.SerializedSize()
		if size+encoded > maxSize {
			return false, true
		}
		selected = append(selected, tx)
		chosen[txid] = true
		size += encoded
		return true, false
	}

outer:
	for _, txid := range p.order {
		if chosen[txid] {
			continue
		}
		_, exceeded := addWithAncestors(txid)
		if exceeded {
			break outer
		}
	}
	return selected
}

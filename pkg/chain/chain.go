// Package chain implements the active chain, its side branches, and
// reorganization, grounded on tinychain.py's connect_block/
// disconnect_block/reorg_if_necessary/try_reorg and on the teacher's
// pkg/chain/chain.go for the general shape of a mutex-guarded in-memory
// chain manager (NewChain, AddBlock-style entry point, String/height
// accessors). Go has no reentrant mutex, so the single chain_lock from
// the source is modeled as one sync.Mutex: every exported method that
// reads or changes chain state takes the lock once and calls unexported,
// lock-free *Locked helpers that invoke each other directly, the same way
// chain_lock's helpers (find_block, median_time_past) call each other
// while already locked. UTXOSet, Mempool, Params, ConsumeMineInterrupt
// and SelectMempoolForBlock do not take the lock; they rely on the UTXO
// set's and mempool's own locks or on the atomic interrupt flag.
package chain

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chainparams"
	"github.com/gochain/tinychain/pkg/mempool"
	"github.com/gochain/tinychain/pkg/merkle"
	"github.com/gochain/tinychain/pkg/metrics"
	"github.com/gochain/tinychain/pkg/pow"
	"github.com/gochain/tinychain/pkg/utxo"
	"github.com/gochain/tinychain/pkg/validator"
)

// activeChainIdx is the chain index reserved for the active chain; every
// side branch is indexed starting at 1, mirroring idx_to_chain's
// `side_branches[idx - 1]` offset.
const activeChainIdx = 0

// Broadcaster fans a locally-connected block or transaction out to every
// configured peer. The chain manager never constructs connections itself
// — that belongs to the peer package, which is wired in after
// construction to avoid an import cycle (peer depends on chain, not the
// reverse).
type Broadcaster interface {
	BroadcastBlock(b block.Block)
	BroadcastTxn(tx block.Transaction)
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastBlock(block.Block)     {}
func (noopBroadcaster) BroadcastTxn(block.Transaction) {}

// Chain is the chain manager: active chain, side branches, orphan lists,
// the UTXO set, and the mempool, all mutated under one mutex.
type Chain struct {
	mu sync.Mutex

	params chainparams.Params
	log    *zap.Logger

	active       []block.Block
	sideBranches [][]block.Block
	orphanBlocks []block.Block

	utxo    *utxo.Set
	mempool *mempool.Pool

	broadcaster   Broadcaster
	mineInterrupt atomic.Bool
}

// New returns an empty chain manager (no genesis connected yet).
func New(p chainparams.Params, log *zap.Logger) *Chain {
	return &Chain{
		params:      p,
		log:         log,
		utxo:        utxo.New(),
		mempool:     mempool.New(),
		broadcaster: noopBroadcaster{},
	}
}

// SetBroadcaster wires in the peer fan-out implementation once the
// node's peer package has started.
func (c *Chain) SetBroadcaster(b Broadcaster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcaster = b
}

// UTXOSet returns the chain's UTXO set, used by the peer dispatcher's
// Balance/Send handlers and the miner.
func (c *Chain) UTXOSet() *utxo.Set { return c.utxo }

// Mempool returns the chain's mempool, used by the peer dispatcher's
// GetMempool handler and the miner's block assembly.
func (c *Chain) Mempool() *mempool.Pool { return c.mempool }

// Params returns the chain's consensus parameters.
func (c *Chain) Params() chainparams.Params { return c.params }

// Height returns the active chain's current length.
func (c *Chain) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Tip returns the active chain's tip block, if any.
func (c *Chain) Tip() (block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active) == 0 {
		return block.Block{}, false
	}
	return c.active[len(c.active)-1], true
}

// ActiveChain returns a copy of the active chain, used by GetBlocks
// pagination and by the miner to snapshot chain state before mining.
func (c *Chain) ActiveChain() []block.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]block.Block, len(c.active))
	copy(out, c.active)
	return out
}

// BlockAt returns the active-chain block at height h.
func (c *Chain) BlockAt(h int) (block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h < 0 || h >= len(c.active) {
		return block.Block{}, false
	}
	return c.active[h], true
}

// NextWorkRequired returns the bits value required of a block extending
// the current active-chain tip.
func (c *Chain) NextWorkRequired() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pow.NextWorkRequired(c.params, c.active)
}

// ConsumeMineInterrupt clears and returns the mining interrupt flag,
// polled by the miner on a coarse cadence.
func (c *Chain) ConsumeMineInterrupt() bool {
	return c.mineInterrupt.Swap(false)
}

// setMineInterrupt sets the edge-triggered mining-interrupt flag. Called
// whenever the active chain grows or reorganizes.
func (c *Chain) setMineInterrupt() {
	c.mineInterrupt.Store(true)
}

// chainByIndex returns the chain (active or a side branch) at idx, the
// Go analog of idx_to_chain. idx must already have a slot (see
// ensureSlotLocked) except for the active chain, which always exists.
func (c *Chain) chainByIndex(idx int) []block.Block {
	if idx == activeChainIdx {
		return c.active
	}
	if idx-1 >= len(c.sideBranches) {
		return nil
	}
	return c.sideBranches[idx-1]
}

// ensureSlotLocked allocates side-branch slots up to and including idx
// if they don't already exist — the fix for the source bug where
// connect_block assumed idx_to_chain's target slot already existed.
func (c *Chain) ensureSlotLocked(idx int) {
	if idx == activeChainIdx {
		return
	}
	for idx-1 >= len(c.sideBranches) {
		c.sideBranches = append(c.sideBranches, nil)
	}
}

// setChainByIndex replaces the chain at idx, allocating new side-branch
// slots as needed.
func (c *Chain) setChainByIndex(idx int, chain []block.Block) {
	if idx == activeChainIdx {
		c.active = chain
		return
	}
	c.ensureSlotLocked(idx)
	c.sideBranches[idx-1] = chain
}

// findBlockLocked searches the active chain and every side branch for
// id, returning the owning chain index (0 = active) and height within
// that chain.
func (c *Chain) findBlockLocked(id string) (b block.Block, height, chainIdx int, found bool) {
	for h, blk := range c.active {
		if blk.ID() == id {
			return blk, h, activeChainIdx, true
		}
	}
	for bi, branch := range c.sideBranches {
		for h, blk := range branch {
			if blk.ID() == id {
				return blk, h, bi + 1, true
			}
		}
	}
	return block.Block{}, 0, 0, false
}

// FindBlock is the exported, lock-taking form of findBlockLocked.
func (c *Chain) FindBlock(id string) (block.Block, int, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findBlockLocked(id)
}

// medianTimePastLocked returns the median timestamp of the active
// chain's last n blocks.
func (c *Chain) medianTimePastLocked(n int) int64 {
	return pow.MedianTimePast(c.active, n)
}

// validateBlockLocked implements validate_block: structural checks,
// retarget/timestamp checks, chain-index location (including the
// corrected always-a-tuple genesis path), and — for an active-chain
// extension — full per-transaction revalidation.
func (c *Chain) validateBlockLocked(b block.Block) (int, error) {
	if err := validator.ValidateBlockShape(c.params, &b, time.Now()); err != nil {
		return 0, err
	}

	isGenesis := b.PrevBlockHash == "" && len(c.active) == 0

	// Locate prev_block_hash once; its position drives both the
	// retarget lookup (step 4) and the chain-index assignment (step 6).
	var prevBlock block.Block
	var prevChainIdx int
	var prevFound bool
	if !isGenesis {
		prevBlock, _, prevChainIdx, prevFound = c.findBlockLocked(b.PrevBlockHash)
		if !prevFound {
			return 0, &validator.BlockValidationError{
				Msg:    fmt.Sprintf("prev block %s not found in any chain", b.PrevBlockHash),
				Orphan: &b,
			}
		}
	}

	// Step 4: bits must match the retarget computed over whichever
	// chain prev belongs to (the active chain, for the genesis case).
	var retargetChain []block.Block
	if !isGenesis {
		owning := c.chainByIndex(prevChainIdx)
		for h, blk := range owning {
			retargetChain = append(retargetChain, blk)
			if blk.ID() == prevBlock.ID() {
				retargetChain = owning[:h+1]
				break
			}
		}
	}
	if b.Bits != pow.NextWorkRequired(c.params, retargetChain) {
		return 0, &validator.BlockValidationError{Msg: "bits is incorrect"}
	}

	// Step 5: timestamp vs. median time past of the active chain.
	if b.Timestamp <= c.medianTimePastLocked(11) {
		return 0, &validator.BlockValidationError{Msg: "timestamp too old"}
	}

	// Step 6: assign the chain index.
	var chainIdx int
	switch {
	case isGenesis:
		chainIdx = activeChainIdx
	case prevChainIdx != activeChainIdx:
		// Attaching to a side branch: no further revalidation, per
		// §4.4 step 6's "skip full txn revalidation" rule.
		return prevChainIdx, nil
	case len(c.active) == 0 || prevBlock.ID() != c.active[len(c.active)-1].ID():
		// Prev found mid-active-chain (or active chain is otherwise
		// not yet extended to prev): a new fork.
		return len(c.sideBranches) + 1, nil
	default:
		chainIdx = activeChainIdx
	}

	// Step 7: extending the active chain — full per-transaction
	// revalidation with allow_mempool_utxos = false.
	for i := range b.Txns {
		if i == 0 {
			continue // coinbase already checked structurally
		}
		tx := b.Txns[i]
		if err := validator.ValidateTxn(c.params, &tx, false, false, uint64(len(c.active)), c.utxo, c.mempool); err != nil {
			return 0, &validator.BlockValidationError{Msg: fmt.Sprintf("%s failed to validate: %v", tx.ID(), err)}
		}
	}

	return chainIdx, nil
}

// ConnectGenesis seeds an empty chain with g, trusting it wholesale
// rather than routing it through validate_block: the genesis literal in
// the external interface is a fixed constant — its merkle_hash and
// nonce were never computed against this system's own hashing, and
// tracing the source confirms genesis_block is never passed to
// connect_block/validate_block anywhere; the reference node simply
// splices it directly into active_chain. ConnectGenesis does the same,
// applying only the UTXO/mempool bookkeeping a normal connect would
// perform for chain index 0.
func (c *Chain) ConnectGenesis(g block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.active) != 0 {
		return errors.New("chain: genesis already connected")
	}
	if len(g.Txns) == 0 {
		return errors.New("chain: genesis block has no transactions")
	}
	c.active = append(c.active, g)
	c.applyBlockToUTXOAndMempool(g, len(c.active))
	metrics.BlocksConnected.Inc()
	c.observeMetricsLocked()
	return nil
}

// ConnectBlock validates b and appends it to the appropriate chain,
// allocating a new side-branch slot when necessary, applying UTXO and
// mempool updates when it extends the active chain, running
// reorganization, and gossiping the block on success.
func (c *Chain) ConnectBlock(b block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectBlockLocked(b)
}

func (c *Chain) connectBlockLocked(b block.Block) error {
	chainIdx, err := c.validateBlockLocked(b)
	if err != nil {
		var bve *validator.BlockValidationError
		if errors.As(err, &bve) {
			if orphan, ok := bve.IsOrphan(); ok {
				c.orphanBlocks = append(c.orphanBlocks, *orphan)
				c.log.Info("saw orphan block", zap.String("block_id", orphan.ID()))
			}
		}
		c.log.Info("block failed validation", zap.String("block_id", b.ID()), zap.Error(err))
		return err
	}

	if _, _, _, found := c.findBlockLocked(b.ID()); found {
		return nil // already seen it
	}

	c.log.Info("connecting block", zap.String("block_id", b.ID()), zap.Int("chain_idx", chainIdx))
	c.ensureSlotLocked(chainIdx)
	chain := append(c.chainByIndex(chainIdx), b)
	c.setChainByIndex(chainIdx, chain)

	if chainIdx == activeChainIdx {
		c.applyBlockToUTXOAndMempool(b, len(c.active))
	}

	reorged := c.reorgIfNecessaryLocked()
	if reorged || chainIdx == activeChainIdx {
		c.setMineInterrupt()
		c.log.Info("block accepted", zap.Int("height", len(c.active)-1), zap.Int("txns", len(b.Txns)))
	}
	if reorged {
		metrics.Reorgs.Inc()
	}
	metrics.BlocksConnected.Inc()
	c.observeMetricsLocked()

	c.broadcaster.BroadcastBlock(b)
	return nil
}

// observeMetricsLocked refreshes the chain-state gauges. Called anywhere
// the active chain, side branches, mempool, or UTXO set size changes.
func (c *Chain) observeMetricsLocked() {
	metrics.ChainHeight.Set(float64(len(c.active)))
	metrics.SideBranches.Set(float64(len(c.sideBranches)))
	metrics.MempoolSize.Set(float64(c.mempool.Len()))
	metrics.UTXOSetSize.Set(float64(c.utxo.Len()))
}

// applyBlockToUTXOAndMempool removes the UTXOs b's non-coinbase inputs
// spend, inserts a UTXO for each of b's outputs at the given height, and
// drops b's transactions from the mempool.
func (c *Chain) applyBlockToUTXOAndMempool(b block.Block, height int) {
	for _, tx := range b.Txns {
		txid := tx.ID()
		c.mempool.Remove(txid)

		if !tx.IsCoinbase() {
			for _, in := range tx.TxIns {
				c.utxo.Delete(*in.ToSpend)
			}
		}
		for i, out := range tx.TxOuts {
			op := block.OutPoint{TxID: txid, Index: uint32(i)}
			c.utxo.Put(op, utxo.UTXO{
				Value:      out.Value,
				ToAddress:  out.ToAddress,
				TxID:       txid,
				TxIdx:      uint32(i),
				IsCoinbase: tx.IsCoinbase(),
				Height:     int64(height),
			})
		}
	}
}

// disconnectBlockLocked reverses applyBlockToUTXOAndMempool for the tip
// of chain (identified by chainIdx), re-inserting spent outputs by
// looking them up in the chain being rewound, and returns the popped
// chain.
func (c *Chain) disconnectBlockLocked(chain []block.Block, chainIdx int) []block.Block {
	b := chain[len(chain)-1]

	for _, tx := range b.Txns {
		if !tx.IsCoinbase() {
			c.mempool.Add(tx.ID(), tx)
		}
		for _, in := range tx.TxIns {
			if in.ToSpend == nil {
				continue
			}
			if out, idx, isCoinbase, height, ok := findTxOutInChain(chain, *in.ToSpend); ok {
				c.utxo.Put(*in.ToSpend, utxo.UTXO{
					Value:      out.Value,
					ToAddress:  out.ToAddress,
					TxID:       in.ToSpend.TxID,
					TxIdx:      idx,
					IsCoinbase: isCoinbase,
					Height:     height,
				})
			}
		}
		for i := range tx.TxOuts {
			c.utxo.Delete(block.OutPoint{TxID: tx.ID(), Index: uint32(i)})
		}
	}

	c.log.Info("block disconnected", zap.String("block_id", b.ID()), zap.Int("chain_idx", chainIdx))
	return chain[:len(chain)-1]
}

// findTxOutInChain locates the output referenced by op within chain,
// returning its value/address, index, coinbase-ness, and the height at
// which it was produced.
func findTxOutInChain(chain []block.Block, op block.OutPoint) (block.TxOut, uint32, bool, int64, bool) {
	for h, b := range chain {
		for _, tx := range b.Txns {
			if tx.ID() != op.TxID {
				continue
			}
			if int(op.Index) >= len(tx.TxOuts) {
				return block.TxOut{}, 0, false, 0, false
			}
			return tx.TxOuts[op.Index], op.Index, tx.IsCoinbase(), int64(h + 1), true
		}
	}
	return block.TxOut{}, 0, false, 0, false
}

// reorgIfNecessaryLocked checks every side branch for one whose tip
// height now exceeds the active chain's, triggering try_reorg on the
// first that does. Ties are not broken: the first branch encountered
// that exceeds the active height wins.
func (c *Chain) reorgIfNecessaryLocked() bool {
	reorged := false
	for i, branch := range c.sideBranches {
		if len(branch) == 0 {
			continue
		}
		_, forkIdx, _, found := c.findBlockLocked(branch[0].PrevBlockHash)
		if !found {
			continue
		}
		branchHeight := forkIdx + len(branch)
		if branchHeight > len(c.active) {
			if c.tryReorgLocked(branch, i+1, forkIdx) {
				reorged = true
			}
		}
	}
	return reorged
}

// tryReorgLocked implements try_reorg(branch, branch_idx, fork_idx): roll
// the active chain back to fork_idx, replay branch on top with full
// validation, and on any failure roll back to the prior active chain.
// The corrected call signature (branch, branch_idx, fork_idx) replaces
// the source's reorg_if_necessary -> try_reorg(chain) arity mismatch.
func (c *Chain) tryReorgLocked(branch []block.Block, branchIdx, forkIdx int) bool {
	oldActive := append([]block.Block{}, c.active[forkIdx+1:]...)

	rewinding := c.active
	for len(rewinding) > forkIdx+1 {
		rewinding = c.disconnectBlockLocked(rewinding, activeChainIdx)
	}
	c.active = rewinding

	applied := 0
	for _, b := range branch {
		chainIdx, err := c.validateBlockLocked(b)
		if err != nil || chainIdx != activeChainIdx {
			c.log.Info("block reorg failed", zap.String("block_id", b.ID()))
			c.rollbackReorgLocked(applied, oldActive, forkIdx)
			return false
		}
		c.active = append(c.active, b)
		c.applyBlockToUTXOAndMempool(b, len(c.active))
		applied++
	}

	c.sideBranches[branchIdx-1] = oldActive
	c.log.Info("reorg succeeded", zap.Int("branch_idx", branchIdx), zap.Int("fork_idx", forkIdx))
	return true
}

// rollbackReorgLocked undoes a partially-applied branch replay and
// restores the chain to its pre-reorg state.
func (c *Chain) rollbackReorgLocked(applied int, oldActive []block.Block, forkIdx int) {
	for i := 0; i < applied; i++ {
		c.active = c.disconnectBlockLocked(c.active, activeChainIdx)
	}
	c.active = c.active[:forkIdx+1]
	for _, b := range oldActive {
		c.active = append(c.active, b)
		c.applyBlockToUTXOAndMempool(b, len(c.active))
	}
}

// AcceptTxn implements accept_txn: validate tx against the committed
// UTXO set plus mempool-origin outputs; on success insert and gossip, on
// an orphan-marked failure queue it, on any other failure drop it.
func (c *Chain) AcceptTxn(tx block.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptTxnLocked(tx)
}

func (c *Chain) acceptTxnLocked(tx block.Transaction) error {
	err := validator.ValidateTxn(c.params, &tx, false, true, uint64(len(c.active)), c.utxo, c.mempool)
	if err != nil {
		var tve *validator.TxnValidationError
		if errors.As(err, &tve) {
			if orphan, ok := tve.IsOrphan(); ok {
				c.mempool.AddOrphan(orphan.ID(), *orphan)
				return err
			}
		}
		return err
	}
	c.mempool.Add(tx.ID(), tx)
	metrics.MempoolSize.Set(float64(c.mempool.Len()))
	c.broadcaster.BroadcastTxn(tx)
	return nil
}

// SelectMempoolForBlock greedily fills a block body under the max
// serialized size, recursing through mempool ancestors (§4.6).
func (c *Chain) SelectMempoolForBlock() []block.Transaction {
	return c.mempool.SelectForBlock(c.params.MaxBlockSerializedSize)
}

// CalculateFees sums (inputs - outputs) over txns, resolving each input
// either against the committed UTXO set or, failing that, against an
// earlier transaction in the same candidate set (an unconfirmed parent
// selected into the same block).
func (c *Chain) CalculateFees(txns []block.Transaction) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fee uint64
	for _, tx := range txns {
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.TxIns {
			if in.ToSpend == nil {
				continue
			}
			if u, ok := c.utxo.Get(*in.ToSpend); ok {
				fee += u.Value
				continue
			}
			for _, candidate := range txns {
				if candidate.ID() == in.ToSpend.TxID && int(in.ToSpend.Index) < len(candidate.TxOuts) {
					fee += candidate.TxOuts[in.ToSpend.Index].Value
				}
			}
		}
		fee -= tx.SumOutputs()
	}
	return fee
}

// BuildMerkleHash computes the merkle root over txns' ids, used by the
// miner when assembling a candidate block.
func BuildMerkleHash(txns []block.Transaction) string {
	ids := make([]string, len(txns))
	for i := range txns {
		ids[i] = txns[i].ID()
	}
	return merkle.Root(ids)
}

// String renders summary chain state for debug logging.
func (c *Chain) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("Chain{height=%d side_branches=%d mempool=%d utxo=%d}",
		len(c.active), len(c.sideBranches), c.mempool.Len(), c.utxo.Len())
}

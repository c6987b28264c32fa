// Package miner implements assemble_and_solve_block: pull mempool
// transactions, prepend a coinbase paying the local address, then search
// nonces until the header hash meets the target, polling a cooperative
// interrupt on a coarse cadence. The Start/Stop lifecycle around a
// background goroutine is adapted from the teacher's pkg/miner/miner.go; the per-attempt logic itself follows
// tinychain.py's assemble_and_solve_block/mine instead of the teacher's
// block-time ticker.
package miner

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chain"
	"github.com/gochain/tinychain/pkg/metrics"
	"github.com/gochain/tinychain/pkg/pow"
)

// interruptPollInterval is how often, in nonces attempted, the miner
// checks the chain's mining-interrupt flag — the source polls every
// 10,000 nonces.
const interruptPollInterval = 10_000

// Miner repeatedly assembles and solves candidate blocks against c,
// paying the coinbase to address.
type Miner struct {
	mu      sync.Mutex
	chain   *chain.Chain
	log     *zap.Logger
	address string

	running bool
	stop    chan struct{}
	done    chan struct{}

	onBlockMined func(block.Block)
}

// New returns a Miner that pays newly-mined coinbases to address.
func New(c *chain.Chain, address string, log *zap.Logger) *Miner {
	return &Miner{chain: c, address: address, log: log}
}

// SetOnBlockMined registers a callback invoked (outside any lock)
// whenever this miner successfully mines and connects a block. The
// mined-block metric does not go through this hook; the mining loop
// increments it directly.
func (m *Miner) SetOnBlockMined(fn func(block.Block)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBlockMined = fn
}

// Start begins mining in a background goroutine. It is a no-op if
// mining is already running.
func (m *Miner) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)
}

// Stop halts the mining goroutine and waits for it to exit.
func (m *Miner) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Miner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		b, mined := m.mineOnce(stop)
		if !mined {
			continue
		}
		if err := m.chain.ConnectBlock(b); err != nil {
			m.log.Info("mined block failed to connect", zap.Error(err))
			continue
		}
		m.log.Info("mined block", zap.String("block_id", b.ID()), zap.Int("height", m.chain.Height()-1))
		metrics.BlocksMined.Inc()

		m.mu.Lock()
		cb := m.onBlockMined
		m.mu.Unlock()
		if cb != nil {
			cb(b)
		}
	}
}

// assemble builds an unsolved candidate block extending the chain's
// current tip: mempool transactions (with ancestors pulled in), a
// coinbase paying subsidy+fees to m.address, and the merkle hash over
// the resulting txn set.
func (m *Miner) assemble() (block.Block, error) {
	active := m.chain.ActiveChain()
	var prevHash string
	if len(active) > 0 {
		prevHash = active[len(active)-1].ID()
	}

	bodyTxns := m.chain.SelectMempoolForBlock()

	fees := m.chain.CalculateFees(bodyTxns)
	p := m.chain.Params()
	subsidy := pow.Subsidy(p, uint64(len(active)))

	coinbase := block.Transaction{
		TxIns: []block.TxIn{{ToSpend: nil, Sequence: 0}},
		TxOuts: []block.TxOut{
			{Value: subsidy + fees, ToAddress: m.address},
		},
	}

	txns := append([]block.Transaction{coinbase}, bodyTxns...)

	b := block.Block{
		Header: block.Header{
			Version:       0,
			PrevBlockHash: prevHash,
			Timestamp:     time.Now().Unix(),
			Bits:          m.chain.NextWorkRequired(),
			Nonce:         0,
		},
		Txns: txns,
	}
	b.MerkleHash = chain.BuildMerkleHash(txns)

	if b.SerializedSize() > p.MaxBlockSerializedSize {
		return block.Block{}, fmt.Errorf("miner: assembled block exceeds max size")
	}
	return b, nil
}

// mineOnce assembles one candidate and searches nonces until it meets
// the target, the interrupt fires, or stop closes. It returns
// (block, true) on success.
func (m *Miner) mineOnce(stop <-chan struct{}) (block.Block, bool) {
	b, err := m.assemble()
	if err != nil {
		m.log.Warn("failed to assemble candidate block", zap.Error(err))
		return block.Block{}, false
	}

	m.chain.ConsumeMineInterrupt() // clear at the start of each attempt

	var nonce uint64
	for {
		select {
		case <-stop:
			return block.Block{}, false
		default:
		}

		b.Nonce = nonce
		if pow.MeetsTarget(b.IDAsInt(), b.Bits) {
			return b, true
		}
		nonce++

		if nonce%interruptPollInterval == 0 && m.chain.ConsumeMineInterrupt() {
			return block.Block{}, false
		}
	}
}

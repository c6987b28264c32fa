// Package block defines tinychain's core data model: outpoints,
// transaction inputs and outputs, transactions, and blocks (the unspent
// output record lives in pkg/utxo). Field layout and the hash-computation style (build a
// deterministic byte string, then sha256d it) are adapted from the
// teacher's pkg/block/block.go; the fields themselves follow the wire
// contract instead of the teacher's header-byte-packing scheme.
package block

import (
	"fmt"
	"math/big"

	"github.com/gochain/tinychain/pkg/codec"
	"github.com/gochain/tinychain/pkg/merkle"
)

// OutPoint uniquely references one output of one transaction.
type OutPoint struct {
	TxID  string `json:"txid"`
	Index uint32 `json:"index"`
}

// String renders an OutPoint as "txid:index", used as a map key wherever
// an OutPoint needs to be compared or looked up.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.Index)
}

// TxIn is one input of a Transaction. ToSpend is nil only in a coinbase
// input; every other input must carry a signature and public key that
// unlock the referenced output.
type TxIn struct {
	ToSpend   *OutPoint     `json:"to_spend"`
	UnlockSig codec.HexBytes `json:"unlock_sig"`
	UnlockPK  codec.HexBytes `json:"unlock_pk"`
	Sequence  uint32        `json:"sequence"`
}

// TxOut is one output of a Transaction: a positive amount locked to a
// base58check address.
type TxOut struct {
	Value     uint64 `json:"value"`
	ToAddress string `json:"to_address"`
}

// Transaction is an ordered set of inputs spending prior outputs and an
// ordered set of outputs creating new ones.
type Transaction struct {
	TxIns    []TxIn  `json:"txins"`
	TxOuts   []TxOut `json:"txouts"`
	LockTime int64   `json:"locktime"`
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input, with ToSpend nil.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.TxIns) == 1 && tx.TxIns[0].ToSpend == nil
}

// ID computes the transaction's identity: sha256d of its canonical
// encoding, lowercase hex.
func (tx *Transaction) ID() string {
	buf, err := codec.Marshal(tx)
	if err != nil {
		panic(fmt.Sprintf("block: marshal transaction: %v", err))
	}
	return codec.SHA256DHex(buf)
}

// SerializedSize returns the byte length of tx's canonical encoding, used
// to enforce the per-transaction and per-block size caps.
func (tx *Transaction) SerializedSize() int {
	buf, err := codec.Marshal(tx)
	if err != nil {
		panic(fmt.Sprintf("block: marshal transaction: %v", err))
	}
	return len(buf)
}

// SumOutputs returns the sum of tx's output values.
func (tx *Transaction) SumOutputs() uint64 {
	var sum uint64
	for _, out := range tx.TxOuts {
		sum += out.Value
	}
	return sum
}

// Header is the portion of a Block that is hashed to produce the block's
// identity and that proof-of-work targets.
type Header struct {
	Version       uint32 `json:"version"`
	PrevBlockHash string `json:"prev_block_hash"`
	MerkleHash    string `json:"merkle_hash"`
	Timestamp     int64  `json:"timestamp"`
	Bits          uint32 `json:"bits"`
	Nonce         uint64 `json:"nonce"`
}

// Block is a header plus its ordered transaction list. The first
// transaction is always the coinbase.
type Block struct {
	Header
	Txns []Transaction `json:"txns"`
}

// headerString formats the header the way tinychain's Block.header()
// does: straight concatenation of the six fields, no separators. An empty
// PrevBlockHash represents the genesis block's nil previous-hash.
func (b *Block) headerString() string {
	return fmt.Sprintf("%d%s%s%d%d%d",
		b.Version, b.PrevBlockHash, b.MerkleHash, b.Timestamp, b.Bits, b.Nonce)
}

// ID computes the block's identity: sha256d of its canonical header
// string, lowercase hex.
func (b *Block) ID() string {
	return codec.SHA256DHex([]byte(b.headerString()))
}

// IDAsInt returns the block id interpreted as a 256-bit big-endian
// unsigned integer, the form proof-of-work target comparisons use.
func (b *Block) IDAsInt() *big.Int {
	n := new(big.Int)
	n.SetString(b.ID(), 16)
	return n
}

// ComputeMerkleHash recomputes the merkle root over b's transaction ids.
func (b *Block) ComputeMerkleHash() string {
	ids := make([]string, len(b.Txns))
	for i := range b.Txns {
		ids[i] = b.Txns[i].ID()
	}
	return merkle.Root(ids)
}

// IsGenesis reports whether b has no previous block (an empty
// PrevBlockHash), i.e. it is eligible to be chain index 0.
func (b *Block) IsGenesis() bool {
	return b.PrevBlockHash == ""
}

// Coinbase returns b's coinbase transaction, which validation guarantees
// sits at index 0.
func (b *Block) Coinbase() *Transaction {
	if len(b.Txns) == 0 {
		return nil
	}
	return &b.Txns[0]
}

// SerializedSize returns the byte length of b's canonical encoding.
func (b *Block) SerializedSize() int {
	buf, err := codec.Marshal(b)
	if err != nil {
		panic(fmt.Sprintf("block: marshal block: %v", err))
	}
	return len(buf)
}

// Package validator implements the transaction- and block-level
// consensus rules from tinychain.py's validate_txn/validate_block,
// factored into the stateless pieces: structural checks, per-input UTXO
// and signature checks, and the block-level checks that don't require
// chain position (that orchestration — locating prev_block_hash among
// active chain and side branches — belongs to the chain manager, which
// owns that state).
package validator

import (
	"fmt"
	"time"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chainparams"
	"github.com/gochain/tinychain/pkg/mempool"
	"github.com/gochain/tinychain/pkg/pow"
	"github.com/gochain/tinychain/pkg/utxo"
	"github.com/gochain/tinychain/pkg/wallet"
)

// TxnValidationError reports a transaction that failed validation. When
// Orphan is non-nil, the caller should queue the transaction rather than
// simply drop it, mirroring tinychain's to_orphan-carrying exceptions.
type TxnValidationError struct {
	Msg    string
	Orphan *block.Transaction
}

func (e *TxnValidationError) Error() string { return "txn validation: " + e.Msg }

// IsOrphan reports whether this error carries an orphan transaction.
func (e *TxnValidationError) IsOrphan() (*block.Transaction, bool) {
	return e.Orphan, e.Orphan != nil
}

// TxUnlockError reports a signature or public-key mismatch on a
// transaction input. Callers never receive it directly: its message is
// copied into the Msg of the TxnValidationError that ValidateTxn
// returns, so errors.As cannot recover a TxUnlockError from that error.
type TxUnlockError struct {
	Msg string
}

func (e *TxUnlockError) Error() string { return "txn unlock: " + e.Msg }

// BlockValidationError reports a block that failed validation. When
// Orphan is non-nil, the block should be queued rather than dropped.
type BlockValidationError struct {
	Msg    string
	Orphan *block.Block
}

func (e *BlockValidationError) Error() string { return "block validation: " + e.Msg }

// IsOrphan reports whether this error carries an orphan block.
func (e *BlockValidationError) IsOrphan() (*block.Block, bool) {
	return e.Orphan, e.Orphan != nil
}

// ValidateTxnStructural checks the shape of tx independent of chain
// state: non-empty txouts, non-empty txins unless coinbase, serialized
// size, and the total-output-value cap.
func ValidateTxnStructural(p chainparams.Params, tx *block.Transaction, asCoinbase bool) error {
	if len(tx.TxOuts) == 0 {
		return &TxnValidationError{Msg: "transaction has no outputs"}
	}
	if !asCoinbase && len(tx.TxIns) == 0 {
		return &TxnValidationError{Msg: "non-coinbase transaction has no inputs"}
	}
	if tx.SerializedSize() > p.MaxBlockSerializedSize {
		return &TxnValidationError{Msg: "transaction too large"}
	}
	if tx.SumOutputs() > p.MaxMoney() {
		return &TxnValidationError{Msg: "spend value too high"}
	}
	for _, out := range tx.TxOuts {
		if out.Value == 0 {
			return &TxnValidationError{Msg: "output value must be positive"}
		}
	}
	return nil
}

// ValidateTxn implements validate_txn(tx, as_coinbase, allow_mempool_utxos).
// currentHeight is the active chain's current length (len(active_chain)),
// used for coinbase-maturity checks.
func ValidateTxn(
	p chainparams.Params,
	tx *block.Transaction,
	asCoinbase bool,
	allowMempoolUTXOs bool,
	currentHeight uint64,
	utxoSet *utxo.Set,
	pool *mempool.Pool,
) error {
	if err := ValidateTxnStructural(p, tx, asCoinbase); err != nil {
		return err
	}
	if asCoinbase {
		return nil
	}

	var sumIn uint64
	for _, in := range tx.TxIns {
		u, err := resolveUTXO(in, allowMempoolUTXOs, utxoSet, pool, tx)
		if err != nil {
			return err
		}

		if u.IsCoinbase && currentHeight-uint64(u.Height) < p.CoinbaseMaturity {
			return &TxnValidationError{Msg: "coinbase utxo not yet mature"}
		}

		addr := wallet.AddressFromPubKey(in.UnlockPK)
		if addr != u.ToAddress {
			unlockErr := &TxUnlockError{Msg: "public key does not match utxo address"}
			return &TxnValidationError{Msg: unlockErr.Error()}
		}

		msg, err := wallet.BuildSpendMessage(*in.ToSpend, in.Sequence, in.UnlockPK, tx.TxOuts)
		if err != nil {
			return &TxnValidationError{Msg: err.Error()}
		}
		if err := wallet.VerifySignature(in.UnlockPK, in.UnlockSig, msg); err != nil {
			unlockErr := &TxUnlockError{Msg: err.Error()}
			return &TxnValidationError{Msg: unlockErr.Error()}
		}

		sumIn += u.Value
	}

	if sumIn < tx.SumOutputs() {
		return &TxnValidationError{Msg: "spend value more than available"}
	}
	return nil
}

// resolveUTXO looks up the output txin spends, first in the committed
// UTXO set, then — if allowMempoolUTXOs is set — among unconfirmed
// mempool outputs. If neither has it, the transaction is orphaned.
func resolveUTXO(in block.TxIn, allowMempoolUTXOs bool, utxoSet *utxo.Set, pool *mempool.Pool, tx *block.Transaction) (utxo.UTXO, error) {
	if in.ToSpend == nil {
		return utxo.UTXO{}, &TxnValidationError{Msg: "non-coinbase input missing to_spend"}
	}
	if u, ok := utxoSet.Get(*in.ToSpend); ok {
		return u, nil
	}
	if allowMempoolUTXOs {
		if out, ok := pool.FindUTXOInMempool(*in.ToSpend); ok {
			return utxo.UTXO{
				Value:      out.Value,
				ToAddress:  out.ToAddress,
				TxID:       in.ToSpend.TxID,
				TxIdx:      in.ToSpend.Index,
				IsCoinbase: false,
				Height:     -1,
			}, nil
		}
	}
	return utxo.UTXO{}, &TxnValidationError{Msg: fmt.Sprintf("unable to find utxo %s", in.ToSpend), Orphan: tx}
}

// ValidateBlockShape checks the parts of validate_block that don't
// require locating the block in the chain: non-empty txns, exactly one
// coinbase at index 0, future-timestamp bound, proof-of-work, and merkle
// root. The caller is responsible for the bits-matches-retarget and
// timestamp-vs-median-time-past checks, which need chain position.
func ValidateBlockShape(p chainparams.Params, b *block.Block, now time.Time) error {
	if len(b.Txns) == 0 {
		return &BlockValidationError{Msg: "block has no transactions"}
	}
	if b.Timestamp-now.Unix() > p.MaxFutureBlockTime {
		return &BlockValidationError{Msg: "block timestamp too far in the future"}
	}
	if !pow.MeetsTarget(b.IDAsInt(), b.Bits) {
		return &BlockValidationError{Msg: "block header hash does not meet target"}
	}

	coinbaseCount := 0
	for i, tx := range b.Txns {
		if tx.IsCoinbase() {
			coinbaseCount++
			if i != 0 {
				return &BlockValidationError{Msg: "coinbase transaction not at index 0"}
			}
		}
		if err := ValidateTxnStructural(p, &tx, tx.IsCoinbase()); err != nil {
			return &BlockValidationError{Msg: fmt.Sprintf("invalid transaction %d: %v", i, err)}
		}
	}
	if coinbaseCount != 1 {
		return &BlockValidationError{Msg: "block must have exactly one coinbase transaction"}
	}

	if got := b.ComputeMerkleHash(); got != b.MerkleHash {
		return &BlockValidationError{Msg: fmt.Sprintf("merkle hash invalid: expected %s got %s", b.MerkleHash, got)}
	}
	return nil
}

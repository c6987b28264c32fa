// Package utxo tracks the unspent-output set: the ledger state the chain
// manager mutates on every connect/disconnect. Map-plus-mutex shape is
// adapted from the teacher's pkg/utxo/utxo.go; the key scheme and fields
// follow the UnspentTxOut record in the data model instead of the
// teacher's flat balance-map design.
package utxo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gochain/tinychain/pkg/block"
)

// UTXO is an unspent transaction output record. Height is -1 for a
// mempool-origin output that has not yet been mined.
type UTXO struct {
	Value      uint64
	ToAddress  string
	TxID       string
	TxIdx      uint32
	IsCoinbase bool
	Height     int64
}

// OutPoint returns the OutPoint this UTXO occupies.
func (u UTXO) OutPoint() block.OutPoint {
	return block.OutPoint{TxID: u.TxID, Index: u.TxIdx}
}

// Set is the map from outpoint to unspent output, guarded by its own
// mutex. The chain manager takes Set's lock as part of its own
// chain-wide critical section; Set's methods do not themselves assume any
// outer lock is held.
type Set struct {
	mu   sync.RWMutex
	utxo map[string]UTXO
}

// New returns an empty UTXO set.
func New() *Set {
	return &Set{utxo: make(map[string]UTXO)}
}

// Put inserts or overwrites the UTXO at op.
func (s *Set) Put(op block.OutPoint, u UTXO) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxo[op.String()] = u
}

// Get returns the UTXO at op, if any.
func (s *Set) Get(op block.OutPoint) (UTXO, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.utxo[op.String()]
	return u, ok
}

// Delete removes the UTXO at op, if present.
func (s *Set) Delete(op block.OutPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.utxo, op.String())
}

// Balance returns the decimal sum of every UTXO value owned by address.
func (s *Set) Balance(address string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum uint64
	for _, u := range s.utxo {
		if u.ToAddress == address {
			sum += u.Value
		}
	}
	return sum
}

// ForAddress returns every UTXO owned by address, sorted by (value,
// height) ascending, the order §4.8's Send handler spends from.
func (s *Set) ForAddress(address string) []UTXO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UTXO
	for _, u := range s.utxo {
		if u.ToAddress == address {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value < out[j].Value
		}
		return out[i].Height < out[j].Height
	})
	return out
}

// Len returns the number of tracked UTXOs, used by the metrics surface.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.utxo)
}

// String renders the set for debug logging.
func (s *Set) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("UTXOSet{%d outputs}", len(s.utxo))
}

// Package merkle computes the pairwise merkle root over a block's
// transaction ids, grounded on tinychain.py's get_merkle_root: duplicate an
// odd leaf, hash every leaf once, then combine pairs with sha256d until one
// node remains.
package merkle

import (
	"fmt"

	"github.com/gochain/tinychain/pkg/codec"
)

// Root computes the merkle root over an ordered list of txids. It panics
// if ids is empty: a block always carries at least its coinbase, so an
// empty input means a caller bug, not a runtime condition to recover from.
func Root(ids []string) string {
	if len(ids) == 0 {
		panic("merkle: Root called with no transaction ids")
	}
	leaves := make([]string, len(ids))
	copy(leaves, ids)
	if len(leaves)%2 != 0 {
		leaves = append(leaves, leaves[len(leaves)-1])
	}

	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		level[i] = codec.SHA256D([]byte(l))
	}

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			combined := append(append([]byte{}, level[i]...), level[i+1]...)
			next[i/2] = codec.SHA256D(combined)
		}
		level = next
	}
	return fmt.Sprintf("%x", level[0])
}

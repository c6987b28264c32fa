package chain

import "github.com/gochain/tinychain/pkg/block"

// genesisAddress is the fixed payee of the genesis coinbase output, taken
// verbatim from the external interface's genesis literal.
const genesisAddress = "143UVyz7ooiAv1pMqbwPPpnH4BV9ifJGFF"

// genesisMerkleHash is the literal merkle hash baked into the genesis
// header; it is not recomputed, since the genesis block is a fixed
// constant rather than something mined or validated structurally.
const genesisMerkleHash = "dfef8eb972026bbe9e98b26616fe90e60e3ff223d0a596e78bde6632109d7ef0"

// Genesis returns the fixed genesis block every tinychain node starts
// from.
func Genesis() block.Block {
	return block.Block{
		Header: block.Header{
			Version:       0,
			PrevBlockHash: "",
			MerkleHash:    genesisMerkleHash,
			Timestamp:     1501396299,
			Bits:          26,
			Nonce:         1845989,
		},
		Txns: []block.Transaction{
			{
				TxIns: nil,
				TxOuts: []block.TxOut{
					{Value: 5_000_000_000, ToAddress: genesisAddress},
				},
				LockTime: 0,
			},
		},
	}
}

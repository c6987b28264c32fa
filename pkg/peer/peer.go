// Package peer implements the tagged-union message dispatcher described
// in tinychain.py's TCPHandler/GetBlocks/Inv/Balance/Send/GetMempool
// classes: one request per connection, a static peer list, and a closed
// set of message types each handled by its own function rather than open
// reflection-based dispatch. The plain net.Listen acceptor replaces the
// teacher's libp2p stack, which models a persistent structured overlay
// incompatible with this one-request-per-connection contract.
package peer

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/gochain/tinychain/pkg/block"
	"github.com/gochain/tinychain/pkg/chain"
	"github.com/gochain/tinychain/pkg/codec"
	"github.com/gochain/tinychain/pkg/metrics"
	"github.com/gochain/tinychain/pkg/wallet"
)

// Envelope type tags, the wire-level analog of tinychain's per-message
// NamedTuple classes.
const (
	typeTransaction = "transaction"
	typeBlock       = "block"
	typeGetBlocks   = "get_blocks"
	typeInv         = "inv"
	typeBalance     = "balance"
	typeSend        = "send"
	typeGetMempool  = "get_mempool"
)

// invChunkSize is the number of blocks one GetBlocks reply carries.
const invChunkSize = 50

// getBlocksPayload is the GetBlocks message body.
type getBlocksPayload struct {
	FromBlockID string `json:"from_blockid"`
}

// invPayload is the Inv message body. Payload is decoded into
// []block.Block or []block.Transaction depending on Kind — payload
// always carries full typed values, never bare txids/block-ids. This is
// the fix for the source bug where the 'tx' branch treated payload
// entries as objects with an `.id` while the wire actually carried
// serialized strings.
type invPayload struct {
	Kind    string          `json:"inv_type"`
	Payload json.RawMessage `json:"payload"`
}

// balancePayload is the Balance message body.
type balancePayload struct {
	Addr string `json:"addr"`
}

// sendPayload is the Send message body.
type sendPayload struct {
	Addr  string `json:"addr"`
	Value uint64 `json:"value"`
}

// Node owns the listening socket and dispatches inbound messages against
// a Chain. It also implements chain.Broadcaster, fanning connected
// blocks and accepted transactions out to every configured peer.
type Node struct {
	chain   *chain.Chain
	wallet  *wallet.Wallet
	peers   []string
	log     *zap.Logger
	address string // listen address, e.g. ":9999"
}

// New returns a Node bound to listenAddr, gossiping to peers, dispatching
// into c, and using w for the Send handler's signing key.
func New(c *chain.Chain, w *wallet.Wallet, listenAddr string, peers []string, log *zap.Logger) *Node {
	return &Node{chain: c, wallet: w, peers: peers, address: listenAddr, log: log}
}

// ParsePeerList splits a comma-separated "host:port,host:port" list, the
// environment-variable-style peer configuration §4.8 specifies.
func ParsePeerList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ListenAndServe accepts connections until the listener is closed or
// stop is closed. Each connection handles exactly one message and then
// closes, per §4.8.
func (n *Node) ListenAndServe(stop <-chan struct{}) error {
	ln, err := net.Listen("tcp", n.address)
	if err != nil {
		return fmt.Errorf("peer: listen: %w", err)
	}
	defer ln.Close()

	go func() {
		<-stop
		ln.Close()
	}()

	n.log.Info("listening", zap.String("addr", n.address))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return fmt.Errorf("peer: accept: %w", err)
			}
		}
		go n.handleConn(conn)
	}
}

func (n *Node) handleConn(conn net.Conn) {
	defer conn.Close()

	data, err := io.ReadAll(conn)
	if err != nil {
		n.log.Debug("failed to read from connection", zap.Error(err))
		return
	}

	env, err := codec.DecodeEnvelope(data)
	if err != nil {
		n.log.Debug("malformed message", zap.Error(err))
		return
	}

	if err := n.dispatch(conn, env); err != nil {
		n.log.Debug("message handler failed", zap.String("type", env.Type), zap.Error(err))
	}
}

func (n *Node) dispatch(conn net.Conn, env codec.Envelope) error {
	metrics.PeerMessages.WithLabelValues(env.Type).Inc()
	switch env.Type {
	case typeTransaction:
		var tx block.Transaction
		if err := codec.Unmarshal(env.Payload, &tx); err != nil {
			return err
		}
		return n.handleTransaction(tx)

	case typeBlock:
		var b block.Block
		if err := codec.Unmarshal(env.Payload, &b); err != nil {
			return err
		}
		return n.handleBlock(b)

	case typeGetBlocks:
		var p getBlocksPayload
		if err := codec.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		return n.handleGetBlocks(conn, p)

	case typeInv:
		var p invPayload
		if err := codec.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		return n.handleInv(p)

	case typeBalance:
		var p balancePayload
		if err := codec.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		return n.handleBalance(conn, p)

	case typeSend:
		var p sendPayload
		if err := codec.Unmarshal(env.Payload, &p); err != nil {
			return err
		}
		return n.handleSend(p)

	case typeGetMempool:
		return n.handleGetMempool(conn)

	default:
		return fmt.Errorf("peer: unknown message type %q", env.Type)
	}
}

// handleTransaction implements the Transaction handler: accept_txn.
func (n *Node) handleTransaction(tx block.Transaction) error {
	return n.chain.AcceptTxn(tx)
}

// handleBlock implements the Block handler: connect_block.
func (n *Node) handleBlock(b block.Block) error {
	return n.chain.ConnectBlock(b)
}

// handleGetBlocks implements GetBlocks: locate from_blockid in the
// active chain; if not found, start from height 1. Reply with
// Inv('block', active_chain[height:height+50]).
func (n *Node) handleGetBlocks(conn net.Conn, p getBlocksPayload) error {
	active := n.chain.ActiveChain()

	height := 1
	if _, h, chainIdx, found := n.chain.FindBlock(p.FromBlockID); found && chainIdx == 0 {
		height = h
		if height == 0 {
			height = 1
		}
	}

	end := height + invChunkSize
	if end > len(active) {
		end = len(active)
	}
	if height > len(active) {
		height = len(active)
	}

	return writeInv(conn, typeBlock, active[height:end])
}

// handleInv implements Inv: for blocks, connect every block unseen in
// any known chain, then request the next batch via GetBlocks(tip_id).
// For txs, insert every transaction whose txid isn't already in the
// mempool.
func (n *Node) handleInv(p invPayload) error {
	switch p.Kind {
	case typeBlock:
		var blocks []block.Block
		if err := codec.Unmarshal(p.Payload, &blocks); err != nil {
			return err
		}
		var sawNew bool
		for _, b := range blocks {
			if _, _, _, found := n.chain.FindBlock(b.ID()); found {
				continue
			}
			sawNew = true
			if err := n.chain.ConnectBlock(b); err != nil {
				n.log.Debug("inv block failed to connect", zap.Error(err))
			}
		}
		if sawNew {
			if tip, ok := n.chain.Tip(); ok {
				n.broadcastToAll(typeGetBlocks, getBlocksPayload{FromBlockID: tip.ID()})
			}
		}
		return nil

	case typeTransaction:
		var txns []block.Transaction
		if err := codec.Unmarshal(p.Payload, &txns); err != nil {
			return err
		}
		for _, tx := range txns {
			if n.chain.Mempool().Has(tx.ID()) {
				continue
			}
			n.chain.Mempool().Add(tx.ID(), tx)
		}
		return nil

	default:
		return fmt.Errorf("peer: unknown inv type %q", p.Kind)
	}
}

// handleBalance implements Balance: reply with the decimal sum of UTXO
// values owned by addr, written as plain text (not an envelope), the
// direct analog of tinychain's sock.sendall(str(sum).encode()).
func (n *Node) handleBalance(conn net.Conn, p balancePayload) error {
	balance := n.chain.UTXOSet().Balance(p.Addr)
	_, err := conn.Write([]byte(strconv.FormatUint(balance, 10)))
	return err
}

// handleSend implements Send: greedily select owned UTXOs by (value,
// height) until the selected total exceeds value, build a transaction
// paying addr, sign each input, and submit via accept_txn. Any
// remainder over `value` is implicit fee — adding a change output back
// to the sender is explicitly out of scope.
func (n *Node) handleSend(p sendPayload) error {
	coins := n.chain.UTXOSet().ForAddress(n.wallet.Address())

	var selected []block.OutPoint
	var total uint64
	for _, u := range coins {
		selected = append(selected, u.OutPoint())
		total += u.Value
		if total > p.Value {
			break
		}
	}

	txout := block.TxOut{Value: p.Value, ToAddress: p.Addr}
	pubKey := n.wallet.PublicKeyBytes()

	var txins []block.TxIn
	for _, op := range selected {
		op := op
		msg, err := wallet.BuildSpendMessage(op, 0, pubKey, []block.TxOut{txout})
		if err != nil {
			return err
		}
		sig, err := n.wallet.Sign(msg)
		if err != nil {
			return err
		}
		txins = append(txins, block.TxIn{
			ToSpend:   &op,
			UnlockPK:  pubKey,
			UnlockSig: sig,
			Sequence:  0,
		})
	}

	tx := block.Transaction{TxIns: txins, TxOuts: []block.TxOut{txout}}
	n.log.Info("submitting transaction to network", zap.String("txid", tx.ID()))
	return n.chain.AcceptTxn(tx)
}

// handleGetMempool implements GetMempool: reply with the serialized list
// of mempool txids.
func (n *Node) handleGetMempool(conn net.Conn) error {
	buf, err := codec.Marshal(n.chain.Mempool().Ids())
	if err != nil {
		return err
	}
	_, err = conn.Write(buf)
	return err
}

// BroadcastBlock implements chain.Broadcaster: gossip a connected block
// to every configured peer.
func (n *Node) BroadcastBlock(b block.Block) {
	n.broadcastToAll(typeBlock, b)
}

// BroadcastTxn implements chain.Broadcaster: gossip an accepted
// transaction to every configured peer.
func (n *Node) BroadcastTxn(tx block.Transaction) {
	n.broadcastToAll(typeTransaction, tx)
}

func (n *Node) broadcastToAll(typeName string, payload any) {
	for _, p := range n.peers {
		if err := sendToPeer(p, typeName, payload); err != nil {
			n.log.Debug("failed to send to peer", zap.String("peer", p), zap.Error(err))
		}
	}
}

// sendToPeer opens a fresh connection to peerAddr, writes one encoded
// message, and closes — "outbound sends create a fresh connection per
// message," per §4.8.
func sendToPeer(peerAddr, typeName string, payload any) error {
	buf, err := codec.Encode(typeName, payload)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", peerAddr)
	if err != nil {
		return fmt.Errorf("peer: dial %s: %w", peerAddr, err)
	}
	defer conn.Close()
	_, err = conn.Write(buf)
	return err
}

// writeInv writes an Inv('block', payload) (or 'transaction') reply directly on
// conn, the reply channel §4.8 describes for GetBlocks requests.
func writeInv(conn net.Conn, kind string, payload any) error {
	rawPayload, err := codec.Marshal(payload)
	if err != nil {
		return err
	}
	buf, err := codec.Marshal(invPayload{Kind: kind, Payload: rawPayload})
	if err != nil {
		return err
	}
	env, err := codec.Marshal(codec.Envelope{Type: typeInv, Payload: buf})
	if err != nil {
		return err
	}
	_, err = conn.Write(env)
	return err
}

// Command tinychain runs a node: a chain manager, a miner, and a peer
// listener, wired together the way the teacher's cmd/gochain/main.go
// wires its chain/miner/net/monitoring stack, but trimmed to this
// system's one long-running "serve" command plus thin client
// subcommands (balance, send) that dial a running node's peer port
// instead of touching chain state directly, and "address", which reads
// (or creates) the local wallet key file and prints its address.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gochain/tinychain/pkg/chain"
	"github.com/gochain/tinychain/pkg/chainparams"
	"github.com/gochain/tinychain/pkg/codec"
	"github.com/gochain/tinychain/pkg/logger"
	"github.com/gochain/tinychain/pkg/metrics"
	"github.com/gochain/tinychain/pkg/miner"
	"github.com/gochain/tinychain/pkg/peer"
	"github.com/gochain/tinychain/pkg/wallet"
)

var (
	configFile  string
	walletFile  string
	listenAddr  string
	peerList    string
	metricsAddr string
	mining      bool
	logLevel    string
	logJSON     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tinychain",
		Short: "tinychain - a small proof-of-work blockchain node",
		Long: `tinychain runs a single node of a small Bitcoin-like network:
proof-of-work consensus, a UTXO ledger, chain reorganization, a
transaction mempool, and gossip over plain TCP.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./tinychain.yaml)")
	rootCmd.PersistentFlags().StringVar(&walletFile, "wallet-file", "wallet.key", "path to the node's private key file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON-formatted logs")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(addressCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(sendCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("tinychain")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("tinychain")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a tinychain node: chain manager, peer listener, and optional miner",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":9999", "address to accept peer connections on")
	cmd.Flags().StringVar(&peerList, "peers", "", "comma-separated list of peer host:port addresses to gossip to")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", ":9100", "address to serve /metrics on")
	cmd.Flags().BoolVar(&mining, "mine", false, "mine blocks in the background")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v := viper.GetString("listen"); v != "" {
		listenAddr = v
	}
	if v := viper.GetString("peers"); v != "" {
		peerList = v
	}
	if v := viper.GetString("metrics_listen"); v != "" {
		metricsAddr = v
	}
	if viper.GetBool("mine") {
		mining = true
	}

	log, err := logger.New(logger.Config{Level: logLevel, JSON: logJSON})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // best-effort flush on shutdown

	w, err := wallet.Load(walletFile, log)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	log.Info("node wallet loaded", zap.String("address", w.Address()))

	c := chain.New(chainparams.Default(), log)
	if c.Height() == 0 {
		if err := c.ConnectGenesis(chain.Genesis()); err != nil {
			return fmt.Errorf("connect genesis: %w", err)
		}
		log.Info("connected genesis block")
	}

	peers := peer.ParsePeerList(peerList)
	node := peer.New(c, w, listenAddr, peers, log)
	c.SetBroadcaster(node)

	stopPeer := make(chan struct{})
	peerErrCh := make(chan error, 1)
	go func() {
		peerErrCh <- node.ListenAndServe(stopPeer)
	}()

	var m *miner.Miner
	if mining {
		m = miner.New(c, w.Address(), log)
		m.Start()
		log.Info("mining started", zap.String("reward_address", w.Address()))
	}

	stopMetrics := startMetricsServer(metricsAddr, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-peerErrCh:
		if err != nil {
			log.Error("peer listener stopped", zap.Error(err))
		}
	}

	if m != nil {
		m.Stop()
	}
	close(stopPeer)
	stopMetrics()
	return nil
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "print this node's wallet address, generating a key if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.Load(walletFile, logger.NewNop())
			if err != nil {
				return err
			}
			fmt.Println(w.Address())
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	var peerAddr, address string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "query a running node for an address's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := requestReply(peerAddr, "balance", map[string]string{"addr": address})
			if err != nil {
				return err
			}
			fmt.Println(string(reply))
			return nil
		},
	}
	cmd.Flags().StringVar(&peerAddr, "node", "localhost:9999", "node peer address to query")
	cmd.Flags().StringVar(&address, "address", "", "address to check the balance of")
	cmd.MarkFlagRequired("address")
	return cmd
}

func sendCmd() *cobra.Command {
	var peerAddr, address string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "send",
		Short: "ask a running node to send amount to address from its own wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"addr": address, "value": amount}
			buf, err := codec.Encode("send", payload)
			if err != nil {
				return err
			}
			conn, err := net.Dial("tcp", peerAddr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", peerAddr, err)
			}
			defer conn.Close()
			_, err = conn.Write(buf)
			return err
		},
	}
	cmd.Flags().StringVar(&peerAddr, "node", "localhost:9999", "node peer address to submit to")
	cmd.Flags().StringVar(&address, "address", "", "recipient address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to send, in belushis")
	cmd.MarkFlagRequired("address")
	cmd.MarkFlagRequired("amount")
	return cmd
}

// requestReply dials peerAddr, sends one encoded message, and reads the
// plain-text or JSON reply written back on the same connection (the
// Balance/GetMempool reply convention, §4.8).
func requestReply(peerAddr, typeName string, payload any) ([]byte, error) {
	buf, err := codec.Encode(typeName, payload)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", peerAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peerAddr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(buf); err != nil {
		return nil, err
	}
	conn.(*net.TCPConn).CloseWrite()
	return io.ReadAll(conn)
}

// startMetricsServer serves Prometheus metrics on addr and returns a
// function that shuts it down.
func startMetricsServer(addr string, log *zap.Logger) func() {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &nethttp.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

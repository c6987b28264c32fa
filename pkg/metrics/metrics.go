// Package metrics declares the Prometheus collectors tinychain exports,
// grounded on arejula27-p2pool-go's internal/metrics/metrics.go: package
// level gauges/counters registered once in init(), plus a Handler for
// wiring into an HTTP mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinychain",
		Name:      "chain_height",
		Help:      "Length of the active chain.",
	})

	SideBranches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinychain",
		Name:      "side_branches",
		Help:      "Number of tracked side branches.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinychain",
		Name:      "mempool_size",
		Help:      "Number of transactions currently in the mempool.",
	})

	UTXOSetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinychain",
		Name:      "utxo_set_size",
		Help:      "Number of tracked unspent outputs.",
	})

	BlocksConnected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tinychain",
		Name:      "blocks_connected_total",
		Help:      "Total blocks successfully connected to any chain.",
	})

	BlocksMined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tinychain",
		Name:      "blocks_mined_total",
		Help:      "Total blocks mined locally.",
	})

	Reorgs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tinychain",
		Name:      "reorgs_total",
		Help:      "Total successful chain reorganizations.",
	})

	PeerMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinychain",
		Name:      "peer_messages_total",
		Help:      "Peer protocol messages handled, by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		SideBranches,
		MempoolSize,
		UTXOSetSize,
		BlocksConnected,
		BlocksMined,
		Reorgs,
		PeerMessages,
	)
}

// Handler returns the HTTP handler serving /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

package kv

import "github.com/prometheus/client_golang/prometheus"

// TxConflicts counts transactions that had to be re-run because a watched
// key or locked range changed before commit.
var TxConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "habit_kv_tx_conflicts_total",
		Help: "Total number of kv transactions re-run after a write conflict",
	},
	[]string{"backend"},
)

// TxCommits counts committed transactions that wrote at least one key.
var TxCommits = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "habit_kv_tx_commits_total",
		Help: "Total number of committed kv transactions",
	},
	[]string{"backend"},
)

// RegisterMetrics registers kv collectors with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TxConflicts)
	reg.MustRegister(TxCommits)
}

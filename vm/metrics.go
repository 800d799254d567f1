package vm

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ledger/types"
)

var (
	// 按最终状态统计的交易数
	prometheusVMTransactions *prometheus.CounterVec
	// 每笔（未丢弃）交易的 gas 消耗
	prometheusVMGasUsed prometheus.Histogram
	// 区块执行耗时
	prometheusVMBlockDuration prometheus.Histogram
	// 并行执行中需要重新执行的交易数
	prometheusVMParallelReexecutions prometheus.Counter
	// 因内部不变量被破坏而失败的区块数
	prometheusVMInvariantViolations prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

// initPrometheusMetrics 只注册一次，重复注册会 panic
func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusVMTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "vm",
			Name:      "transactions_total",
			Help:      "Executed transactions by final status",
		},
		[]string{"status"},
	)

	prometheusVMGasUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "vm",
			Name:      "gas_used",
			Help:      "Gas consumed per non-discarded transaction",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
		},
	)

	prometheusVMBlockDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "vm",
			Name:      "block_duration_seconds",
			Help:      "Time spent executing one block",
			Buckets:   prometheus.DefBuckets,
		},
	)

	prometheusVMParallelReexecutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "vm",
			Name:      "parallel_reexecutions_total",
			Help:      "Speculative results discarded because of read/write conflicts",
		},
	)

	prometheusVMInvariantViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "vm",
			Name:      "invariant_violations_total",
			Help:      "Blocks aborted by an internal invariant violation",
		},
	)
}

func observeOutput(out *types.TransactionOutput) {
	prometheusVMTransactions.WithLabelValues(out.Status.Code.String()).Inc()
	if !out.Status.IsDiscarded() {
		prometheusVMGasUsed.Observe(float64(out.GasUsed))
	}
}

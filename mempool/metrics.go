package mempool

import (
	"github.com/rcrowley/go-metrics"
)

const metricsPrefix = "mempool."

// Metrics 记录交易池的状态
type Metrics struct {
	// 交易池中的交易数
	Size metrics.Gauge
	// 交易池中所有交易的总字节数
	TxsBytes metrics.Gauge
	// 没有通过检查的交易数
	FailedTxs metrics.Counter
	// 重新检查后被移出交易池的交易数
	EvictedTxs metrics.Counter
}

// NewMetrics 在给定的 registry 中注册所有指标
func NewMetrics(r metrics.Registry) *Metrics {
	return &Metrics{
		Size:       metrics.NewRegisteredGauge(metricsPrefix+"size", r),
		TxsBytes:   metrics.NewRegisteredGauge(metricsPrefix+"txs_bytes", r),
		FailedTxs:  metrics.NewRegisteredCounter(metricsPrefix+"failed_txs", r),
		EvictedTxs: metrics.NewRegisteredCounter(metricsPrefix+"evicted_txs", r),
	}
}

// NopMetrics 返回不做任何记录的 Metrics
func NopMetrics() *Metrics {
	return &Metrics{
		Size:       metrics.NilGauge{},
		TxsBytes:   metrics.NilGauge{},
		FailedTxs:  metrics.NilCounter{},
		EvictedTxs: metrics.NilCounter{},
	}
}

package extension

import (
	"github.com/rcrowley/go-metrics"
)

const metricsPrefix = "check_app_id."

// PhaseMetrics 记录某一个阶段（交易池准入或者区块打包）的检查结果
type PhaseMetrics struct {
	// 通过检查的交易数
	Accepted metrics.Counter
	// 按错误码分类的被拒绝交易数
	Rejected map[InvalidTxCode]metrics.Counter
}

func newPhaseMetrics(prefix string, r metrics.Registry) PhaseMetrics {
	pm := PhaseMetrics{
		Accepted: metrics.NewRegisteredCounter(prefix+"accepted", r),
		Rejected: make(map[InvalidTxCode]metrics.Counter, len(codeNames)),
	}
	for code, name := range codeNames {
		pm.Rejected[code] = metrics.NewRegisteredCounter(prefix+"rejected."+name, r)
	}
	return pm
}

func nopPhaseMetrics() PhaseMetrics {
	pm := PhaseMetrics{
		Accepted: metrics.NilCounter{},
		Rejected: make(map[InvalidTxCode]metrics.Counter, len(codeNames)),
	}
	for code := range codeNames {
		pm.Rejected[code] = metrics.NilCounter{}
	}
	return pm
}

func (pm PhaseMetrics) observe(err error) {
	if err == nil {
		pm.Accepted.Inc(1)
		return
	}
	if code, ok := CodeOf(err); ok {
		if c, ok := pm.Rejected[code]; ok {
			c.Inc(1)
		}
	}
}

// Metrics 记录 CheckAppId 的检查结果，交易池准入（Validate）和区块打包（DoValidate、PreDispatch）分开计数，
// 一笔被打包的交易在两个阶段各被计一次
type Metrics struct {
	Pool  PhaseMetrics
	Block PhaseMetrics
	// 正在构建的区块已经占用的 scalar 个数，区块结束构建后归零
	ScalarsUsed metrics.Gauge
}

// NewMetrics 在给定的 registry 中注册所有指标：
//	check_app_id.pool.accepted, check_app_id.pool.rejected.<code>
//	check_app_id.block.accepted, check_app_id.block.rejected.<code>
//	check_app_id.scalars_used
func NewMetrics(r metrics.Registry) *Metrics {
	return &Metrics{
		Pool:        newPhaseMetrics(metricsPrefix+"pool.", r),
		Block:       newPhaseMetrics(metricsPrefix+"block.", r),
		ScalarsUsed: metrics.NewRegisteredGauge(metricsPrefix+"scalars_used", r),
	}
}

// NopMetrics 返回不做任何记录的 Metrics
func NopMetrics() *Metrics {
	return &Metrics{
		Pool:        nopPhaseMetrics(),
		Block:       nopPhaseMetrics(),
		ScalarsUsed: metrics.NilGauge{},
	}
}

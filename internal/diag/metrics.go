package diag

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 为进程内指标注册表；与 prometheus 默认注册表隔离，便于测试。
var Registry = prometheus.NewRegistry()

var (
	opTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "luarename_op_total",
		Help: "按组件/阶段/结果统计的操作次数。",
	}, []string{"comp", "stage", "result"})

	errorTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "luarename_error_total",
		Help: "按组件/错误分类统计的错误次数。",
	}, []string{"comp", "code"})

	opDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luarename_op_duration_ms",
		Help:    "阶段耗时（毫秒）。",
		Buckets: []float64{5, 25, 100, 250, 1000, 2500, 5000, 15000, 30000, 60000},
	}, []string{"comp", "stage"})

	identifiersTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "luarename_identifiers_total",
		Help: "已定名的标识符数量，source=model|fallback。",
	}, []string{"source"})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// IncIdentifiers 累加定名数量。
func IncIdentifiers(source string, n int) {
	if n <= 0 {
		return
	}
	identifiersTotal.WithLabelValues(source).Add(float64(n))
}

// MetricsHandler 暴露 /metrics。
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

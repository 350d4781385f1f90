// Package metrics 生命体征监测服务的 Prometheus 指标
//
// 所有指标注册到默认 registry，由 /metrics 端点暴露。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReadingsProcessedTotal 已处理读数（按严重程度）
	ReadingsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_readings_processed_total",
			Help: "Total vitals readings evaluated and persisted, by severity.",
		},
		[]string{"severity"},
	)

	// ReadingErrorsTotal 单条读数处理失败（按阶段：decode, resolve, store, ack）
	ReadingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_reading_errors_total",
			Help: "Total per-reading processing errors, by stage.",
		},
		[]string{"stage"},
	)

	// AlertsTotal 报警派发结果
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_alerts_total",
			Help: "Total alert dispatch outcomes.",
		},
		[]string{"outcome"},
	)

	// DispatchErrorsTotal 通知渠道投递失败
	DispatchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_dispatch_errors_total",
			Help: "Total notification channel failures, by channel.",
		},
		[]string{"channel"},
	)

	// SessionTerminationsTotal 会话结束原因（stopped, ended, lost, liveness）
	SessionTerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_session_terminations_total",
			Help: "Total monitoring session terminations, by reason.",
		},
		[]string{"reason"},
	)

	// ProcessingDurationSeconds 单条读数从接收到持久化/派发完成的耗时
	ProcessingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitals_processing_duration_seconds",
			Help:    "Duration of per-reading processing in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// ActiveSessions 当前运行中的监测会话数
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitals_active_sessions",
			Help: "Number of monitoring sessions currently running.",
		},
	)

	// PatternReportsTotal 定时模式分析结果（generated, empty, error）
	PatternReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_pattern_reports_total",
			Help: "Total scheduled pattern analyses, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		ReadingsProcessedTotal,
		ReadingErrorsTotal,
		AlertsTotal,
		DispatchErrorsTotal,
		SessionTerminationsTotal,
		ProcessingDurationSeconds,
		ActiveSessions,
		PatternReportsTotal,
	)
}

// RecordReading 记录一条已处理读数
func RecordReading(severity string, duration time.Duration) {
	ReadingsProcessedTotal.WithLabelValues(severity).Inc()
	ProcessingDurationSeconds.Observe(duration.Seconds())
}

// RecordReadingError 记录单条读数处理失败
func RecordReadingError(stage string) {
	ReadingErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordAlert 记录报警派发结果
func RecordAlert(outcome string) {
	AlertsTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatchError 记录通知渠道失败
func RecordDispatchError(channel string) {
	DispatchErrorsTotal.WithLabelValues(channel).Inc()
}

// SessionStarted 会话开始
func SessionStarted() {
	ActiveSessions.Inc()
}

// SessionEnded 会话结束
func SessionEnded(reason string) {
	ActiveSessions.Dec()
	SessionTerminationsTotal.WithLabelValues(reason).Inc()
}

// RecordPatternReport 记录定时模式分析结果
func RecordPatternReport(result string) {
	PatternReportsTotal.WithLabelValues(result).Inc()
}

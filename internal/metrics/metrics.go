// Package metrics はカメラ監視のPrometheusメトリクスを提供する
//
// グローバルなデフォルトレジストリは使わず、Metricsごとに専用のレジストリを持つ。
// /metrics エンドポイントはRegistryをそのまま公開する
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"camsitter/internal/camera"
)

const namespace = "camsitter"

// Metrics は監視ループが更新するコレクタの集合
type Metrics struct {
	Registry *prometheus.Registry

	ProcessSpawns   *prometheus.CounterVec
	ForcedKills     *prometheus.CounterVec
	HotplugRebinds  *prometheus.CounterVec
	CameraErrors    *prometheus.CounterVec
	DiagnosticLines *prometheus.CounterVec
	CameraUp        *prometheus.GaugeVec
	TickDuration    prometheus.Histogram
}

// New は専用レジストリにコレクタを登録したMetricsを作成する
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ProcessSpawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_spawns_total",
				Help:      "Total number of streaming process spawns by reason",
			},
			[]string{"camera", "reason"},
		),

		ForcedKills: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forced_kills_total",
				Help:      "Total number of terminations that escalated to SIGKILL",
			},
			[]string{"camera"},
		),

		HotplugRebinds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hotplug_rebinds_total",
				Help:      "Total number of rebinds to a new device number after hotplug",
			},
			[]string{"camera"},
		),

		CameraErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "camera_errors_total",
				Help:      "Total number of errors isolated by the per-camera boundary",
			},
			[]string{"camera"},
		),

		DiagnosticLines: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostic_lines_total",
				Help:      "Total number of diagnostic lines relayed from child processes",
			},
			[]string{"camera"},
		),

		CameraUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "camera_up",
				Help:      "Whether the camera has a running streaming process (1) or not (0)",
			},
			[]string{"camera"},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of one supervision pass over all cameras",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
			},
		),
	}
}

// ProcessSpawned はプロセス起動を記録する
func (m *Metrics) ProcessSpawned(cameraName, reason string) {
	m.ProcessSpawns.WithLabelValues(cameraName, reason).Inc()
}

// ProcessForceKilled はSIGKILLへの切り替えを記録する
func (m *Metrics) ProcessForceKilled(cameraName string) {
	m.ForcedKills.WithLabelValues(cameraName).Inc()
}

// DeviceRebound は再バインドを記録する
func (m *Metrics) DeviceRebound(cameraName string, _, _ int) {
	m.HotplugRebinds.WithLabelValues(cameraName).Inc()
}

// CameraError はカメラ単位で隔離したエラーを記録する
func (m *Metrics) CameraError(cameraName string) {
	m.CameraErrors.WithLabelValues(cameraName).Inc()
}

// DiagnosticRelayed は中継した診断出力の行数を記録する
func (m *Metrics) DiagnosticRelayed(cameraName string, lines int) {
	if lines > 0 {
		m.DiagnosticLines.WithLabelValues(cameraName).Add(float64(lines))
	}
}

// ObserveCamera はカメラの状態をゲージに反映する
func (m *Metrics) ObserveCamera(cameraName string, state camera.State) {
	up := 0.0
	if state == camera.StateRunning {
		up = 1
	}
	m.CameraUp.WithLabelValues(cameraName).Set(up)
}

// ObserveTick は1回の監視にかかった時間を記録する
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

var _ camera.Observer = (*Metrics)(nil)

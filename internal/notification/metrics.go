package notification

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics は通知サービスのPrometheus指標。
// nilのMetricsに対する記録は何もしない。
type Metrics struct {
	registry *prometheus.Registry

	// Created は種類ごとの作成済み通知数。
	Created *prometheus.CounterVec
	// Evicted は上限超過で捨てた通知数。
	Evicted prometheus.Counter
	// Pushed はイベント名ごとの送信数。
	Pushed *prometheus.CounterVec
	// Dropped は送信バッファが一杯で捨てたメッセージ数。
	Dropped prometheus.Counter
	// Connections は現在のWebSocket接続数。
	Connections prometheus.Gauge
	// Rejected は通知先を解決できず拒否したイベント数。
	Rejected *prometheus.CounterVec
}

// NewMetrics は専用のレジストリに登録済みのMetricsを生成する。
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Total notifications created",
		}, []string{"type"}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "evicted_total",
			Help:      "Total notifications evicted by the per-user history limit",
		}),
		Pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "pushed_total",
			Help:      "Total messages queued to connections",
		}, []string{"event"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "dropped_total",
			Help:      "Total messages dropped because a connection was slow or gone",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "connections",
			Help:      "Number of live websocket connections",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: "notification",
			Name:      "rejected_events_total",
			Help:      "Total domain events rejected before any notification was stored",
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.Created, m.Evicted, m.Pushed, m.Dropped, m.Connections, m.Rejected)
	return m
}

// Handler は /metrics 用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) created(k Kind) {
	if m != nil {
		m.Created.WithLabelValues(string(k)).Inc()
	}
}

func (m *Metrics) evicted(n int) {
	if m != nil && n > 0 {
		m.Evicted.Add(float64(n))
	}
}

func (m *Metrics) pushed(event string) {
	if m != nil {
		m.Pushed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) connected() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) disconnected() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) rejected(eventType string) {
	if m != nil {
		m.Rejected.WithLabelValues(eventType).Inc()
	}
}

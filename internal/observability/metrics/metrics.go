// Package metrics exposes Prometheus collectors for the HTTP surface, the
// chat pipeline, the task workers and the message bus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskpilot"

// Metrics 汇总全部 collector。nil *Metrics 上的所有方法都是空操作。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	chatRequests *prometheus.CounterVec
	chatDuration *prometheus.HistogramVec
	chatDegraded *prometheus.CounterVec

	taskOutcomes *prometheus.CounterVec
}

// New 在独立的 registry 上注册 collector，测试之间互不干扰。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat messages handled, by intent and mode.",
		}, []string{"intent", "mode"}),
		chatDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_duration_seconds",
			Help:      "End to end chat pipeline latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"intent"}),
		chatDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_degraded_total",
			Help:      "Chat responses that carried at least one warning.",
		}, []string{"intent"}),
		taskOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Asynchronous chat jobs by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if handler == "" {
		handler = "unmatched"
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveChat records one finished chat pipeline run.
func (m *Metrics) ObserveChat(intent, mode string, latency time.Duration, warnings int) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(intent, mode).Inc()
	m.chatDuration.WithLabelValues(intent).Observe(latency.Seconds())
	if warnings > 0 {
		m.chatDegraded.WithLabelValues(intent).Inc()
	}
}

// ObserveTask records the outcome of one job attempt: succeeded, retried or
// failed.
func (m *Metrics) ObserveTask(outcome string) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(outcome).Inc()
}

// BusCounters 返回总线累计发送与丢弃的消息数。
type BusCounters func() (sent, dropped uint64)

// RegisterBus exports the bus counters, which are read at scrape time.
func (m *Metrics) RegisterBus(counters BusCounters) {
	if m == nil || counters == nil {
		return
	}
	factory := promauto.With(m.registry)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_messages_sent_total",
		Help:      "Messages delivered by the in-process bus.",
	}, func() float64 {
		sent, _ := counters()
		return float64(sent)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_messages_dropped_total",
		Help:      "Messages addressed to agents that were not registered.",
	}, func() float64 {
		_, dropped := counters()
		return float64(dropped)
	})
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paybridge"

// Metrics собирает счётчики моста. Нулевой указатель допустим: все методы становятся no-op.
type Metrics struct {
	registry *prometheus.Registry

	frames     *prometheus.CounterVec
	bytesRead  prometheus.Counter
	operations *prometheus.CounterVec
	backend    *prometheus.CounterVec
}

// New создаёт счётчики на отдельном реестре
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_frames_total",
				Help:      "Terminal frames by outcome (delivered, dropped, malformed, transport_error).",
			},
			[]string{"result"},
		),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_bytes_read_total",
			Help:      "Bytes read from the terminal link.",
		}),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Completed payment operations by operation, method and outcome.",
			},
			[]string{"operation", "method", "outcome"},
		),
		backend: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Backend requests by endpoint and HTTP status (0 for transport failures).",
			},
			[]string{"endpoint", "status"},
		),
	}
	m.registry.MustRegister(m.frames, m.bytesRead, m.operations, m.backend)
	return m
}

// Handler отдаёт метрики в формате prometheus
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry возвращает реестр счётчиков
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) BytesRead(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

func (m *Metrics) Operation(operation, method, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, method, outcome).Inc()
}

func (m *Metrics) BackendRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.backend.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// FrameCounter, OperationCounter и BackendCounter открыты для тестов
func (m *Metrics) FrameCounter(result string) prometheus.Counter {
	return m.frames.WithLabelValues(result)
}

func (m *Metrics) OperationCounter(operation, method, outcome string) prometheus.Counter {
	return m.operations.WithLabelValues(operation, method, outcome)
}

func (m *Metrics) BackendCounter(endpoint string, status int) prometheus.Counter {
	return m.backend.WithLabelValues(endpoint, strconv.Itoa(status))
}

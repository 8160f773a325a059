package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements hub.Observer on top of Prometheus collectors.
type Metrics struct {
	Connections      prometheus.Gauge
	AuthedConns      prometheus.Gauge
	Events           *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	Deliveries       prometheus.Counter
	DeliveryFailures *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the realtime collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Active websocket connections",
		}),
		AuthedConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_authenticated_connections",
			Help: "Active websocket connections with a bound user",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Decoded inbound events by type",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Inbound events dropped before routing",
		}, []string{"reason"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Payloads queued to target connections",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_delivery_failures_total",
			Help: "Payloads that could not be queued to a target connection",
		}, []string{"reason"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Connections, m.AuthedConns, m.Events, m.Dropped, m.Deliveries, m.DeliveryFailures)
	return m
}

// Handler serves the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() { m.Connections.Inc() }

func (m *Metrics) ConnectionClosed(authenticated bool) {
	m.Connections.Dec()
	if authenticated {
		m.AuthedConns.Dec()
	}
}

func (m *Metrics) Authenticated() { m.AuthedConns.Inc() }

func (m *Metrics) EventReceived(eventType string) { m.Events.WithLabelValues(eventType).Inc() }
func (m *Metrics) EventDropped(reason string)     { m.Dropped.WithLabelValues(reason).Inc() }
func (m *Metrics) Delivered(n int)                { m.Deliveries.Add(float64(n)) }
func (m *Metrics) DeliveryFailed(reason string)   { m.DeliveryFailures.WithLabelValues(reason).Inc() }

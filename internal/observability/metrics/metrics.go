package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters/histograms for the clinic queue engine.
type QueueMetrics struct {
	operationsTotal    *prometheus.CounterVec
	operationLatency   *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec
	staleBoundaryTotal prometheus.Counter
	resetClinicsTotal  prometheus.Counter
	displayClients     prometheus.Gauge
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue engine operations by outcome",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "queue",
			Name:      "operation_latency_seconds",
			Help:      "Latency of queue engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "queue",
			Name:      "notifications_total",
			Help:      "Patient notifications dispatched after queue changes",
		}, []string{"kind", "status"}),
		staleBoundaryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "queue",
			Name:      "stale_boundary_total",
			Help:      "Reads that fell back to start of day because the daily reset was missed",
		}),
		resetClinicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "queue",
			Name:      "reset_clinics_total",
			Help:      "Clinic queue states reset by the daily reset",
		}),
		displayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medspa",
			Subsystem: "queue",
			Name:      "display_clients",
			Help:      "Connected queue display websockets",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.operationsTotal,
		m.operationLatency,
		m.notificationsTotal,
		m.staleBoundaryTotal,
		m.resetClinicsTotal,
		m.displayClients,
	)
	return m
}

func (m *QueueMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *QueueMetrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(kind, status).Inc()
}

func (m *QueueMetrics) ObserveStaleBoundary() {
	if m == nil {
		return
	}
	m.staleBoundaryTotal.Inc()
}

func (m *QueueMetrics) ObserveReset(clinics int) {
	if m == nil {
		return
	}
	m.resetClinicsTotal.Add(float64(clinics))
}

func (m *QueueMetrics) DisplayConnected() {
	if m == nil {
		return
	}
	m.displayClients.Inc()
}

func (m *QueueMetrics) DisplayDisconnected() {
	if m == nil {
		return
	}
	m.displayClients.Dec()
}

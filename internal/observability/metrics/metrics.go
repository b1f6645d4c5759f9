package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics exposes counters/histograms for webhook reconciliation,
// cancellations and the stuck-event reconciler.
type PaymentMetrics struct {
	webhookTotal     *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
	cancellations    *prometheus.CounterVec
	refunds          *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	reconcileRedrive *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkclean",
			Subsystem: "payments",
			Name:      "webhook_total",
			Help:      "Total inbound Stripe webhooks by outcome",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sparkclean",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Stripe webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkclean",
			Subsystem: "bookings",
			Name:      "cancellations_total",
			Help:      "Booking cancellations by result",
		}, []string{"result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkclean",
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Refund attempts by status",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkclean",
			Subsystem: "notify",
			Name:      "booking_emails_total",
			Help:      "Booking notification emails by template and result",
		}, []string{"template", "result"}),
		reconcileRedrive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sparkclean",
			Subsystem: "reconcile",
			Name:      "redriven_total",
			Help:      "Stuck webhook events re-driven by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.cancellations, m.refunds, m.notifications, m.reconcileRedrive)
	return m
}

func (m *PaymentMetrics) ObserveWebhook(eventType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, outcome).Inc()
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *PaymentMetrics) ObserveCancellation(result string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(result).Inc()
}

func (m *PaymentMetrics) ObserveRefund(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}

func (m *PaymentMetrics) ObserveNotification(template string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(template, result).Inc()
}

func (m *PaymentMetrics) ObserveRedrive(outcome string) {
	if m == nil {
		return
	}
	m.reconcileRedrive.WithLabelValues(outcome).Inc()
}

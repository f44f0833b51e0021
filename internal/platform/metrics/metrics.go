package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine. One struct so wiring
// stays explicit and tests can construct an isolated registry.
type Metrics struct {
	DonationsCreated  prometheus.Counter
	LimitRejections   prometheus.Counter
	TransitionsTotal  *prometheus.CounterVec
	WebhooksIngested  prometheus.Counter
	WebhooksDuplicate prometheus.Counter
	WebhooksRejected  *prometheus.CounterVec
	RefundsRequested  prometheus.Counter
	ReconcileItems    *prometheus.CounterVec
	AuditOutboxLag    prometheus.Gauge
	RequestLatency    *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers metrics on a caller-supplied registerer; tests pass a
// fresh registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DonationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tally_donations_created_total",
			Help: "Donations accepted into the ledger in pending state.",
		}),
		LimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "tally_limit_rejections_total",
			Help: "Donation requests rejected by the contribution limit pre-check.",
		}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_ledger_transitions_total",
			Help: "Ledger transitions applied, labelled by event.",
		}, []string{"event"}),
		WebhooksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tally_webhooks_ingested_total",
			Help: "Webhook events applied to the ledger exactly once.",
		}),
		WebhooksDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "tally_webhooks_duplicate_total",
			Help: "Webhook redeliveries acknowledged without reapplying.",
		}),
		WebhooksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_webhooks_rejected_total",
			Help: "Webhook events rejected before ledger mutation, labelled by reason.",
		}, []string{"reason"}),
		RefundsRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tally_refunds_requested_total",
			Help: "Refund requests accepted by the coordinator.",
		}),
		ReconcileItems: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_reconcile_items_total",
			Help: "Items queued for manual review, labelled by kind.",
		}, []string{"kind"}),
		AuditOutboxLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tally_audit_outbox_pending",
			Help: "Audit outbox rows not yet published to Kafka.",
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tally_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

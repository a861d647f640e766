package entitlement

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the entitlement flows. A nil *Metrics records nothing.
type Metrics struct {
	flows       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	reconcile   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytier",
			Subsystem: "entitlement",
			Name:      "flow_total",
			Help:      "Entitlement flow executions by flow and outcome kind.",
		}, []string{"flow", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytier",
			Subsystem: "entitlement",
			Name:      "step_retries_total",
			Help:      "Retried reconciliation steps.",
		}, []string{"step"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytier",
			Subsystem: "entitlement",
			Name:      "plan_transitions_total",
			Help:      "Recorded plan changes by source and target tier.",
		}, []string{"from", "to"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keytier",
			Subsystem: "entitlement",
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by provider and normalized type.",
		}, []string{"provider", "type"}),
		reconcile: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keytier",
			Subsystem: "entitlement",
			Name:      "reconcile_run_seconds",
			Help:      "Duration of full reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.flows, m.retries, m.transitions, m.webhooks, m.reconcile} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) flow(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.flows.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) retry(step Step) {
	if m != nil {
		m.retries.WithLabelValues(string(step)).Inc()
	}
}

func (m *Metrics) transition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) webhook(provider, typ string) {
	if m != nil {
		m.webhooks.WithLabelValues(provider, typ).Inc()
	}
}

func (m *Metrics) reconcileRun(seconds float64) {
	if m != nil {
		m.reconcile.Observe(seconds)
	}
}

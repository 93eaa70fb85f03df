package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// Metrics holds every collector of the service, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	ActionsProcessed *prometheus.CounterVec
	AppendConflicts  prometheus.Counter
	OutboxDispatched *prometheus.CounterVec
	OutboxFailed     *prometheus.CounterVec
	OutboxDead       *prometheus.CounterVec
	ConfigLookups    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

var (
	_ ports.ActionMetrics      = (*Metrics)(nil)
	_ ports.DispatchMetrics    = (*Metrics)(nil)
	_ ports.ConfigCacheMetrics = (*Metrics)(nil)
)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActionsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_actions_processed_total",
			Help: "Action requests by action type and outcome",
		}, []string{"action_type", "outcome"}),
		AppendConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "civreg_append_conflicts_total",
			Help: "Optimistic append conflicts that triggered a re-plan",
		}),
		OutboxDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_outbox_dispatched_total",
			Help: "Outbox messages delivered, by topic family",
		}, []string{"topic"}),
		OutboxFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_outbox_failed_total",
			Help: "Outbox delivery attempts that failed, by topic family",
		}, []string{"topic"}),
		OutboxDead: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_outbox_dead_total",
			Help: "Outbox messages dead-lettered, by topic family",
		}, []string{"topic"}),
		ConfigLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "civreg_config_lookups_total",
			Help: "Event configuration lookups by result (hit, miss, stale)",
		}, []string{"result"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "civreg_http_request_duration_seconds",
			Help:    "HTTP request duration by route pattern and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ActionProcessed(actionType domain.ActionType, outcome string) {
	m.ActionsProcessed.WithLabelValues(string(actionType), outcome).Inc()
}

func (m *Metrics) AppendConflict() {
	m.AppendConflicts.Inc()
}

func (m *Metrics) Dispatched(topic string) {
	m.OutboxDispatched.WithLabelValues(topicFamily(topic)).Inc()
}

func (m *Metrics) Failed(topic string) {
	m.OutboxFailed.WithLabelValues(topicFamily(topic)).Inc()
}

func (m *Metrics) Dead(topic string) {
	m.OutboxDead.WithLabelValues(topicFamily(topic)).Inc()
}

func (m *Metrics) ConfigCacheHit()  { m.ConfigLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) ConfigCacheMiss() { m.ConfigLookups.WithLabelValues("miss").Inc() }
func (m *Metrics) ConfigStale()     { m.ConfigLookups.WithLabelValues("stale").Inc() }

// ObserveRequest records one HTTP request. Call with the start time.
func (m *Metrics) ObserveRequest(method, route, status string, start time.Time) {
	m.RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}

// topicFamily keeps label cardinality bounded to the three collaborator feeds.
func topicFamily(topic string) string {
	for _, family := range []string{domain.TopicSearchIndex, domain.TopicNotification, domain.TopicConfirmation} {
		if topic == family || strings.HasPrefix(topic, family+".") {
			return family
		}
	}
	return "other"
}

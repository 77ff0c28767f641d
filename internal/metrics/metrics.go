package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's collectors on a private prometheus registry.
// All methods are safe on a nil *Registry so callers need no guards.
type Registry struct {
	reg              *prometheus.Registry
	Refreshes        *prometheus.CounterVec
	Enrichment       *prometheus.CounterVec
	Actions          *prometheus.CounterVec
	Visible          *prometheus.GaugeVec
	Superseded       prometheus.Gauge
	RefreshLatency   prometheus.Histogram
	EventsPublished  *prometheus.CounterVec
	WebsocketClients prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canceldesk_refresh_total",
		Help: "Full cancellation refreshes by result.",
	}, []string{"result"})
	enrichment := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canceldesk_enrichment_degraded_total",
		Help: "Enrichment fetches that fell back to partial data.",
	}, []string{"part"})
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canceldesk_actions_total",
		Help: "Approve and reject attempts by result.",
	}, []string{"action", "result"})
	visible := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canceldesk_visible_requests",
		Help: "Non-superseded requests in the working set by status.",
	}, []string{"status"})
	superseded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canceldesk_superseded_requests",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canceldesk_refresh_seconds",
		Buckets: prometheus.DefBuckets,
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canceldesk_events_published_total",
	}, []string{"type", "sink"})
	clients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "canceldesk_ws_clients",
	})

	r.MustRegister(refreshes, enrichment, actions, visible, superseded, latency, events, clients)
	return &Registry{
		reg:              r,
		Refreshes:        refreshes,
		Enrichment:       enrichment,
		Actions:          actions,
		Visible:          visible,
		Superseded:       superseded,
		RefreshLatency:   latency,
		EventsPublished:  events,
		WebsocketClients: clients,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) EnrichmentDegraded(part string) {
	if r == nil {
		return
	}
	r.Enrichment.WithLabelValues(part).Inc()
}

// RefreshObserved records one refresh; ok=false means the list fetch failed.
func (r *Registry) RefreshObserved(ok bool, seconds float64) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.Refreshes.WithLabelValues(result).Inc()
	r.RefreshLatency.Observe(seconds)
}

func (r *Registry) ActionObserved(action, result string) {
	if r == nil {
		return
	}
	r.Actions.WithLabelValues(action, result).Inc()
}

func (r *Registry) SetVisible(pending, approved, rejected, superseded int) {
	if r == nil {
		return
	}
	r.Visible.WithLabelValues("PENDING").Set(float64(pending))
	r.Visible.WithLabelValues("APPROVED").Set(float64(approved))
	r.Visible.WithLabelValues("REJECTED").Set(float64(rejected))
	r.Superseded.Set(float64(superseded))
}

func (r *Registry) EventPublished(eventType, sink string) {
	if r == nil {
		return
	}
	r.EventsPublished.WithLabelValues(eventType, sink).Inc()
}

func (r *Registry) ClientConnected() {
	if r == nil {
		return
	}
	r.WebsocketClients.Inc()
}

func (r *Registry) ClientDisconnected() {
	if r == nil {
		return
	}
	r.WebsocketClients.Dec()
}

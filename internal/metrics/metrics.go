package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/contentkit/contentgraph/internal/health"
)

var (
	ItemsTotal         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "contentgraph_items_total", Help: "content items processed"}, []string{"content_type", "status"})
	EdgesTotal         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "contentgraph_edges_total", Help: "relationships written"}, []string{"kind"})
	CacheLookups       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "contentgraph_parse_cache_total", Help: "parse cache lookups"}, []string{"result"})
	MarketplaceRemoved = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "contentgraph_marketplace_removals_total", Help: "items dropped from a marketplace by dependency repair"}, []string{"marketplace"})
	PackDependencies   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "contentgraph_pack_dependencies", Help: "DEPENDS_ON relationships after the last inference run"})
	PhaseSeconds       = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "contentgraph_phase_seconds", Help: "duration of build phases", Buckets: prometheus.DefBuckets}, []string{"phase"})
)

func init() {
	prometheus.MustRegister(ItemsTotal, EdgesTotal, CacheLookups, MarketplaceRemoved, PackDependencies, PhaseSeconds)
}

func Serve(addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}

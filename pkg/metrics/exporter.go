package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hypersplit/pkg/hypersplit"
)

const namespace = "hypersplit"

// Exporter 将 Collector 和树结构导出为 Prometheus 指标
type Exporter struct {
	collector *Collector
	registry  *prometheus.Registry
	server    *http.Server

	classified  prometheus.CounterFunc
	matched     prometheus.CounterFunc
	missed      prometheus.CounterFunc
	skipped     prometheus.CounterFunc
	parseErrors prometheus.CounterFunc
	buildSecs   prometheus.GaugeFunc
	classSecs   prometheus.GaugeFunc

	rules       prometheus.Gauge
	nodes       *prometheus.GaugeVec
	depth       prometheus.Gauge
	ruleRefs    prometheus.Gauge
	replication prometheus.Gauge
	leafReasons *prometheus.GaugeVec
}

func counterFunc(name, help string, fn func() uint64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) })
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tree",
		Name:      name,
		Help:      help,
	})
}

// NewExporter 创建导出器, path 为空时使用 /metrics
func NewExporter(c *Collector, listen, path string) *Exporter {
	if path == "" {
		path = "/metrics"
	}
	e := &Exporter{
		collector: c,
		registry:  prometheus.NewRegistry(),

		classified: counterFunc("packets_classified_total", "Packets classified.",
			func() uint64 { return c.GetStats().Classified }),
		matched: counterFunc("packets_matched_total", "Packets that matched a rule.",
			func() uint64 { return c.GetStats().Matched }),
		missed: counterFunc("packets_missed_total", "Packets that matched no rule.",
			func() uint64 { return c.GetStats().Missed }),
		skipped: counterFunc("frames_skipped_total", "Capture frames without an IPv4 five tuple.",
			func() uint64 { return c.GetStats().Skipped }),
		parseErrors: counterFunc("parse_errors_total", "Input files that stopped at a malformed line.",
			func() uint64 { return c.GetStats().ParseErrors }),
		buildSecs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Time spent building the tree.",
		}, func() float64 { return c.GetStats().Build.Seconds() }),
		classSecs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time spent classifying the packet batch.",
		}, func() float64 { return c.GetStats().Classify.Seconds() }),

		rules:       gauge("rules", "Rules indexed by the tree."),
		depth:       gauge("max_depth", "Depth of the deepest leaf."),
		ruleRefs:    gauge("rule_refs", "Rule ids stored across all leaves."),
		replication: gauge("replication_ratio", "Rule refs divided by rules."),
		nodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "nodes",
			Help:      "Tree nodes by kind.",
		}, []string{"kind"}),
		leafReasons: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tree",
			Name:      "leaves_by_reason",
			Help:      "Leaves by the condition that stopped splitting.",
		}, []string{"reason"}),
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.registry.MustRegister(
		e.classified, e.matched, e.missed, e.skipped, e.parseErrors,
		e.buildSecs, e.classSecs,
		e.rules, e.nodes, e.depth, e.ruleRefs, e.replication, e.leafReasons,
	)
	return e
}

// Registry returns the registry holding every exported metric.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// SetTree 更新树结构指标
func (e *Exporter) SetTree(s hypersplit.Stats, rules int) {
	e.rules.Set(float64(rules))
	e.nodes.WithLabelValues("internal").Set(float64(s.Internal))
	e.nodes.WithLabelValues("leaf").Set(float64(s.Leaves))
	e.depth.Set(float64(s.MaxDepth))
	e.ruleRefs.Set(float64(s.RuleRefs))
	e.replication.Set(s.Replication)
	e.leafReasons.Reset()
	for reason, n := range s.LeafReasons {
		e.leafReasons.WithLabelValues(reason.String()).Set(float64(n))
	}
}

// Handler returns the HTTP handler serving the metrics path.
func (e *Exporter) Handler() http.Handler {
	return e.server.Handler
}

// Start 启动 HTTP 服务, 阻塞直到 Shutdown
func (e *Exporter) Start() error {
	if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}

// Shutdown 停止 HTTP 服务
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

// WriteTextfile writes the current metrics in the text exposition format,
// for node_exporter's textfile collector.
func (e *Exporter) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, e.registry), "write metrics textfile")
}

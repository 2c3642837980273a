package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusReceiver exports numeric metric leaves as prometheus counters
// labeled by pipeline, operator, output schema (Labels.OutputSchema), and
// leaf path. Non-numeric
// leaves are skipped; counters only ever increase because the engine's
// built-in metrics are monotone (events and bytes forwarded).
type PrometheusReceiver struct {
	counters *prometheus.CounterVec
	once     sync.Once
	reg      prometheus.Registerer
}

// NewPrometheusReceiver creates a receiver registering on reg, or on the
// default registerer if reg is nil.
func NewPrometheusReceiver(reg prometheus.Registerer) *PrometheusReceiver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusReceiver{
		reg: reg,
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strom",
			Subsystem: "pipeline",
			Name:      "operator_metric_total",
			Help:      "Per-operator metric leaves summed over the run.",
		}, []string{"pipeline", "operator_index", "operator", "schema", "leaf"}),
	}
}

func (p *PrometheusReceiver) Receive(labels Labels, rec Record) {
	p.once.Do(func() {
		p.reg.MustRegister(p.counters)
	})
	for path, value := range rec.Values {
		f, ok := toCounterValue(value)
		if !ok || f < 0 {
			continue
		}
		p.counters.WithLabelValues(
			labels.PipelineID,
			strconv.Itoa(labels.OperatorIndex),
			labels.OperatorName,
			labels.OutputSchema.String(),
			path,
		).Add(f)
	}
}

// Counter returns the counter series for the given label values, for
// tests and for scrapers that want direct access.
func (p *PrometheusReceiver) Counter(pipeline, operatorIndex, operatorName, schemaFP, leaf string) prometheus.Counter {
	return p.counters.WithLabelValues(pipeline, operatorIndex, operatorName, schemaFP, leaf)
}

func toCounterValue(v any) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

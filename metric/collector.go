package metric

import "github.com/prometheus/client_golang/prometheus"

var (
	callsDesc = prometheus.NewDesc(
		"falcon_processor_calls_total",
		"Number of process calls in the current run.",
		[]string{"processor"}, nil,
	)
	payloadsDesc = prometheus.NewDesc(
		"falcon_processor_payloads_total",
		"Number of payloads published in the current run.",
		[]string{"processor"}, nil,
	)
	runsDesc = prometheus.NewDesc(
		"falcon_processor_runs_total",
		"Number of processing runs.",
		[]string{"processor"}, nil,
	)
	latencyDesc = prometheus.NewDesc(
		"falcon_processor_latency_seconds",
		"Time between the last two process calls.",
		[]string{"processor"}, nil,
	)
	durationDesc = prometheus.NewDesc(
		"falcon_processor_stream_duration_seconds",
		"Duration of published stream.",
		[]string{"processor"}, nil,
	)
)

// Collector exposes processor meters to prometheus.
type Collector struct {
	m *Metric
}

// NewCollector returns collector of the metric.
func NewCollector(m *Metric) *Collector {
	return &Collector{m: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- callsDesc
	ch <- payloadsDesc
	ch <- runsDesc
	ch <- latencyDesc
	ch <- durationDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.m.Processors() {
		s, ok := c.m.Measure(p)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(s.Calls), p)
		ch <- prometheus.MustNewConstMetric(payloadsDesc, prometheus.CounterValue, float64(s.Payloads), p)
		ch <- prometheus.MustNewConstMetric(runsDesc, prometheus.CounterValue, float64(s.Runs), p)
		ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, s.Latency.Seconds(), p)
		ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.CounterValue, s.Duration.Seconds(), p)
	}
}

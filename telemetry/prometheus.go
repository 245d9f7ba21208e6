package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector adapts a *Collector's Snapshot into the
// prometheus.Collector interface, so a single telemetry.Collector can
// be registered directly with a prometheus.Registry and scraped — no
// separate bookkeeping of individual prometheus metric objects.
type PrometheusCollector struct {
	collector *Collector

	runsStarted  *prometheus.Desc
	runsByStatus *prometheus.Desc
	policyChecks *prometheus.Desc
	executorOps  *prometheus.Desc
	capsuleOps   *prometheus.Desc
}

// NewPrometheusCollector wraps collector for Prometheus scraping.
// collector may be nil, in which case Collect reports all-zero
// metrics rather than panicking.
func NewPrometheusCollector(collector *Collector) *PrometheusCollector {
	return &PrometheusCollector{
		collector: collector,
		runsStarted: prometheus.NewDesc(
			"tabularun_runs_started_total",
			"Total requests that entered the agent loop.",
			nil, nil,
		),
		runsByStatus: prometheus.NewDesc(
			"tabularun_runs_total",
			"Total requests by terminal status.",
			[]string{"status"}, nil,
		),
		policyChecks: prometheus.NewDesc(
			"tabularun_policy_checks_total",
			"Total policy gate checks by check type and outcome.",
			[]string{"check", "outcome"}, nil,
		),
		executorOps: prometheus.NewDesc(
			"tabularun_executor_submissions_total",
			"Total sandbox submissions by transport outcome.",
			[]string{"outcome"}, nil,
		),
		capsuleOps: prometheus.NewDesc(
			"tabularun_capsule_writes_total",
			"Total capsule store writes by outcome.",
			[]string{"outcome"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.runsStarted
	ch <- p.runsByStatus
	ch <- p.policyChecks
	ch <- p.executorOps
	ch <- p.capsuleOps
}

// Collect implements prometheus.Collector, translating the latest
// Snapshot into counter samples on every scrape.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.collector.Snapshot()

	ch <- prometheus.MustNewConstMetric(p.runsStarted, prometheus.CounterValue, float64(snap.RunsStarted))

	statuses := []struct {
		name  string
		value int64
	}{
		{"succeeded", snap.RunsSucceeded},
		{"failed", snap.RunsFailed},
		{"rejected", snap.RunsRejected},
		{"timed_out", snap.RunsTimedOut},
		{"not_found", snap.RunsNotFound},
	}
	for _, s := range statuses {
		ch <- prometheus.MustNewConstMetric(p.runsByStatus, prometheus.CounterValue, float64(s.value), s.name)
	}

	checks := []struct {
		check, outcome string
		value           int64
	}{
		{"sql", "passed", snap.SQLPassed},
		{"sql", "rejected", snap.SQLRejected},
		{"plan", "passed", snap.PlanPassed},
		{"plan", "rejected", snap.PlanRejected},
		{"python", "passed", snap.PythonPassed},
		{"python", "rejected", snap.PythonRejected},
	}
	for _, c := range checks {
		ch <- prometheus.MustNewConstMetric(p.policyChecks, prometheus.CounterValue, float64(c.value), c.check, c.outcome)
	}

	ch <- prometheus.MustNewConstMetric(p.executorOps, prometheus.CounterValue, float64(snap.ExecutorSubmitSuccess), "success")
	ch <- prometheus.MustNewConstMetric(p.executorOps, prometheus.CounterValue, float64(snap.ExecutorSubmitFailure), "failure")

	ch <- prometheus.MustNewConstMetric(p.capsuleOps, prometheus.CounterValue, float64(snap.CapsuleWriteSuccess), "success")
	ch <- prometheus.MustNewConstMetric(p.capsuleOps, prometheus.CounterValue, float64(snap.CapsuleWriteFailure), "failure")
}

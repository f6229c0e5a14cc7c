// Package telemetry provides Prometheus instrumentation for the
// allocation engine. The CLI runs batch-style, so metrics are gathered
// on a private registry and can be exported to a textfile at exit for a
// node-exporter textfile collector to pick up.
package telemetry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics collects engine counters on a private registry. A nil
// *Metrics is a valid no-op receiver.
type Metrics struct {
	allocations     *prometheus.CounterVec
	rangeExhausted  *prometheus.CounterVec
	scanSources     *prometheus.CounterVec
	driftFindings   *prometheus.CounterVec
	provisionSteps  *prometheus.CounterVec
	registryWrites  *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "allocations_total",
				Help:      "Total slot allocations by environment and kind",
			},
			[]string{"environment", "kind"},
		),
		rangeExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "range_exhausted_total",
				Help:      "Allocations that fell back outside an exhausted range",
			},
			[]string{"environment", "kind"},
		),
		scanSources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "scan_sources_total",
				Help:      "Scan source outcomes",
			},
			[]string{"source", "outcome"},
		),
		driftFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "drift_findings_total",
				Help:      "Drift findings by class",
			},
			[]string{"class"},
		),
		provisionSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "provision_steps_total",
				Help:      "Provisioning step outcomes by resource kind",
			},
			[]string{"kind", "status"},
		),
		registryWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "registry_writes_total",
				Help:      "Registry save outcomes",
			},
			[]string{"outcome"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "berth",
				Name:      "command_duration_seconds",
				Help:      "Duration of CLI command execution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
	}

	registry.MustRegister(
		m.allocations,
		m.rangeExhausted,
		m.scanSources,
		m.driftFindings,
		m.provisionSteps,
		m.registryWrites,
		m.commandDuration,
	)

	return m
}

// ObserveAllocation records one slot allocation.
func (m *Metrics) ObserveAllocation(environment, kind string, exhausted bool) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(environment, kind).Inc()
	if exhausted {
		m.rangeExhausted.WithLabelValues(environment, kind).Inc()
	}
}

// ObserveScanSource records one scan source outcome.
func (m *Metrics) ObserveScanSource(source string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.scanSources.WithLabelValues(source, outcome).Inc()
}

// ObserveDriftFinding records one drift finding.
func (m *Metrics) ObserveDriftFinding(class string) {
	if m == nil {
		return
	}
	m.driftFindings.WithLabelValues(class).Inc()
}

// ObserveProvisionStep records one provisioning step outcome.
func (m *Metrics) ObserveProvisionStep(kind, status string) {
	if m == nil {
		return
	}
	m.provisionSteps.WithLabelValues(kind, status).Inc()
}

// ObserveRegistryWrite records one registry save outcome.
func (m *Metrics) ObserveRegistryWrite(outcome string) {
	if m == nil {
		return
	}
	m.registryWrites.WithLabelValues(outcome).Inc()
}

// ObserveCommandDuration records one command's wall time in seconds.
func (m *Metrics) ObserveCommandDuration(command string, seconds float64) {
	if m == nil {
		return
	}
	m.commandDuration.WithLabelValues(command).Observe(seconds)
}

// WriteTextfile renders the gathered metrics in the exposition format
// to path, for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}

	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var b strings.Builder
	for _, mf := range families {
		fmt.Fprintf(&b, "# HELP %s %s\n", mf.GetName(), mf.GetHelp())
		fmt.Fprintf(&b, "# TYPE %s %s\n", mf.GetName(), strings.ToLower(mf.GetType().String()))
		for _, metric := range mf.GetMetric() {
			b.WriteString(renderMetric(mf.GetName(), metric))
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// renderMetric renders one sample line. Counters and histogram
// sum/count only; the textfile export is a coarse operational signal,
// not a full exposition endpoint.
func renderMetric(name string, m *dto.Metric) string {
	labels := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	sort.Strings(labels)

	labelStr := ""
	if len(labels) > 0 {
		labelStr = "{" + strings.Join(labels, ",") + "}"
	}

	switch {
	case m.GetCounter() != nil:
		return fmt.Sprintf("%s%s %g\n", name, labelStr, m.GetCounter().GetValue())
	case m.GetHistogram() != nil:
		return fmt.Sprintf("%s_sum%s %g\n%s_count%s %d\n",
			name, labelStr, m.GetHistogram().GetSampleSum(),
			name, labelStr, m.GetHistogram().GetSampleCount())
	default:
		return ""
	}
}

// Package metrics exposes Prometheus instruments for the curation engine.
//
// Instruments are registered on the default registry at init, so a process can
// serve them with promhttp or dump them with the CLI.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// commandsTotal counts session commands by name and outcome.
	// Labels: command, outcome (applied, noop, error)
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinacgt",
		Subsystem: "session",
		Name:      "commands_total",
		Help:      "Session commands by name and outcome",
	}, []string{"command", "outcome"})

	// historyTotal counts undo and redo requests.
	// Labels: direction (undo, redo), outcome (applied, empty)
	historyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinacgt",
		Subsystem: "history",
		Name:      "steps_total",
		Help:      "Undo and redo requests by outcome",
	}, []string{"direction", "outcome"})

	// correlationLookups counts correlation cache lookups.
	// Labels: result (hit, miss, undefined)
	correlationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cinacgt",
		Subsystem: "profile",
		Name:      "correlation_lookups_total",
		Help:      "Correlation cache lookups by result",
	}, []string{"result"})

	// correlationDuration measures a source/transient correlation computation
	correlationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cinacgt",
		Subsystem: "profile",
		Name:      "correlation_duration_seconds",
		Help:      "Time spent computing one source/transient correlation",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// sourceProfileDuration measures a source profile computation
	sourceProfileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cinacgt",
		Subsystem: "profile",
		Name:      "source_duration_seconds",
		Help:      "Time spent averaging one source profile",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// pendingEntries tracks the to-agree entries left in the loaded rasters.
	// Labels: layer (onsets, peaks)
	pendingEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cinacgt",
		Subsystem: "reconcile",
		Name:      "pending_entries",
		Help:      "To-agree entries waiting for a decision",
	}, []string{"layer"})
)

// RecordCommand records the outcome of a session command
func RecordCommand(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordHistory records an undo or redo request
func RecordHistory(direction string, applied bool) {
	outcome := "empty"
	if applied {
		outcome = "applied"
	}
	historyTotal.WithLabelValues(direction, outcome).Inc()
}

// RecordCorrelationLookup records a correlation cache lookup: hit, miss or undefined
func RecordCorrelationLookup(result string) {
	correlationLookups.WithLabelValues(result).Inc()
}

// ObserveCorrelation records the duration of one correlation, in seconds
func ObserveCorrelation(seconds float64) {
	correlationDuration.Observe(seconds)
}

// ObserveSourceProfile records the duration of one source profile, in seconds
func ObserveSourceProfile(seconds float64) {
	sourceProfileDuration.Observe(seconds)
}

// SetPending publishes the number of pending onset and peak entries
func SetPending(onsets, peaks int) {
	pendingEntries.WithLabelValues("onsets").Set(float64(onsets))
	pendingEntries.WithLabelValues("peaks").Set(float64(peaks))
}

// Summary gathers the cinacgt families from the default registry and returns one
// number per family: the sum of counter and gauge values, or the sample count of
// a histogram
func Summary() (map[string]float64, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, family := range families {
		name := family.GetName()
		if !strings.HasPrefix(name, "cinacgt_") {
			continue
		}
		var total float64
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[name] = total
	}
	return out, nil
}

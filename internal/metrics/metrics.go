// Package metrics records reconciliation counters in Prometheus collectors
// and writes them to a textfile for the node or windows exporter.
package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/svcmon/internal/services"
)

const namespace = "svcmon"

// Recorder holds the monitor's collectors. It satisfies reconcile.Recorder.
type Recorder struct {
	cycles     prometheus.Counter
	discovered prometheus.Counter
	drift      *prometheus.CounterVec
	actuations *prometheus.CounterVec
	observed   prometheus.Gauge
	duration   prometheus.Histogram
}

// NewRecorder creates the collectors and registers them with r. Collectors
// already registered under the same name are tolerated.
func NewRecorder(r prometheus.Registerer) (*Recorder, error) {
	rec := &Recorder{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Number of completed reconciliation cycles.",
		}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "services",
			Name:      "discovered_total",
			Help:      "Number of services seen for the first time.",
		}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drift",
			Name:      "detected_total",
			Help:      "Number of cycles in which a service was not in its expected state.",
		}, []string{"service"}),
		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuations_total",
			Help:      "Number of start and stop commands issued, by result.",
		}, []string{"action", "result"}),
		observed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "services",
			Name:      "observed",
			Help:      "Number of services in the last inventory snapshot.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	cs := []prometheus.Collector{rec.cycles, rec.discovered, rec.drift, rec.actuations, rec.observed, rec.duration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, err
		}
	}
	return rec, nil
}

func (r *Recorder) CycleCompleted(d time.Duration, observed int) {
	r.cycles.Inc()
	r.observed.Set(float64(observed))
	r.duration.Observe(d.Seconds())
}

func (r *Recorder) ServiceDiscovered() {
	r.discovered.Inc()
}

func (r *Recorder) DriftDetected(service string) {
	r.drift.WithLabelValues(service).Inc()
}

func (r *Recorder) ActuationResult(action services.Action, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.actuations.WithLabelValues(string(action), result).Inc()
}

// WriteTextfile gathers g and replaces path with the text exposition.
// The file is written to a temporary sibling and renamed so the exporter
// never reads a partial file.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metrics textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, mfs); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace metrics textfile: %w", err)
	}
	return nil
}

func encode(f *os.File, mfs []*dto.MetricFamily) error {
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return err
		}
	}
	return nil
}

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuemby/portfolio-deploy/pkg/events"
)

// DeployRecorder turns deployment lifecycle events into metrics. The CLI is
// short-lived, so the registry is exported as a node_exporter textfile
// rather than scraped.
type DeployRecorder struct {
	registry *prometheus.Registry
	done     chan struct{}

	Deployments     *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
	StepsTotal      *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	Rollbacks       *prometheus.CounterVec
	LastSuccess     prometheus.Gauge
	BackupsRetained prometheus.Gauge
}

// NewDeployRecorder creates the deployment metrics on a private registry
func NewDeployRecorder() *DeployRecorder {
	r := &DeployRecorder{
		registry: prometheus.NewRegistry(),

		Deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Deployment attempts by kind and result",
			},
			[]string{"kind", "result"},
		),

		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Wall time of a deployment attempt in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"kind"},
		),

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployment_steps_total",
				Help:      "Pipeline steps by name and result",
			},
			[]string{"step", "result"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_step_duration_seconds",
				Help:      "Duration of a pipeline step in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 3, 10),
			},
			[]string{"step"},
		),

		Rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Rollbacks by result",
			},
			[]string{"result"},
		),

		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_successful_deployment_timestamp_seconds",
				Help:      "Unix time of the last successful deployment",
			},
		),

		BackupsRetained: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backups_retained",
				Help:      "Backups kept after the last cleanup",
			},
		),
	}

	r.registry.MustRegister(
		r.Deployments,
		r.Duration,
		r.StepsTotal,
		r.StepDuration,
		r.Rollbacks,
		r.LastSuccess,
		r.BackupsRetained,
	)
	return r
}

// Registry returns the recorder's registry
func (r *DeployRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Consume records every event from sub in the background until the channel
// is closed. Wait blocks until then.
func (r *DeployRecorder) Consume(sub events.Subscriber) {
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		for ev := range sub {
			r.Record(ev)
		}
	}()
}

// Wait blocks until the consumed subscription is closed
func (r *DeployRecorder) Wait() {
	if r.done != nil {
		<-r.done
	}
}

// Record applies a single event
func (r *DeployRecorder) Record(ev *events.Event) {
	kind := ev.Metadata["kind"]
	if kind == "" {
		kind = "deploy"
	}

	switch ev.Type {
	case events.EventDeploySucceeded:
		r.Deployments.WithLabelValues(kind, "success").Inc()
		r.Duration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
		r.LastSuccess.Set(float64(ev.Timestamp.Unix()))
	case events.EventDeployFailed:
		r.Deployments.WithLabelValues(kind, "failure").Inc()
		r.Duration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
	case events.EventStepSucceeded:
		r.StepsTotal.WithLabelValues(ev.Step, "success").Inc()
		r.StepDuration.WithLabelValues(ev.Step).Observe(ev.Duration.Seconds())
	case events.EventStepSkipped:
		r.StepsTotal.WithLabelValues(ev.Step, "skipped").Inc()
	case events.EventStepFailed:
		r.StepsTotal.WithLabelValues(ev.Step, "failure").Inc()
		r.StepDuration.WithLabelValues(ev.Step).Observe(ev.Duration.Seconds())
	case events.EventRollbackSucceeded:
		r.Rollbacks.WithLabelValues("success").Inc()
	case events.EventRollbackFailed:
		r.Rollbacks.WithLabelValues("failure").Inc()
	case events.EventBackupsPruned:
		if n, err := strconv.Atoi(ev.Metadata["retained"]); err == nil {
			r.BackupsRetained.Set(float64(n))
		}
	}
}

// WriteTextfile writes the registry in the text exposition format for the
// node_exporter textfile collector
func (r *DeployRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

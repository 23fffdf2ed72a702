// Package metrics is the OpenTelemetry instrument registry for the
// policy decision point: the fixed set of counters, histograms, and
// observable gauges named in spec section 6. Recorder satisfies
// pkg/engine's and pkg/notify's MetricsRecorder interfaces; the EAS
// calculator and the escalation registry feed its observable gauges.
// RecordExecution and RecordValidation are called only by this
// package's tests.
//
// Grounded on the teacher's pkg/observability/observability.go: same
// otel/metric meter-and-instrument-group shape, trimmed from a general
// RED provider down to this domain's fixed instrument names (spec.md
// does not want a generic request/error/duration triple, it wants
// named counters keyed by verdict/tier/channel/status).
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/netauton/sna-pdp/pkg/pdptypes"
)

// EASSource supplies the current Earned Autonomy Score for the
// sna_eas_current observable gauge. Implemented by *eas.Calculator.
type EASSource interface {
	Current(ctx context.Context) (float64, error)
}

// PendingSource supplies the current pending-escalation count for the
// sna_escalation_pending_count observable gauge. Implemented by
// *escalation.Registry.
type PendingSource interface {
	PendingCount() int
}

// Recorder holds every instrument the PDP emits. Safe for concurrent
// use; otel instruments are themselves concurrency-safe.
type Recorder struct {
	evaluationTotal   metric.Int64Counter
	evaluationLatency metric.Float64Histogram
	executionTotal    metric.Int64Counter
	executionLatency  metric.Float64Histogram
	notificationTotal metric.Int64Counter
	validationTotal   metric.Int64Counter
}

// New creates a Recorder on the given meter and registers the
// easSource/pendingSource observable gauges. Either source may be nil,
// in which case the corresponding gauge is omitted.
func New(meter metric.Meter, easSource EASSource, pendingSource PendingSource) (*Recorder, error) {
	r := &Recorder{}
	var err error

	r.evaluationTotal, err = meter.Int64Counter("sna_evaluation_total",
		metric.WithDescription("Policy evaluations by verdict and risk tier"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	r.evaluationLatency, err = meter.Float64Histogram("sna_evaluation_latency_seconds",
		metric.WithDescription("Policy evaluation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	r.executionTotal, err = meter.Int64Counter("sna_execution_total",
		metric.WithDescription("Tool executions reported back to the PDP, by success"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	r.executionLatency, err = meter.Float64Histogram("sna_execution_latency_seconds",
		metric.WithDescription("Reported tool execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	r.notificationTotal, err = meter.Int64Counter("sna_notification_total",
		metric.WithDescription("Notifications dispatched, by channel"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	r.validationTotal, err = meter.Int64Counter("sna_validation_total",
		metric.WithDescription("Post-change validation runs, by status"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, err
	}

	if easSource != nil {
		_, err = meter.Float64ObservableGauge("sna_eas_current",
			metric.WithDescription("Current Earned Autonomy Score"),
			metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
				value, err := easSource.Current(ctx)
				if err != nil {
					return err
				}
				obs.Observe(value)
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	if pendingSource != nil {
		_, err = meter.Int64ObservableGauge("sna_escalation_pending_count",
			metric.WithDescription("Escalations currently PENDING"),
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(pendingSource.PendingCount()))
				return nil
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// RecordEvaluation implements engine.MetricsRecorder.
func (r *Recorder) RecordEvaluation(verdict pdptypes.Verdict, tier pdptypes.RiskTier, latency time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("verdict", string(verdict)),
		attribute.String("tier", string(tier)),
	)
	r.evaluationTotal.Add(context.Background(), 1, attrs)
	r.evaluationLatency.Record(context.Background(), latency.Seconds(), attrs)
}

// RecordExecution records a caller-reported tool execution outcome.
func (r *Recorder) RecordExecution(success bool, latency time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	r.executionTotal.Add(context.Background(), 1, attrs)
	r.executionLatency.Record(context.Background(), latency.Seconds(), attrs)
}

// RecordNotification records a dispatched notification.
func (r *Recorder) RecordNotification(channel string) {
	r.notificationTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// RecordValidation records a validator run outcome.
func (r *Recorder) RecordValidation(status pdptypes.ValidationStatus) {
	r.validationTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// Package metrics holds the OpenTelemetry instruments of the interview
// service. A nil *Metrics is valid and records nothing, so components can be
// built without telemetry in tests.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/yoockh/intervue"

const (
	DirectionUser = "user"
	DirectionAI   = "ai"
)

type Metrics struct {
	// ActiveSessions counts connections with a live model session.
	ActiveSessions metric.Int64UpDownCounter
	// AudioDropped counts frames withheld by turn-taking; attr direction.
	AudioDropped metric.Int64Counter
	// StateTransitions counts accepted state machine transitions; attrs from, to.
	StateTransitions metric.Int64Counter
	// QuestionTransitions counts question transition attempts; attrs trigger, outcome.
	QuestionTransitions metric.Int64Counter
	ModelConnectDuration metric.Float64Histogram
	// EvaluationJobs counts scoring jobs; attr status.
	EvaluationJobs metric.Int64Counter
}

var connectBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("interview.sessions.active",
		metric.WithDescription("Number of interview connections with a live model session."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("interview.audio.dropped",
		metric.WithDescription("Audio frames dropped by turn-taking, by direction."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("interview.state.transitions",
		metric.WithDescription("Accepted interview state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.QuestionTransitions, err = m.Int64Counter("interview.question.transitions",
		metric.WithDescription("Question transitions by trigger and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ModelConnectDuration, err = m.Float64Histogram("interview.model.connect.duration",
		metric.WithDescription("Time to open a speech model session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluationJobs, err = m.Int64Counter("interview.evaluation.jobs",
		metric.WithDescription("Evaluation jobs by status."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// InitProvider installs a Prometheus-backed MeterProvider as the global
// provider and returns the scrape handler and a shutdown func.
func InitProvider() (http.Handler, func(context.Context) error, error) {
	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), mp.Shutdown, nil
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

func (m *Metrics) AudioDrop(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.AudioDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) StateTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) QuestionTransition(ctx context.Context, trigger, outcome string) {
	if m == nil {
		return
	}
	m.QuestionTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) ModelConnect(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelConnectDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) EvaluationJob(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.EvaluationJobs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

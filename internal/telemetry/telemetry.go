// Package telemetry provides OpenTelemetry metrics for the bot.
//
// Telemetry is disabled by default. With OTEL_ENABLED=true a real meter
// provider is installed; OTEL_STDOUT=true adds a periodic stdout exporter.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/cliffng14/accountably"

type Config struct {
	Enabled bool
	Stdout  bool
}

// Init installs the global meter provider and returns its shutdown func.
func Init(ctx context.Context, cfg Config, serviceName string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Meter returns the bot's meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationScope)
}

// Metrics holds the engine's counters.
type Metrics struct {
	challengesIssued     metric.Int64Counter
	responseTransitions  metric.Int64Counter
	validationsRequested metric.Int64Counter
	jobRuns              metric.Int64Counter
}

// NewMetrics registers the counters on m.
func NewMetrics(m metric.Meter) (*Metrics, error) {
	var (
		out Metrics
		err error
	)
	if out.challengesIssued, err = m.Int64Counter("accountably.challenges.issued",
		metric.WithDescription("Challenges written for goals, daily or suggested"),
		metric.WithUnit("{challenge}"),
	); err != nil {
		return nil, err
	}
	if out.responseTransitions, err = m.Int64Counter("accountably.responses.transitions",
		metric.WithDescription("Challenge response state changes by target state"),
	); err != nil {
		return nil, err
	}
	if out.validationsRequested, err = m.Int64Counter("accountably.validations.requested",
		metric.WithDescription("Peer review requests sent"),
	); err != nil {
		return nil, err
	}
	if out.jobRuns, err = m.Int64Counter("accountably.jobs.runs",
		metric.WithDescription("Sweep job runs by job and status"),
	); err != nil {
		return nil, err
	}
	return &out, nil
}

// Noop returns metrics that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(metricnoop.NewMeterProvider().Meter(instrumentationScope))
	return m
}

func (m *Metrics) ChallengeIssued(ctx context.Context, source string) {
	m.challengesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) ResponseTransition(ctx context.Context, to string) {
	m.responseTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

func (m *Metrics) ValidationRequested(ctx context.Context) {
	m.validationsRequested.Add(ctx, 1)
}

func (m *Metrics) JobRun(ctx context.Context, job string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	))
}

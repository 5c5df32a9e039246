package observability

import (
	"context"
	"log"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// UploadObservation is one attachment upload as seen by the uploader.
type UploadObservation struct {
	SubmissionID string
	ItemID       string
	Filename     string
	Size         int64
	Duration     time.Duration
	Success      bool
	Error        string
}

// SubmissionObservation is one finished pipeline run.
type SubmissionObservation struct {
	SubmissionID string
	FieldCount   int
	Attachments  int
	Duration     time.Duration
	Success      bool
	Error        string
}

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	uploadCounter  otelmetric.Int64Counter
	uploadDuration otelmetric.Float64Histogram
	uploadBytes    otelmetric.Int64Histogram
	serviceName    string
	perf           *Performance
}

// New wires an otel meter backed by a Prometheus exporter registered on reg.
// A nil reg uses the default registerer.
func New(serviceName string, reg promclient.Registerer) *Observability {
	o := &Observability{
		serviceName:    serviceName,
		perf:           NewPerformance(DefaultHistory),
		tracerProvider: sdktrace.NewTracerProvider(),
	}

	opts := []prometheus.Option{}
	if reg != nil {
		opts = append(opts, prometheus.WithRegisterer(reg))
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return o
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	uploadCounter, _ := meter.Int64Counter(
		"attachments.uploaded",
		otelmetric.WithDescription("Number of attachment uploads attempted"),
	)

	uploadDuration, _ := meter.Float64Histogram(
		"attachments.upload.duration",
		otelmetric.WithDescription("Attachment upload duration"),
		otelmetric.WithUnit("ms"),
	)

	uploadBytes, _ := meter.Int64Histogram(
		"attachments.upload.size",
		otelmetric.WithDescription("Attachment size"),
		otelmetric.WithUnit("By"),
	)

	o.meterProvider = provider
	o.meter = meter
	o.uploadCounter = uploadCounter
	o.uploadDuration = uploadDuration
	o.uploadBytes = uploadBytes
	return o
}

// Tracer returns the tracer used for pipeline spans.
func (o *Observability) Tracer() trace.Tracer {
	if o == nil || o.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return o.tracerProvider.Tracer(o.serviceName)
}

// Performance exposes the in-memory ring of recent observations.
func (o *Observability) Performance() *Performance {
	return o.perf
}

// RecordUpload records one attachment upload.
func (o *Observability) RecordUpload(ctx context.Context, obs UploadObservation) {
	status := "success"
	if !obs.Success {
		status = "failure"
	}
	attrs := otelmetric.WithAttributes(attribute.String("status", status))

	if o.uploadCounter != nil {
		o.uploadCounter.Add(ctx, 1, attrs)
	}
	if o.uploadDuration != nil {
		o.uploadDuration.Record(ctx, float64(obs.Duration.Milliseconds()), attrs)
	}
	if o.uploadBytes != nil {
		o.uploadBytes.Record(ctx, obs.Size, attrs)
	}
	if o.perf != nil {
		o.perf.AddUpload(obs)
	}
}

// RecordSubmission records one finished pipeline run.
func (o *Observability) RecordSubmission(_ context.Context, obs SubmissionObservation) {
	if o.perf != nil {
		o.perf.AddSubmission(obs)
	}
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		o.tracerProvider.Shutdown(ctx)
	}
}

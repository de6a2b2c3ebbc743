package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/paradox"
	"github.com/MrEthical07/paradox/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	EventsName      = "paradox.engine.events"
	AuditEventsName = "paradox.audit.events"
	AuditQueuedName = "paradox.audit.queued"

	eventKey  = attribute.Key("event")
	resultKey = attribute.Key("result")
	leKey     = attribute.Key("le")
)

type metricsSource interface {
	MetricsSnapshot() paradox.MetricsSnapshot
	AuditStats() paradox.AuditStats
}

// Option configures an [OTelExporter].
type Option func(*exporterOptions)

type exporterOptions struct {
	attrs []attribute.KeyValue
}

// WithAttributes adds attrs to every observation, for example the store
// driver or a replica name.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *exporterOptions) {
		o.attrs = append(o.attrs, attrs...)
	}
}

type eventSeries struct {
	id    paradox.MetricID
	attrs metric.MeasurementOption
}

type histogramSeries struct {
	id      paradox.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	le      [8]metric.MeasurementOption
}

// OTelExporter publishes engine counters through a few attributed
// instruments instead of one instrument per counter. Every engine counter is
// a data point of paradox.engine.events keyed by the event attribute, and
// histogram buckets are cumulative gauges keyed by le.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	events     metric.Int64ObservableCounter
	series     []eventSeries
	histograms []histogramSeries

	auditEvents metric.Int64ObservableCounter
	auditQueued metric.Int64ObservableGauge
	delivered   metric.MeasurementOption
	failed      metric.MeasurementOption
	dropped     metric.MeasurementOption
	base        metric.MeasurementOption
}

// NewOTelExporter registers instruments on meter that read engine on every
// collection. Close unregisters them.
func NewOTelExporter(meter metric.Meter, engine *paradox.Engine, opts ...Option) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine, opts...)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var o exporterOptions
	for _, opt := range opts {
		opt(&o)
	}
	with := func(extra ...attribute.KeyValue) metric.MeasurementOption {
		all := make([]attribute.KeyValue, 0, len(o.attrs)+len(extra))
		all = append(all, o.attrs...)
		all = append(all, extra...)
		return metric.WithAttributeSet(attribute.NewSet(all...))
	}

	e := &OTelExporter{
		source:    source,
		series:    make([]eventSeries, 0, len(internaldefs.CounterDefs)),
		delivered: with(resultKey.String("delivered")),
		failed:    with(resultKey.String("failed")),
		dropped:   with(resultKey.String("dropped")),
		base:      with(),
	}

	var err error
	e.events, err = meter.Int64ObservableCounter(EventsName,
		metric.WithDescription("Engine events by kind."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", EventsName, err)
	}
	observables := []metric.Observable{e.events}
	for _, def := range internaldefs.CounterDefs {
		e.series = append(e.series, eventSeries{id: def.ID, attrs: with(eventKey.String(EventName(def.Name)))})
	}

	for _, def := range internaldefs.HistogramDefs {
		h := histogramSeries{id: def.ID}
		name := InstrumentName(def.Name)
		if h.buckets, err = meter.Int64ObservableGauge(name+".bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound.")); err != nil {
			return nil, fmt.Errorf("create %s.bucket: %w", name, err)
		}
		if h.count, err = meter.Int64ObservableGauge(name+".count",
			metric.WithDescription(def.Help+" Total samples.")); err != nil {
			return nil, fmt.Errorf("create %s.count: %w", name, err)
		}
		for i, bound := range internaldefs.HistogramBounds {
			h.le[i] = with(leKey.String(strconv.FormatFloat(bound, 'g', -1, 64)))
		}
		h.le[len(h.le)-1] = with(leKey.String("+Inf"))
		e.histograms = append(e.histograms, h)
		observables = append(observables, h.buckets, h.count)
	}

	if e.auditEvents, err = meter.Int64ObservableCounter(AuditEventsName,
		metric.WithDescription("Audit events by delivery result."),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditEventsName, err)
	}
	if e.auditQueued, err = meter.Int64ObservableGauge(AuditQueuedName,
		metric.WithDescription("Audit events waiting for delivery.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditQueuedName, err)
	}
	observables = append(observables, e.auditEvents, e.auditQueued)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, s := range e.series {
		if v, ok := snapshot.Counters[s.id]; ok {
			observer.ObserveInt64(e.events, int64(v), s.attrs)
		}
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, v := range cumulative {
			observer.ObserveInt64(h.buckets, int64(v), h.le[i])
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), e.base)
	}

	stats := e.source.AuditStats()
	observer.ObserveInt64(e.auditEvents, int64(stats.Delivered), e.delivered)
	observer.ObserveInt64(e.auditEvents, int64(stats.Failed), e.failed)
	observer.ObserveInt64(e.auditEvents, int64(stats.Dropped), e.dropped)
	observer.ObserveInt64(e.auditQueued, int64(stats.Queued), e.base)
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// InstrumentName maps a Prometheus-style metric name onto a dotted
// OpenTelemetry one: paradox_respond_latency_seconds becomes
// paradox.respond.latency.
func InstrumentName(promName string) string {
	name := strings.TrimSuffix(promName, "_total")
	name = strings.TrimSuffix(name, "_seconds")
	return strings.ReplaceAll(name, "_", ".")
}

// EventName is the event attribute value for an engine counter:
// paradox_session_started_total becomes session_started.
func EventName(promName string) string {
	return strings.TrimPrefix(strings.TrimSuffix(promName, "_total"), "paradox_")
}

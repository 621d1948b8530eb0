package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterAPI forwards every report to inner and additionally records ReportCount values
// on an OpenTelemetry gauge, the report id becomes the "id" attribute.
type MeterAPI struct {
	inner API
	gauge metric.Int64Gauge
}

var (
	meterOnce  sync.Once
	countGauge metric.Int64Gauge
)

func NewMeterAPI(inner API) MeterAPI {
	meterOnce.Do(func() {
		var err error
		countGauge, err = otel.Meter("crce.telemetry").Int64Gauge("report_count")
		if err != nil {
			inner.ReportBroken("meter.gauge", err)
		}
	})
	return MeterAPI{inner: inner, gauge: countGauge}
}

func (m MeterAPI) ReportBroken(id string, params ...any) {
	m.inner.ReportBroken(id, params...)
}

func (m MeterAPI) ReportWarning(id string, params ...any) {
	m.inner.ReportWarning(id, params...)
}

func (m MeterAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

func (m MeterAPI) ReportCount(id string, count int64) {
	m.inner.ReportCount(id, count)
	if m.gauge == nil {
		return
	}
	m.gauge.Record(
		context.Background(),
		count,
		metric.WithAttributes(attribute.String("id", id)),
	)
}

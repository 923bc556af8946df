package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func sampled(t *testing.T, ratio float64) bool {
	t.Helper()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(newSampler(ratio)))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "job")
	defer span.End()
	return span.SpanContext().IsSampled()
}

func TestSamplerRatio(t *testing.T) {
	assert.True(t, sampled(t, 1))
	assert.True(t, sampled(t, 2))
	assert.False(t, sampled(t, 0))
}

func TestSamplerFollowsParent(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	ctx, parent := tp.Tracer("test").Start(context.Background(), "consume")
	defer parent.End()

	child := sdktrace.NewTracerProvider(sdktrace.WithSampler(newSampler(0)))
	defer child.Shutdown(context.Background())
	_, span := child.Tracer("test").Start(ctx, "skeletonize")
	defer span.End()

	assert.True(t, span.SpanContext().IsSampled())
}

func TestResourceAttributes(t *testing.T) {
	res := newResource(Config{
		ServiceName: "video2skeleton-worker",
		Attributes:  []attribute.KeyValue{attribute.Int("pipeline.fps", 30)},
	})

	v, ok := res.Set().Value(semconv.ServiceNameKey)
	assert.True(t, ok)
	assert.Equal(t, "video2skeleton-worker", v.AsString())

	v, ok = res.Set().Value("pipeline.fps")
	assert.True(t, ok)
	assert.Equal(t, int64(30), v.AsInt64())
}

package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"libradesk/internal/config"
)

func TestNewLogger_Level(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "DEBUG"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger(config.LoggerConfig{Level: "nonsense"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.AppConfig{Name: "test"}, config.TracingConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewTracerProvider_Sampling(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	provider := NewTracerProvider(sdktrace.NewSimpleSpanProcessor(exporter), nil, 1)
	_, span := provider.Tracer("test").Start(context.Background(), "sampled")
	span.End()
	assert.Len(t, exporter.GetSpans(), 1)

	exporter.Reset()
	provider = NewTracerProvider(sdktrace.NewSimpleSpanProcessor(exporter), nil, 0)
	_, span = provider.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	assert.Empty(t, exporter.GetSpans())
}

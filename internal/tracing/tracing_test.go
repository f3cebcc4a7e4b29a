package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingDisabled(t *testing.T) {
	tp, err := InitTracing(&Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitTracingUnsupportedExporter(t *testing.T) {
	_, err := InitTracing(&Config{Enabled: true, ExporterType: "carrier-pigeon"})
	require.Error(t, err)
}

func TestGetTraceIDEmptyWithoutSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))
}

func TestWithSpanPropagatesError(t *testing.T) {
	tp, err := InitTracing(&Config{Enabled: false})
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	sentinel := errors.New("boom")
	got := WithSpan(context.Background(), "dap.evaluate", func(ctx context.Context) error {
		return sentinel
	})
	assert.Equal(t, sentinel, got)

	require.NoError(t, WithSpan(context.Background(), "dap.threads", func(ctx context.Context) error {
		return nil
	}))
}

func TestRequestAttributes(t *testing.T) {
	attrs := RequestAttributes("setBreakpoints", 7, "sess-1")
	require.Len(t, attrs, 3)
	assert.Equal(t, "dap.command", string(attrs[0].Key))
	assert.Equal(t, "setBreakpoints", attrs[0].Value.AsString())
}

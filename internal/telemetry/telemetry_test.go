package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoOpTracer(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	require.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOpBeforeInit(t *testing.T) {
	tracer = nil
	enabled = false

	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpanWorksWithoutInit(t *testing.T) {
	ctx := context.Background()
	newCtx, span := StartSpan(ctx, "paxos.acquire")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() { RecordError(ctx, nil) })
	assert.NotPanics(t, func() { RecordError(ctx, errors.New("ballot aborted")) })
}

func TestTraceIDEmptyWithoutActiveSpan(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}

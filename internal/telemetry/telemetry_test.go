package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "kanri", Version: "test", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// Global providers stay usable without an exporter.
	_, span := Tracer("kanri/test").Start(context.Background(), "noop")
	span.End()
	c, err := Meter("kanri/test").Int64Counter("kanri.test.count")
	require.NoError(t, err)
	c.Add(context.Background(), 1)
}

func TestInit_WithEndpoint(t *testing.T) {
	// Exporters connect lazily, so an unreachable collector does not fail Init.
	shutdown, err := Init(context.Background(), Config{Endpoint: "127.0.0.1:1", ServiceName: "kanri", Version: "test", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

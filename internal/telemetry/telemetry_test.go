package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	for _, cfg := range []*types.TelemetryConfig{nil, {ServiceName: "x"}} {
		shutdown, err := Setup(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
		assert.NoError(t, ForceFlush(context.Background()))
		_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
		assert.False(t, isSDK)
	}
}

func TestSetup_InstallsSDKProviders(t *testing.T) {
	shutdown, err := Setup(context.Background(), &types.TelemetryConfig{
		OTLPEndpoint: "127.0.0.1:4317",
		Insecure:     true,
	})
	require.NoError(t, err)
	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	// Nothing listens on the endpoint; only the provider swap matters here.
	_ = shutdown(ctx)
	_, _ = Setup(context.Background(), nil)
}

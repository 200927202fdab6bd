package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vibast-solutions/ms-go-accounts/config"
)

func TestSetup_DisabledWithoutCollector(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "ms-go-accounts"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewResource_CarriesServiceName(t *testing.T) {
	res, err := newResource(context.Background(), "ms-go-accounts")
	require.NoError(t, err)

	value, ok := res.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, "ms-go-accounts", value.AsString())
}

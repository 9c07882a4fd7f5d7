package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perpscope/perpscope/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	provider, shutdown, err := Init(context.Background(), config.TelemetryConfig{
		OTLPEndpoint:  "",
		ServiceName:   "perpscope-test",
		EnableMetrics: true,
	})
	require.NoError(t, err)
	require.NotNil(t, provider)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitMetricsDisabled(t *testing.T) {
	_, shutdown, err := Init(context.Background(), config.TelemetryConfig{
		OTLPEndpoint:  "localhost:4318",
		EnableMetrics: false,
	})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		insecure bool
		wantErr  bool
	}{
		{"collector:4318", "collector:4318", false, false},
		{"http://collector:4318", "collector:4318", true, false},
		{"https://collector:4318", "collector:4318", false, false},
		{"http://", "", false, true},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.host, host, tc.in)
		require.Equal(t, tc.insecure, insecure, tc.in)
	}
}

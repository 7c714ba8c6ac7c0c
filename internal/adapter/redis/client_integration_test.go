package redis

import (
	"context"
	"testing"

	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Connects(t *testing.T) {
	client := setupTestClient(t)

	err := client.Ping(context.Background()).Err()
	require.NoError(t, err)
}

func TestNewClient_MetricsHookRecordsCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	redisMetrics := metrics.NewRedisMetrics(prometheus.NewRegistry())
	client, err := NewClient(context.Background(), testRedisURL, redisMetrics)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Publish(context.Background(), "livepoll:test", "x").Err())

	assert.InDelta(t, 1, testutil.ToFloat64(redisMetrics.OpsTotal.WithLabelValues("publish", "success")), 0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(redisMetrics.OpsTotal.WithLabelValues("ping", "success")), 1.0)
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope", nil)
	assert.Error(t, err)
}

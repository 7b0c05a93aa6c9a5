package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r)
	assert.NotNil(t, r.PoolBlocks)
	assert.NotNil(t, r.AllocationsTotal)
	assert.NotNil(t, r.RawAllocDuration)
	assert.NotNil(t, r.GetPrometheusRegistry())
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}

func TestSetPoolState(t *testing.T) {
	r := NewRegistry()
	r.SetPoolState("a", "host", 3, 1, 4096)

	assert.Equal(t, 3.0, gaugeValue(t, r.PoolBlocks.WithLabelValues("a", "host")))
	assert.Equal(t, 1.0, gaugeValue(t, r.PoolFreeBlocks.WithLabelValues("a", "host")))
	assert.Equal(t, 4096.0, gaugeValue(t, r.PoolBytes.WithLabelValues("a", "host")))
}

func TestRecordOperations(t *testing.T) {
	r := NewRegistry()

	r.RecordAllocation("a", "device", PathRaw)
	r.RecordAllocation("a", "device", PathReuse)
	r.RecordAllocation("a", "device", PathReuse)
	r.RecordDeallocation("a", "device")
	r.RecordRelease("a", "device", 2, 512)
	r.RecordRelease("a", "device", 0, 0)
	r.RecordFailure("a", "device", ReasonDoubleFree)
	r.RecordGC("a")
	r.RecordRawAllocation("a", "device", time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, r.AllocationsTotal.WithLabelValues("a", "device", PathReuse)))
	assert.Equal(t, 1.0, counterValue(t, r.AllocationsTotal.WithLabelValues("a", "device", PathRaw)))
	assert.Equal(t, 1.0, counterValue(t, r.DeallocationsTotal.WithLabelValues("a", "device")))
	assert.Equal(t, 2.0, counterValue(t, r.ReleasedBlocksTotal.WithLabelValues("a", "device")))
	assert.Equal(t, 512.0, counterValue(t, r.ReleasedBytesTotal.WithLabelValues("a", "device")))
	assert.Equal(t, 1.0, counterValue(t, r.FailuresTotal.WithLabelValues("a", "device", ReasonDoubleFree)))
	assert.Equal(t, 1.0, counterValue(t, r.GCRunsTotal.WithLabelValues("a")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.SetPoolState("bench", "host", 5, 2, 1024)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `poolalloc_pool_blocks{allocator="bench",space="host"} 5`))
}

package distmon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eryajf/promwrite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticCollector struct {
	metrics []Metric
}

func (s staticCollector) Name() string      { return "static" }
func (s staticCollector) Collect() []Metric { return s.metrics }

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{})
	require.ErrorIs(t, err, ErrMissingServiceName)

	_, err = NewManager(Config{ServiceName: "orders", RemoteWriteURL: "://bad"})
	require.ErrorContains(t, err, "parse remote write url")
}

func TestConvertToTimeSeries(t *testing.T) {
	mgr, err := newManager(Config{
		Namespace:    "shop",
		Subsystem:    "prod",
		ServiceName:  "orders",
		InstanceName: "A",
		Version:      "1.2.0",
		CustomLabels: map[string]string{"region": "eu"},
	})
	require.NoError(t, err)

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	series := mgr.convertToTimeSeries([]Metric{{
		Name:      "monitor_hits",
		Value:     3,
		Labels:    map[string]string{"label": "reqTime"},
		Timestamp: stamp,
	}})
	require.Len(t, series, 1)
	require.Equal(t, []promwrite.Label{
		{Name: "__name__", Value: "shop_prod_monitor_hits"},
		{Name: "instance", Value: "A"},
		{Name: "_target_", Value: "orders"},
		{Name: "version", Value: "1.2.0"},
		{Name: "region", Value: "eu"},
		{Name: "label", Value: "reqTime"},
	}, series[0].Labels)
	require.Equal(t, promwrite.Sample{Time: stamp, Value: 3}, series[0].Sample)
}

func TestManagerGetMetrics(t *testing.T) {
	mgr, err := newManager(Config{ServiceName: "orders", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	reg := NewRegistry("monitors", nil)
	reg.Get(key("reqTime", "A")).Add(1)
	mgr.RegisterCollector(reg)
	mgr.RegisterCollector(NewAggregator("aggregator", nil))

	require.Len(t, mgr.GetMetrics(), 6+5)
}

func TestFlushWithoutClient(t *testing.T) {
	mgr, err := newManager(Config{ServiceName: "orders"})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	require.ErrorContains(t, mgr.Flush(context.Background()), "no remote write client configured")
}

func TestFlushWritesToRemote(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mgr, err := newManager(Config{ServiceName: "orders", RemoteWriteURL: srv.URL, InstanceName: "A"})
	require.NoError(t, err)

	// nothing collected, nothing sent
	require.NoError(t, mgr.Flush(context.Background()))
	require.Equal(t, int32(0), hits.Load())

	mgr.RegisterCollector(staticCollector{metrics: []Metric{{Name: "up", Value: 1, Timestamp: time.Now()}}})
	require.NoError(t, mgr.Flush(context.Background()))
	require.Equal(t, int32(1), hits.Load())
}

func TestFlushReportsRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mgr, err := newManager(Config{ServiceName: "orders", RemoteWriteURL: srv.URL})
	require.NoError(t, err)
	mgr.RegisterCollector(staticCollector{metrics: []Metric{{Name: "up", Value: 1, Timestamp: time.Now()}}})

	require.ErrorContains(t, mgr.Flush(context.Background()), "writing time series failed")
}

package distmon

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricNamesOrder(t *testing.T) {
	require.Equal(t, []string{"value", "min", "max", "maxactive"}, MetricNames())
}

func TestMonKey(t *testing.T) {
	k := MonKey{Label: "reqTime", Units: "ms", Instance: "A"}
	require.Equal(t, "A", k.InstanceName())
	require.Equal(t, "reqTime, ms (A)", k.String())
	require.Equal(t, MonKey{Label: "reqTime", Units: "ms"}, k.Logical())
}

func TestMonitorAddStats(t *testing.T) {
	mon := NewMonitor(key("reqTime", "A"))
	mon.Add(10)
	mon.Add(2)
	mon.Add(6)

	st := mon.Snapshot()
	require.Equal(t, int64(3), st.Hits)
	require.Equal(t, 18.0, st.Total)
	require.Equal(t, 6.0, st.Avg)
	require.Equal(t, 2.0, st.Min)
	require.Equal(t, 10.0, st.Max)
	require.Equal(t, 6.0, st.LastValue)
	require.False(t, st.FirstAccess.IsZero())
	require.False(t, st.LastAccess.Before(st.FirstAccess))

	mon.Reset()
	require.Equal(t, MonitorStats{}, mon.Snapshot())
}

func TestMonitorFiresSlots(t *testing.T) {
	mon := NewMonitor(key("reqTime", "A"))
	value := NewFIFOBuffer("", 10)
	minBuf := NewFIFOBuffer("", 10)
	maxBuf := NewFIFOBuffer("", 10)
	active := NewFIFOBuffer("", 10)
	require.NoError(t, mon.AddListener(MetricValue, value))
	require.NoError(t, mon.AddListener(MetricMin, minBuf))
	require.NoError(t, mon.AddListener(MetricMax, maxBuf))
	require.NoError(t, mon.AddListener(MetricMaxActive, active))

	mon.AddDetail(5, "first")
	mon.Add(3)
	mon.Add(8)
	mon.Add(4)

	require.Equal(t, 4, value.Len())
	require.Equal(t, 2, minBuf.Len())
	require.Equal(t, 2, maxBuf.Len())
	require.Equal(t, "first", value.Rows()[0][0])
	require.Equal(t, "reqTime", value.Rows()[1][0])

	a := mon.Start()
	b := mon.Start()
	b.Stop()
	mon.Start()
	a.Stop()
	require.Equal(t, 2, active.Len())
	require.Equal(t, 2.0, mon.Snapshot().MaxActive)
	require.Equal(t, 1.0, mon.Snapshot().Active)
}

func TestMonitorStopNil(t *testing.T) {
	var mon *Monitor
	mon.Stop()
}

func TestMonitorUnknownMetric(t *testing.T) {
	mon := NewMonitor(key("reqTime", "A"))
	err := mon.AddListener("p99", NewFIFOBuffer("", 5))
	require.True(t, errors.Is(err, ErrUnknownMetric))
	require.Nil(t, mon.ListenerType("p99"))
	require.False(t, mon.HasListener("p99", FIFOBufferName))
	require.False(t, mon.RemoveListener("p99", FIFOBufferName))
}

func TestListenerTypeWrapsSecondListener(t *testing.T) {
	mon := NewMonitor(key("reqTime", "A"))
	lt := mon.ListenerType(MetricValue)
	require.Equal(t, MetricValue, lt.Metric())
	require.Nil(t, lt.Listener())

	first := NewFIFOBuffer("first", 5)
	lt.AddListener(first)
	require.Same(t, first, lt.Listener())

	second := NewMaxBuffer("second", 5)
	lt.AddListener(second)
	root := lt.Listener()
	require.Equal(t, KindComposite, root.Kind())
	require.Equal(t, CompositeListenerName, root.Name())
	require.Equal(t, []Listener{first, second}, root.(*CompositeListener).Children())

	third := NewMinBuffer("third", 5)
	lt.AddListener(third)
	require.Same(t, root, lt.Listener())
	require.Equal(t, 3, root.(*CompositeListener).Len())

	lt.AddListener(nil)
	require.Equal(t, 3, root.(*CompositeListener).Len())

	require.True(t, mon.HasListener(MetricValue, "second"))
	require.Same(t, third, lt.ListenerNamed("third"))
	require.False(t, mon.HasListener(MetricMin, "second"))
}

func TestListenerTypeRemove(t *testing.T) {
	lt := newListenerType(MetricValue)
	lt.AddListener(NewFIFOBuffer("a", 5))
	require.False(t, lt.RemoveListener("b"))
	require.True(t, lt.RemoveListener("a"))
	require.Nil(t, lt.Listener())
	require.False(t, lt.RemoveListener("a"))

	lt.AddListener(NewFIFOBuffer("a", 5))
	lt.AddListener(NewFIFOBuffer("b", 5))
	require.True(t, lt.RemoveListener("a"))
	require.NotNil(t, lt.Listener())
	require.True(t, lt.RemoveListener("b"))
	require.Nil(t, lt.Listener())
}

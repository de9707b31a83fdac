package distmon

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AggregateInstance is the instance name of monitors holding merged data
const AggregateInstance = "aggregated"

// BaseCollector provides basic collector functionality
type BaseCollector struct {
	name   string
	logger *zap.Logger
}

// Name implements Collector interface
func (b *BaseCollector) Name() string {
	return b.name
}

// NewBaseCollector creates a base collector
func NewBaseCollector(name string, logger *zap.Logger) BaseCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseCollector{
		name:   name,
		logger: logger,
	}
}

// Registry owns the monitors of a process, keyed by label, units and instance
type Registry struct {
	BaseCollector
	monitors map[MonKey]*Monitor
	mutex    sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(name string, logger *zap.Logger) *Registry {
	return &Registry{
		BaseCollector: NewBaseCollector(name, logger),
		monitors:      make(map[MonKey]*Monitor),
	}
}

// Get returns the monitor for key, creating it on first use
func (r *Registry) Get(key MonKey) *Monitor {
	r.mutex.RLock()
	mon, exists := r.monitors[key]
	r.mutex.RUnlock()

	if !exists {
		r.mutex.Lock()
		if mon, exists = r.monitors[key]; !exists {
			mon = NewMonitor(key)
			r.monitors[key] = mon
			r.logger.Debug("created monitor", zap.Stringer("key", key))
		}
		r.mutex.Unlock()
	}
	return mon
}

// Find returns the monitor for key without creating it
func (r *Registry) Find(key MonKey) (*Monitor, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	mon, ok := r.monitors[key]
	return mon, ok
}

// Instances returns every monitor recorded for label and units, sorted by
// instance name. The aggregate monitor is excluded.
func (r *Registry) Instances(label, units string) []*Monitor {
	r.mutex.RLock()
	var out []*Monitor
	for key, mon := range r.monitors {
		if key.Label == label && key.Units == units && key.Instance != AggregateInstance {
			out = append(out, mon)
		}
	}
	r.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().Instance < out[j].Key().Instance
	})
	return out
}

// Remove drops the monitor for key
func (r *Registry) Remove(key MonKey) {
	r.mutex.Lock()
	delete(r.monitors, key)
	r.mutex.Unlock()
}

// Reset drops every monitor
func (r *Registry) Reset() {
	r.mutex.Lock()
	r.monitors = make(map[MonKey]*Monitor)
	r.mutex.Unlock()
}

// Len returns the number of monitors
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.monitors)
}

// Combine merges the buffered rows of every instance of label and units into
// the aggregate monitor and returns it
func (r *Registry) Combine(ctx context.Context, agg *Aggregator, label, units string) (*Monitor, error) {
	sources := r.Instances(label, units)
	dest := r.Get(MonKey{Label: label, Units: units, Instance: AggregateInstance})
	if err := agg.MergeInto(ctx, dest, sources...); err != nil {
		return dest, err
	}
	return dest, nil
}

// Collect implements Collector interface
func (r *Registry) Collect() []Metric {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	now := time.Now()
	metrics := make([]Metric, 0, len(r.monitors)*6)

	for key, mon := range r.monitors {
		st := mon.Snapshot()
		labels := map[string]string{
			"label":            key.Label,
			"units":            key.Units,
			"monitor_instance": key.Instance,
		}
		for _, v := range []struct {
			name  string
			value float64
			typ   MetricType
		}{
			{"monitor_hits", float64(st.Hits), Counter},
			{"monitor_avg", st.Avg, Gauge},
			{"monitor_min", st.Min, Gauge},
			{"monitor_max", st.Max, Gauge},
			{"monitor_active", st.Active, Gauge},
			{"monitor_maxactive", st.MaxActive, Gauge},
		} {
			metrics = append(metrics, Metric{
				Name:       v.name,
				Value:      v.value,
				Labels:     labels,
				MetricType: v.typ,
				Timestamp:  now,
			})
		}
	}

	return metrics
}

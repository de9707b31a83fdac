package distmon

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNotInitialized is returned by the package level functions before Init
var ErrNotInitialized = errors.New("monitor system not initialized")

// Global monitor instance
var (
	globalMu         sync.RWMutex
	globalManager    *managerImpl
	globalRegistry   *Registry
	globalAggregator *Aggregator
	globalInstance   string
)

// Init initializes the global monitoring system. Calling it again before
// Shutdown is a no-op.
func Init(config Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalManager != nil {
		return nil
	}

	mgr, err := newManager(config)
	if err != nil {
		return err
	}

	registry := NewRegistry("monitors", mgr.logger)
	mgr.RegisterCollector(registry)
	aggregator := NewAggregator("aggregator", mgr.logger)
	mgr.RegisterCollector(aggregator)

	if err := mgr.Start(); err != nil {
		return err
	}

	globalManager = mgr
	globalRegistry = registry
	globalAggregator = aggregator
	globalInstance = mgr.config.InstanceName

	mgr.logger.Info("monitor system initialized",
		zap.String("namespace", mgr.config.Namespace),
		zap.String("subsystem", mgr.config.Subsystem),
		zap.String("service", mgr.config.ServiceName),
		zap.String("instance", globalInstance))
	return nil
}

func globals() (*Registry, *Aggregator, string) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRegistry, globalAggregator, globalInstance
}

// Get returns the monitor for label and units on this instance, or nil before Init
func Get(label, units string) *Monitor {
	registry, _, instance := globals()
	if registry == nil {
		return nil
	}
	return registry.Get(MonKey{Label: label, Units: units, Instance: instance})
}

// Add records a value on the monitor for label and units
func Add(label, units string, value float64) {
	if mon := Get(label, units); mon != nil {
		mon.Add(value)
	}
}

// AddDetail records a value with a row label for buffer listeners
func AddDetail(label, units string, value float64, detail string) {
	if mon := Get(label, units); mon != nil {
		mon.AddDetail(value, detail)
	}
}

// Start marks an operation active on the monitor for label and units. The
// returned monitor is nil before Init; Stop on it is still safe.
func Start(label, units string) *Monitor {
	if mon := Get(label, units); mon != nil {
		return mon.Start()
	}
	return nil
}

// GlobalRegistry returns the global registry, or nil before Init
func GlobalRegistry() *Registry {
	registry, _, _ := globals()
	return registry
}

// Combine merges every instance of label and units held by the global registry
// into the aggregate monitor
func Combine(ctx context.Context, label, units string) (*Monitor, error) {
	registry, aggregator, _ := globals()
	if registry == nil {
		return nil, ErrNotInitialized
	}
	return registry.Combine(ctx, aggregator, label, units)
}

// RegisterCollector registers a custom metrics collector
func RegisterCollector(collector Collector) error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalManager == nil {
		return ErrNotInitialized
	}
	globalManager.RegisterCollector(collector)
	return nil
}

// ForceWrite immediately writes all current metrics to the remote endpoint
func ForceWrite(ctx context.Context) error {
	globalMu.RLock()
	mgr := globalManager
	globalMu.RUnlock()
	if mgr == nil {
		return ErrNotInitialized
	}
	return mgr.Flush(ctx)
}

// HealthCheck reports whether the monitoring system is initialized
func HealthCheck() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalManager == nil {
		return ErrNotInitialized
	}
	return nil
}

// Shutdown stops the global monitoring system and drops every monitor
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalManager != nil {
		globalManager.Stop()
		globalManager = nil
		globalRegistry = nil
		globalAggregator = nil
		globalInstance = ""
	}
}

package distmon

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// Manager collects metrics from registered collectors and ships them to the
// remote write endpoint
type Manager interface {
	Start() error
	Stop()
	RegisterCollector(collector Collector)
	GetMetrics() []Metric
	// Flush writes the current metrics immediately
	Flush(ctx context.Context) error
}

// Collector defines a metrics collector that can provide multiple metrics
type Collector interface {
	Collect() []Metric
	Name() string
}

// Metric represents a single metric data point
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// MetricType represents the type of a metric
type MetricType int

const (
	Counter MetricType = iota
	Gauge
)

type managerImpl struct {
	config     Config
	logger     *zap.Logger
	resolver   *resolver
	collectors []Collector
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mutex      sync.RWMutex

	clientMu sync.Mutex
	client   *promwrite.Client
}

// NewManager creates a new metrics manager
func NewManager(config Config) (Manager, error) {
	return newManager(config)
}

func newManager(config Config) (*managerImpl, error) {
	if config.ServiceName == "" {
		return nil, ErrMissingServiceName
	}
	config = config.withDefaults()

	var host string
	if config.RemoteWriteURL != "" {
		u, err := url.Parse(config.RemoteWriteURL)
		if err != nil {
			return nil, fmt.Errorf("parse remote write url: %w", err)
		}
		host = u.Hostname()
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &managerImpl{
		config:   config,
		logger:   config.Logger,
		resolver: newResolver(config.DNS, host, config.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	if config.RemoteWriteURL != "" {
		mgr.client = promwrite.NewClient(config.RemoteWriteURL)
	}
	return mgr, nil
}

// RegisterCollector implements Manager interface
func (m *managerImpl) RegisterCollector(collector Collector) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.collectors = append(m.collectors, collector)

	m.logger.Debug("registered metrics collector", zap.String("collector", collector.Name()))
}

// Start implements Manager interface
func (m *managerImpl) Start() error {
	if m.currentClient() == nil {
		m.logger.Warn("starting metrics manager without remote write url")
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.RemoteWriteInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := m.Flush(m.ctx); err != nil {
					m.logger.Error("failed to write metrics", zap.Error(err))
				}
			case <-m.ctx.Done():
				return
			}
		}
	}()

	if m.config.DNS.Enable && m.resolver.refreshable() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.config.DNS.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if m.resolver.refresh(m.ctx, false) {
						m.rebuildClient()
					}
				case <-m.ctx.Done():
					return
				}
			}
		}()
	}

	return nil
}

// Stop implements Manager interface
func (m *managerImpl) Stop() {
	m.cancel()
	m.wg.Wait()
}

// GetMetrics implements Manager interface
func (m *managerImpl) GetMetrics() []Metric {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var metrics []Metric
	for _, collector := range m.collectors {
		metrics = append(metrics, collector.Collect()...)
	}
	return metrics
}

// Flush implements Manager interface. A failed write forces a DNS refresh of
// the remote write host and is retried once when the refresh succeeds.
func (m *managerImpl) Flush(ctx context.Context) error {
	client := m.currentClient()
	if client == nil {
		return fmt.Errorf("no remote write client configured")
	}

	metrics := m.GetMetrics()
	if len(metrics) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.RemoteWriteTimeout)
	defer cancel()

	req := &promwrite.WriteRequest{TimeSeries: m.convertToTimeSeries(metrics)}
	if _, err := client.Write(ctx, req); err != nil {
		if !m.resolver.refresh(ctx, true) {
			return fmt.Errorf("writing time series failed: %w", err)
		}
		if _, retryErr := m.rebuildClient().Write(ctx, req); retryErr != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", retryErr)
		}
	}
	return nil
}

func (m *managerImpl) currentClient() *promwrite.Client {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	return m.client
}

// rebuildClient replaces the client so new connections pick up fresh addresses
func (m *managerImpl) rebuildClient() *promwrite.Client {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	m.client = promwrite.NewClient(m.config.RemoteWriteURL)
	m.logger.Info("rebuilt remote write client", zap.String("url", m.config.RemoteWriteURL))
	return m.client
}

// convertToTimeSeries converts metrics to promwrite time series
func (m *managerImpl) convertToTimeSeries(metrics []Metric) []promwrite.TimeSeries {
	result := make([]promwrite.TimeSeries, 0, len(metrics))
	prefix := m.config.Namespace + "_" + m.config.Subsystem

	for _, metric := range metrics {
		labels := make([]promwrite.Label, 0, 4+len(m.config.CustomLabels)+len(metric.Labels))
		labels = append(labels,
			promwrite.Label{Name: "__name__", Value: prefix + "_" + metric.Name},
			promwrite.Label{Name: "instance", Value: m.config.InstanceName},
			promwrite.Label{Name: "_target_", Value: m.config.ServiceName},
		)
		if m.config.Version != "" {
			labels = append(labels, promwrite.Label{Name: "version", Value: m.config.Version})
		}
		for k, v := range m.config.CustomLabels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}
		for k, v := range metric.Labels {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}

		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{
				Time:  metric.Timestamp,
				Value: metric.Value,
			},
		})
	}
	return result
}

package distmon

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Metric slot names
const (
	MetricValue     = "value"
	MetricMin       = "min"
	MetricMax       = "max"
	MetricMaxActive = "maxactive"
)

// ErrUnknownMetric is returned when a listener is attached to a slot that is
// not one of the four metric names
var ErrUnknownMetric = errors.New("unknown metric")

var metricNames = [...]string{MetricValue, MetricMin, MetricMax, MetricMaxActive}

// MetricNames returns the metric slot names in iteration order
func MetricNames() []string {
	return metricNames[:]
}

// MonKey identifies a monitor: one logical metric on one instance
type MonKey struct {
	Label    string
	Units    string
	Instance string
}

// InstanceName returns the instance the monitor was recorded on
func (k MonKey) InstanceName() string {
	return k.Instance
}

// Logical returns the key without its instance
func (k MonKey) Logical() MonKey {
	return MonKey{Label: k.Label, Units: k.Units}
}

func (k MonKey) String() string {
	return fmt.Sprintf("%s, %s (%s)", k.Label, k.Units, k.Instance)
}

// ListenerType is the handle to the listener root of one metric slot.
// A slot holds no listener or exactly one root.
type ListenerType struct {
	mu     sync.RWMutex
	metric string
	root   Listener
}

func newListenerType(metric string) *ListenerType {
	return &ListenerType{metric: metric}
}

// Metric returns the slot name
func (lt *ListenerType) Metric() string {
	return lt.metric
}

// Listener returns the root listener, or nil when the slot is empty
func (lt *ListenerType) Listener() Listener {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.root
}

// AddListener attaches l. An empty slot takes l as its root, a composite root
// gets l appended, and any other root is wrapped together with l in a new
// composite.
func (lt *ListenerType) AddListener(l Listener) {
	if l == nil {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	switch {
	case lt.root == nil:
		lt.root = l
	case lt.root.Kind() == KindComposite:
		lt.root.(*CompositeListener).Add(l)
	default:
		lt.root = NewCompositeListener(CompositeListenerName, lt.root, l)
	}
}

// ListenerNamed returns the listener called name anywhere in the slot
func (lt *ListenerType) ListenerNamed(name string) Listener {
	root := lt.Listener()
	if root == nil {
		return nil
	}
	if root.Name() == name {
		return root
	}
	if root.Kind() == KindComposite {
		return root.(*CompositeListener).Find(name)
	}
	return nil
}

// HasListener reports whether a listener called name is attached
func (lt *ListenerType) HasListener(name string) bool {
	return lt.ListenerNamed(name) != nil
}

// RemoveListener detaches the listener called name. A composite root left
// without children empties the slot.
func (lt *ListenerType) RemoveListener(name string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.root == nil {
		return false
	}
	if lt.root.Name() == name {
		lt.root = nil
		return true
	}
	if lt.root.Kind() != KindComposite {
		return false
	}
	composite := lt.root.(*CompositeListener)
	removed := composite.Remove(name)
	if removed && composite.Len() == 0 {
		lt.root = nil
	}
	return removed
}

// MonitorStats is a point-in-time copy of a monitor's counters
type MonitorStats struct {
	Hits        int64
	Total       float64
	Avg         float64
	Min         float64
	Max         float64
	LastValue   float64
	Active      float64
	MaxActive   float64
	FirstAccess time.Time
	LastAccess  time.Time
}

// Monitor tracks one logical metric on one instance and owns the four metric
// slots listeners are attached to
type Monitor struct {
	key   MonKey
	slots map[string]*ListenerType

	mutex       sync.Mutex
	hits        int64
	total       float64
	min         float64
	max         float64
	last        float64
	active      float64
	maxActive   float64
	firstAccess time.Time
	lastAccess  time.Time
}

// NewMonitor creates a monitor with empty slots
func NewMonitor(key MonKey) *Monitor {
	m := &Monitor{
		key:   key,
		slots: make(map[string]*ListenerType, len(metricNames)),
	}
	for _, name := range metricNames {
		m.slots[name] = newListenerType(name)
	}
	return m
}

// Key returns the monitor key
func (m *Monitor) Key() MonKey {
	return m.key
}

// ListenerType returns the slot handle for metric, or nil for an unknown name
func (m *Monitor) ListenerType(metric string) *ListenerType {
	return m.slots[metric]
}

// HasListener reports whether the metric slot holds a listener called name
func (m *Monitor) HasListener(metric, name string) bool {
	lt := m.ListenerType(metric)
	return lt != nil && lt.HasListener(name)
}

// AddListener attaches l to the metric slot
func (m *Monitor) AddListener(metric string, l Listener) error {
	lt := m.ListenerType(metric)
	if lt == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	lt.AddListener(l)
	return nil
}

// RemoveListener detaches the listener called name from the metric slot
func (m *Monitor) RemoveListener(metric, name string) bool {
	lt := m.ListenerType(metric)
	return lt != nil && lt.RemoveListener(name)
}

// Add records a value
func (m *Monitor) Add(value float64) {
	m.AddDetail(value, "")
}

// AddDetail records a value labelled with detail in listener rows.
// An empty detail uses the monitor label.
func (m *Monitor) AddDetail(value float64, detail string) {
	now := time.Now()

	m.mutex.Lock()
	if m.hits == 0 {
		m.firstAccess = now
	}
	newMin := m.hits == 0 || value < m.min
	newMax := m.hits == 0 || value > m.max
	m.hits++
	m.total += value
	m.last = value
	m.lastAccess = now
	if newMin {
		m.min = value
	}
	if newMax {
		m.max = value
	}
	s := Sample{Key: m.key, Label: detail, Value: value, Active: m.active, Time: now}
	m.mutex.Unlock()

	m.fire(MetricValue, s)
	if newMin {
		m.fire(MetricMin, s)
	}
	if newMax {
		m.fire(MetricMax, s)
	}
}

// Start marks one more concurrent operation as active and returns the monitor
// so the caller can Stop it
func (m *Monitor) Start() *Monitor {
	m.mutex.Lock()
	m.active++
	peak := m.active > m.maxActive
	if peak {
		m.maxActive = m.active
	}
	s := Sample{Key: m.key, Value: m.active, Active: m.active, Time: time.Now()}
	m.mutex.Unlock()

	if peak {
		m.fire(MetricMaxActive, s)
	}
	return m
}

// Stop ends an operation begun with Start
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mutex.Lock()
	if m.active > 0 {
		m.active--
	}
	m.mutex.Unlock()
}

// Snapshot returns the current counters
func (m *Monitor) Snapshot() MonitorStats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	st := MonitorStats{
		Hits:        m.hits,
		Total:       m.total,
		Min:         m.min,
		Max:         m.max,
		LastValue:   m.last,
		Active:      m.active,
		MaxActive:   m.maxActive,
		FirstAccess: m.firstAccess,
		LastAccess:  m.lastAccess,
	}
	if m.hits > 0 {
		st.Avg = m.total / float64(m.hits)
	}
	return st
}

// Reset clears the counters. Listeners stay attached.
func (m *Monitor) Reset() {
	m.mutex.Lock()
	m.hits, m.total, m.min, m.max, m.last = 0, 0, 0, 0, 0
	m.active, m.maxActive = 0, 0
	m.firstAccess, m.lastAccess = time.Time{}, time.Time{}
	m.mutex.Unlock()
}

func (m *Monitor) fire(metric string, s Sample) {
	if root := m.slots[metric].Listener(); root != nil {
		root.Process(s)
	}
}

package distmon

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultBufferSize is the capacity of every aggregated buffer listener,
// whatever the capacity of the source buffers merged into it
const DefaultBufferSize = 250

const (
	aggregatedSuffix = "_aggregated"
	labelField       = 0
)

// ErrListenerConflict is returned when the destination slot already holds a
// listener under the aggregated name that cannot buffer rows
var ErrListenerConflict = errors.New("aggregated listener is not a buffer listener")

// AggregatedName returns the name of the destination listener that receives
// rows merged from the source listener called name
func AggregatedName(name string) string {
	return name + aggregatedSuffix
}

// ListenerInfo pairs a discovered listener with the metric slot it hangs off
type ListenerInfo struct {
	Metric   string
	Listener Listener
}

// DiscoverListeners flattens the listeners attached to m into metric order
// (value, min, max, maxactive). Composites are expanded depth-first, left to
// right, and never appear in the result.
func DiscoverListeners(m *Monitor) []ListenerInfo {
	if m == nil {
		return nil
	}
	var infos []ListenerInfo
	for _, metric := range MetricNames() {
		lt := m.ListenerType(metric)
		if lt == nil {
			continue
		}
		infos = appendListeners(infos, metric, lt.Listener())
	}
	return infos
}

// DiscoverBufferListeners is DiscoverListeners restricted to buffer listeners,
// the only kind that takes part in aggregation
func DiscoverBufferListeners(m *Monitor) []ListenerInfo {
	var infos []ListenerInfo
	for _, info := range DiscoverListeners(m) {
		if info.Listener.Kind() == KindBuffer {
			infos = append(infos, info)
		}
	}
	return infos
}

func appendListeners(infos []ListenerInfo, metric string, l Listener) []ListenerInfo {
	if l == nil {
		return infos
	}
	switch l.Kind() {
	case KindComposite:
		for _, child := range l.(*CompositeListener).Children() {
			infos = appendListeners(infos, metric, child)
		}
	default:
		infos = append(infos, ListenerInfo{Metric: metric, Listener: l})
	}
	return infos
}

// MergeStats summarises one Merge call
type MergeStats struct {
	// Listeners is the number of source buffer listeners holding data
	Listeners int
	// Created is the number of aggregated listeners attached to the destination
	Created int
	// Rows is the number of rows offered to destination buffers
	Rows int
	// Accepted is the number of offered rows the destination buffers kept
	Accepted int
}

// Merger copies buffered rows from one monitor into another.
//
// Merges into the same destination must be serialized by the caller; the
// source is only read.
type Merger struct {
	logger *zap.Logger
}

// NewMerger creates a merger. logger may be nil.
func NewMerger(logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{logger: logger}
}

// MergeBufferData copies the rows of every buffer listener on from into the
// matching aggregated buffer listener on to, creating it when missing
func MergeBufferData(from, to *Monitor) error {
	_, err := NewMerger(nil).Merge(from, to)
	return err
}

// Merge is MergeBufferData with statistics. Rows already copied stay copied
// when an error is returned.
func (m *Merger) Merge(from, to *Monitor) (MergeStats, error) {
	var stats MergeStats
	if from == nil || to == nil {
		return stats, nil
	}
	instance := from.Key().InstanceName()

	for _, info := range DiscoverBufferListeners(from) {
		src := info.Listener.(*BufferListener)
		if !src.HasData() {
			continue
		}
		stats.Listeners++

		slot := to.ListenerType(info.Metric)
		if slot == nil {
			return stats, fmt.Errorf("%w: %q", ErrUnknownMetric, info.Metric)
		}
		dst, created, err := aggregatedBuffer(slot, src)
		if err != nil {
			return stats, err
		}
		if created {
			stats.Created++
			m.logger.Debug("attached aggregated buffer listener",
				zap.Stringer("monitor", to.Key()),
				zap.String("metric", info.Metric),
				zap.String("listener", dst.Name()),
				zap.String("holder", dst.Holder().Name()))
		}

		offered, accepted := copyRows(src, dst, instance)
		stats.Rows += offered
		stats.Accepted += accepted
		m.logger.Debug("copied buffer rows",
			zap.String("instance", instance),
			zap.String("metric", info.Metric),
			zap.String("listener", dst.Name()),
			zap.Int("offered", offered),
			zap.Int("accepted", accepted))
	}
	return stats, nil
}

// aggregatedBuffer finds the counterpart of src in the destination slot, or
// clones src into a fresh one and attaches it
func aggregatedBuffer(slot *ListenerType, src *BufferListener) (*BufferListener, bool, error) {
	name := AggregatedName(src.Name())
	if existing := slot.ListenerNamed(name); existing != nil {
		if existing.Kind() != KindBuffer {
			return nil, false, fmt.Errorf("%w: %s %s", ErrListenerConflict, slot.Metric(), name)
		}
		return existing.(*BufferListener), false, nil
	}

	dst := src.Clone()
	dst.SetName(name)
	dst.SetCapacity(DefaultBufferSize)
	dst.Reset()
	slot.AddListener(dst)
	return dst, true, nil
}

// copyRows offers every row of src to dst with the label tagged by instance
func copyRows(src, dst *BufferListener, instance string) (offered, accepted int) {
	suffix := " - (instanceName: " + instance + ")"
	for _, row := range src.Rows() {
		if label := row.Label(); label != nil {
			row[labelField] = fmt.Sprint(label) + suffix
		}
		// the destination holder decides what is kept
		if dst.AddRow(row) {
			accepted++
		}
		offered++
	}
	return offered, accepted
}

package distmon

import (
	"sync"
)

// Default buffer listener names
const (
	FIFOBufferName = "fifobuffer"
	MaxBufferName  = "maxbuffer"
	MinBufferName  = "minbuffer"
)

// valueField is the row position extremum holders compare on
const valueField = 1

// Row is one recorded sample. Field 0 is the label.
type Row []any

// Clone returns a shallow copy of the row fields
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Label returns field 0, or nil for an empty row
func (r Row) Label() any {
	if len(r) == 0 {
		return nil
	}
	return r[0]
}

// BufferHolder decides whether a BufferListener accepts a row.
// Eviction past capacity is handled by the listener, oldest first.
type BufferHolder interface {
	Name() string
	Accept(held []Row, row Row) bool
}

// FIFOHolder accepts every row
type FIFOHolder struct{}

// Name implements BufferHolder
func (FIFOHolder) Name() string { return "fifo" }

// Accept implements BufferHolder
func (FIFOHolder) Accept([]Row, Row) bool { return true }

// MaxHolder accepts a row only when its value exceeds every held value
type MaxHolder struct{}

// Name implements BufferHolder
func (MaxHolder) Name() string { return "max" }

// Accept implements BufferHolder
func (MaxHolder) Accept(held []Row, row Row) bool {
	return acceptExtremum(held, row, func(v, best float64) bool { return v > best })
}

// MinHolder accepts a row only when its value is below every held value
type MinHolder struct{}

// Name implements BufferHolder
func (MinHolder) Name() string { return "min" }

// Accept implements BufferHolder
func (MinHolder) Accept(held []Row, row Row) bool {
	return acceptExtremum(held, row, func(v, best float64) bool { return v < best })
}

func acceptExtremum(held []Row, row Row, better func(v, best float64) bool) bool {
	v, ok := rowValue(row)
	if !ok {
		return false
	}
	for _, h := range held {
		hv, ok := rowValue(h)
		if ok && !better(v, hv) {
			return false
		}
	}
	return true
}

func rowValue(row Row) (float64, bool) {
	if len(row) <= valueField {
		return 0, false
	}
	switch v := row[valueField].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// BufferListener retains a bounded history of rows under a BufferHolder policy
type BufferListener struct {
	mu       sync.RWMutex
	name     string
	holder   BufferHolder
	capacity int
	rows     []Row
}

// NewBufferListener creates a buffer listener. A nil holder means FIFO and a
// capacity <= 0 means DefaultBufferSize.
func NewBufferListener(name string, holder BufferHolder, capacity int) *BufferListener {
	if holder == nil {
		holder = FIFOHolder{}
	}
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &BufferListener{
		name:     name,
		holder:   holder,
		capacity: capacity,
	}
}

// NewFIFOBuffer creates a buffer that keeps the newest capacity rows
func NewFIFOBuffer(name string, capacity int) *BufferListener {
	if name == "" {
		name = FIFOBufferName
	}
	return NewBufferListener(name, FIFOHolder{}, capacity)
}

// NewMaxBuffer creates a buffer that only records new maximum values
func NewMaxBuffer(name string, capacity int) *BufferListener {
	if name == "" {
		name = MaxBufferName
	}
	return NewBufferListener(name, MaxHolder{}, capacity)
}

// NewMinBuffer creates a buffer that only records new minimum values
func NewMinBuffer(name string, capacity int) *BufferListener {
	if name == "" {
		name = MinBufferName
	}
	return NewBufferListener(name, MinHolder{}, capacity)
}

func (b *BufferListener) listener() {}

// Name implements Listener
func (b *BufferListener) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// SetName implements Listener
func (b *BufferListener) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

// Kind implements Listener
func (b *BufferListener) Kind() ListenerKind { return KindBuffer }

// Holder returns the acceptance policy
func (b *BufferListener) Holder() BufferHolder {
	return b.holder
}

// Capacity returns the maximum number of rows retained
func (b *BufferListener) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// SetCapacity changes the retention bound, evicting the oldest rows when it
// shrinks. n <= 0 means DefaultBufferSize.
func (b *BufferListener) SetCapacity(n int) {
	if n <= 0 {
		n = DefaultBufferSize
	}
	b.mu.Lock()
	b.capacity = n
	b.trim()
	b.mu.Unlock()
}

// HasData reports whether any rows are held
func (b *BufferListener) HasData() bool {
	return b.Len() > 0
}

// Len returns the number of rows held
func (b *BufferListener) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

// Rows returns copies of the held rows, oldest first
func (b *BufferListener) Rows() []Row {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Row, len(b.rows))
	for i, r := range b.rows {
		out[i] = r.Clone()
	}
	return out
}

// AddRow offers a row to the buffer. It reports whether the holder accepted it.
func (b *BufferListener) AddRow(row Row) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.holder.Accept(b.rows, row) {
		return false
	}
	b.rows = append(b.rows, row)
	b.trim()
	return true
}

// Reset drops all held rows
func (b *BufferListener) Reset() {
	b.mu.Lock()
	b.rows = nil
	b.mu.Unlock()
}

// Process implements Listener
func (b *BufferListener) Process(s Sample) {
	b.AddRow(s.row())
}

// Clone returns a buffer listener with the same name, holder and capacity and
// no rows
func (b *BufferListener) Clone() *BufferListener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &BufferListener{
		name:     b.name,
		holder:   b.holder,
		capacity: b.capacity,
	}
}

// Copy implements Listener
func (b *BufferListener) Copy() Listener {
	return b.Clone()
}

// trim must be called with b.mu held
func (b *BufferListener) trim() {
	if excess := len(b.rows) - b.capacity; excess > 0 {
		b.rows = append([]Row(nil), b.rows[excess:]...)
	}
}

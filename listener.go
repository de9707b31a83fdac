package distmon

import (
	"sync"
	"time"
)

// ListenerKind tags the capability set of a Listener
type ListenerKind int

const (
	// KindPlain listeners observe samples and hold no buffer
	KindPlain ListenerKind = iota
	// KindComposite listeners fan samples out to ordered children
	KindComposite
	// KindBuffer listeners retain a bounded history of rows
	KindBuffer
)

// String returns the kind name
func (k ListenerKind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindComposite:
		return "composite"
	case KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// CompositeListenerName is the name given to composites created implicitly
// when a second listener is attached to an occupied slot
const CompositeListenerName = "_compositeListener"

// Sample is one observation delivered to the listeners of a metric slot
type Sample struct {
	Key    MonKey
	Label  string
	Value  float64
	Active float64
	Time   time.Time
}

// row converts a sample to the buffer row layout: label, value, active, time
func (s Sample) row() Row {
	label := s.Label
	if label == "" {
		label = s.Key.Label
	}
	return Row{label, s.Value, s.Active, s.Time}
}

// Listener is attached to a metric slot of a Monitor.
//
// The set of implementations is closed: FuncListener, CompositeListener and
// BufferListener. Callers dispatch on Kind.
type Listener interface {
	Name() string
	SetName(name string)
	Kind() ListenerKind
	Process(s Sample)
	// Copy returns a structurally identical listener with its data reset
	Copy() Listener

	listener()
}

// FuncListener is a plain listener that hands every sample to a callback
type FuncListener struct {
	mu   sync.RWMutex
	name string
	fn   func(Sample)
}

// NewFuncListener creates a plain listener. fn may be nil.
func NewFuncListener(name string, fn func(Sample)) *FuncListener {
	return &FuncListener{name: name, fn: fn}
}

func (f *FuncListener) listener() {}

// Name implements Listener
func (f *FuncListener) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

// SetName implements Listener
func (f *FuncListener) SetName(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
}

// Kind implements Listener
func (f *FuncListener) Kind() ListenerKind { return KindPlain }

// Process implements Listener
func (f *FuncListener) Process(s Sample) {
	if f.fn != nil {
		f.fn(s)
	}
}

// Copy implements Listener
func (f *FuncListener) Copy() Listener {
	return NewFuncListener(f.Name(), f.fn)
}

// CompositeListener fans samples out to its children in order
type CompositeListener struct {
	mu       sync.RWMutex
	name     string
	children []Listener
}

// NewCompositeListener creates a composite holding the given children.
// An empty name falls back to CompositeListenerName.
func NewCompositeListener(name string, children ...Listener) *CompositeListener {
	if name == "" {
		name = CompositeListenerName
	}
	c := &CompositeListener{name: name}
	for _, child := range children {
		c.Add(child)
	}
	return c
}

func (c *CompositeListener) listener() {}

// Name implements Listener
func (c *CompositeListener) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// SetName implements Listener
func (c *CompositeListener) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Kind implements Listener
func (c *CompositeListener) Kind() ListenerKind { return KindComposite }

// Add appends a child. nil is ignored.
func (c *CompositeListener) Add(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.children = append(c.children, l)
	c.mu.Unlock()
}

// Children returns the children in their defined order
func (c *CompositeListener) Children() []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Listener, len(c.children))
	copy(out, c.children)
	return out
}

// Len returns the number of direct children
func (c *CompositeListener) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.children)
}

// Find returns the first listener named name, searching depth-first
func (c *CompositeListener) Find(name string) Listener {
	for _, child := range c.Children() {
		if child.Name() == name {
			return child
		}
		if child.Kind() == KindComposite {
			if found := child.(*CompositeListener).Find(name); found != nil {
				return found
			}
		}
	}
	return nil
}

// Remove detaches the first listener named name, searching depth-first.
// It reports whether a listener was removed.
func (c *CompositeListener) Remove(name string) bool {
	c.mu.Lock()
	for i, child := range c.children {
		if child.Name() == name {
			c.children = append(c.children[:i:i], c.children[i+1:]...)
			c.mu.Unlock()
			return true
		}
	}
	children := append([]Listener(nil), c.children...)
	c.mu.Unlock()

	for _, child := range children {
		if child.Kind() == KindComposite && child.(*CompositeListener).Remove(name) {
			return true
		}
	}
	return false
}

// Process implements Listener
func (c *CompositeListener) Process(s Sample) {
	for _, child := range c.Children() {
		child.Process(s)
	}
}

// Copy implements Listener. Children are copied recursively.
func (c *CompositeListener) Copy() Listener {
	children := c.Children()
	copies := make([]Listener, 0, len(children))
	for _, child := range children {
		copies = append(copies, child.Copy())
	}
	return NewCompositeListener(c.Name(), copies...)
}

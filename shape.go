package lemonproxy

import "sync/atomic"

// Shape tells whether records form a flat set or a parent linked tree.
type Shape int32

const (
	ShapeUnknown Shape = iota
	ShapeFlat
	ShapeHierarchical
)

func (s Shape) String() string {
	switch s {
	case ShapeFlat:
		return "flat"
	case ShapeHierarchical:
		return "hierarchical"
	}
	return "unknown"
}

// shapeFlag is set at most once and never re-derived.
type shapeFlag struct {
	v int32
}

func (f *shapeFlag) get() Shape {
	return Shape(atomic.LoadInt32(&f.v))
}

// decide sets the shape if it is still unknown and returns the shape in effect.
func (f *shapeFlag) decide(s Shape) Shape {
	if s != ShapeUnknown {
		atomic.CompareAndSwapInt32(&f.v, int32(ShapeUnknown), int32(s))
	}
	return f.get()
}

// Package tensorutils provides utilities for working with tensors
package tensorutils

// Slice selects a range of a tensor dimension. Given a tensor T,
// T.Slice(..., S, ...) is equivalent to T[..., S.start:S.end:S.step, ...]
type Slice struct {
	start, end, step int
}

// NewSlice returns a new Slice over [start, stop) with the given step
func NewSlice(start, stop, step int) Slice {
	return Slice{start, stop, step}
}

// Start returns the first index of the slice
func (s Slice) Start() int {
	return s.start
}

// End returns the index one past the end of the slice
func (s Slice) End() int {
	return s.end
}

// Step returns the slice step
func (s Slice) Step() int {
	return s.step
}

package tablet

import "sync/atomic"

// Handle is a reference-counted pointer to a published Tablet version.
// Handles must never outlive the registry that issued them; dropping the
// last reference releases the underlying Tablet (or, in a pooled
// implementation, returns it to a pool — this implementation simply lets
// it be collected).
type Handle struct {
	refCount int32
	t        *Tablet
}

// NewHandle wraps t with an initial reference count of one.
func NewHandle(t *Tablet) *Handle {
	return &Handle{refCount: 1, t: t}
}

// Get returns the wrapped tablet. The returned pointer is valid for as
// long as the caller holds a reference via this handle.
func (h *Handle) Get() *Tablet {
	return h.t
}

// IncRef increments the handle's reference count and returns it, so
// call sites can write `h = h.IncRef()` at the point a reference is
// retained.
func (h *Handle) IncRef() *Handle {
	atomic.AddInt32(&h.refCount, 1)
	return h
}

// DecRef releases one reference. It reports whether this was the last
// reference (the caller may now discard the handle).
func (h *Handle) DecRef() bool {
	return atomic.AddInt32(&h.refCount, -1) == 0
}

// RefCount returns the current reference count, for diagnostics.
func (h *Handle) RefCount() int32 {
	return atomic.LoadInt32(&h.refCount)
}

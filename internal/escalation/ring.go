package escalation

import "github.com/ShayCichocki/tandem/pkg/models"

// Ring is a fixed-capacity FIFO buffer. Pushing onto a full ring evicts the
// oldest entry. The zero value is not usable; create rings with NewRing.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// NewRing returns an empty ring holding at most capacity entries.
// A capacity below 1 is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring was full, the evicted entry is returned with ok=true.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return evicted, false
	}
	evicted = r.buf[r.start]
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return evicted, true
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Items returns a copy of the entries, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Last returns up to k most recent entries, oldest first.
func (r *Ring[T]) Last(k int) []T {
	items := r.Items()
	if k >= len(items) {
		return items
	}
	if k <= 0 {
		return nil
	}
	return items[len(items)-k:]
}

// Resize returns a ring with the new capacity holding the most recent entries of r.
func (r *Ring[T]) Resize(capacity int) *Ring[T] {
	next := NewRing[T](capacity)
	for _, v := range r.Last(next.Cap()) {
		next.Push(v)
	}
	return next
}

// History indexes bounded attempt rings by task id.
// It is not safe for concurrent use; Policy serialises access.
type History struct {
	capacity int
	rings    map[string]*Ring[models.Attempt]
}

// NewHistory returns an empty history keeping capacity attempts per task.
func NewHistory(capacity int) *History {
	return &History{
		capacity: max(capacity, 1),
		rings:    make(map[string]*Ring[models.Attempt]),
	}
}

// Append records an attempt for the task, evicting its oldest attempt when full.
func (h *History) Append(taskID string, a models.Attempt) {
	r, ok := h.rings[taskID]
	if !ok {
		r = NewRing[models.Attempt](h.capacity)
		h.rings[taskID] = r
	}
	r.Push(a)
}

// Attempts returns the task's attempts, oldest first.
func (h *History) Attempts(taskID string) []models.Attempt {
	r, ok := h.rings[taskID]
	if !ok {
		return nil
	}
	return r.Items()
}

// TrailingFailures reports whether the last k attempts exist and all failed.
func (h *History) TrailingFailures(taskID string, k int) bool {
	r, ok := h.rings[taskID]
	if !ok || k < 1 || r.Len() < k {
		return false
	}
	for _, a := range r.Last(k) {
		if a.Success {
			return false
		}
	}
	return true
}

// SetCapacity changes the per-task capacity, keeping the most recent attempts.
func (h *History) SetCapacity(capacity int) {
	capacity = max(capacity, 1)
	if capacity == h.capacity {
		return
	}
	h.capacity = capacity
	for id, r := range h.rings {
		h.rings[id] = r.Resize(capacity)
	}
}

// Tasks returns the number of tasks with recorded attempts.
func (h *History) Tasks() int { return len(h.rings) }

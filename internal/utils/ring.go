package utils

// Ring is a fixed-capacity buffer that evicts its oldest item on overflow.
// It is not safe for concurrent use.
type Ring[T any] struct {
	items []T
	next  int
	size  int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

func (r *Ring[T]) Push(item T) {
	r.items[r.next] = item
	r.next = (r.next + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.items) }

// Each visits items newest-first until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		idx := (r.next - 1 - i + len(r.items)) % len(r.items)
		if !fn(r.items[idx]) {
			return
		}
	}
}

// Items returns a newest-first copy.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	r.Each(func(item T) bool {
		out = append(out, item)
		return true
	})
	return out
}

package agent

// Memory is a fixed-capacity FIFO ring buffer. Pushing onto a full memory
// evicts the oldest entry.
type Memory[T any] struct {
	buf   []T
	start int
	size  int
}

// NewMemory returns an empty memory holding at most capacity entries.
// Capacities below one are raised to one.
func NewMemory[T any](capacity int) *Memory[T] {
	return &Memory[T]{buf: make([]T, max(1, capacity))}
}

// Push appends v and reports whether an old entry was evicted to make room.
func (m *Memory[T]) Push(v T) bool {
	if m.size < len(m.buf) {
		m.buf[(m.start+m.size)%len(m.buf)] = v
		m.size++
		return false
	}
	m.buf[m.start] = v
	m.start = (m.start + 1) % len(m.buf)
	return true
}

// Len returns the number of stored entries.
func (m *Memory[T]) Len() int { return m.size }

// Cap returns the capacity.
func (m *Memory[T]) Cap() int { return len(m.buf) }

// At returns the i-th entry, oldest first.
func (m *Memory[T]) At(i int) T {
	if i < 0 || i >= m.size {
		panic("agent: memory index out of range")
	}
	return m.buf[(m.start+i)%len(m.buf)]
}

// Items copies the stored entries, oldest first.
func (m *Memory[T]) Items() []T {
	out := make([]T, m.size)
	for i := range out {
		out[i] = m.At(i)
	}
	return out
}

// Reset drops every entry.
func (m *Memory[T]) Reset() {
	var zero T
	for i := range m.buf {
		m.buf[i] = zero
	}
	m.start, m.size = 0, 0
}

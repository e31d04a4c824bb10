package agent

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMemoryEvictsOldest(t *testing.T) {
	m := NewMemory[int](3)
	for i := 1; i <= 3; i++ {
		if m.Push(i) {
			t.Fatalf("push %d evicted before the memory was full", i)
		}
	}
	if !m.Push(4) {
		t.Fatalf("push onto a full memory did not evict")
	}
	got := m.Items()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items = %v, want %v", got, want)
		}
	}
	m.Reset()
	if m.Len() != 0 || m.Cap() != 3 {
		t.Fatalf("after reset len=%d cap=%d", m.Len(), m.Cap())
	}
}

func TestMemoryMinimumCapacity(t *testing.T) {
	m := NewMemory[string](0)
	m.Push("a")
	m.Push("b")
	if m.Cap() != 1 || m.At(0) != "b" {
		t.Fatalf("cap=%d first=%q", m.Cap(), m.At(0))
	}
}

func TestMemoryAtOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewMemory[int](2).At(0)
}

func TestMemoryKeepsNewestProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("memory holds the newest min(n, cap) pushes in order", prop.ForAll(
		func(capacity int, values []int) bool {
			m := NewMemory[int](capacity)
			for _, v := range values {
				m.Push(v)
			}
			keep := min(len(values), capacity)
			if m.Len() != keep {
				return false
			}
			tail := values[len(values)-keep:]
			for i, v := range m.Items() {
				if v != tail[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}

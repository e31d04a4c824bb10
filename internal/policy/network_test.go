package policy

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func newTestNetwork(t *testing.T, in int, hidden []int, out int) *Network {
	t.Helper()
	n, err := NewNetwork(in, hidden, out, 0.05, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	return n
}

func TestNewNetworkValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := NewNetwork(0, nil, 1, 0.1, rng); err == nil {
		t.Fatalf("zero inputs accepted")
	}
	if _, err := NewNetwork(1, nil, 1, 0, rng); err == nil {
		t.Fatalf("zero learning rate accepted")
	}
	if _, err := NewNetwork(1, []int{0}, 1, 0.1, rng); err == nil {
		t.Fatalf("empty hidden layer accepted")
	}
	if _, err := NewNetwork(1, nil, 1, 0.1, nil); err == nil {
		t.Fatalf("nil rng accepted")
	}
}

func TestNetworkShape(t *testing.T) {
	n := newTestNetwork(t, 3, []int{5, 4}, 2)
	if n.InputSize() != 3 || n.OutputSize() != 2 {
		t.Fatalf("shape = %d -> %d", n.InputSize(), n.OutputSize())
	}
	out, err := n.Predict([]float64{1, 2, 3})
	if err != nil || len(out) != 2 {
		t.Fatalf("Predict = %v, %v", out, err)
	}
	if _, err := n.Predict([]float64{1}); !errors.Is(err, ErrDimension) {
		t.Fatalf("short features err = %v", err)
	}
	if _, err := n.Fit([]float64{1, 2, 3}, []float64{1}); !errors.Is(err, ErrDimension) {
		t.Fatalf("short target err = %v", err)
	}
}

func TestNetworkFitConverges(t *testing.T) {
	n, err := NewNetwork(2, []int{8}, 1, 0.01, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	x := []float64{1, 0.5}
	target := []float64{1}

	first, err := n.Fit(x, target)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	var last float64
	for i := 0; i < 2000; i++ {
		if last, err = n.Fit(x, target); err != nil {
			t.Fatalf("Fit: %v", err)
		}
	}
	if !(last < first) || last > 1e-3 {
		t.Fatalf("loss went from %v to %v", first, last)
	}
	out, _ := n.Predict(x)
	if math.Abs(out[0]-1) > 0.05 {
		t.Fatalf("prediction %v did not approach target", out[0])
	}
}

func TestNetworkBinaryRoundTrip(t *testing.T) {
	n := newTestNetwork(t, 3, []int{4}, 2)
	data, err := n.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var restored Network
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	x := []float64{0.3, -1, 2}
	a, _ := n.Predict(x)
	b, _ := restored.Predict(x)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("restored prediction %v != %v", b, a)
		}
	}

	other := newTestNetwork(t, 3, []int{4}, 5)
	if err := other.UnmarshalBinary(data); !errors.Is(err, ErrDimension) {
		t.Fatalf("shape mismatch err = %v, want ErrDimension", err)
	}
	if err := restored.UnmarshalBinary([]byte(`{"version":9}`)); err == nil {
		t.Fatalf("unknown version accepted")
	}
}

func TestUninitialisedNetworkPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != ErrNotInitialized {
			t.Fatalf("recovered %v, want ErrNotInitialized", r)
		}
	}()
	var n Network
	_, _ = n.Predict([]float64{1})
}

func TestArgmax(t *testing.T) {
	cases := []struct {
		in   []float64
		want int
	}{
		{nil, -1},
		{[]float64{1}, 0},
		{[]float64{1, 3, 3}, 1},
		{[]float64{math.Inf(-1), -5, math.Inf(-1)}, 1},
		{[]float64{math.NaN(), 1}, 1},
		{[]float64{2, math.NaN(), 3}, 2},
		{[]float64{math.NaN(), math.NaN()}, -1},
	}
	for _, tc := range cases {
		if got := Argmax(tc.in); got != tc.want {
			t.Fatalf("Argmax(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

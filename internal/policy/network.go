package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

const (
	networkCodecVersion = 1
	// gradientLimit bounds each back-propagated error term so a single
	// outlier reward cannot blow the weights up.
	gradientLimit = 10.0
)

// Network is a fully connected feed-forward network with ReLU hidden layers
// and a linear output layer, trained by plain stochastic gradient descent on
// squared error.
type Network struct {
	learningRate float64
	layers       []layer
}

type layer struct {
	// weights[o][i] connects input i to output o.
	weights [][]float64
	biases  []float64
}

// NewNetwork builds a network with He-initialised weights drawn from rng.
func NewNetwork(inputs int, hidden []int, outputs int, learningRate float64, rng *rand.Rand) (*Network, error) {
	if inputs < 1 || outputs < 1 {
		return nil, fmt.Errorf("network needs at least one input and output, got %d -> %d", inputs, outputs)
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", learningRate)
	}
	if rng == nil {
		return nil, fmt.Errorf("network initialisation needs a random source")
	}

	sizes := append([]int{inputs}, hidden...)
	sizes = append(sizes, outputs)
	n := &Network{learningRate: learningRate}
	for l := 1; l < len(sizes); l++ {
		in, out := sizes[l-1], sizes[l]
		if out < 1 {
			return nil, fmt.Errorf("layer %d has no units", l)
		}
		scale := math.Sqrt(2 / float64(in))
		ly := layer{
			weights: make([][]float64, out),
			biases:  make([]float64, out),
		}
		for o := range ly.weights {
			ly.weights[o] = make([]float64, in)
			for i := range ly.weights[o] {
				ly.weights[o][i] = rng.NormFloat64() * scale
			}
		}
		n.layers = append(n.layers, ly)
	}
	return n, nil
}

func (n *Network) mustBeReady() {
	if n == nil || len(n.layers) == 0 {
		panic(ErrNotInitialized)
	}
}

// InputSize returns the expected feature length.
func (n *Network) InputSize() int {
	n.mustBeReady()
	return len(n.layers[0].weights[0])
}

// OutputSize returns the number of scores produced.
func (n *Network) OutputSize() int {
	n.mustBeReady()
	return len(n.layers[len(n.layers)-1].biases)
}

// Predict runs a forward pass.
func (n *Network) Predict(features []float64) ([]float64, error) {
	n.mustBeReady()
	if err := checkLen("features", len(features), n.InputSize()); err != nil {
		return nil, err
	}
	acts := n.forward(features)
	return append([]float64(nil), acts[len(acts)-1]...), nil
}

// forward returns the activations of every layer, input included.
func (n *Network) forward(features []float64) [][]float64 {
	acts := make([][]float64, 0, len(n.layers)+1)
	acts = append(acts, features)
	last := len(n.layers) - 1
	for l, ly := range n.layers {
		in := acts[l]
		out := make([]float64, len(ly.biases))
		for o, row := range ly.weights {
			sum := ly.biases[o]
			for i, w := range row {
				sum += w * in[i]
			}
			if l < last {
				sum = relu(sum)
			}
			out[o] = sum
		}
		acts = append(acts, out)
	}
	return acts
}

// Fit takes one SGD step towards target and returns the mean squared error
// measured before the update.
func (n *Network) Fit(features, target []float64) (float64, error) {
	n.mustBeReady()
	if err := checkLen("features", len(features), n.InputSize()); err != nil {
		return 0, err
	}
	if err := checkLen("target", len(target), n.OutputSize()); err != nil {
		return 0, err
	}

	acts := n.forward(features)
	output := acts[len(acts)-1]

	loss := 0.0
	delta := make([]float64, len(output))
	for o, y := range output {
		diff := y - target[o]
		loss += diff * diff
		delta[o] = clamp(2*diff/float64(len(output)), gradientLimit)
	}
	loss /= float64(len(output))

	for l := len(n.layers) - 1; l >= 0; l-- {
		ly := n.layers[l]
		in := acts[l]

		var prev []float64
		if l > 0 {
			prev = make([]float64, len(in))
			for o, row := range ly.weights {
				for i, w := range row {
					prev[i] += w * delta[o]
				}
			}
			for i := range prev {
				if in[i] <= 0 {
					prev[i] = 0
				}
				prev[i] = clamp(prev[i], gradientLimit)
			}
		}

		for o, row := range ly.weights {
			step := n.learningRate * delta[o]
			for i := range row {
				row[i] -= step * in[i]
			}
			ly.biases[o] -= step
		}
		delta = prev
	}
	return loss, nil
}

type networkJSON struct {
	Version      int         `json:"version"`
	LearningRate float64     `json:"learning_rate"`
	Layers       []layerJSON `json:"layers"`
}

type layerJSON struct {
	Weights [][]float64 `json:"weights"`
	Biases  []float64   `json:"biases"`
}

// MarshalBinary encodes the learned parameters.
func (n *Network) MarshalBinary() ([]byte, error) {
	n.mustBeReady()
	payload := networkJSON{Version: networkCodecVersion, LearningRate: n.learningRate}
	for _, ly := range n.layers {
		payload.Layers = append(payload.Layers, layerJSON{Weights: ly.weights, Biases: ly.biases})
	}
	return json.Marshal(payload)
}

// UnmarshalBinary restores parameters written by MarshalBinary. When the
// receiver is already built, the stored shape must match it so a model
// trained for a different network size is rejected.
func (n *Network) UnmarshalBinary(data []byte) error {
	var payload networkJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode network: %w", err)
	}
	if payload.Version != networkCodecVersion {
		return fmt.Errorf("decode network: unsupported version %d", payload.Version)
	}
	if len(payload.Layers) == 0 {
		return fmt.Errorf("decode network: no layers")
	}

	layers := make([]layer, 0, len(payload.Layers))
	prevOut := -1
	for l, lj := range payload.Layers {
		if len(lj.Weights) == 0 || len(lj.Weights) != len(lj.Biases) {
			return fmt.Errorf("decode network: layer %d has %d weight rows and %d biases", l, len(lj.Weights), len(lj.Biases))
		}
		in := len(lj.Weights[0])
		for _, row := range lj.Weights {
			if len(row) != in {
				return fmt.Errorf("decode network: layer %d is ragged", l)
			}
		}
		if prevOut >= 0 && in != prevOut {
			return fmt.Errorf("decode network: layer %d expects %d inputs, previous layer has %d outputs", l, in, prevOut)
		}
		prevOut = len(lj.Biases)
		layers = append(layers, layer{weights: lj.Weights, biases: lj.Biases})
	}

	if len(n.layers) > 0 {
		wantIn, wantOut := n.InputSize(), n.OutputSize()
		gotIn, gotOut := len(layers[0].weights[0]), len(layers[len(layers)-1].biases)
		if wantIn != gotIn || wantOut != gotOut {
			return fmt.Errorf("%w: stored network is %d -> %d, want %d -> %d", ErrDimension, gotIn, gotOut, wantIn, wantOut)
		}
	}
	if payload.LearningRate > 0 && n.learningRate == 0 {
		n.learningRate = payload.LearningRate
	}
	n.layers = layers
	return nil
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func clamp(x, limit float64) float64 {
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}

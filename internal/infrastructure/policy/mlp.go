// Package policy provides the PPO engine infrastructure: feed-forward
// networks, Gaussian policy heads, sub-policy units and the optimizer.
package policy

import (
	"fmt"
	"math"
	"math/rand"
)

// Activation selects the nonlinearity of a dense layer.
type Activation int

const (
	ActivationLinear Activation = iota
	ActivationReLU
	ActivationTanh
)

// Param is one trainable parameter tensor with its gradient
// accumulator. Data and Grad are flat, row-major.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

func newParam(name string, shape ...int) *Param {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Data:  make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// ShapeEqual reports whether two params have identical shapes.
func (p *Param) ShapeEqual(other *Param) bool {
	if len(p.Shape) != len(other.Shape) {
		return false
	}
	for i := range p.Shape {
		if p.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return true
}

// CopyFrom overwrites this param's data with another's.
func (p *Param) CopyFrom(src *Param) {
	copy(p.Data, src.Data)
}

// Dense is a fully connected layer. W is In*Out row-major (input index
// major), matching the weight layout of the rest of the package.
type Dense struct {
	In, Out int
	W, B    *Param
	Act     Activation
}

// newDense creates a dense layer with variance-scaled initialization.
// scale shrinks the initial weights; the action mean layer uses a small
// scale so early policies stay near the center of the action box.
func newDense(name string, in, out int, act Activation, scale float64, rng *rand.Rand) *Dense {
	d := &Dense{
		In:  in,
		Out: out,
		W:   newParam(name+"/w", in, out),
		B:   newParam(name+"/b", out),
		Act: act,
	}
	limit := math.Sqrt(2.0 * scale / float64(in))
	for i := range d.W.Data {
		d.W.Data[i] = (rng.Float64() - 0.5) * limit
	}
	return d
}

// Forward computes the post-activation output for one input vector.
func (d *Dense) Forward(x []float64) []float64 {
	y := make([]float64, d.Out)
	for o := 0; o < d.Out; o++ {
		sum := d.B.Data[o]
		for i := 0; i < d.In; i++ {
			sum += x[i] * d.W.Data[i*d.Out+o]
		}
		switch d.Act {
		case ActivationReLU:
			if sum < 0 {
				sum = 0
			}
		case ActivationTanh:
			sum = math.Tanh(sum)
		}
		y[o] = sum
	}
	return y
}

// Backward accumulates parameter gradients for one sample and returns
// the gradient with respect to the layer input. x and y must be the
// vectors seen and produced by the matching Forward call.
func (d *Dense) Backward(x, y, dY []float64) []float64 {
	dPre := make([]float64, d.Out)
	for o := 0; o < d.Out; o++ {
		g := dY[o]
		switch d.Act {
		case ActivationReLU:
			if y[o] <= 0 {
				g = 0
			}
		case ActivationTanh:
			g *= 1 - y[o]*y[o]
		}
		dPre[o] = g
	}

	dX := make([]float64, d.In)
	for i := 0; i < d.In; i++ {
		var sum float64
		for o := 0; o < d.Out; o++ {
			d.W.Grad[i*d.Out+o] += x[i] * dPre[o]
			sum += dPre[o] * d.W.Data[i*d.Out+o]
		}
		dX[i] = sum
	}
	for o := 0; o < d.Out; o++ {
		d.B.Grad[o] += dPre[o]
	}
	return dX
}

// newTower builds a stack of ReLU dense layers with the given hidden
// sizes. The output of the last hidden layer is the tower's feature
// vector, also ReLU activated as in the original architecture.
func newTower(name string, inputDim int, hiddenSizes []int, rng *rand.Rand) []*Dense {
	layers := make([]*Dense, 0, len(hiddenSizes))
	in := inputDim
	for i, size := range hiddenSizes {
		layers = append(layers, newDense(towerLayerName(name, i), in, size, ActivationReLU, 1.0, rng))
		in = size
	}
	return layers
}

func towerLayerName(tower string, idx int) string {
	return fmt.Sprintf("%s/dense_%d", tower, idx)
}

// towerCache holds the per-layer activations of one forward pass,
// needed by the backward pass. acts[0] is the tower input and acts[i+1]
// the output of layer i.
type towerCache struct {
	acts [][]float64
}

func forwardTower(layers []*Dense, x []float64) *towerCache {
	c := &towerCache{acts: make([][]float64, 0, len(layers)+1)}
	c.acts = append(c.acts, x)
	for _, l := range layers {
		x = l.Forward(x)
		c.acts = append(c.acts, x)
	}
	return c
}

// output returns the tower's feature vector.
func (c *towerCache) output() []float64 {
	return c.acts[len(c.acts)-1]
}

// backwardTower accumulates gradients through the stack and returns the
// gradient with respect to the tower input.
func backwardTower(layers []*Dense, c *towerCache, dOut []float64) []float64 {
	for i := len(layers) - 1; i >= 0; i-- {
		dOut = layers[i].Backward(c.acts[i], c.acts[i+1], dOut)
	}
	return dOut
}

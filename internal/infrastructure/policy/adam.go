package policy

import "math"

// Adam is a first-order adaptive optimizer with bias-corrected first
// and second moments. It owns no learning rate: the engine recomputes
// the decayed rate per step from the episode counter.
type Adam struct {
	beta1, beta2, eps float64
	t                 int
	params            []*Param
	m, v              [][]float64
}

// newAdam creates optimizer state aligned with the given parameter
// list. Only current-policy parameters are ever passed in.
func newAdam(params []*Param) *Adam {
	a := &Adam{
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// ZeroGrads clears every parameter's gradient accumulator.
func (a *Adam) ZeroGrads() {
	for _, p := range a.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Step applies one gradient descent update with the given learning
// rate, consuming the accumulated gradients.
func (a *Adam) Step(lr float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j := range p.Data {
			g := p.Grad[j]
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			mHat := m[j] / c1
			vHat := v[j] / c2
			p.Data[j] -= lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}

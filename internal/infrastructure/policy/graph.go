package policy

import (
	"math"
	"math/rand"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
)

// PolicyGraph is one actor-critic instance: a policy tower producing a
// bounded action mean, a learned observation-independent log-std vector
// and a value tower producing a scalar state value.
type PolicyGraph struct {
	name   string
	space  domainPolicy.ActionSpace
	pi     []*Dense
	mean   *Dense // tanh output, rescaled to the action box
	logStd *Param
	vf     []*Dense
	value  *Dense // linear scalar head

	params []*Param
}

// newPolicyGraph builds the two towers and heads. The caller validates
// the config and action space before construction.
func newPolicyGraph(name string, cfg domainPolicy.EngineConfig, rng *rand.Rand) *PolicyGraph {
	numActions := cfg.ActionSpace.NumActions()

	pi := newTower(name+"/pi", cfg.InputDim, cfg.PiHiddenSizes, rng)
	piOut := cfg.InputDim
	if len(cfg.PiHiddenSizes) > 0 {
		piOut = cfg.PiHiddenSizes[len(cfg.PiHiddenSizes)-1]
	}
	mean := newDense(name+"/action_mean", piOut, numActions, ActivationTanh, cfg.InitialMeanFactor, rng)

	logStd := newParam(name+"/action_logstd", numActions)
	for d := range logStd.Data {
		logStd.Data[d] = math.Log(cfg.InitialStd)
	}

	vf := newTower(name+"/vf", cfg.InputDim, cfg.VfHiddenSizes, rng)
	vfOut := cfg.InputDim
	if len(cfg.VfHiddenSizes) > 0 {
		vfOut = cfg.VfHiddenSizes[len(cfg.VfHiddenSizes)-1]
	}
	value := newDense(name+"/value", vfOut, 1, ActivationLinear, 1.0, rng)

	g := &PolicyGraph{
		name:   name,
		space:  cfg.ActionSpace,
		pi:     pi,
		mean:   mean,
		logStd: logStd,
		vf:     vf,
		value:  value,
	}

	for _, l := range pi {
		g.params = append(g.params, l.W, l.B)
	}
	g.params = append(g.params, mean.W, mean.B, logStd)
	for _, l := range vf {
		g.params = append(g.params, l.W, l.B)
	}
	g.params = append(g.params, value.W, value.B)

	return g
}

// Params returns the graph's parameters in a fixed order, identical
// across graphs built from the same config. The current/old parameter
// copy relies on this ordering.
func (g *PolicyGraph) Params() []*Param {
	return g.params
}

// graphEval caches one forward pass through both towers so the backward
// pass can reuse the activations.
type graphEval struct {
	piCache *towerCache
	tanhOut []float64
	Mean    []float64
	Std     []float64
	vfCache *towerCache
	valOut  []float64
	Value   float64
}

// Forward evaluates both towers for a single observation. The action
// mean is the tanh output affinely rescaled to [low, high] per
// dimension.
func (g *PolicyGraph) Forward(obs []float64) *graphEval {
	piCache := forwardTower(g.pi, obs)
	tanhOut := g.mean.Forward(piCache.output())

	mean := make([]float64, len(tanhOut))
	for d := range tanhOut {
		low, high := g.space.Low[d], g.space.High[d]
		mean[d] = low + (tanhOut[d]+1)/2*(high-low)
	}

	std := make([]float64, len(g.logStd.Data))
	for d := range std {
		std[d] = math.Exp(g.logStd.Data[d])
	}

	vfCache := forwardTower(g.vf, obs)
	valOut := g.value.Forward(vfCache.output())

	return &graphEval{
		piCache: piCache,
		tanhOut: tanhOut,
		Mean:    mean,
		Std:     std,
		vfCache: vfCache,
		valOut:  valOut,
		Value:   valOut[0],
	}
}

// LogProb returns the summed Gaussian log-density of an action under
// this evaluation.
func (g *PolicyGraph) LogProb(ev *graphEval, action []float64) float64 {
	return gaussianLogProb(ev.Mean, ev.Std, action)
}

// Entropy returns the summed differential entropy of the policy
// distribution. It is observation-independent.
func (g *PolicyGraph) Entropy() float64 {
	std := make([]float64, len(g.logStd.Data))
	for d := range std {
		std[d] = math.Exp(g.logStd.Data[d])
	}
	return gaussianEntropy(std)
}

// Sample draws one action and clips it to the action box.
func (g *PolicyGraph) Sample(ev *graphEval, rng *rand.Rand) []float64 {
	return g.space.Clip(gaussianSample(ev.Mean, ev.Std, rng))
}

// Backward accumulates parameter gradients for one sample given the
// gradients with respect to the rescaled action mean, the log-std
// vector and the value output.
func (g *PolicyGraph) Backward(ev *graphEval, dMean []float64, dLogStd []float64, dValue float64) {
	if dMean != nil {
		dTanh := make([]float64, len(dMean))
		for d := range dMean {
			dTanh[d] = dMean[d] * (g.space.High[d] - g.space.Low[d]) / 2
		}
		dPiOut := g.mean.Backward(ev.piCache.output(), ev.tanhOut, dTanh)
		backwardTower(g.pi, ev.piCache, dPiOut)
	}

	if dLogStd != nil {
		for d := range dLogStd {
			g.logStd.Grad[d] += dLogStd[d]
		}
	}

	if dValue != 0 {
		dVfOut := g.value.Backward(ev.vfCache.output(), ev.valOut, []float64{dValue})
		backwardTower(g.vf, ev.vfCache, dVfOut)
	}
}

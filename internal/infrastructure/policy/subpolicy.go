package policy

import (
	"fmt"
	"math"
	"math/rand"

	domainPolicy "github.com/xxzhixng/Carla-ppo/internal/domain/policy"
)

// SubPolicyUnit pairs a current and an old PolicyGraph for one
// sub-policy index. The old graph is a frozen reference for the
// importance ratio; it is only ever overwritten wholesale from the
// current graph, never touched by gradient descent.
type SubPolicyUnit struct {
	index   int
	current *PolicyGraph
	old     *PolicyGraph
}

// newSubPolicyUnit builds the current/old pair and asserts their
// structural symmetry. The shape check is an invariant of construction,
// not a runtime contingency.
func newSubPolicyUnit(index int, cfg domainPolicy.EngineConfig, rng *rand.Rand) (*SubPolicyUnit, error) {
	current := newPolicyGraph(fmt.Sprintf("policy_%d", index), cfg, rng)
	old := newPolicyGraph(fmt.Sprintf("policy_old_%d", index), cfg, rng)

	cur, prev := current.Params(), old.Params()
	if len(cur) != len(prev) {
		return nil, fmt.Errorf("%w: sub-policy %d has %d current and %d old params", domainPolicy.ErrShapeMismatch, index, len(cur), len(prev))
	}
	for i := range cur {
		if !cur[i].ShapeEqual(prev[i]) {
			return nil, fmt.Errorf("%w: sub-policy %d param %s", domainPolicy.ErrShapeMismatch, index, cur[i].Name)
		}
	}

	return &SubPolicyUnit{index: index, current: current, old: old}, nil
}

// SyncOld overwrites every old-policy parameter with its current-policy
// counterpart by matched ordered pairing.
func (u *SubPolicyUnit) SyncOld() {
	cur, prev := u.current.Params(), u.old.Params()
	for i := range cur {
		prev[i].CopyFrom(cur[i])
	}
}

// Current returns the trained policy graph.
func (u *SubPolicyUnit) Current() *PolicyGraph {
	return u.current
}

// sampleTerms holds the raw per-sample loss terms of one unit, before
// the engine's division by the full batch size.
type sampleTerms struct {
	policy    float64 // min(r*A, clip(r)*A), maximized
	value     float64 // valueScale * (v - R)^2, minimized
	entropy   float64 // entropyScale * H, maximized
	probRatio float64
	mean      []float64
	std       []float64
	valueEst  float64
}

// clipRatio clamps the importance ratio to [1-epsilon, 1+epsilon].
func clipRatio(ratio, epsilon float64) float64 {
	if ratio < 1-epsilon {
		return 1 - epsilon
	}
	if ratio > 1+epsilon {
		return 1 + epsilon
	}
	return ratio
}

// lossAndGrad computes the clipped-surrogate terms for one sample and
// accumulates the gradient of the engine's total loss contribution
//
//	invN * ( -min(r*A, clip(r)*A) + valueScale*(v-R)^2 - entropyScale*H )
//
// into the current graph's parameters. invN is 1/batchSize: masked-out
// samples of other units never reach this method, and dividing by the
// full batch size preserves the original masked-mean semantics.
func (u *SubPolicyUnit) lossAndGrad(obs, action []float64, advantage, ret float64, epsilon, valueScale, entropyScale, invN float64) sampleTerms {
	ev := u.current.Forward(obs)
	evOld := u.old.Forward(obs)

	logProb := u.current.LogProb(ev, action)
	logProbOld := u.old.LogProb(evOld, action)
	ratio := math.Exp(logProb - logProbOld)

	clipped := clipRatio(ratio, epsilon)

	surr1 := ratio * advantage
	surr2 := clipped * advantage
	policyTerm := math.Min(surr1, surr2)

	valueErr := ev.Value - ret
	valueTerm := valueScale * valueErr * valueErr

	entropy := gaussianEntropy(ev.Std)
	entropyTerm := entropyScale * entropy

	// d(total)/d(logProb): the surrogate only propagates gradient when
	// the unclipped branch is selected; at the clip boundary the two
	// branches coincide and the gradient is r*A either way.
	var dLogProb float64
	if surr1 <= surr2 {
		dLogProb = -invN * ratio * advantage
	}

	dMeanLP, dLogStdLP := logProbGrads(ev.Mean, ev.Std, action)
	dMean := make([]float64, len(dMeanLP))
	dLogStd := make([]float64, len(dLogStdLP))
	for d := range dMean {
		dMean[d] = dLogProb * dMeanLP[d]
		// Entropy term: dH/dlogstd_d = 1, subtracted from the total loss.
		dLogStd[d] = dLogProb*dLogStdLP[d] - invN*entropyScale
	}

	dValue := invN * valueScale * 2 * valueErr

	u.current.Backward(ev, dMean, dLogStd, dValue)

	return sampleTerms{
		policy:    policyTerm,
		value:     valueTerm,
		entropy:   entropyTerm,
		probRatio: ratio,
		mean:      ev.Mean,
		std:       ev.Std,
		valueEst:  ev.Value,
	}
}

package policy

import (
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// gaussianLogProb returns the log-density of action under the diagonal
// Gaussian N(mean, exp(logStd)^2), summed over action dimensions.
func gaussianLogProb(mean, std, action []float64) float64 {
	var sum float64
	for d := range mean {
		n := distuv.Normal{Mu: mean[d], Sigma: std[d]}
		sum += n.LogProb(action[d])
	}
	return sum
}

// gaussianEntropy returns the differential entropy of the diagonal
// Gaussian, summed over action dimensions. It depends on the std only.
func gaussianEntropy(std []float64) float64 {
	var sum float64
	for d := range std {
		n := distuv.Normal{Mu: 0, Sigma: std[d]}
		sum += n.Entropy()
	}
	return sum
}

// expRandSource adapts *math/rand.Rand to the golang.org/x/exp/rand.Source
// interface required by gonum's distuv distributions.
type expRandSource struct{ rng *rand.Rand }

func (s expRandSource) Uint64() uint64   { return s.rng.Uint64() }
func (s expRandSource) Seed(seed uint64) { s.rng.Seed(int64(seed)) }

// gaussianSample draws one action from the diagonal Gaussian using the
// supplied random source.
func gaussianSample(mean, std []float64, rng *rand.Rand) []float64 {
	action := make([]float64, len(mean))
	for d := range mean {
		n := distuv.Normal{Mu: mean[d], Sigma: std[d], Src: expRandSource{rng}}
		action[d] = n.Rand()
	}
	return action
}

// logProbGrads returns the gradients of the summed log-density with
// respect to the mean vector and the log-std vector.
//
//	d logp / d mean_d   = (a_d - m_d) / var_d
//	d logp / d logstd_d = ((a_d - m_d)^2 / var_d) - 1
func logProbGrads(mean, std, action []float64) (dMean, dLogStd []float64) {
	dMean = make([]float64, len(mean))
	dLogStd = make([]float64, len(mean))
	for d := range mean {
		diff := action[d] - mean[d]
		variance := std[d] * std[d]
		dMean[d] = diff / variance
		dLogStd[d] = diff*diff/variance - 1
	}
	return dMean, dLogStd
}

package policy

import "fmt"

// Batch is the unit of one training call. All slices share the same
// length; ActiveSubPolicy holds, per sample, the index of the sub-policy
// that produced the sample.
type Batch struct {
	Observations    [][]float64 `json:"observations"`
	TakenActions    [][]float64 `json:"takenActions"`
	Returns         []float64   `json:"returns"`
	Advantages      []float64   `json:"advantages"`
	ActiveSubPolicy []int       `json:"activeSubPolicy"`
}

// Len returns the batch size.
func (b Batch) Len() int {
	return len(b.Observations)
}

// Validate checks that all batch columns share one length.
func (b Batch) Validate() error {
	n := len(b.Observations)
	if n == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidConfig)
	}
	if len(b.TakenActions) != n || len(b.Returns) != n || len(b.Advantages) != n || len(b.ActiveSubPolicy) != n {
		return fmt.Errorf("%w: batch columns have mismatched lengths", ErrInvalidConfig)
	}
	return nil
}

// TrainResult summarizes one training step.
type TrainResult struct {
	// PolicyLoss is the masked clipped-surrogate term (to be maximized).
	PolicyLoss float64 `json:"policyLoss"`

	// ValueLoss is the scaled value regression term.
	ValueLoss float64 `json:"valueLoss"`

	// EntropyLoss is the scaled entropy bonus term.
	EntropyLoss float64 `json:"entropyLoss"`

	// TotalLoss is -PolicyLoss + ValueLoss - EntropyLoss.
	TotalLoss float64 `json:"totalLoss"`

	// MeanProbRatio is the batch mean of the importance ratio.
	MeanProbRatio float64 `json:"meanProbRatio"`

	// LearningRate is the decayed learning rate used for the step.
	LearningRate float64 `json:"learningRate"`
}

// EngineStats is a point-in-time snapshot of engine counters and the
// most recent training losses.
type EngineStats struct {
	TrainSteps   int64   `json:"trainSteps"`
	PredictSteps int64   `json:"predictSteps"`
	Episodes     int64   `json:"episodes"`
	LastLoss     float64 `json:"lastLoss"`
	LastPolicy   float64 `json:"lastPolicy"`
	LastValue    float64 `json:"lastValue"`
	LastEntropy  float64 `json:"lastEntropy"`
}

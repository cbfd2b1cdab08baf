package policy

import "fmt"

// EngineConfig holds construction parameters for the PPO engine.
type EngineConfig struct {
	// InputDim is the flattened observation dimension.
	InputDim int `json:"inputDim"`

	// ActionSpace is the continuous action box.
	ActionSpace ActionSpace `json:"actionSpace"`

	// NumSubPolicies is the number of independently parameterized
	// actor-critic pairs. The active one is selected per sample by the
	// caller, never learned internally.
	NumSubPolicies int `json:"numSubPolicies"`

	// LearningRate is the base Adam learning rate.
	LearningRate float64 `json:"learningRate"`

	// LRDecay is the per-episode geometric decay of the learning rate.
	LRDecay float64 `json:"lrDecay"`

	// Epsilon is the PPO clipping parameter.
	Epsilon float64 `json:"epsilon"`

	// ValueScale scales the value loss term.
	ValueScale float64 `json:"valueScale"`

	// EntropyScale scales the entropy bonus term.
	EntropyScale float64 `json:"entropyScale"`

	// InitialStd is the initial per-dimension standard deviation of the
	// Gaussian policy.
	InitialStd float64 `json:"initialStd"`

	// InitialMeanFactor is the variance scaling factor for the action
	// mean output layer.
	InitialMeanFactor float64 `json:"initialMeanFactor"`

	// PiHiddenSizes are the hidden layer sizes of the policy tower.
	PiHiddenSizes []int `json:"piHiddenSizes"`

	// VfHiddenSizes are the hidden layer sizes of the value tower.
	VfHiddenSizes []int `json:"vfHiddenSizes"`

	// ModelDir is the output root. checkpoints/, logs/ and videos/ are
	// created under it at construction.
	ModelDir string `json:"modelDir"`

	// Seed seeds the engine's random source. Zero means seed from the
	// clock.
	Seed int64 `json:"seed,omitempty"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		InputDim:          64,
		NumSubPolicies:    1,
		LearningRate:      3e-4,
		LRDecay:           0.998,
		Epsilon:           0.2,
		ValueScale:        0.5,
		EntropyScale:      0.01,
		InitialStd:        0.4,
		InitialMeanFactor: 0.1,
		PiHiddenSizes:     []int{500, 300},
		VfHiddenSizes:     []int{500, 300},
		ModelDir:          ".",
	}
}

// Validate checks the configuration for construction-time errors.
func (c EngineConfig) Validate() error {
	if c.InputDim <= 0 {
		return fmt.Errorf("%w: input dimension %d", ErrInvalidConfig, c.InputDim)
	}
	if c.NumSubPolicies <= 0 {
		return fmt.Errorf("%w: sub-policy count %d", ErrInvalidConfig, c.NumSubPolicies)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("%w: clip epsilon %v", ErrInvalidConfig, c.Epsilon)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, c.LearningRate)
	}
	if c.LRDecay <= 0 || c.LRDecay > 1 {
		return fmt.Errorf("%w: learning rate decay %v", ErrInvalidConfig, c.LRDecay)
	}
	if c.InitialStd <= 0 {
		return fmt.Errorf("%w: initial std %v", ErrInvalidConfig, c.InitialStd)
	}
	if err := c.ActionSpace.Validate(); err != nil {
		return err
	}
	return nil
}

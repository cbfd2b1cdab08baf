package policy

import "fmt"

// ActionSpace is a continuous, axis-aligned box of actions. Low and High
// hold the per-dimension bounds and must have equal, positive length with
// Low[i] < High[i] for every dimension.
type ActionSpace struct {
	Low  []float64 `json:"low"`
	High []float64 `json:"high"`
}

// NumActions returns the dimensionality of the action space.
func (a ActionSpace) NumActions() int {
	return len(a.Low)
}

// Validate checks the action space for degenerate bounds.
func (a ActionSpace) Validate() error {
	if len(a.Low) == 0 {
		return fmt.Errorf("%w: zero dimensions", ErrInvalidActionSpace)
	}
	if len(a.Low) != len(a.High) {
		return fmt.Errorf("%w: low has %d dimensions, high has %d", ErrInvalidActionSpace, len(a.Low), len(a.High))
	}
	for i := range a.Low {
		if a.Low[i] >= a.High[i] {
			return fmt.Errorf("%w: dimension %d has low %v >= high %v", ErrInvalidActionSpace, i, a.Low[i], a.High[i])
		}
	}
	return nil
}

// Clip clamps an action vector to the box bounds in place and returns it.
func (a ActionSpace) Clip(action []float64) []float64 {
	for i := range action {
		if action[i] < a.Low[i] {
			action[i] = a.Low[i]
		}
		if action[i] > a.High[i] {
			action[i] = a.High[i]
		}
	}
	return action
}

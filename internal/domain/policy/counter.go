package policy

// Counter names used by the engine. They double as the keys under which
// counter values are persisted in checkpoints.
const (
	TrainStepCounter   = "train_step_counter"
	PredictStepCounter = "predict_step_counter"
	EpisodeCounter     = "episode_counter"
)

// Counter is a named, monotonically incrementable integer. It is never
// decremented or reset except by an explicit checkpoint restore.
type Counter struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// NewCounter creates a zero-valued counter.
func NewCounter(name string) *Counter {
	return &Counter{Name: name}
}

// Inc increments the counter by exactly one and returns the new value.
func (c *Counter) Inc() int64 {
	c.Value++
	return c.Value
}

// Restore overwrites the counter value from a checkpoint.
func (c *Counter) Restore(value int64) {
	c.Value = value
}

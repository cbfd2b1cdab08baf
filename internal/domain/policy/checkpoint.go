package policy

import "time"

// ParamState is the persisted form of one network parameter.
type ParamState struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// SubPolicyState holds both parameter sets of one sub-policy. Current
// and Old are ordered identically and pairwise shape-equal.
type SubPolicyState struct {
	Index   int          `json:"index"`
	Current []ParamState `json:"current"`
	Old     []ParamState `json:"old"`
}

// Checkpoint is a resumable snapshot of every parameter and counter,
// keyed by the episode counter at save time.
type Checkpoint struct {
	Episode     int64            `json:"episode"`
	Counters    map[string]int64 `json:"counters"`
	SubPolicies []SubPolicyState `json:"subPolicies"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// RestoreStatus distinguishes the outcomes of a checkpoint load. A
// missing checkpoint and an unreadable one are different conditions;
// the caller decides whether corruption is fatal.
type RestoreStatus string

const (
	// RestoreNotFound means no checkpoint exists yet. Expected on the
	// first run.
	RestoreNotFound RestoreStatus = "not-found"

	// RestoreCorrupt means a checkpoint exists but failed to parse or
	// did not match the engine's parameter shapes.
	RestoreCorrupt RestoreStatus = "corrupt"

	// Restored means all parameters and counters were restored.
	Restored RestoreStatus = "restored"
)

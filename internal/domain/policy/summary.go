package policy

import "time"

// SummaryKind classifies records in the append-only summary log.
type SummaryKind string

const (
	SummaryScalar    SummaryKind = "scalar"
	SummaryHistogram SummaryKind = "histogram"
	SummaryText      SummaryKind = "text"
)

// SummaryRecord is one entry of the event log consumed by external
// monitoring tools. Step is a train-step, predict-step or episode index
// depending on the tag.
type SummaryRecord struct {
	ID        string      `json:"id"`
	Kind      SummaryKind `json:"kind"`
	Tag       string      `json:"tag"`
	Step      int64       `json:"step"`
	Value     float64     `json:"value,omitempty"`
	Values    []float64   `json:"values,omitempty"`
	Text      string      `json:"text,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// SummaryQuery filters summary records on the read side.
type SummaryQuery struct {
	Tag      string      `json:"tag,omitempty"`
	Kind     SummaryKind `json:"kind,omitempty"`
	FromStep int64       `json:"fromStep,omitempty"`
	ToStep   int64       `json:"toStep,omitempty"`
	Limit    int         `json:"limit,omitempty"`
}

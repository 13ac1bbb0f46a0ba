package service

import "github.com/okian/faultline/internal/domain/pipeline"

// Outcome statuses.
const (
	StatusAccepted  = "accepted"
	StatusDiscarded = "discarded"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Outcome is what happened to one submitted event.
type Outcome struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	StackID string `json:"stack_id,omitempty"`
	IsNew   bool   `json:"is_new,omitempty"`
}

// Result summarizes a submission.
type Result struct {
	Accepted  int       `json:"accepted"`
	Discarded int       `json:"discarded"`
	Errored   int       `json:"errored"`
	Outcomes  []Outcome `json:"outcomes"`
}

func summarize(contexts []*pipeline.EventContext) *Result {
	r := &Result{Outcomes: make([]Outcome, 0, len(contexts))}
	for _, ec := range contexts {
		o := Outcome{ID: ec.ID()}
		switch {
		case ec.HasError():
			o.Status = StatusError
			o.Reason = ec.Err.Error()
			r.Errored++
		case ec.IsDiscarded:
			o.Status = StatusDiscarded
			o.Reason = ec.DiscardReason
			r.Discarded++
		case ec.IsCancelled:
			o.Status = StatusCancelled
			r.Discarded++
		default:
			o.Status = StatusAccepted
			o.StackID = ec.Event.StackID
			o.IsNew = ec.IsNew
			r.Accepted++
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	return r
}

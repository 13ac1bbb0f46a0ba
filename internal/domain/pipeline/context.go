// Package pipeline runs an ordered set of stages over a batch of events.
//
// Each event travels in an EventContext that carries processing flags and a
// property bag stages use to signal each other within one run. Stages never
// abort a batch: failures and policy drops are recorded on the context.
package pipeline

import (
	"github.com/okian/faultline/internal/domain/model"
)

// EventContext is the transient per-event envelope of one pipeline run.
type EventContext struct {
	Event        *model.Event
	Project      *model.Project
	Organization *model.Organization

	IsCancelled  bool
	IsDiscarded  bool
	IsProcessed  bool
	IsNew        bool
	IsRegression bool

	// DiscardReason names the policy that dropped the context.
	DiscardReason string
	// Err is the first failure recorded for the context.
	Err error

	// SignatureData is filled by fingerprint stages and consumed once by
	// stack assignment.
	SignatureData map[string]string
	SignatureHash string
	Stack         *model.Stack

	props map[string]any
}

// NewEventContext wraps an event for a run.
func NewEventContext(e *model.Event, project *model.Project, org *model.Organization) *EventContext {
	return &EventContext{Event: e, Project: project, Organization: org}
}

// NewEventContexts wraps a batch of events sharing one project.
func NewEventContexts(events []*model.Event, project *model.Project, org *model.Organization) []*EventContext {
	out := make([]*EventContext, len(events))
	for i, e := range events {
		out[i] = NewEventContext(e, project, org)
	}
	return out
}

// ID returns the event id, or "" if the context has no event.
func (c *EventContext) ID() string {
	if c.Event == nil {
		return ""
	}
	return c.Event.ID
}

// ProjectID returns the owning project id.
func (c *EventContext) ProjectID() string {
	if c.Project != nil {
		return c.Project.ID
	}
	if c.Event != nil {
		return c.Event.ProjectID
	}
	return ""
}

// Cancel stops further per-event processing without marking a policy drop.
func (c *EventContext) Cancel() {
	c.IsCancelled = true
}

// Discard cancels the context as a deliberate, recorded policy drop.
func (c *EventContext) Discard(reason string) {
	c.IsCancelled = true
	c.IsDiscarded = true
	if c.DiscardReason == "" {
		c.DiscardReason = reason
	}
}

// SetError records a failure. Only the first one is kept.
func (c *EventContext) SetError(err error) {
	if err != nil && c.Err == nil {
		c.Err = err
	}
}

// HasError reports whether a failure was recorded.
func (c *EventContext) HasError() bool {
	return c.Err != nil
}

// Active reports whether later stages should still process the context.
func (c *EventContext) Active() bool {
	return !c.IsCancelled && c.Err == nil
}

// SetProperty stores a value in the property bag.
func (c *EventContext) SetProperty(key string, value any) {
	if c.props == nil {
		c.props = make(map[string]any)
	}
	c.props[key] = value
}

// Property returns a value from the property bag.
func (c *EventContext) Property(key string) (any, bool) {
	v, ok := c.props[key]
	return v, ok
}

// HasProperty reports whether key is set.
func (c *EventContext) HasProperty(key string) bool {
	_, ok := c.props[key]
	return ok
}

// StringProperty returns a string property or "".
func (c *EventContext) StringProperty(key string) string {
	s, _ := c.props[key].(string)
	return s
}

// AddSignature appends a signature pair. Empty values are ignored.
func (c *EventContext) AddSignature(key, value string) {
	if key == "" || value == "" {
		return
	}
	if c.SignatureData == nil {
		c.SignatureData = make(map[string]string)
	}
	c.SignatureData[key] = value
}

// Active filters the contexts later stages should still process.
func Active(contexts []*EventContext) []*EventContext {
	out := make([]*EventContext, 0, len(contexts))
	for _, c := range contexts {
		if c.Active() {
			out = append(out, c)
		}
	}
	return out
}

package model

import "time"

// StackStatus is the triage state of a stack.
type StackStatus string

// Known stack statuses.
const (
	StackOpen      StackStatus = "open"
	StackFixed     StackStatus = "fixed"
	StackRegressed StackStatus = "regressed"
	StackIgnored   StackStatus = "ignored"
	StackDiscarded StackStatus = "discarded"
)

// Stack aggregates every event sharing one signature within a project.
// Exactly one stack exists per (ProjectID, SignatureHash).
type Stack struct {
	ID               string            `json:"id"`
	ProjectID        string            `json:"project_id"`
	OrganizationID   string            `json:"organization_id"`
	SignatureHash    string            `json:"signature_hash"`
	SignatureInfo    map[string]string `json:"signature_info"`
	Title            string            `json:"title"`
	Type             EventType         `json:"type"`
	Status           StackStatus       `json:"status"`
	FirstOccurrence  time.Time         `json:"first_occurrence"`
	LastOccurrence   time.Time         `json:"last_occurrence"`
	TotalOccurrences int64             `json:"total_occurrences"`
	FixedInVersion   string            `json:"fixed_in_version,omitempty"`
	DateFixed        *time.Time        `json:"date_fixed,omitempty"`
}

// Clone returns a copy safe to mutate.
func (s *Stack) Clone() *Stack {
	if s == nil {
		return nil
	}
	c := *s
	if s.SignatureInfo != nil {
		c.SignatureInfo = make(map[string]string, len(s.SignatureInfo))
		for k, v := range s.SignatureInfo {
			c.SignatureInfo[k] = v
		}
	}
	if s.DateFixed != nil {
		t := *s.DateFixed
		c.DateFixed = &t
	}
	return &c
}

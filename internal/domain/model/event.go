// Package model contains domain models passed between layers.
package model

import (
	"math"
	"time"
)

// EventType classifies a submitted event.
type EventType string

// Known event types.
const (
	TypeError            EventType = "error"
	TypeLog              EventType = "log"
	TypeSessionStart     EventType = "session"
	TypeSessionEnd       EventType = "sessionend"
	TypeSessionHeartbeat EventType = "heartbeat"
	TypeCustom           EventType = "custom"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case TypeError, TypeLog, TypeSessionStart, TypeSessionEnd, TypeSessionHeartbeat, TypeCustom:
		return true
	}
	return false
}

// Event is a client-submitted report. It is mutated by pipeline stages before
// its first persistence, and afterwards only to update session-start activity.
type Event struct {
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id"`
	OrganizationID string         `json:"organization_id"`
	StackID        string         `json:"stack_id,omitempty"`
	Type           EventType      `json:"type"`
	Source         string         `json:"source,omitempty"`
	Message        string         `json:"message,omitempty"`
	Date           time.Time      `json:"date"`
	SessionID      string         `json:"session_id,omitempty"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	Version        string         `json:"version,omitempty"`
	Value          *float64       `json:"value,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	IsHidden       bool           `json:"is_hidden"`
	IsFixed        bool           `json:"is_fixed"`

	User           *UserInfo           `json:"user,omitempty"`
	Error          *ErrorInfo          `json:"error,omitempty"`
	Request        *RequestInfo        `json:"request,omitempty"`
	Location       *Location           `json:"location,omitempty"`
	ManualStacking *ManualStackingInfo `json:"manual_stacking,omitempty"`

	// SessionEnd is set on a session-start event once its session is closed.
	SessionEnd *time.Time `json:"session_end,omitempty"`
	// SessionHasError is set on a session-start event once any event of the
	// session was an error.
	SessionHasError bool `json:"session_has_error,omitempty"`
}

// UserInfo identifies the end user an event was reported for.
type UserInfo struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
}

// RequestInfo describes the client request that produced an event.
type RequestInfo struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Path      string `json:"path,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Device    string `json:"device,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// Location is a resolved geographic position.
type Location struct {
	Country  string `json:"country,omitempty"`
	Level1   string `json:"level1,omitempty"`
	Locality string `json:"locality,omitempty"`
}

// ManualStackingInfo lets clients choose their own stacking signature.
type ManualStackingInfo struct {
	Title         string            `json:"title,omitempty"`
	SignatureData map[string]string `json:"signature_data"`
}

// Identity returns the user identity or "" if none was reported.
func (e *Event) Identity() string {
	if e.User == nil {
		return ""
	}
	return e.User.Identity
}

// ClientIP returns the originating client address or "".
func (e *Event) ClientIP() string {
	if e.Request == nil {
		return ""
	}
	return e.Request.ClientIP
}

// IsSessionStart reports whether e opens a session.
func (e *Event) IsSessionStart() bool { return e.Type == TypeSessionStart }

// IsSessionEnd reports whether e closes a session.
func (e *Event) IsSessionEnd() bool { return e.Type == TypeSessionEnd }

// IsSessionHeartbeat reports whether e only signals session activity.
func (e *Event) IsSessionHeartbeat() bool { return e.Type == TypeSessionHeartbeat }

// IsError reports whether e is an error report.
func (e *Event) IsError() bool { return e.Type == TypeError }

// HasSessionEndTime reports whether a session-start event has been closed.
func (e *Event) HasSessionEndTime() bool { return e.SessionEnd != nil }

// SessionDuration returns the duration carried in Value, in seconds.
func (e *Event) SessionDuration() float64 {
	if e.Value == nil {
		return 0
	}
	return *e.Value
}

// UpdateSessionStart records the latest activity on a session-start event.
// The carried duration never decreases. Returns true when anything changed.
func (e *Event) UpdateSessionStart(lastActivity time.Time, isSessionEnd bool) bool {
	changed := false
	duration := math.Max(lastActivity.Sub(e.Date).Seconds(), 0)
	if e.Value == nil || duration > *e.Value {
		e.Value = &duration
		changed = true
	}

	if isSessionEnd {
		end := e.Date.Add(time.Duration(e.SessionDuration() * float64(time.Second)))
		if e.SessionEnd == nil || !e.SessionEnd.Equal(end) {
			e.SessionEnd = &end
			changed = true
		}
	}
	return changed
}

// Clone returns a deep enough copy for stores to hand out safely.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Value != nil {
		v := *e.Value
		c.Value = &v
	}
	if e.SessionEnd != nil {
		t := *e.SessionEnd
		c.SessionEnd = &t
	}
	if e.Tags != nil {
		c.Tags = append([]string(nil), e.Tags...)
	}
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	if e.User != nil {
		u := *e.User
		c.User = &u
	}
	if e.Request != nil {
		r := *e.Request
		c.Request = &r
	}
	if e.Location != nil {
		l := *e.Location
		c.Location = &l
	}
	return &c
}

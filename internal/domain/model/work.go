package model

import "time"

// WorkItemType names a deferred side effect.
type WorkItemType string

// Known work item types.
const (
	WorkBulkHide    WorkItemType = "bulk-hide"
	WorkGeoBackfill WorkItemType = "geo-backfill"
)

// WorkItem is a deferred side effect handed to the work queue.
type WorkItem struct {
	ID   string       `json:"id"`
	Type WorkItemType `json:"type"`

	OrganizationID string `json:"organization_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	ClientIP       string `json:"client_ip,omitempty"`

	// WindowStart and WindowEnd bound a bulk-hide, [start, end).
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time `json:"window_end,omitempty"`
}

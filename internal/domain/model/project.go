package model

// PlanFree is the plan id of free-tier organizations.
const PlanFree = "free"

// Organization owns projects and a billing plan.
type Organization struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`
}

// DiscardsFixedVersions reports whether events older than a stack's fix
// version are dropped for this organization. Free-tier accounts always accept.
func (o *Organization) DiscardsFixedVersions() bool {
	return o != nil && o.PlanID != "" && o.PlanID != PlanFree
}

// Project groups events and stacks.
type Project struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name,omitempty"`
	// BotThrottleDisabled opts a project out of bot throttling.
	BotThrottleDisabled bool `json:"bot_throttle_disabled,omitempty"`
}

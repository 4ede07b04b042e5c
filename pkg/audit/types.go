package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is the kind of change recorded by an audit entry
type Action string

const (
	ActionCreated           Action = "created"
	ActionUpdated           Action = "updated"
	ActionDeleted           Action = "deleted"
	ActionActivated         Action = "activated"
	ActionDeactivated       Action = "deactivated"
	ActionExpired           Action = "expired"
	ActionRenewed           Action = "renewed"
	ActionCanceled          Action = "canceled"
	ActionSuspended         Action = "suspended"
	ActionPlanChanged       Action = "plan_changed"
	ActionAdvanceRenewed    Action = "advance_renewed"
	ActionAutoRenewToggled  Action = "auto_renew_toggled"
	ActionProrationCredited Action = "proration_credited"
	ActionExtended          Action = "extended"
	ActionCardChanged       Action = "card_changed"
)

// Actions returns every known action
func Actions() []Action {
	return []Action{
		ActionCreated, ActionUpdated, ActionDeleted, ActionActivated, ActionDeactivated,
		ActionExpired, ActionRenewed, ActionCanceled, ActionSuspended, ActionPlanChanged,
		ActionAdvanceRenewed, ActionAutoRenewToggled, ActionProrationCredited, ActionExtended,
		ActionCardChanged,
	}
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// SystemUser is recorded when a scheduled job performs the change
const SystemUser = "system"

// Entry is a single audit log row
type Entry struct {
	ID             uuid.UUID              `json:"id"`
	SubscriptionID *uuid.UUID             `json:"subscription_id,omitempty"`
	TenantID       *uuid.UUID             `json:"tenant_id,omitempty"`
	Action         Action                 `json:"action"`
	User           string                 `json:"user"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	IPAddress      string                 `json:"ip_address,omitempty"`
}

// Filter narrows an audit log search
type Filter struct {
	SubscriptionID *uuid.UUID
	TenantID       *uuid.UUID
	Actions        []Action
	User           string

	StartTime *time.Time
	EndTime   *time.Time

	Limit  int
	Offset int

	// "asc" or "desc" (default) by timestamp
	SortOrder string
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Normalize clamps pagination to the supported range
func (f *Filter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
}

// Page is one page of search results
type Page struct {
	Entries []*Entry `json:"entries"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes audit activity
type Stats struct {
	TotalEntries        int64            `json:"total_entries"`
	EntriesByAction     map[Action]int64 `json:"entries_by_action"`
	UniqueSubscriptions int64            `json:"unique_subscriptions"`
	UniqueUsers         int64            `json:"unique_users"`
	TimeRange           *TimeRange       `json:"time_range,omitempty"`
}

// TimeRange represents a time range
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

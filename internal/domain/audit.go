package domain

import (
	"encoding/json"
	"time"
)

// AuditLog is an immutable record of a change to ledger state.
type AuditLog struct {
	ID           string
	Actor        string      // Who performed the action
	Action       AuditAction // What action (lot.opened, mapping.upsert, etc.)
	ResourceType string      // Type of resource (lot, leg, mapping, sync)
	ResourceID   string      // ID of the resource
	Reference    string      // Correlation id, e.g. sync_run_id or group_id
	Reason       string
	BeforeState  JSON // State before the action
	AfterState   JSON // State after the action
	Status       AuditStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// JSON is a type alias for JSON data
type JSON map[string]any

// AuditAction represents different types of auditable actions
type AuditAction string

const (
	// Ledger actions
	AuditActionGroupPosted AuditAction = "ledger.group_posted"
	AuditActionLegEdit     AuditAction = "ledger.leg_edit"

	// Lot actions
	AuditActionLotOpened AuditAction = "lot.opened"
	AuditActionLotClosed AuditAction = "lot.closed"

	// Mapping actions
	AuditActionMappingUpsert   AuditAction = "mapping.upsert"
	AuditActionMappingRollback AuditAction = "mapping.rollback"
	AuditActionMappingImport   AuditAction = "mapping.import"

	// Sync actions
	AuditActionSyncReject AuditAction = "sync.reject"
	AuditActionSyncSkip   AuditAction = "sync.skip"
)

// Resource types
const (
	ResourceLeg     = "leg"
	ResourceGroup   = "group"
	ResourceLot     = "lot"
	ResourceMapping = "mapping"
	ResourceSync    = "sync"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
	AuditStatusError   AuditStatus = "error"
)

// MarshalState converts a domain object to JSON for audit logging
func MarshalState(v any) JSON {
	if v == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return JSON{"error": "failed to marshal state"}
	}

	var result JSON
	if err := json.Unmarshal(data, &result); err != nil {
		return JSON{"error": "failed to unmarshal state"}
	}

	return result
}

// AuditFilter defines filters for querying audit logs
type AuditFilter struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Reference    string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
	Offset       int
}

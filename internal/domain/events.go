package domain

import "time"

// Event types
const (
	EventTypeGroupPosted    = "ledger.group_posted"
	EventTypeLotOpened      = "lot.opened"
	EventTypeLotClosed      = "lot.closed"
	EventTypeMappingVersion = "mapping.version_created"
	EventTypeSyncCompleted  = "sync.completed"
)

// Aggregate types
const (
	AggregateTypeGroup   = "group"
	AggregateTypeLot     = "lot"
	AggregateTypeMapping = "mapping"
	AggregateTypeSync    = "sync"
)

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// GroupPostedEvent payload
type GroupPostedEvent struct {
	GroupID  string   `json:"group_id"`
	TradeID  string   `json:"trade_id"`
	LegIDs   []string `json:"leg_ids"`
	Accounts []string `json:"accounts"`
	Gross    string   `json:"gross"`
}

// LotClosedEvent payload
type LotClosedEvent struct {
	CloseTradeID string   `json:"close_trade_id"`
	Side         string   `json:"side"`
	LotIDs       []string `json:"lot_ids"`
	QtyClosed    string   `json:"qty_closed"`
	RealizedPnL  string   `json:"realized_pnl"`
}

// MappingVersionEvent payload
type MappingVersionEvent struct {
	Version        int64  `json:"version"`
	Actor          string `json:"actor"`
	Reason         string `json:"reason"`
	RolledBackFrom *int64 `json:"rolled_back_from,omitempty"`
}

// SyncCompletedEvent payload
type SyncCompletedEvent struct {
	SyncRunID    string `json:"sync_run_id"`
	Status       string `json:"status"`
	PostedGroups int    `json:"posted_groups"`
	Rejected     int    `json:"rejected"`
}

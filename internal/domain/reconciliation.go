package domain

import (
	"fmt"
	"time"
)

// ReconStatus is the outcome of comparing one record.
type ReconStatus string

const (
	ReconOK         ReconStatus = "ok"
	ReconMismatch   ReconStatus = "mismatch"
	ReconLocalOnly  ReconStatus = "local-only"
	ReconBrokerOnly ReconStatus = "broker-only"
	ReconResolved   ReconStatus = "resolved"
	ReconRejected   ReconStatus = "rejected"
)

var validReconStatuses = map[ReconStatus]bool{
	ReconOK: true, ReconMismatch: true, ReconLocalOnly: true,
	ReconBrokerOnly: true, ReconResolved: true, ReconRejected: true,
}

// ParseReconStatus validates a status string.
func ParseReconStatus(s string) (ReconStatus, error) {
	st := ReconStatus(s)
	if !validReconStatuses[st] {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// ReconciliationRecord is one append-only audit row of a sync comparison.
type ReconciliationRecord struct {
	TimestampUTC     time.Time
	CompareFields    JSON
	Diff             JSON
	RawRecord        JSON
	ID               string
	TradeID          string
	GroupID          string
	Status           ReconStatus
	SyncRunID        string
	APIHash          string
	MappingVersion   string
	Broker           string
	Notes            string
	EntityCode       string
	JurisdictionCode string
	BrokerCode       string
	ResolvesID       string
	Actor            string
}

// ReconFilter narrows reconciliation reads.
type ReconFilter struct {
	Start     *time.Time
	End       *time.Time
	SyncRunID string
	TradeID   string
	GroupID   string
	Status    ReconStatus
	Limit     int
	Offset    int
}

package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a database transaction.
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultListLimit and MaxListLimit bound paginated reads.
	DefaultListLimit = 50
	MaxListLimit     = 1000

	// IdempotencyKeyTTL is how long idempotency keys are cached.
	IdempotencyKeyTTL = 24 * time.Hour

	// SyncLockTTL is how long a sync lock lives if the holder dies.
	SyncLockTTL = 15 * time.Minute

	// MappingCacheTTL bounds how stale a cached mapping table may be.
	MappingCacheTTL = 5 * time.Minute

	// SystemActor is recorded when no human actor drove a change.
	SystemActor = "system"
)

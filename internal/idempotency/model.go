package idempotency

import (
	"errors"
	"time"
)

// Status enumerates record lifecycle states.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Operation types recorded by the governance core.
const (
	OpJournalEntry  = "journal_entry"
	OpStockMovement = "stock_movement"
	OpSignalHandler = "signal_handler"
)

var (
	// ErrKeyHeld indicates another actor holds a live started record.
	ErrKeyHeld = errors.New("idempotency: key held by in-flight operation")
	// ErrTokenStale indicates the record left the started state already.
	ErrTokenStale = errors.New("idempotency: token no longer started")
)

// Record is one row of the idempotency table.
type Record struct {
	ID            int64
	OperationType string
	Key           string
	Status        Status
	ContextData   map[string]any
	ResultData    map[string]any
	ErrorCode     string
	User          string
	CreatedAt     time.Time
	ExpiresAt     *time.Time
}

// Outcome is the result of probing a key.
type Outcome struct {
	Found     bool
	Status    Status
	Result    map[string]any
	ErrorCode string
}

// Token proves ownership of a started record.
type Token struct {
	OperationType string
	Key           string
}

// Health summarises store liveness for the operator surface.
type Health struct {
	Reachable    bool
	StartedCount int64
	OldestActive *time.Time
}

// Statistics aggregates record counts by status.
type Statistics struct {
	Started   int64
	Completed int64
	Failed    int64
	Expired   int64
}

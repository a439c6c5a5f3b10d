package quarantine

import (
	"time"

	"github.com/google/uuid"
)

// CorruptionType classifies why a record is suspect. The singleton check
// carries the entity name in Evidence, not in the type.
type CorruptionType string

const (
	CorruptionOrphanedJournalEntries  CorruptionType = "ORPHANED_JOURNAL_ENTRIES"
	CorruptionNegativeStock           CorruptionType = "NEGATIVE_STOCK"
	CorruptionMultipleActiveSingleton CorruptionType = "MULTIPLE_ACTIVE_SINGLETON"
	CorruptionUnbalancedEntries       CorruptionType = "UNBALANCED_JOURNAL_ENTRIES"
	CorruptionScanFailure             CorruptionType = "SCAN_FAILURE"
)

// Confidence grades how certain a scanner is about a finding.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Status enumerates quarantine lifecycle states.
type Status string

const (
	StatusQuarantined Status = "QUARANTINED"
	StatusReleased    Status = "RELEASED"
	StatusDiscarded   Status = "DISCARDED"
)

// Record is one quarantined object. The original data snapshot keeps the
// record recoverable; nothing is deleted.
type Record struct {
	ID             uuid.UUID
	ModelName      string
	ObjectID       string
	CorruptionType CorruptionType
	Confidence     Confidence
	Reason         string
	Evidence       map[string]any
	OriginalData   map[string]any
	Status         Status
	CreatedBy      string
	CreatedAt      time.Time
	ReviewedBy     string
	ReviewedAt     *time.Time
}

// Submission is the input for quarantining an object.
type Submission struct {
	ModelName      string
	ObjectID       string
	CorruptionType CorruptionType
	Confidence     Confidence
	Reason         string
	Evidence       map[string]any
	OriginalData   map[string]any
	CreatedBy      string
}

// Filter narrows quarantine queries.
type Filter struct {
	CorruptionType CorruptionType
	Confidence     Confidence
	Status         Status
	OlderThan      time.Duration
	Limit          int
}

package repair

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/quarantine"
)

// CorruptionItem is one finding of a scanner.
type CorruptionItem struct {
	Type       quarantine.CorruptionType
	ModelName  string
	ObjectID   string
	Confidence quarantine.Confidence
	Reason     string
	Evidence   map[string]any
}

// CorruptionReport aggregates scanner findings from one sweep.
type CorruptionReport struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   time.Time
	ScannedTypes []quarantine.CorruptionType
	Items        []CorruptionItem
	ByType       map[quarantine.CorruptionType]int
	ByConfidence map[quarantine.Confidence]int
}

// RepairAction enumerates the repair strategies the planner may propose.
type RepairAction string

const (
	ActionRelink     RepairAction = "RELINK"
	ActionQuarantine RepairAction = "QUARANTINE"
	ActionRebuild    RepairAction = "REBUILD"
	ActionAdjustment RepairAction = "ADJUSTMENT"
)

// RiskLevel grades a proposed repair.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RepairPlan is one proposed repair for a (type, confidence) group. Plans
// are advisory; nothing in this package mutates data.
type RepairPlan struct {
	CorruptionType    quarantine.CorruptionType
	Confidence        quarantine.Confidence
	Action            RepairAction
	ItemCount         int
	Steps             []string
	EstimatedDuration time.Duration
	RiskLevel         RiskLevel
	Verification      []string
	RollbackStrategy  string
}

// RepairReport is the planner output. Execution stays blocked and human
// approval stays required regardless of content.
type RepairReport struct {
	ReportID         uuid.UUID
	CreatedAt        time.Time
	Plans            []RepairPlan
	TotalItems       int
	ExecutionBlocked bool
	ApprovalRequired bool
}

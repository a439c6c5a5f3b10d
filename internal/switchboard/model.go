package switchboard

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel grades the blast radius of toggling a component.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ComponentFlag gates one capability the system provides.
type ComponentFlag struct {
	Name      string
	Enabled   bool
	Default   bool
	Critical  bool
	RiskLevel RiskLevel
	UpdatedAt time.Time
}

// WorkflowFlag gates one end-to-end data-flow route. A workflow is
// effective only when every component dependency is enabled and no
// covering emergency is active.
type WorkflowFlag struct {
	Name                  string
	Enabled               bool
	ComponentDependencies []string
	CorruptionPrevention  []string
	// SourceBindings lists "module.model" pairs routed through this workflow.
	SourceBindings []string
	// HighPriority workflows lock their entries at posting time.
	HighPriority bool
	UpdatedAt    time.Time
}

// EmergencyFlag is a global kill switch. An empty Covers list covers
// every workflow.
type EmergencyFlag struct {
	Name      string
	Active    bool
	Covers    []string
	UpdatedAt time.Time
}

// Snapshot captures every flag's state at one instant.
type Snapshot struct {
	ID             uuid.UUID
	Timestamp      time.Time
	Reason         string
	CreatedBy      string
	ComponentFlags map[string]bool
	WorkflowFlags  map[string]bool
	EmergencyFlags map[string]bool
}

// Violation records a governance breach observed at runtime.
type Violation struct {
	ID        int64
	Type      string
	Details   map[string]any
	CreatedAt time.Time
}

// State is the full switchboard flag state.
type State struct {
	Components  map[string]ComponentFlag
	Workflows   map[string]WorkflowFlag
	Emergencies map[string]EmergencyFlag
}

// Namespace identifies a flag family for override operations.
type Namespace string

const (
	NamespaceComponent Namespace = "component"
	NamespaceWorkflow  Namespace = "workflow"
	NamespaceEmergency Namespace = "emergency"
)

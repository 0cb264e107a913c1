package simulate

import "time"

// ChangeType classifies one simulated change.
type ChangeType string

const (
	ChangeFileCreate      ChangeType = "file_create"
	ChangeFileModify      ChangeType = "file_modify"
	ChangeCommand         ChangeType = "command"
	ChangeServiceRestart  ChangeType = "service_restart"
	ChangeHardwareControl ChangeType = "hardware_control"
	ChangePackageUpdate   ChangeType = "package_update"
)

// Change is one effect an action would have.
type Change struct {
	Type        ChangeType `json:"type"`
	Target      string     `json:"target"`
	Diff        string     `json:"diff,omitempty"`
	Before      string     `json:"before,omitempty"`
	After       string     `json:"after,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Result is the full prediction for one action. It is immutable once
// produced and is a pure function of the action and current disk state.
type Result struct {
	ID                string        `json:"id"`
	Action            string        `json:"action"`
	Changes           []Change      `json:"changes"`
	AffectedFiles     []string      `json:"affected_files,omitempty"`
	AffectedServices  []string      `json:"affected_services,omitempty"`
	AffectedProcesses []string      `json:"affected_processes,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	Commands          []string      `json:"commands,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration_ns"`
	Reversible        bool          `json:"reversible"`
	RollbackStrategy  string        `json:"rollback_strategy"`
	CreatedAt         time.Time     `json:"created_at"`
}

// ActionKind selects the simulation strategy.
type ActionKind string

const (
	ActionFileWrite       ActionKind = "file_write"
	ActionCommand         ActionKind = "command"
	ActionServiceRestart  ActionKind = "service_restart"
	ActionHardwareControl ActionKind = "hardware_control"
	ActionPackageUpdate   ActionKind = "package_update"
)

// Action describes a side-effecting operation to be previewed. Only the
// fields relevant to the Kind are consulted.
type Action struct {
	Kind ActionKind

	// File write.
	Path    string
	Content []byte

	// Command.
	Command string
	Args    []string

	// Service restart.
	Service string

	// Hardware control: device sysfs path plus target intensity percent.
	Device        string
	TargetPercent int

	// Package update.
	Packages []string
	Manager  string // apt | dnf; empty autodetects
}

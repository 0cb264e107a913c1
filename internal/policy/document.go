package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Conditions restrict when a tool invocation is allowed. Every list is
// optional; an absent list does not constrain. A condition whose input
// field is missing from the invocation is treated as not applicable.
type Conditions struct {
	// Users allowed to invoke the tool (exact match).
	Users []string `yaml:"users,omitempty" json:"users,omitempty"`

	// Hosts allowed to invoke the tool (shell-style globs).
	Hosts []string `yaml:"hosts,omitempty" json:"hosts,omitempty"`

	// HoursAllow holds "HH:MM-HH:MM" local-time ranges. Ranges may wrap
	// midnight: "22:00-06:00" matches 23:00 and 05:00.
	HoursAllow []string `yaml:"hours_allow,omitempty" json:"hours_allow,omitempty"`

	// PathsAllow and PathsDeny are globs evaluated against the
	// invocation's path input.
	PathsAllow []string `yaml:"paths_allow,omitempty" json:"paths_allow,omitempty"`
	PathsDeny  []string `yaml:"paths_deny,omitempty" json:"paths_deny,omitempty"`

	// NamesAllow lists the permitted values of the invocation's name
	// input (exact match).
	NamesAllow []string `yaml:"names_allow,omitempty" json:"names_allow,omitempty"`
}

// ToolPolicy is one tool's entry in the policy document.
type ToolPolicy struct {
	// Allow overrides default_allow for this tool. Nil inherits.
	Allow *bool `yaml:"allow,omitempty" json:"allow,omitempty"`

	// SimulationRequired demands a dry-run simulation before approval.
	SimulationRequired bool `yaml:"simulation_required,omitempty" json:"simulation_required,omitempty"`

	// RollbackRequired demands a rollback strategy before apply.
	RollbackRequired bool `yaml:"rollback_required,omitempty" json:"rollback_required,omitempty"`

	// Approvals lists approver ids that must sign off.
	Approvals []string `yaml:"approvals,omitempty" json:"approvals,omitempty"`

	Conditions Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Document is the declarative policy tree loaded from YAML.
type Document struct {
	DefaultAllow bool                  `yaml:"default_allow" json:"default_allow"`
	Tools        map[string]ToolPolicy `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// DefaultDocument allows everything, requiring simulation and rollback for
// the stock side-effecting tools.
func DefaultDocument() *Document {
	return &Document{
		DefaultAllow: true,
		Tools: map[string]ToolPolicy{
			"write_config": {
				SimulationRequired: true,
				RollbackRequired:   true,
			},
			"run_command": {
				SimulationRequired: true,
			},
			"restart_service": {
				SimulationRequired: true,
			},
			"package_update": {
				SimulationRequired: true,
				RollbackRequired:   true,
			},
		},
	}
}

// Load reads and parses a policy document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if doc.Tools == nil {
		doc.Tools = map[string]ToolPolicy{}
	}
	for name, tp := range doc.Tools {
		for _, r := range tp.Conditions.HoursAllow {
			if _, _, err := parseHourRange(r); err != nil {
				return nil, fmt.Errorf("tool %s: %w", name, err)
			}
		}
	}
	return &doc, nil
}

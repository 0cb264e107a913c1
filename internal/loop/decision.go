package loop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Risk levels a decision may carry.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ActionSkip is the action a decision uses to decline the firing.
const ActionSkip = "skip"

// Decision is the structured output of one model consultation. It is
// immutable per loop iteration; the one mutation the loop applies is
// forcing RequiresApproval when the guardrail gate demands it.
type Decision struct {
	Step             int     `json:"step"`
	Action           string  `json:"action"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty"`
	RequiresApproval bool    `json:"requires_approval"`
	ApprovalReason   string  `json:"approval_reason,omitempty"`
	RiskLevel        string  `json:"risk_level"`
}

// ParseDecision extracts the first balanced {...} object from the model
// response and validates it against the decision schema. Callers fall
// back to ConservativeDecision on any error.
func ParseDecision(text string) (*Decision, error) {
	raw, ok := firstJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}

	if d.Action == "" {
		return nil, fmt.Errorf("decision missing action")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return nil, fmt.Errorf("confidence %g outside [0, 1]", d.Confidence)
	}
	switch d.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	case "":
		d.RiskLevel = RiskMedium
	default:
		return nil, fmt.Errorf("unknown risk level %q", d.RiskLevel)
	}

	// High risk always goes through a human regardless of what the
	// model asked for.
	if d.RiskLevel == RiskHigh && !d.RequiresApproval {
		d.RequiresApproval = true
		if d.ApprovalReason == "" {
			d.ApprovalReason = "high risk level"
		}
	}
	return &d, nil
}

// ConservativeDecision is the fallback when the model response cannot
// be parsed or validated: do nothing without a human.
func ConservativeDecision(reason string) *Decision {
	return &Decision{
		Action:           ActionSkip,
		Confidence:       0,
		Reasoning:        reason,
		RequiresApproval: true,
		ApprovalReason:   reason,
		RiskLevel:        RiskHigh,
	}
}

// firstJSONObject scans for the first balanced top-level object,
// tracking string literals so braces inside them don't count.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

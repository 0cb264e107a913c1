package loop

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cerebric/cerebric/internal/retrieval"
)

// defaultPromptTemplate frames every autonomous consultation. The
// decision schema in the contract matches Decision exactly; anything
// outside a single JSON object is rejected by the parser and the run
// falls back to a conservative skip.
const defaultPromptTemplate = `You are the decision engine of an autonomous system supervisor running on a single machine. You are consulted once per scheduled task firing. You decide what the supervisor should do next, and you are conservative: when unsure, you lower your confidence or request approval.

## Task
%s

## Current system state
%s

## Relevant memories
%s

## Output contract
Respond with exactly ONE JSON object and nothing else. No prose, no code fences. Schema:
{
  "step": <int, always 1>,
  "action": "<short imperative description of the operation to perform, or \"skip\">",
  "confidence": <float 0.0-1.0>,
  "reasoning": "<one or two sentences>",
  "requires_approval": <bool>,
  "approval_reason": "<why a human must confirm, empty if not needed>",
  "risk_level": "<low|medium|high>"
}`

// composePrompt renders the session template with the task description,
// the JSON-encoded state snapshot, and the retrieved memories.
func composePrompt(template, taskDescription string, state map[string]any, memories []retrieval.Hit) string {
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		stateJSON = []byte("{}")
	}

	var mem strings.Builder
	if len(memories) == 0 {
		mem.WriteString("(none)")
	}
	for i, hit := range memories {
		fmt.Fprintf(&mem, "%d. [%s, score %.2f] %s\n", i+1, hit.Source, hit.Score, strings.TrimSpace(hit.Text))
	}

	return fmt.Sprintf(template, taskDescription, stateJSON, strings.TrimRight(mem.String(), "\n"))
}

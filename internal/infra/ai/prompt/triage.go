package prompt

import (
	"fmt"
	"strings"

	"github.com/medphys/bulkcbct/internal/domain/batches"
)

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are an assistant for a medical physics QA team reviewing the failures of a bulk CBCT phantom analysis run. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- Classify each failed study as "data" (bad or incompatible study data: wrong phantom, too few slices, truncated export) or "tooling" (analyzer bug, environment problem, timeout).
- Group repeated failure messages rather than repeating them per study.
- advice should tell the operator what to re-export, re-scan, or escalate.

Schema (example with empty values):
{
  "batch_id": "<string>",
  "groups": [
    {
      "kind": "<data|tooling>",
      "message_pattern": "<string>",
      "study_count": 0,
      "likely_cause": "<string>",
      "suggested_action": "<string>"
    }
  ],
  "advice": "<string>"
}`
}

// GetUserPrompt builds a compact user message from a batch's failures.
func GetUserPrompt(b *batches.Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch %s ran phantom %s over %d studies: %d succeeded, %d failed.\n",
		b.ID, b.Phantom, len(b.Outcomes), b.SuccessCount, b.FailureCount)
	sb.WriteString("Failed studies:\n")
	for _, o := range b.Outcomes {
		if o.Status != batches.StatusFailed {
			continue
		}
		fmt.Fprintf(&sb, "- path=%s kind=%s message=%s\n", o.StudyPath, o.ErrorKind, o.ErrorMessage)
	}
	sb.WriteString("Respond with the JSON per schema.")
	return sb.String()
}

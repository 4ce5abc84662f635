package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("no valid json found")

// ExtractJSON cuts the outermost JSON object out of raw model output, which
// may be wrapped in prose or markdown fences.
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start == -1 || end == -1 || end <= start {
		return s, ErrNoJSON
	}

	return s[start : end+1], nil
}

// RepairInstruction is appended to the original prompt after a response
// failed to parse or validate.
func RepairInstruction(badOutput string, problem error) string {
	return fmt.Sprintf(`

Your previous answer could not be accepted: %v

RULES:
- Output ONLY valid JSON matching the requested structure
- Do NOT add explanations
- Do NOT include markdown
- Do NOT include text outside JSON
- risk_score MUST be an integer from 0 to 10

PREVIOUS OUTPUT:
<<<
%s
>>>

Return the corrected JSON only.
`, problem, badOutput)
}

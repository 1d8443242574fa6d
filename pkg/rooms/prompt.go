package rooms

import (
	"strings"
	"unicode/utf8"
)

const isolationInstructions = `## Execution Context

You are running in an isolated execution room.
- Work autonomously on the task below.
- Do not attempt to communicate with other executions.
- Produce output that can be aggregated with results from other providers.`

const outputStructure = `## Output Structure

Structure your response with these sections:
1. What was done
2. Key findings
3. Artifacts (code, configuration, documents)
4. Recommendations`

const truncationNote = "\n\n[Agent prompt truncated to fit context budget]"

// buildPrompt assembles the composite prompt. When a token limit is set and
// the estimate exceeds it, only the agent prompt is shortened.
func buildPrompt(agentPrompt, task string, isolation bool, limit int) (string, bool) {
	tail := composeTail(task, isolation)
	compacted := false
	if limit > 0 && estimateTokens(agentPrompt)+estimateTokens(tail) > limit {
		agentPrompt = trimToTokenBudget(agentPrompt, limit-estimateTokens(tail))
		compacted = true
	}
	if agentPrompt == "" {
		return tail, compacted
	}
	return agentPrompt + "\n\n" + tail, compacted
}

func composeTail(task string, isolation bool) string {
	var parts []string
	if isolation {
		parts = append(parts, isolationInstructions)
	}
	parts = append(parts, "## Task\n\n"+task, outputStructure)
	return strings.Join(parts, "\n\n")
}

// estimateTokens assumes roughly four characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}

// trimToTokenBudget keeps whole leading lines that fit the budget, falling
// back to a hard cut when even the first line is too long.
func trimToTokenBudget(content string, maxTokens int) string {
	if estimateTokens(content) <= maxTokens {
		return content
	}
	if maxTokens <= 0 {
		return ""
	}

	var kept []string
	tokens := 0
	for _, line := range strings.Split(content, "\n") {
		lineTokens := estimateTokens(line) + 1
		if tokens+lineTokens > maxTokens {
			break
		}
		tokens += lineTokens
		kept = append(kept, line)
	}
	if len(kept) > 0 {
		return strings.Join(kept, "\n") + truncationNote
	}

	cut := min(maxTokens*4, len(content))
	for cut > 0 && cut < len(content) && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + truncationNote
}

func failureDocument(provider string, err error) string {
	return "# Execution Failed\n\n**Provider**: " + provider + "\n\n**Error**: " + err.Error() + "\n"
}

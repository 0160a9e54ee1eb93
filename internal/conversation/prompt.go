// ABOUTME: Fixed system prompt for the sourcing assistant
// ABOUTME: States the per-request tool budget so the model plans its lookups

package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const systemPromptTemplate = `You are a procurement assistant for a manufacturing sourcing team.
You help people find suppliers, catalog items, RFQs and quotes.

Use the catalog tools to ground every answer:
- lookup_entity when the user names a specific supplier, item, RFQ or quote by name or code
- keyword_search for exact terms, part numbers and material names
- semantic_search for descriptive or fuzzy requests

You may make at most %d tool calls for this request. Plan them, and once the
budget is spent answer with what you have.

Only state facts that appear in tool results. If nothing matches, say so and
suggest a different search. Keep answers short and list results with their codes.`

func systemPrompt(toolBudget int) string {
	return fmt.Sprintf(systemPromptTemplate, toolBudget)
}

// titleFrom derives a conversation title from the first user message.
func titleFrom(message string, maxRunes int) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}

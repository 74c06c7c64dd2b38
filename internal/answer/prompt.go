package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/docquery/docquery/internal/session"
	"github.com/docquery/docquery/internal/vecindex"
)

// historyTurnMaxLen bounds each history turn included in the prompt.
const historyTurnMaxLen = 500

const promptInstructions = `You are a helpful documentation assistant. Your job is to answer questions based on the provided documentation context.

IMPORTANT INSTRUCTIONS:
1. Use the previous conversation to understand context and what the user is referring to
2. When the user asks about previous messages, you CAN refer to the conversation history
3. For questions about the documentation content, answer using information from the provided documentation context
4. You MUST cite the sources you used with bracketed numbers, e.g. [1] or [2], matching the numbered sources below
5. If the documentation doesn't contain enough information to answer, say so clearly
6. Be concise but thorough
7. Use a professional and helpful tone
8. Format your answer clearly with bullet points or paragraphs as appropriate`

// buildPrompt assembles the generation prompt: instructions, bounded
// conversation history, numbered context blocks, the source list and the
// question.
func buildPrompt(question string, history []session.Turn, matches []vecindex.Match, maxHistory int) string {
	var b strings.Builder
	b.WriteString(promptInstructions)
	b.WriteString("\n")

	if h := buildHistory(history, maxHistory); h != "" {
		b.WriteString("\nPREVIOUS CONVERSATION:\n")
		b.WriteString(h)
		b.WriteString("\n")
	}

	b.WriteString("\nCONTEXT FROM DOCUMENTATION:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n\n", i+1, m.Title, m.Text)
	}

	b.WriteString("AVAILABLE SOURCES:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s (from %s)\n", i+1, m.Title, m.DocPath)
	}

	fmt.Fprintf(&b, "\nCURRENT QUESTION: %s\n\nANSWER (cite sources by number when using them):", question)
	return b.String()
}

// buildHistory renders the last maxHistory turns, oldest first, each
// truncated to historyTurnMaxLen characters.
func buildHistory(history []session.Turn, maxHistory int) string {
	if maxHistory <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	var parts []string
	for _, turn := range history {
		content := turn.Content
		if len(content) > historyTurnMaxLen {
			content = content[:historyTurnMaxLen]
		}
		switch turn.Role {
		case session.RoleUser:
			parts = append(parts, "Q: "+content)
		case session.RoleAssistant:
			parts = append(parts, "A: "+content)
		}
	}
	return strings.Join(parts, "\n")
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations parses bracketed citation markers from an answer and maps
// them to 1-based source positions. Out-of-range markers are ignored;
// duplicates keep their first-mention order.
func extractCitations(text string, numSources int) []int {
	seen := make(map[int]bool)
	var cited []int
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > numSources {
			continue
		}
		if !seen[n] {
			seen[n] = true
			cited = append(cited, n)
		}
	}
	return cited
}

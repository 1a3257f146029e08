package orchestrator

import "strings"

// historyWindow is how many trailing turns of the conversation make it
// into the prompt.
const historyWindow = 5

// responseMarker closes every assembled prompt. Tests and downstream
// tooling rely on the prompt ending with the user message plus this
// marker.
const responseMarker = "Resposta:"

// BuildContext assembles the provider prompt. The section order is
// fixed for reproducibility: mode instruction, relevant knowledge,
// conversation context, then the literal user message and the response
// marker. Empty sections are omitted entirely, headers included.
func BuildContext(instruction string, knowledge []Snippet, history []Turn, message string) string {
	var b strings.Builder

	b.WriteString(instruction)
	b.WriteString("\n")

	if len(knowledge) > 0 {
		b.WriteString("\nConhecimento relevante:\n")
		for _, s := range knowledge {
			b.WriteString("- ")
			b.WriteString(s.Title)
			b.WriteString(": ")
			b.WriteString(s.Content)
			b.WriteString("\n")
		}
	}

	if len(history) > 0 {
		window := history
		if len(window) > historyWindow {
			window = window[len(window)-historyWindow:]
		}
		b.WriteString("\nContexto da conversa:\n")
		for _, t := range window {
			b.WriteString(t.Role)
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(message)
	b.WriteString("\n\n")
	b.WriteString(responseMarker)

	return b.String()
}

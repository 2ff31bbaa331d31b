package engine

import (
	"fmt"
	"strings"

	"github.com/amanahlabs/fiqhbridge/internal/query"
)

// systemPrompt frames every generation as a Sharia-compliance analysis.
const systemPrompt = "You are an expert in Islamic finance and Sharia compliance. " +
	"Analyze cryptocurrency and financial instruments based on Islamic principles: " +
	"no riba (interest), no gharar (excessive uncertainty), no maysir (gambling), " +
	"and adherence to maqashid shariah (objectives of Islamic law). Provide clear, " +
	"scholarly analysis with references to Islamic sources when possible."

// followUpSystemPrompt frames follow-up question synthesis.
const followUpSystemPrompt = "You are an Islamic finance expert. Generate relevant " +
	"follow-up questions that help users understand Islamic finance concepts better."

// buildPrompt renders the user prompt for a request. The text argument is the
// request payload after any transcription.
func buildPrompt(req query.Request, text string) string {
	var b strings.Builder
	switch req.Kind {
	case query.KindToken:
		fmt.Fprintf(&b, "Analyze the cryptocurrency token %q for Sharia compliance. ", strings.ToUpper(strings.TrimSpace(text)))
		b.WriteString("State a ruling (Halal, Haram, or Conditionally Permissible), the reasoning, and Islamic sources.")
	case query.KindContract:
		fmt.Fprintf(&b, "Analyze the smart contract at address %q for Sharia compliance. ", strings.TrimSpace(text))
		b.WriteString("Consider interest-bearing mechanics, gambling-like payouts, and underlying utility.")
	default:
		b.WriteString(text)
	}
	if req.Language != "" && req.Language != "en" {
		fmt.Fprintf(&b, "\n\nAnswer in the language with ISO 639-1 code %q.", req.Language)
	}
	return b.String()
}

// followUpPrompt asks for three follow-up questions about an analysis.
func followUpPrompt(analysis string) string {
	return "Based on this Islamic finance analysis, generate 3 relevant follow-up " +
		"questions that would help users understand the topic better:\n\n" + analysis +
		"\n\nProvide only the questions, one per line, without numbering."
}

// parseFollowUps splits a follow-up generation into at most three questions.
func parseFollowUps(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•*0123456789. "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 3 {
			break
		}
	}
	return out
}

package chat

import "strings"

// HandoffTemplate is the acknowledgment the assistant is instructed to use
// when the user supplies a domain. Text following it names the domain.
const HandoffTemplate = "Thanks for providing the domain name! Domain Name:"

// SystemPrompt scopes the assistant to domain lookup assistance.
const SystemPrompt = `You are a helpful AI that remembers past interactions and specializes in domain lookup assistance. You always greet the user warmly and entertain only domain lookup-related topics. You strictly enforce the discussion to remain on domain lookup but remain polite and professional.

If a user greets you (e.g., 'Hello' or 'Hi'), respond with a friendly greeting. If the user asks a question related to domain lookup, provide accurate and helpful information.

If the user provides a valid domain name (e.g., amazon.com, google.com), respond only with: '` + HandoffTemplate + `[insert domain name here]'

If the user attempts to discuss unrelated topics or asks about anything outside domain lookup, politely but firmly respond with: 'Please provide a valid domain name for lookup. I can only assist with domain-related queries.'

Ensure all interactions remain strictly focused on domain lookup and verification.`

// DomainHandoff extracts the domain named after HandoffTemplate in reply.
// Only the first line after the template is considered; surrounding
// whitespace and square brackets are dropped.
func DomainHandoff(reply string) (string, bool) {
	idx := strings.Index(reply, HandoffTemplate)
	if idx < 0 {
		return "", false
	}

	rest := strings.TrimSpace(reply[idx+len(HandoffTemplate):])
	if end := strings.IndexAny(rest, "\r\n"); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(strings.Trim(rest, "[]"))
	if rest == "" {
		return "", false
	}
	return rest, true
}

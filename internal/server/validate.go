package server

import (
	"fmt"
	"strings"
)

// ChatRequest is the POST /chat body. Exactly one of Prompt or Message must
// carry the user's text; Message is the legacy field name some clients send.
type ChatRequest struct {
	Prompt   string `json:"prompt,omitempty"`
	Message  string `json:"message,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

// ValidateChatRequest checks that exactly one of prompt/message is present,
// non-empty after trimming, and at most maxLen characters. It returns the
// normalized prompt, or a list of human-readable problems. It never panics.
func ValidateChatRequest(req ChatRequest, maxLen int) (string, []string) {
	prompt := strings.TrimSpace(req.Prompt)
	message := strings.TrimSpace(req.Message)

	var problems []string
	switch {
	case prompt == "" && message == "":
		problems = append(problems, "exactly one of prompt or message is required")
	case prompt != "" && message != "":
		problems = append(problems, "exactly one of prompt or message is required, not both")
	case message != "":
		prompt = message
	}

	if prompt != "" && len(prompt) > maxLen {
		problems = append(problems, fmt.Sprintf("prompt must be at most %d characters", maxLen))
	}
	if len(problems) > 0 {
		return "", problems
	}
	return prompt, nil
}

// Sanitize collapses internal whitespace runs to single spaces and trims the
// ends. It is pure and idempotent, and never truncates.
func Sanitize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package coderunner

import (
	"context"
	"net/http"
)

// HelperSystemPrompt primes the code helper for debugging conversations.
const HelperSystemPrompt = "You are Code_Helper, a sub-agent of Code_Runner, which is an online Remote Code " +
	"Execution platform. You are given the user's code and a chat between the user, use the context to help " +
	"them debug their code, pointing out design flaws, mistakes, and where errors may be arising from if present."

// NeverRanResult is sent in place of a result when the code was not run yet.
var NeverRanResult = ChatResult{
	Runtime: -1,
	Status:  "CODE WAS NEVER RAN, NO OUTPUT DATA HERE",
}

// HelperService talks to the LLM code helper.
type HelperService struct {
	c *Client
}

// NewChat builds the message list for a helper request: the system prompt,
// the earlier conversation, then the new user message.
func NewChat(history []ChatMessage, message string) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history)+2)
	msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: HelperSystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, ChatMessage{Role: RoleUser, Content: message})
	return msgs
}

// Message sends a conversation plus the current code to the helper and
// returns its reply. A nil Result is replaced with NeverRanResult.
func (s *HelperService) Message(ctx context.Context, req ChatRequest) (string, error) {
	if req.Result == nil {
		r := NeverRanResult
		req.Result = &r
	}
	return doText(ctx, s.c, http.MethodPost, "/llm/message", nil, req)
}

// Package helper answers the code-helper conversations posted to
// /llm/message. A Responder produces the agent's reply; Explainer is the
// built-in one and reads the last run result without calling out to a model.
package helper

import (
	"context"
	"fmt"
	"strings"
)

// Conversation roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleAgent  = "agent"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Code struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Problem  string `json:"problem"`
	Input    string `json:"input"`
}

// Result is the last run the user saw. Runtime is negative when the code was
// never run.
type Result struct {
	Success    bool    `json:"success"`
	Runtime    float64 `json:"runtime"`
	Output     string  `json:"output"`
	Error      string  `json:"error"`
	ExitStatus string  `json:"exitStatus"`
	Status     string  `json:"status"`
}

func (r *Result) ran() bool {
	return r != nil && r.Runtime >= 0
}

// Chat is the body of POST /llm/message.
type Chat struct {
	Messages []Message `json:"messages"`
	Code     Code      `json:"code"`
	Result   *Result   `json:"result"`
}

// Responder produces the agent's reply to a chat.
type Responder interface {
	Respond(ctx context.Context, chat Chat) (string, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, chat Chat) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, chat Chat) (string, error) {
	return f(ctx, chat)
}

// Transcript returns the messages a model-backed responder should send: the
// conversation with a user message carrying the code and run result placed
// just before the newest message.
func Transcript(chat Chat) []Message {
	var b strings.Builder
	b.WriteString("Here's some information about my code:\n=======CODE=======\n")
	fmt.Fprintf(&b, "Language: %s\n", chat.Code.Language)
	if chat.Code.Problem != "" {
		fmt.Fprintf(&b, "Problem: %s\n", chat.Code.Problem)
	}
	if chat.Code.Input != "" {
		fmt.Fprintf(&b, "Input:\n%s\n", chat.Code.Input)
	}
	fmt.Fprintf(&b, "%s\n======RESULTS=====\n", chat.Code.Code)
	if !chat.Result.ran() {
		b.WriteString("The code was never run.\n")
	} else {
		fmt.Fprintf(&b, "Exit status: %s (%.0f ms)\nOutput:\n%s\nError:\n%s\n",
			chat.Result.ExitStatus, chat.Result.Runtime, chat.Result.Output, chat.Result.Error)
	}
	info := Message{Role: RoleUser, Content: b.String()}

	msgs := make([]Message, 0, len(chat.Messages)+1)
	if len(chat.Messages) == 0 {
		return append(msgs, info)
	}
	last := len(chat.Messages) - 1
	msgs = append(msgs, chat.Messages[:last]...)
	msgs = append(msgs, info, chat.Messages[last])
	return msgs
}

// Explainer answers from the run result alone.
type Explainer struct{}

var _ Responder = Explainer{}

func (Explainer) Respond(ctx context.Context, chat Chat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := chat.Result
	if !r.ran() {
		return "Your code has not been run yet. Run it first and I can help you read the result.", nil
	}

	status := r.ExitStatus
	switch {
	case r.Success:
		return fmt.Sprintf("Your %s program ran successfully in %.0f ms. If the output is not what you "+
			"expected, compare it line by line with the expected output.", languageName(chat.Code.Language), r.Runtime), nil
	case status == "Compilation Error":
		return "The program did not compile. The first compiler message is usually the one to fix:\n" +
			firstLine(r.Error), nil
	case status == "Time Limit Exceeded":
		return "The program ran out of time. Look for loops that never end or for reads waiting on input " +
			"that was not provided.", nil
	case status == "Memory Limit Exceeded":
		return "The program used too much memory. Check for data structures that grow without bound or for " +
			"deep recursion.", nil
	case status == "Wrong Answer":
		return "The program ran but printed the wrong output for at least one test case. " +
			firstLine(r.Output), nil
	case strings.HasPrefix(status, "Runtime Error"):
		msg := "The program crashed while running (" + status + ")."
		if line := firstLine(r.Error); line != "" {
			msg += " The error output starts with:\n" + line
		}
		return msg, nil
	default:
		return "The run ended with " + status + ". " + firstLine(r.Error), nil
	}
}

func languageName(l string) string {
	if l == "" {
		return "submitted"
	}
	return l
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	line, _, _ := strings.Cut(s, "\n")
	return line
}

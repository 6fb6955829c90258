package coderunner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ExecutionsService submits code and checks on running executions.
type ExecutionsService struct {
	c *Client
}

// Submit starts a run and returns the opaque execution id assigned by the
// service.
func (s *ExecutionsService) Submit(ctx context.Context, sub Submission) (string, error) {
	body, err := doText(ctx, s.c, http.MethodPost, "/submit", nil, sub)
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(body)
	// Some deployments answer with a JSON string instead of raw text.
	if strings.HasPrefix(id, `"`) {
		var unquoted string
		if err := json.Unmarshal([]byte(id), &unquoted); err != nil {
			return "", fmt.Errorf("%w: execution id %q: %v", ErrMalformedResponse, id, err)
		}
		id = strings.TrimSpace(unquoted)
	}
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}

// Check reports the current state of an execution. A status outside the
// known set is returned as an error wrapping ErrUnknownStatus.
func (s *ExecutionsService) Check(ctx context.Context, id string) (*CheckResponse, error) {
	raw, err := doJSON[checkWire](ctx, s.c, http.MethodPost, "/check", id)
	if err != nil {
		return nil, err
	}

	status, err := ParseStatus(raw.Status)
	if err != nil {
		return nil, err
	}
	return &CheckResponse{
		Status:     status,
		Success:    raw.Success,
		Runtime:    raw.Runtime,
		Output:     raw.Output,
		Error:      raw.Error,
		ExitStatus: raw.ExitStatus,
		Results:    raw.Results,
	}, nil
}

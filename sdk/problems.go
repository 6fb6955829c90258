package coderunner

import (
	"context"
	"net/http"
)

// ProblemsService manages the problem catalog and judges programs against it.
type ProblemsService struct {
	c *Client
}

// Add stores p, replacing any problem with the same name.
func (s *ProblemsService) Add(ctx context.Context, p Problem) (*Problem, error) {
	return doJSON[Problem](ctx, s.c, http.MethodPost, "/add_problem", p)
}

// List returns every problem keyed by name.
func (s *ProblemsService) List(ctx context.Context) (map[string]Problem, error) {
	out, err := doJSON[map[string]Problem](ctx, s.c, http.MethodGet, "/get_problems", nil)
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// Try runs the program against every test case of a problem. The service
// waits for the verdict for a while; past that the result has StatusRunning
// and only ID set.
func (s *ProblemsService) Try(ctx context.Context, sub ProblemSubmission) (*TrialResult, error) {
	raw, err := doJSON[trialWire](ctx, s.c, http.MethodPost, "/try_problem", sub)
	if err != nil {
		return nil, err
	}
	if raw.ID == "" {
		return nil, ErrEmptyID
	}

	status, err := ParseStatus(raw.Status)
	if err != nil {
		return nil, err
	}
	return &TrialResult{
		ID:         raw.ID,
		Status:     status,
		Success:    raw.Success,
		ExitStatus: raw.ExitStatus,
		Results:    raw.Results,
	}, nil
}

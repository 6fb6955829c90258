package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gsarma/coderunner/internal/code"
	"github.com/gsarma/coderunner/internal/store"
)

const (
	defaultTrialPoll    = 100 * time.Millisecond
	defaultTrialTimeout = 2 * time.Minute
)

// caseResult is one entry of the "results" array of a finished problem run.
type caseResult struct {
	Input      string  `json:"input"`
	Expected   string  `json:"expected"`
	Passed     bool    `json:"passed"`
	Success    bool    `json:"success"`
	Runtime    float64 `json:"runtime"`
	Output     string  `json:"output"`
	Error      string  `json:"error"`
	ExitStatus string  `json:"exitStatus"`
}

func caseResults(cases []store.CaseResult) []caseResult {
	out := make([]caseResult, len(cases))
	for i, c := range cases {
		out[i] = caseResult{
			Input:      c.Input,
			Expected:   c.Expected,
			Passed:     c.Passed,
			Success:    c.Success,
			Runtime:    c.RuntimeMs,
			Output:     c.Output,
			Error:      c.Error,
			ExitStatus: c.ExitStatus,
		}
	}
	return out
}

type testCaseBody struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// AddProblem stores a problem, replacing one with the same name.
//
// Request body:
//
//	{
//	  "name":        "double",
//	  "description": "Print twice the input.",
//	  "test cases":  [{"input": "2", "output": "4"}]
//	}
func (h *Handler) AddProblem(c *gin.Context) {
	var body struct {
		Name        string         `json:"name" binding:"required"`
		Description string         `json:"description"`
		TestCases   []testCaseBody `json:"test cases" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := store.Problem{Name: body.Name, Description: body.Description}
	for _, tc := range body.TestCases {
		p.TestCases = append(p.TestCases, store.TestCase{Input: tc.Input, Output: tc.Output})
	}
	p, err := h.queries.UpsertProblem(c.Request.Context(), p)
	if err != nil {
		h.logger.Error("store problem", "problem", body.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store problem"})
		return
	}

	h.logger.Info("problem stored", "problem", p.Name, "test_cases", len(p.TestCases))
	c.JSON(http.StatusOK, problemJSON(p))
}

// GetProblems returns every problem keyed by name.
func (h *Handler) GetProblems(c *gin.Context) {
	problems, err := h.queries.ListProblems(c.Request.Context())
	if err != nil {
		h.logger.Error("list problems", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list problems"})
		return
	}
	out := make(map[string]gin.H, len(problems))
	for _, p := range problems {
		out[p.Name] = problemJSON(p)
	}
	c.JSON(http.StatusOK, out)
}

func problemJSON(p store.Problem) gin.H {
	cases := make([]testCaseBody, len(p.TestCases))
	for i, tc := range p.TestCases {
		cases[i] = testCaseBody{Input: tc.Input, Output: tc.Output}
	}
	return gin.H{"name": p.Name, "description": p.Description, "test cases": cases}
}

// TryProblem queues a run of the program against every test case of a
// problem and waits for the verdict. A run still going when the wait ends
// is answered with 202 and its id, to be followed with /check.
func (h *Handler) TryProblem(c *gin.Context) {
	var body struct {
		Code     string `json:"code" binding:"required"`
		Language string `json:"language" binding:"required"`
		Problem  string `json:"problem" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := code.LanguageID(body.Language); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported language: " + body.Language})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.queries.GetProblem(ctx, body.Problem); errors.Is(err, store.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown problem: " + body.Problem})
		return
	} else if err != nil {
		h.logger.Error("load problem", "problem", body.Problem, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load problem"})
		return
	}

	exec, err := h.queries.CreateExecution(ctx, store.CreateExecutionParams{
		Kind:     store.KindProblem,
		Code:     body.Code,
		Language: body.Language,
		Problem:  body.Problem,
	})
	if err != nil {
		h.logger.Error("queue problem run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue execution"})
		return
	}
	h.logger.Info("problem run queued", "execution_id", exec.ID, "problem", exec.Problem)

	exec, err = h.awaitExecution(ctx, exec.ID)
	if err != nil {
		h.logger.Error("await problem run", "execution_id", exec.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution"})
		return
	}
	if exec.Status != store.StatusFinished {
		c.JSON(http.StatusAccepted, gin.H{"id": exec.ID.String(), "status": statusRunning})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         exec.ID.String(),
		"status":     statusFinished,
		"success":    exec.Success,
		"exitStatus": exec.ExitStatus,
		"results":    caseResults(exec.Cases),
	})
}

// awaitExecution polls the store until the execution finishes, the trial
// timeout passes, or ctx is done. The last row read is returned in the
// latter two cases.
func (h *Handler) awaitExecution(ctx context.Context, id uuid.UUID) (store.Execution, error) {
	poll, timeout := h.trialPoll, h.trialTimeout
	if poll <= 0 {
		poll = defaultTrialPoll
	}
	if timeout <= 0 {
		timeout = defaultTrialTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		exec, err := h.queries.GetExecution(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return store.Execution{ID: id, Status: store.StatusRunning}, nil
			}
			return store.Execution{ID: id}, err
		}
		if exec.Status == store.StatusFinished {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, nil
		case <-deadline.C:
			return exec, nil
		case <-ticker.C:
		}
	}
}

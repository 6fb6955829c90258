package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gsarma/coderunner/internal/code"
	"github.com/gsarma/coderunner/internal/store"
)

// MaxParallelCases bounds how many test cases of one problem run execute at
// the same time.
const MaxParallelCases = 4

// runProblem executes exec once per test case of its problem and folds the
// case results into the execution's outcome.
func (w *Worker) runProblem(ctx context.Context, exec store.Execution) store.FinishExecutionParams {
	problem, err := w.store.GetProblem(ctx, exec.Problem)
	if errors.Is(err, store.ErrNoRows) {
		return store.FinishExecutionParams{
			ID:         exec.ID,
			Error:      fmt.Sprintf("unknown problem %q", exec.Problem),
			ExitStatus: "Unknown Problem",
		}
	}
	if err != nil {
		return store.FinishExecutionParams{ID: exec.ID, Error: err.Error(), ExitStatus: exitInternalError}
	}

	cases := make([]store.CaseResult, len(problem.TestCases))
	var g errgroup.Group
	g.SetLimit(MaxParallelCases)
	for i, tc := range problem.TestCases {
		i, tc := i, tc
		g.Go(func() error {
			res, err := w.provider.Execute(ctx, code.Request{
				SourceCode: exec.Code,
				Language:   exec.Language,
				Stdin:      tc.Input,
			})
			cases[i] = judgeCase(tc, res, err)
			return nil
		})
	}
	_ = g.Wait()

	params := summarizeCases(cases)
	params.ID = exec.ID
	return params
}

// judgeCase turns one provider outcome into a case result.
func judgeCase(tc store.TestCase, res *code.Result, err error) store.CaseResult {
	cr := store.CaseResult{Input: tc.Input, Expected: tc.Output}
	if err != nil {
		cr.Error = err.Error()
		cr.ExitStatus = exitInternalError
		return cr
	}
	cr.Success = res.Success
	cr.RuntimeMs = res.RuntimeMs
	cr.Output = res.Output
	cr.Error = res.Error
	cr.ExitStatus = res.ExitStatus
	cr.Passed = res.Success && sameOutput(res.Output, tc.Output)
	return cr
}

// sameOutput compares program output with the expected output, ignoring
// line-ending style and trailing whitespace on each line and at the end.
func sameOutput(got, want string) bool {
	return normalizeOutput(got) == normalizeOutput(want)
}

func normalizeOutput(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// summarizeCases reports a problem run as accepted only when every case
// passed. Otherwise the first failing case decides the exit status; a case
// that ran cleanly but printed the wrong output is a Wrong Answer.
func summarizeCases(cases []store.CaseResult) store.FinishExecutionParams {
	params := store.FinishExecutionParams{Cases: cases, Success: true, ExitStatus: "Accepted"}

	passed := 0
	for _, c := range cases {
		if c.RuntimeMs > params.RuntimeMs {
			params.RuntimeMs = c.RuntimeMs
		}
		if c.Passed {
			passed++
			continue
		}
		if params.Success {
			params.Success = false
			params.Error = c.Error
			if c.Success {
				params.ExitStatus = "Wrong Answer"
			} else {
				params.ExitStatus = c.ExitStatus
			}
		}
	}
	params.Output = fmt.Sprintf("%d/%d test cases passed\n", passed, len(cases))
	return params
}

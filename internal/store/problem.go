package store

import (
	"context"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// TestCase is one input and the output a correct program prints for it.
type TestCase struct {
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output" yaml:"output"`
}

// Problem is a named exercise with the test cases a problem run is judged on.
type Problem struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	TestCases   []TestCase `json:"test_cases" yaml:"test_cases"`
}

// ReadProblems decodes a YAML list of problems. Every problem needs a name
// and at least one test case.
func ReadProblems(r io.Reader) ([]Problem, error) {
	var ps []Problem
	if err := yaml.NewDecoder(r).Decode(&ps); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode problems: %w", err)
	}
	for i, p := range ps {
		if p.Name == "" {
			return nil, fmt.Errorf("problem %d: name is required", i)
		}
		if len(p.TestCases) == 0 {
			return nil, fmt.Errorf("problem %q: no test cases", p.Name)
		}
	}
	return ps, nil
}

// CaseResult is the outcome of running a program on one test case. Passed
// means the run succeeded and printed the expected output.
type CaseResult struct {
	Input      string  `json:"input"`
	Expected   string  `json:"expected"`
	Passed     bool    `json:"passed"`
	Success    bool    `json:"success"`
	RuntimeMs  float64 `json:"runtime_ms"`
	Output     string  `json:"output"`
	Error      string  `json:"error"`
	ExitStatus string  `json:"exit_status"`
}

func (p Problem) clone() Problem {
	p.TestCases = append([]TestCase(nil), p.TestCases...)
	return p
}

// UpsertProblem stores arg under its name, replacing any problem with the
// same name.
func (m *Memory) UpsertProblem(ctx context.Context, arg Problem) (Problem, error) {
	if err := ctx.Err(); err != nil {
		return Problem{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.problems[arg.Name] = arg.clone()
	return arg.clone(), nil
}

func (m *Memory) GetProblem(ctx context.Context, name string) (Problem, error) {
	if err := ctx.Err(); err != nil {
		return Problem{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.problems[name]
	if !ok {
		return Problem{}, ErrNoRows
	}
	return p.clone(), nil
}

// ListProblems returns every problem ordered by name.
func (m *Memory) ListProblems(ctx context.Context) ([]Problem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Problem, 0, len(m.problems))
	for _, p := range m.problems {
		out = append(out, p.clone())
	}
	sortProblems(out)
	return out, nil
}

func sortProblems(ps []Problem) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}

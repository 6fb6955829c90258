// Package store keeps the executions queued on the dev server and the
// problem catalog they can be judged against.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoRows is returned when a lookup or claim finds nothing.
var ErrNoRows = errors.New("store: no rows in result set")

// Execution statuses.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
)

// Execution kinds. A run executes the program once on Stdin; a problem run
// executes it once per test case of Problem.
const (
	KindRun     = "run"
	KindProblem = "problem"
)

type Execution struct {
	ID       uuid.UUID
	Kind     string
	Code     string
	Language string
	Problem  string
	Stdin    string
	Status   string

	Success    bool
	RuntimeMs  float64
	Output     string
	Error      string
	ExitStatus string
	// Cases holds one result per test case of a finished problem run.
	Cases []CaseResult

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type CreateExecutionParams struct {
	// Kind defaults to KindRun.
	Kind     string
	Code     string
	Language string
	Problem  string
	Stdin    string
}

type FinishExecutionParams struct {
	ID         uuid.UUID
	Success    bool
	RuntimeMs  float64
	Output     string
	Error      string
	ExitStatus string
	Cases      []CaseResult
}

// Querier is the storage surface used by the api and worker packages.
type Querier interface {
	CreateExecution(ctx context.Context, arg CreateExecutionParams) (Execution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (Execution, error)
	ClaimNextExecution(ctx context.Context) (Execution, error)
	FinishExecution(ctx context.Context, arg FinishExecutionParams) (Execution, error)

	UpsertProblem(ctx context.Context, arg Problem) (Problem, error)
	GetProblem(ctx context.Context, name string) (Problem, error)
	ListProblems(ctx context.Context) ([]Problem, error)
}

var _ Querier = (*Memory)(nil)

// Memory is an in-process Querier. Executions are claimed in creation order.
type Memory struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*Execution
	queued   []uuid.UUID
	problems map[string]Problem
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rows:     make(map[uuid.UUID]*Execution),
		problems: make(map[string]Problem),
		now:      time.Now,
	}
}

func (m *Memory) CreateExecution(ctx context.Context, arg CreateExecutionParams) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Execution{
		ID:        uuid.New(),
		Kind:      kindOrDefault(arg.Kind),
		Code:      arg.Code,
		Language:  arg.Language,
		Problem:   arg.Problem,
		Stdin:     arg.Stdin,
		Status:    StatusQueued,
		CreatedAt: m.now(),
	}
	m.rows[e.ID] = e
	m.queued = append(m.queued, e.ID)
	return e.clone(), nil
}

func (m *Memory) GetExecution(ctx context.Context, id uuid.UUID) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[id]
	if !ok {
		return Execution{}, ErrNoRows
	}
	return e.clone(), nil
}

// ClaimNextExecution marks the oldest queued execution as running and
// returns it, or ErrNoRows when the queue is empty.
func (m *Memory) ClaimNextExecution(ctx context.Context) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queued) == 0 {
		return Execution{}, ErrNoRows
	}
	id := m.queued[0]
	m.queued = m.queued[1:]

	e := m.rows[id]
	now := m.now()
	e.Status = StatusRunning
	e.StartedAt = &now
	return e.clone(), nil
}

func (m *Memory) FinishExecution(ctx context.Context, arg FinishExecutionParams) (Execution, error) {
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[arg.ID]
	if !ok {
		return Execution{}, ErrNoRows
	}
	now := m.now()
	e.Status = StatusFinished
	e.Success = arg.Success
	e.RuntimeMs = arg.RuntimeMs
	e.Output = arg.Output
	e.Error = arg.Error
	e.ExitStatus = arg.ExitStatus
	e.Cases = append([]CaseResult(nil), arg.Cases...)
	e.CompletedAt = &now
	return e.clone(), nil
}

// clone copies e so callers never share the stored Cases slice.
func (e *Execution) clone() Execution {
	c := *e
	c.Cases = append([]CaseResult(nil), e.Cases...)
	return c
}

func kindOrDefault(kind string) string {
	if kind == "" {
		return KindRun
	}
	return kind
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long a finished execution stays readable.
const DefaultRetention = time.Hour

// Redis is a Querier backed by one hash per execution and a list of queued
// ids, so several devserver processes can share a queue. Problems live in a
// single hash of JSON documents keyed by name and never expire.
type Redis struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ Querier = (*Redis)(nil)

// NewRedis returns a Redis-backed store. Keys are namespaced under prefix.
// A retention of zero keeps finished executions forever.
func NewRedis(client *redis.Client, prefix string, retention time.Duration) *Redis {
	return &Redis{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

func (r *Redis) execKey(id uuid.UUID) string {
	return r.prefix + ":exec:" + id.String()
}

func (r *Redis) queueKey() string {
	return r.prefix + ":queue"
}

func (r *Redis) problemsKey() string {
	return r.prefix + ":problems"
}

func (r *Redis) CreateExecution(ctx context.Context, arg CreateExecutionParams) (Execution, error) {
	e := Execution{
		ID:        uuid.New(),
		Kind:      kindOrDefault(arg.Kind),
		Code:      arg.Code,
		Language:  arg.Language,
		Problem:   arg.Problem,
		Stdin:     arg.Stdin,
		Status:    StatusQueued,
		CreatedAt: r.now().UTC(),
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.execKey(e.ID), map[string]interface{}{
			"kind":       e.Kind,
			"code":       e.Code,
			"language":   e.Language,
			"problem":    e.Problem,
			"stdin":      e.Stdin,
			"status":     e.Status,
			"created_at": formatTime(e.CreatedAt),
		})
		pipe.RPush(ctx, r.queueKey(), e.ID.String())
		return nil
	})
	if err != nil {
		return Execution{}, fmt.Errorf("redis create execution: %w", err)
	}
	return e, nil
}

func (r *Redis) GetExecution(ctx context.Context, id uuid.UUID) (Execution, error) {
	fields, err := r.client.HGetAll(ctx, r.execKey(id)).Result()
	if err != nil {
		return Execution{}, fmt.Errorf("redis get execution: %w", err)
	}
	if len(fields) == 0 {
		return Execution{}, ErrNoRows
	}
	return parseExecution(id, fields)
}

// ClaimNextExecution pops the oldest queued id and marks it running. Ids
// whose hash has already expired are skipped.
func (r *Redis) ClaimNextExecution(ctx context.Context) (Execution, error) {
	for {
		raw, err := r.client.LPop(ctx, r.queueKey()).Result()
		if errors.Is(err, redis.Nil) {
			return Execution{}, ErrNoRows
		}
		if err != nil {
			return Execution{}, fmt.Errorf("redis claim execution: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}

		n, err := r.client.Exists(ctx, r.execKey(id)).Result()
		if err != nil {
			return Execution{}, fmt.Errorf("redis claim execution: %w", err)
		}
		if n == 0 {
			continue
		}

		err = r.client.HSet(ctx, r.execKey(id),
			"status", StatusRunning,
			"started_at", formatTime(r.now().UTC()),
		).Err()
		if err != nil {
			return Execution{}, fmt.Errorf("redis claim execution: %w", err)
		}
		return r.GetExecution(ctx, id)
	}
}

func (r *Redis) FinishExecution(ctx context.Context, arg FinishExecutionParams) (Execution, error) {
	key := r.execKey(arg.ID)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return Execution{}, fmt.Errorf("redis finish execution: %w", err)
	}
	if n == 0 {
		return Execution{}, ErrNoRows
	}

	fields := map[string]interface{}{
		"status":       StatusFinished,
		"success":      strconv.FormatBool(arg.Success),
		"runtime_ms":   strconv.FormatFloat(arg.RuntimeMs, 'f', -1, 64),
		"output":       arg.Output,
		"error":        arg.Error,
		"exit_status":  arg.ExitStatus,
		"completed_at": formatTime(r.now().UTC()),
	}
	if len(arg.Cases) > 0 {
		cases, err := json.Marshal(arg.Cases)
		if err != nil {
			return Execution{}, fmt.Errorf("redis finish execution: encode cases: %w", err)
		}
		fields["cases"] = string(cases)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if r.retention > 0 {
			pipe.Expire(ctx, key, r.retention)
		}
		return nil
	})
	if err != nil {
		return Execution{}, fmt.Errorf("redis finish execution: %w", err)
	}
	return r.GetExecution(ctx, arg.ID)
}

// UpsertProblem stores arg under its name, replacing any problem with the
// same name.
func (r *Redis) UpsertProblem(ctx context.Context, arg Problem) (Problem, error) {
	data, err := json.Marshal(arg)
	if err != nil {
		return Problem{}, fmt.Errorf("redis upsert problem: %w", err)
	}
	if err := r.client.HSet(ctx, r.problemsKey(), arg.Name, data).Err(); err != nil {
		return Problem{}, fmt.Errorf("redis upsert problem: %w", err)
	}
	return arg.clone(), nil
}

func (r *Redis) GetProblem(ctx context.Context, name string) (Problem, error) {
	raw, err := r.client.HGet(ctx, r.problemsKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return Problem{}, ErrNoRows
	}
	if err != nil {
		return Problem{}, fmt.Errorf("redis get problem: %w", err)
	}
	var p Problem
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Problem{}, fmt.Errorf("problem %q: %w", name, err)
	}
	return p, nil
}

// ListProblems returns every problem ordered by name.
func (r *Redis) ListProblems(ctx context.Context) ([]Problem, error) {
	all, err := r.client.HGetAll(ctx, r.problemsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list problems: %w", err)
	}
	out := make([]Problem, 0, len(all))
	for name, raw := range all {
		var p Problem
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("problem %q: %w", name, err)
		}
		out = append(out, p)
	}
	sortProblems(out)
	return out, nil
}

func parseExecution(id uuid.UUID, f map[string]string) (Execution, error) {
	e := Execution{
		ID:         id,
		Kind:       kindOrDefault(f["kind"]),
		Code:       f["code"],
		Language:   f["language"],
		Problem:    f["problem"],
		Stdin:      f["stdin"],
		Status:     f["status"],
		Output:     f["output"],
		Error:      f["error"],
		ExitStatus: f["exit_status"],
	}

	var err error
	if v := f["success"]; v != "" {
		if e.Success, err = strconv.ParseBool(v); err != nil {
			return Execution{}, fmt.Errorf("execution %s: success: %w", id, err)
		}
	}
	if v := f["runtime_ms"]; v != "" {
		if e.RuntimeMs, err = strconv.ParseFloat(v, 64); err != nil {
			return Execution{}, fmt.Errorf("execution %s: runtime: %w", id, err)
		}
	}
	if v := f["cases"]; v != "" {
		if err := json.Unmarshal([]byte(v), &e.Cases); err != nil {
			return Execution{}, fmt.Errorf("execution %s: cases: %w", id, err)
		}
	}
	if e.CreatedAt, err = parseTime(f["created_at"]); err != nil {
		return Execution{}, fmt.Errorf("execution %s: created_at: %w", id, err)
	}
	if v := f["started_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return Execution{}, fmt.Errorf("execution %s: started_at: %w", id, err)
		}
		e.StartedAt = &t
	}
	if v := f["completed_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return Execution{}, fmt.Errorf("execution %s: completed_at: %w", id, err)
		}
		e.CompletedAt = &t
	}
	return e, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gsarma/coderunner/internal/code"
	"github.com/gsarma/coderunner/internal/store"
)

// PollInterval is how often each worker goroutine looks for queued work.
const PollInterval = 500 * time.Millisecond

// exitInternalError is the exit status of a run the provider could not carry out.
const exitInternalError = "Internal Error"

// Worker polls the store for queued executions and runs them concurrently.
// Problem runs fan out over their test cases, at most MaxParallelCases at a
// time.
type Worker struct {
	store       store.Querier
	provider    code.Provider
	concurrency int
	logger      *slog.Logger
}

func New(q store.Querier, provider code.Provider, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       q,
		provider:    provider,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start spawns concurrency goroutines that each poll for work every 500ms.
// It blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.loop(ctx)
	}
	<-ctx.Done()
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processNext(ctx)
		}
	}
}

func (w *Worker) processNext(ctx context.Context) {
	exec, err := w.store.ClaimNextExecution(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return
		}
		w.logger.Error("claim execution", "error", err)
		return
	}

	log := w.logger.With("execution_id", exec.ID, "language", exec.Language, "kind", exec.Kind)
	log.Info("running execution")

	var params store.FinishExecutionParams
	if exec.Kind == store.KindProblem {
		params = w.runProblem(ctx, exec)
	} else {
		params = w.runOnce(ctx, exec)
	}
	if params.ExitStatus == exitInternalError {
		log.Warn("execution failed", "error", params.Error)
	}

	// The claim is already made; record the outcome even if ctx is done.
	if _, err := w.store.FinishExecution(context.WithoutCancel(ctx), params); err != nil {
		log.Error("mark finished", "error", err)
		return
	}
	log.Info("execution finished", "success", params.Success, "exit_status", params.ExitStatus)
}

func (w *Worker) runOnce(ctx context.Context, exec store.Execution) store.FinishExecutionParams {
	params := store.FinishExecutionParams{ID: exec.ID}
	res, err := w.provider.Execute(ctx, code.Request{
		SourceCode: exec.Code,
		Language:   exec.Language,
		Stdin:      exec.Stdin,
	})
	if err != nil {
		// Provider failures still finish the execution so clients stop polling.
		params.Error = err.Error()
		params.ExitStatus = exitInternalError
		return params
	}
	params.Success = res.Success
	params.RuntimeMs = res.RuntimeMs
	params.Output = res.Output
	params.Error = res.Error
	params.ExitStatus = res.ExitStatus
	return params
}

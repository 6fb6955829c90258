// testclient runs one program against a code-runner API from the terminal.
// It prints the highlighted source, submits it, follows the run until it
// finishes and prints the result. Ctrl-C stops following the run.
//
// Usage:
//
//	go run ./cmd/testclient -language Python -file main.py -stdin input.txt
//	go run ./cmd/testclient -language Python -file main.py -try -problem double
//	go run ./cmd/testclient -file main.py -ask "why does this crash?"
//
// With no -file the language template served by the API is run. -try judges
// the program against every test case of -problem instead of a single run.
// -ask sends the finished run to the code helper with a question.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gookit/color"

	"github.com/gsarma/coderunner/internal/session"
	coderunner "github.com/gsarma/coderunner/sdk"
)

func main() {
	apiURL := flag.String("api", envOr("CODERUNNER_API_URL", "http://localhost:8080"), "code-runner API base URL")
	language := flag.String("language", "Python", "language tag (C, C++, Java, Python)")
	file := flag.String("file", "", "source file to run (default: the language template)")
	stdinFile := flag.String("stdin", "", "file passed to the program as standard input")
	problem := flag.String("problem", "one", "problem identifier sent with the run")
	try := flag.Bool("try", false, "judge the program against the test cases of -problem")
	ask := flag.String("ask", "", "question for the code helper about the finished run")
	noColor := flag.Bool("no-color", false, "disable coloured output")
	verbose := flag.Bool("v", false, "log every session transition")
	flag.Parse()

	if *noColor {
		color.Disable()
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	os.Exit(run(options{
		apiURL:    *apiURL,
		language:  *language,
		file:      *file,
		stdinFile: *stdinFile,
		problem:   *problem,
		try:       *try,
		ask:       *ask,
	}, logger))
}

type options struct {
	apiURL    string
	language  string
	file      string
	stdinFile string
	problem   string
	try       bool
	ask       string
}

func run(opts options, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := coderunner.New(opts.apiURL,
		coderunner.WithToken(os.Getenv("CODERUNNER_API_TOKEN")),
		coderunner.WithUserAgent("coderunner-testclient"),
	)

	language := opts.language
	source, err := loadSource(ctx, client, language, opts.file)
	if err != nil {
		logger.Error("load source", "error", err)
		return 1
	}
	var stdin string
	if opts.stdinFile != "" {
		b, err := os.ReadFile(opts.stdinFile)
		if err != nil {
			logger.Error("read stdin file", "error", err)
			return 1
		}
		stdin = string(b)
	}

	renderSource(os.Stdout, source, language)

	if opts.try {
		return tryProblem(ctx, client, coderunner.ProblemSubmission{
			Code:     source,
			Language: language,
			Problem:  opts.problem,
		}, logger)
	}

	ctrl := session.New(client.Executions, session.WithLogger(logger))
	defer ctrl.Close()

	ctrl.Subscribe(func(s session.Snapshot) {
		if s.Status.Terminal() {
			return
		}
		fmt.Fprintf(os.Stdout, "%s", renderStatus(s.Status))
		if s.ExecutionID != "" {
			fmt.Fprintf(os.Stdout, " %s", color.FgGray.Sprint(s.ExecutionID))
		}
		fmt.Fprintln(os.Stdout)
	})

	if _, err := ctrl.Submit(session.Submission{
		Code:     source,
		Language: language,
		Problem:  opts.problem,
		Stdin:    stdin,
	}); err != nil {
		logger.Error("submit", "error", err)
		return 1
	}

	go func() {
		<-ctx.Done()
		ctrl.Cancel()
	}()

	final, err := ctrl.Wait(context.Background())
	if err != nil {
		logger.Error("wait", "error", err)
		return 1
	}
	renderResult(os.Stdout, final)

	if opts.ask != "" && final.Status == session.Finished {
		reply, err := client.Helper.Message(ctx, coderunner.ChatRequest{
			Messages: coderunner.NewChat(nil, opts.ask),
			Code: coderunner.Submission{
				Code:     final.Submission.Code,
				Language: final.Submission.Language,
				Problem:  final.Submission.Problem,
				Input:    final.Submission.Stdin,
			},
			Result:   chatResult(final.Result),
		})
		if err != nil {
			logger.Error("ask code helper", "error", err)
			return 1
		}
		renderReply(os.Stdout, reply)
	}

	if final.Status == session.Finished && final.Result.Success {
		return 0
	}
	return 1
}

func tryProblem(ctx context.Context, client *coderunner.Client, sub coderunner.ProblemSubmission, logger *slog.Logger) int {
	trial, err := client.Problems.Try(ctx, sub)
	if err != nil {
		logger.Error("try problem", "problem", sub.Problem, "error", err)
		return 1
	}
	renderTrial(os.Stdout, trial)
	if trial.Status == coderunner.StatusFinished && trial.Success {
		return 0
	}
	return 1
}

func chatResult(r *session.Result) *coderunner.ChatResult {
	if r == nil {
		return nil
	}
	return &coderunner.ChatResult{
		Success:    r.Success,
		Runtime:    r.RuntimeMs,
		Output:     r.Output,
		Error:      r.ErrorText,
		ExitStatus: r.ExitStatus,
	}
}

func loadSource(ctx context.Context, client *coderunner.Client, language, file string) (string, error) {
	if file == "" {
		return client.Templates.Get(ctx, language)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

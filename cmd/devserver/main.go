// devserver is a local stand-in for the remote execution service. It queues
// submissions and runs them on a Judge0 CE instance, or in local Docker
// containers when PROVIDER=docker.
//
// Executions live in memory unless REDIS_ADDR is set, in which case several
// devserver processes can share one queue. PROBLEMS_FILE names a YAML list of
// problems loaded into the catalog at startup.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/gsarma/coderunner/internal/api"
	"github.com/gsarma/coderunner/internal/code"
	"github.com/gsarma/coderunner/internal/store"
	"github.com/gsarma/coderunner/internal/worker"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	judge0URL := os.Getenv("JUDGE0_URL")
	if judge0URL == "" {
		judge0URL = "http://judge0-server:2358"
	}

	workers := 4
	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Error("WORKERS must be a positive integer", "value", v)
			os.Exit(1)
		}
		workers = n
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	executions, closeStore, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if path := os.Getenv("PROBLEMS_FILE"); path != "" {
		if err := seedProblems(ctx, executions, path); err != nil {
			logger.Error("failed to load problems", "path", path, "error", err)
			os.Exit(1)
		}
	}

	var trialTimeout time.Duration
	if v := os.Getenv("TRIAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Error("TRIAL_TIMEOUT must be a positive duration", "value", v)
			os.Exit(1)
		}
		trialTimeout = d
	}

	var provider code.Provider
	switch os.Getenv("PROVIDER") {
	case "", "judge0":
		provider = code.NewJudge0Provider(code.Judge0Config{
			URL:       judge0URL,
			AuthToken: os.Getenv("JUDGE0_AUTH_TOKEN"),
		})
	case "docker":
		dp, err := code.NewDockerProvider(ctx, code.DockerConfig{
			PullImages: os.Getenv("DOCKER_PULL") == "true",
		}, logger.With("component", "docker"))
		if err != nil {
			logger.Error("failed to connect to docker", "error", err)
			os.Exit(1)
		}
		defer dp.Close()
		provider = dp
	default:
		logger.Error("unknown PROVIDER", "value", os.Getenv("PROVIDER"))
		os.Exit(1)
	}
	w := worker.New(executions, provider, workers, logger.With("component", "worker"))

	router := gin.Default()
	api.RegisterRoutes(router, executions, api.Config{
		Token:          os.Getenv("DEVSERVER_TOKEN"),
		AllowedOrigins: splitList(os.Getenv("CORS_ORIGINS")),
		TrialTimeout:   trialTimeout,
		Logger:         logger.With("component", "api"),
	})

	logger.Info("starting", "port", port, "workers", workers, "judge0", judge0URL)
	go w.Start(ctx)

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func seedProblems(ctx context.Context, q store.Querier, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	problems, err := store.ReadProblems(f)
	if err != nil {
		return err
	}
	for _, p := range problems {
		if _, err := q.UpsertProblem(ctx, p); err != nil {
			return err
		}
	}
	slog.Info("problems loaded", "count", len(problems))
	return nil
}

// openStore picks the execution store from the environment.
func openStore(ctx context.Context, logger *slog.Logger) (store.Querier, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		logger.Info("using in-memory store")
		return store.NewMemory(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, err
	}

	prefix := os.Getenv("REDIS_PREFIX")
	if prefix == "" {
		prefix = "coderunner"
	}
	logger.Info("using redis store", "addr", addr, "prefix", prefix)
	return store.NewRedis(rdb, prefix, store.DefaultRetention), func() { rdb.Close() }, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package code

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// exitKilled is the exit code of a container stopped by SIGKILL.
const exitKilled = 137

// buildMarkPrefix starts the line a recipe writes to stderr when the build
// step fails. Each run appends a fresh uuid, and the variable is unset before
// the program starts, so program output cannot pass for a build failure.
const buildMarkPrefix = "coderunner: build failed "

// dockerRecipe says how to build and run one language inside a container.
// The script reads the program from $SOURCE and feeds $STDIN to it.
type dockerRecipe struct {
	image  string
	script string
}

const reportBuildFailure = `{ printf '\n%s\n' "$BUILD_MARK" >&2; exit 1; }`

var dockerRecipes = map[string]dockerRecipe{
	"C": {
		image: "gcc:13",
		script: `printf '%s' "$SOURCE" > main.c && { gcc -O2 -o main main.c || ` + reportBuildFailure + `; } && ` +
			`unset BUILD_MARK && printf '%s' "$STDIN" | ./main`,
	},
	"C++": {
		image: "gcc:13",
		script: `printf '%s' "$SOURCE" > main.cpp && { g++ -O2 -o main main.cpp || ` + reportBuildFailure + `; } && ` +
			`unset BUILD_MARK && printf '%s' "$STDIN" | ./main`,
	},
	"Java": {
		image: "eclipse-temurin:21",
		script: `printf '%s' "$SOURCE" > Main.java && { javac Main.java || ` + reportBuildFailure + `; } && ` +
			`unset BUILD_MARK && printf '%s' "$STDIN" | java Main`,
	},
	"Python": {
		image:  "python:3.12-alpine",
		script: `printf '%s' "$SOURCE" > main.py && unset BUILD_MARK && printf '%s' "$STDIN" | python3 main.py`,
	},
}

// DockerConfig holds the limits applied to every run.
type DockerConfig struct {
	Timeout     time.Duration
	MemoryBytes int64
	// PullImages pulls the language image before each run.
	PullImages bool
}

// DockerProvider runs each program in a fresh, network-less container on
// the local Docker daemon.
type DockerProvider struct {
	cli     *client.Client
	timeout time.Duration
	memory  int64
	pull    bool
	logger  *slog.Logger
}

var _ Provider = (*DockerProvider)(nil)

// NewDockerProvider connects to the daemon configured in the environment and
// pings it so a missing daemon fails at startup.
func NewDockerProvider(ctx context.Context, cfg DockerConfig, logger *slog.Logger) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = 512 * 1024 * 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerProvider{
		cli:     cli,
		timeout: cfg.Timeout,
		memory:  cfg.MemoryBytes,
		pull:    cfg.PullImages,
		logger:  logger,
	}, nil
}

// Close releases the daemon connection.
func (p *DockerProvider) Close() error {
	return p.cli.Close()
}

// Execute builds and runs the program, waiting at most the configured
// timeout. A run that hits the timeout is reported, not returned as an error.
func (p *DockerProvider) Execute(ctx context.Context, req Request) (*Result, error) {
	recipe, ok := dockerRecipes[req.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}

	if p.pull {
		if err := p.pullImage(ctx, recipe.image); err != nil {
			return nil, err
		}
	}

	mark := buildMarkPrefix + uuid.NewString()
	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:           recipe.image,
		Cmd:             []string{"sh", "-c", recipe.script},
		Env:             []string{"SOURCE=" + req.SourceCode, "STDIN=" + req.Stdin, "BUILD_MARK=" + mark},
		WorkingDir:      "/tmp",
		NetworkDisabled: true,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory: p.memory,
		},
	}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	log := p.logger.With("container_id", resp.ID, "image", recipe.image)
	defer func() {
		rmErr := p.cli.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		if rmErr != nil {
			log.Warn("remove container", "error", rmErr)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	var (
		exitCode int64
		timedOut bool
	)
	statusCh, errCh := p.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		exitCode = st.StatusCode
	case err := <-errCh:
		if ctx.Err() != nil || !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("wait for container: %w", err)
		}
		timedOut = true
	}
	elapsed := time.Since(start)

	stdout, stderr, err := p.logs(context.WithoutCancel(ctx), resp.ID)
	if err != nil {
		return nil, err
	}

	oomKilled := false
	if exitCode == exitKilled {
		if info, err := p.cli.ContainerInspect(context.WithoutCancel(ctx), resp.ID); err == nil && info.ContainerJSONBase != nil && info.State != nil {
			oomKilled = info.State.OOMKilled
		}
	}

	res := dockerResult(exitCode, timedOut, oomKilled, elapsed, stdout, stderr, mark)
	log.Info("container finished", "exit_code", exitCode, "exit_status", res.ExitStatus)
	return res, nil
}

func (p *DockerProvider) pullImage(ctx context.Context, ref string) error {
	rc, err := p.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

func (p *DockerProvider) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := p.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("read container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// dockerResult maps how a container ended onto a Result, using the same
// exit status names Judge0 reports. A stderr ending in mark means the build
// step failed and the program never ran.
func dockerResult(exitCode int64, timedOut, oomKilled bool, elapsed time.Duration, stdout, stderr, mark string) *Result {
	res := &Result{
		Output:    stdout,
		Error:     stderr,
		RuntimeMs: float64(elapsed) / float64(time.Millisecond),
	}
	buildLog, buildFailed := strings.CutSuffix(stderr, "\n"+mark+"\n")
	switch {
	case timedOut:
		res.ExitStatus = "Time Limit Exceeded"
	case buildFailed && exitCode != 0:
		res.ExitStatus = "Compilation Error"
		res.Output = ""
		res.Error = buildLog
	case exitCode == 0:
		res.Success = true
		res.ExitStatus = "Accepted"
	case exitCode == exitKilled && oomKilled:
		res.ExitStatus = "Memory Limit Exceeded"
	default:
		res.ExitStatus = fmt.Sprintf("Runtime Error (exit %d)", exitCode)
	}
	return res
}

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// maxOutputBytes bounds captured stdout/stderr per invocation.
const maxOutputBytes = 10 * 1024 * 1024

// Runner abstracts the container runtime CLI. Production uses the docker
// binary; tests substitute a scripted fake.
type Runner interface {
	// Run executes the runtime binary with args and returns captured output
	// and the process exit code. A non-zero exit is not an error; err is
	// reserved for failures to run the binary at all.
	Run(ctx context.Context, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunInput is Run with bytes piped to stdin.
	RunInput(ctx context.Context, stdin []byte, args ...string) (stdout, stderr string, exitCode int, err error)
}

// DockerRunner shells out to the docker CLI
type DockerRunner struct {
	Binary string
}

// NewDockerRunner returns a runner using the docker binary on PATH
func NewDockerRunner() *DockerRunner {
	return &DockerRunner{Binary: "docker"}
}

func (r *DockerRunner) Run(ctx context.Context, args ...string) (string, string, int, error) {
	return r.RunInput(ctx, nil, args...)
}

func (r *DockerRunner) RunInput(ctx context.Context, stdin []byte, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, r.Binary, args...)

	stdout := &boundedBuffer{limit: maxOutputBytes}
	stderr := &boundedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}

// boundedBuffer accepts writes but keeps only the first limit bytes.
// Writers never see an error, so pipes drain fully.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remain := b.limit - b.buf.Len()
	if remain <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}

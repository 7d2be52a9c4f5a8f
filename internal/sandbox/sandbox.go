// Package sandbox supervises ephemeral hardened containers for executing
// untrusted exploit and retest code. Sessions are created per use and always
// destroyed; callers degrade rather than abort when the runtime is missing.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Profile selects the container image and network posture
type Profile string

const (
	// ProfileGeneric runs fully network-isolated.
	ProfileGeneric Profile = "generic"
	// ProfileSolana joins the local validator's network namespace.
	ProfileSolana Profile = "solana"
)

const (
	createTimeout  = 30 * time.Second
	destroyTimeout = 15 * time.Second

	// ExploitTimeout caps adversarial exploit execution.
	ExploitTimeout = 25 * time.Second
	// RetestTimeout caps patched-source re-exploit runs.
	RetestTimeout = 30 * time.Second

	// TimedOutExitCode is reported when the wall-time cap elapses.
	TimedOutExitCode = 124
)

// ErrorKind classifies sandbox failures
type ErrorKind string

const (
	ErrUnavailable  ErrorKind = "unavailable"
	ErrImageMissing ErrorKind = "image_missing"
	ErrRuntime      ErrorKind = "runtime"
)

// Error is the typed failure the supervisor returns. Callers inspect Kind to
// decide whether to degrade.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sandbox %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("sandbox %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Config carries the image names and runtime wiring
type Config struct {
	GenericImage       string `yaml:"generic_image" mapstructure:"generic_image"`
	SolanaImage        string `yaml:"solana_image" mapstructure:"solana_image"`
	ValidatorContainer string `yaml:"validator_container" mapstructure:"validator_container"`
}

// DefaultConfig returns the shipped image names
func DefaultConfig() Config {
	return Config{
		GenericImage:       "hydra-sandbox:latest",
		SolanaImage:        "hydra-sandbox-solana:latest",
		ValidatorContainer: "hydra-validator",
	}
}

type profileSpec struct {
	image   string
	network string
	memory  string
	cpus    string
}

// ExecResult is the outcome of one command inside a session. Timeouts are
// results, not errors: exit code 124 with TimedOut set.
type ExecResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	TimedOut   bool   `json:"timed_out"`
	DurationMS int64  `json:"duration_ms"`
}

// Supervisor creates and probes sandbox sessions
type Supervisor struct {
	cfg    Config
	runner Runner
	log    *logrus.Entry
}

// NewSupervisor wires a supervisor. A nil runner uses the docker CLI.
func NewSupervisor(cfg Config, runner Runner) *Supervisor {
	if runner == nil {
		runner = NewDockerRunner()
	}
	if cfg.GenericImage == "" {
		cfg = DefaultConfig()
	}
	return &Supervisor{
		cfg:    cfg,
		runner: runner,
		log:    logrus.WithField("component", "sandbox"),
	}
}

func (s *Supervisor) profile(p Profile) (profileSpec, error) {
	switch p {
	case ProfileGeneric:
		return profileSpec{image: s.cfg.GenericImage, network: "none", memory: "512m", cpus: "1"}, nil
	case ProfileSolana:
		return profileSpec{
			image:   s.cfg.SolanaImage,
			network: "container:" + s.cfg.ValidatorContainer,
			memory:  "1g",
			cpus:    "2",
		}, nil
	default:
		return profileSpec{}, &Error{Kind: ErrRuntime, Message: fmt.Sprintf("unknown profile %q", p)}
	}
}

// RuntimeAvailable probes the container runtime. Never errors.
func (s *Supervisor) RuntimeAvailable(ctx context.Context) bool {
	_, _, code, err := s.runner.Run(ctx, "version", "--format", "{{.Server.Os}}")
	return err == nil && code == 0
}

// ImageBuilt probes whether the profile's image exists locally. Never errors.
func (s *Supervisor) ImageBuilt(ctx context.Context, p Profile) bool {
	spec, err := s.profile(p)
	if err != nil {
		return false
	}
	_, _, code, runErr := s.runner.Run(ctx, "image", "inspect", spec.image)
	return runErr == nil && code == 0
}

// Create starts a hardened container and returns its session. The container
// idles until Exec calls arrive and lives until Destroy.
func (s *Supervisor) Create(ctx context.Context, p Profile) (*Session, error) {
	spec, err := s.profile(p)
	if err != nil {
		return nil, err
	}

	createCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	args := []string{
		"run", "-d",
		"--user", "sandbox",
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,nodev,size=256m",
		"--tmpfs", "/workspace:rw,noexec,nosuid,nodev,size=256m",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"--network", spec.network,
		"--pids-limit", "256",
		"--memory", spec.memory,
		"--cpus", spec.cpus,
		spec.image,
		"sleep", "infinity",
	}

	stdout, stderr, code, runErr := s.runner.Run(createCtx, args...)
	if runErr != nil {
		return nil, &Error{Kind: ErrUnavailable, Message: "container runtime not reachable", Cause: runErr}
	}
	if code != 0 {
		if strings.Contains(stderr, "No such image") || strings.Contains(stderr, "Unable to find image") {
			return nil, &Error{Kind: ErrImageMissing, Message: spec.image}
		}
		return nil, &Error{Kind: ErrRuntime, Message: fmt.Sprintf("create failed (exit %d): %s", code, strings.TrimSpace(stderr))}
	}

	id := strings.TrimSpace(stdout)
	if id == "" {
		return nil, &Error{Kind: ErrRuntime, Message: "runtime returned no container id"}
	}

	s.log.WithFields(logrus.Fields{"profile": p, "container": shortID(id)}).Debug("sandbox created")
	return &Session{id: id, supervisor: s}, nil
}

// Session is one ephemeral container owned by a single task
type Session struct {
	id         string
	supervisor *Supervisor
	destroyed  atomic.Bool
}

// ID returns the container id
func (sess *Session) ID() string { return sess.id }

// Exec runs argv inside the container under a wall-time cap. Elapsing the
// cap yields exit 124 with TimedOut set; it is not an error.
func (sess *Session) Exec(ctx context.Context, argv []string, timeout time.Duration) (ExecResult, error) {
	if len(argv) == 0 {
		return ExecResult{}, &Error{Kind: ErrRuntime, Message: "empty argv"}
	}
	if timeout <= 0 {
		timeout = ExploitTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{"exec", sess.id}, argv...)
	start := time.Now()
	stdout, stderr, code, err := sess.supervisor.runner.Run(execCtx, args...)
	elapsed := time.Since(start)

	res := ExecResult{
		ExitCode:   code,
		Stdout:     stdout,
		Stderr:     stderr,
		DurationMS: elapsed.Milliseconds(),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		res.ExitCode = TimedOutExitCode
		res.TimedOut = true
		return res, nil
	}
	if err != nil {
		return res, &Error{Kind: ErrRuntime, Message: "exec failed", Cause: err}
	}
	return res, nil
}

// WriteFile places bytes at path inside the container
func (sess *Session) WriteFile(ctx context.Context, path string, data []byte) error {
	if strings.ContainsAny(path, "'\"\\$`") {
		return &Error{Kind: ErrRuntime, Message: fmt.Sprintf("refusing suspicious guest path %q", path)}
	}

	writeCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	args := []string{"exec", "-i", sess.id, "sh", "-c", fmt.Sprintf("cat > '%s'", path)}
	_, stderr, code, err := sess.supervisor.runner.RunInput(writeCtx, data, args...)
	if err != nil {
		return &Error{Kind: ErrRuntime, Message: "write failed", Cause: err}
	}
	if code != 0 {
		return &Error{Kind: ErrRuntime, Message: fmt.Sprintf("write failed (exit %d): %s", code, strings.TrimSpace(stderr))}
	}
	return nil
}

// CopyIn copies a host file into the container
func (sess *Session) CopyIn(ctx context.Context, hostPath, guestPath string) error {
	copyCtx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	_, stderr, code, err := sess.supervisor.runner.Run(copyCtx, "cp", hostPath, sess.id+":"+guestPath)
	if err != nil {
		return &Error{Kind: ErrRuntime, Message: "copy failed", Cause: err}
	}
	if code != 0 {
		return &Error{Kind: ErrRuntime, Message: fmt.Sprintf("copy failed (exit %d): %s", code, strings.TrimSpace(stderr))}
	}
	return nil
}

// Destroy removes the container. Idempotent: the first call wins, repeats
// are no-ops. Always safe to defer.
func (sess *Session) Destroy(ctx context.Context) error {
	if !sess.destroyed.CompareAndSwap(false, true) {
		return nil
	}

	destroyCtx, cancel := context.WithTimeout(ctx, destroyTimeout)
	defer cancel()

	_, stderr, code, err := sess.supervisor.runner.Run(destroyCtx, "rm", "-f", sess.id)
	if err != nil {
		sess.supervisor.log.WithError(err).Warn("sandbox destroy failed")
		return &Error{Kind: ErrRuntime, Message: "destroy failed", Cause: err}
	}
	if code != 0 {
		sess.supervisor.log.WithField("stderr", strings.TrimSpace(stderr)).Warn("sandbox destroy nonzero exit")
	}
	return nil
}

// Close destroys with a background context, for defer sites
func (sess *Session) Close() error {
	return sess.Destroy(context.Background())
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

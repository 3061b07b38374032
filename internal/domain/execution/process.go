package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// killGrace is how long Wait keeps waiting for output pipes after the
// process group was killed.
const killGrace = 500 * time.Millisecond

// ProcessBackend runs programs as local child processes in a throwaway
// directory. It relies on the host for isolation and is meant for trusted
// deployments and tests.
type ProcessBackend struct {
	workDir string
	logger  *zap.Logger
}

// NewProcessBackend creates a backend that places environments under
// workDir (the system temp dir when empty).
func NewProcessBackend(workDir string, logger *zap.Logger) *ProcessBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessBackend{workDir: workDir, logger: logger}
}

func (b *ProcessBackend) Name() string { return BackendProcess }

// Provision creates the directory and writes the source file.
func (b *ProcessBackend) Provision(ctx context.Context, profile Profile, req Request) (Environment, error) {
	for _, argv := range [][]string{profile.Compile, profile.Run} {
		if len(argv) == 0 || strings.Contains(argv[0], "{") {
			continue
		}
		if _, err := exec.LookPath(argv[0]); err != nil {
			return nil, Permanent(fmt.Errorf("toolchain %q not available: %w", argv[0], err))
		}
	}

	dir, err := os.MkdirTemp(b.workDir, "codesync-")
	if err != nil {
		return nil, Transient(fmt.Errorf("create work dir: %w", err))
	}

	file := filepath.Join(dir, profile.FileName)
	if err := os.WriteFile(file, []byte(req.Source), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, Transient(fmt.Errorf("write source: %w", err))
	}

	return &processEnv{
		dir:     dir,
		file:    file,
		profile: profile,
		stdin:   req.Stdin,
		logger:  b.logger,
	}, nil
}

type processEnv struct {
	dir     string
	file    string
	profile Profile
	stdin   string
	logger  *zap.Logger

	// groups holds the process group of every command started, so Reclaim
	// can kill whatever they left running.
	groups []int
}

func (e *processEnv) Run(ctx context.Context, stdout, stderr io.Writer) (Outcome, error) {
	if len(e.profile.Compile) > 0 {
		code, err := e.exec(ctx, expand(e.profile.Compile, e.dir, e.file), "", stdout, stderr)
		if err != nil {
			return Outcome{}, err
		}
		if code != 0 {
			return Outcome{ExitCode: code, CompileFailed: true}, nil
		}
	}

	code, err := e.exec(ctx, expand(e.profile.Run, e.dir, e.file), e.stdin, stdout, stderr)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ExitCode: code}, nil
}

func (e *processEnv) exec(ctx context.Context, argv []string, stdin string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.dir
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + e.dir,
		"TMPDIR=" + e.dir,
		"LANG=C.UTF-8",
	}
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = killGrace
	isolate(cmd)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start %s: %w", filepath.Base(argv[0]), err)
	}
	e.groups = append(e.groups, cmd.Process.Pid)

	err := cmd.Wait()
	// Background children die with the program, whether or not they still
	// hold the output pipes.
	killGroup(cmd.Process.Pid)
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		return cmd.ProcessState.ExitCode(), nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("wait %s: %w", filepath.Base(argv[0]), err)
	}
}

func (e *processEnv) Reclaim(ctx context.Context) error {
	for _, pgid := range e.groups {
		killGroup(pgid)
	}
	e.groups = nil
	if err := os.RemoveAll(e.dir); err != nil {
		return fmt.Errorf("remove %s: %w", e.dir, err)
	}
	e.logger.Debug("Removed work dir", zap.String("dir", e.dir))
	return nil
}

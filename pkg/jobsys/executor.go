package jobsys

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// waitDelay gives a cancelled process this long to exit before its pipes are
// forcibly closed.
const waitDelay = 5 * time.Second

// Executor runs single steps. The zero value is usable; DefaultDir is the
// working directory for steps that don't declare their own.
type Executor struct {
	DefaultDir  string
	OutputLimit int
	// DryRun prints each command instead of spawning it and reports success.
	DryRun bool
}

func (e *Executor) limit() int {
	if e.OutputLimit > 0 {
		return e.OutputLimit
	}
	return DefaultOutputLimit
}

// Execute runs one step with the given pre-merged environment ("K=V"
// entries). Non-zero exit codes are reported through the result, never as an
// error: only a process that could not be started carries Err alongside
// ExitCode -1.
func (e *Executor) Execute(ctx context.Context, step StepSpec, env []string) StepResult {
	result := StepResult{
		Label:    step.Label,
		Outcome:  OutcomeFailed,
		ExitCode: -1,
	}

	dir := step.Dir
	if dir == "" {
		dir = e.DefaultDir
	}

	if e.DryRun {
		log(ctx).Info().
			Str("step", step.Label).
			Bool("command", true).
			Msg(step.CommandString())
		result.Outcome = OutcomeSucceeded
		result.ExitCode = 0
		return result
	}

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	stdout := newBoundedBuffer(e.limit())
	stderr := newBoundedBuffer(e.limit())

	log(ctx).Debug().
		Str("step", step.Label).
		Str("dir", dir).
		Msg(step.CommandString())

	start := time.Now()
	var code int
	var err error
	if step.Shell != "" {
		code, err = runShell(ctx, step, dir, env, stdout, stderr)
	} else {
		code, err = runArgv(ctx, step, dir, env, stdout, stderr)
	}
	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	result.ExitCode = code
	result.Err = err
	result.Cancelled = ctx.Err() != nil

	if err == nil && code == 0 && !result.Cancelled {
		if artErr := checkArtifacts(step, dir); artErr != nil {
			result.Err = artErr
		} else {
			result.Outcome = OutcomeSucceeded
		}
	}

	return result
}

func runArgv(ctx context.Context, step StepSpec, dir string, env []string, stdout, stderr io.Writer) (int, error) {
	if len(step.Command) == 0 {
		return -1, eris.Errorf("step %s declares no command", step.Label)
	}

	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if eris.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, eris.Wrapf(err, "failed to start %s", step.Command[0])
}

func runShell(ctx context.Context, step StepSpec, dir string, env []string, stdout, stderr io.Writer) (int, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(step.Shell), step.Label)
	if err != nil {
		return -1, eris.Wrapf(err, "failed to parse command %q", step.Shell)
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return -1, eris.Wrap(err, "failed to initialize shell runner")
	}

	for _, stmt := range file.Stmts {
		err := runner.Run(ctx, stmt)
		if err != nil {
			if status, ok := interp.IsExitStatus(err); ok {
				return int(status), nil
			}
			return -1, eris.Wrapf(err, "failed to run %q", step.Shell)
		}

		if runner.Exited() {
			break
		}
	}

	return 0, nil
}

// checkArtifacts guards against tools that misreport success: every declared
// pattern must match at least one existing path.
func checkArtifacts(step StepSpec, dir string) error {
	for _, pattern := range step.Artifacts {
		resolved := pattern
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(dir, resolved)
		}

		matches, err := doublestar.FilepathGlob(resolved)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve artifact pattern %s", pattern)
		}

		if len(matches) == 0 {
			return eris.Wrapf(ErrMissingArtifact, "%s", pattern)
		}
	}

	return nil
}

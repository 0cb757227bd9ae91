package jobsys

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Runner resolves jobs from a registry and executes their steps in declared
// order, one at a time. A Runner holds no mutable state of its own, so
// concurrent Run calls are fine as long as they target disjoint build
// directories.
type Runner struct {
	Registry *Registry
	Executor *Executor
	Sink     Sink
	// Root is the workspace root; the default build directory for a job is
	// <Root>/build/<job-name>.
	Root string
	// BuildDir overrides the per-job default when set.
	BuildDir string
	// Env entries win over both the ambient environment and the recipe's.
	Env map[string]string
}

func (r *Runner) sink() Sink {
	if r.Sink != nil {
		return r.Sink
	}
	return NopSink{}
}

// BuildDirFor returns the working directory a run of the named job would use.
func (r *Runner) BuildDirFor(jobName string) string {
	if r.BuildDir != "" {
		return r.BuildDir
	}
	return filepath.Join(r.Root, "build", jobName)
}

// Run executes the named job. The returned result always reflects what
// happened; errors that prevented any step from running (unknown job,
// unusable build directory) are carried in the result's Err field.
func (r *Runner) Run(ctx context.Context, jobName string) JobResult {
	result := JobResult{
		RunID:   uuid.NewString(),
		JobName: jobName,
		Outcome: JobFailed,
	}
	start := time.Now()
	sink := r.sink()

	finish := func() JobResult {
		result.Duration = time.Since(start)
		result.DurationMS = result.Duration.Milliseconds()
		result.Cancelled = ctx.Err() != nil
		sink.OnJobEnd(result)
		return result
	}

	recipe, err := r.Registry.Resolve(jobName)
	if err != nil {
		// an unrecognized job must never silently no-op
		log(ctx).Error().Str("job", jobName).Msg("unknown job")
		result.Outcome = JobUnknown
		result.Err = err
		return finish()
	}

	sink.OnJobStart(recipe, result.RunID)

	dir := r.BuildDirFor(jobName)
	if recipe.Clean {
		// idempotent: a missing directory is not an error
		if err := os.RemoveAll(dir); err != nil {
			result.Err = eris.Wrapf(err, "failed to clean build directory %s", dir)
			return finish()
		}
		log(ctx).Debug().Str("job", jobName).Msgf("cleaned %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Err = eris.Wrapf(err, "failed to create build directory %s", dir)
		return finish()
	}

	executor := Executor{DefaultDir: dir}
	if r.Executor != nil {
		executor = *r.Executor
		executor.DefaultDir = dir
	}

	env := MergeEnv(os.Environ(), recipe.Env, r.Env)

	result.Steps = make([]StepResult, 0, len(recipe.Steps))
	aborted := false
	failed := false
	for idx, step := range recipe.Steps {
		if aborted {
			skipped := StepResult{Label: step.Label, Outcome: OutcomeSkipped}
			result.Steps = append(result.Steps, skipped)
			sink.OnStepEnd(jobName, step, skipped)
			continue
		}

		sink.OnStepStart(jobName, step, idx, len(recipe.Steps))
		stepResult := executor.Execute(ctx, step, env)
		result.Steps = append(result.Steps, stepResult)
		sink.OnStepEnd(jobName, step, stepResult)

		if stepResult.Outcome != OutcomeFailed {
			continue
		}

		if ctx.Err() != nil {
			// external cancellation ends the job regardless of importance
			failed = true
			aborted = true
			continue
		}

		if step.Importance == ImportanceBlocking {
			failed = true
			aborted = true
		} else {
			log(ctx).Warn().
				Str("job", jobName).
				Str("step", step.Label).
				Msg("informational step failed")
		}
	}

	if !failed {
		result.Outcome = JobSucceeded
	}

	return finish()
}

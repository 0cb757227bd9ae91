package jobsys

import "github.com/rotisserie/eris"

var (
	// ErrUnknownJob is returned when a job name is not present in the
	// registry. It is never silently swallowed; the CLI turns it into a
	// diagnostic and a non-zero exit.
	ErrUnknownJob = eris.New("unknown job")

	// ErrDuplicateJob is returned when a recipe is registered under a name
	// that is already taken. The original recipe stays in place.
	ErrDuplicateJob = eris.New("duplicate job")

	// ErrEmptyJob is returned for recipes without steps. A job that should
	// do nothing can declare a single `true` step.
	ErrEmptyJob = eris.New("job declares no steps")

	// ErrMissingArtifact marks a step whose process exited zero but did not
	// produce a declared artifact.
	ErrMissingArtifact = eris.New("expected artifact missing")
)

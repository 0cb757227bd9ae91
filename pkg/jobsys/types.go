package jobsys

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Importance decides whether a failed step aborts the rest of its job.
type Importance int

const (
	// ImportanceBlocking steps abort the job when they fail. This is the
	// default for steps that don't say otherwise.
	ImportanceBlocking Importance = iota
	// ImportanceInformational steps may fail without affecting the job
	// outcome (diagnostic dumps, doc builds, ...).
	ImportanceInformational
)

func (i Importance) String() string {
	switch i {
	case ImportanceBlocking:
		return "blocking"
	case ImportanceInformational:
		return "informational"
	}
	return fmt.Sprintf("importance(%d)", int(i))
}

// UnmarshalYAML accepts "blocking" (or nothing) and "informational".
func (i *Importance) UnmarshalYAML(value *yaml.Node) error {
	switch value.Value {
	case "", "blocking":
		*i = ImportanceBlocking
	case "informational", "info":
		*i = ImportanceInformational
	default:
		return eris.Errorf("unknown importance %q, expected blocking or informational", value.Value)
	}
	return nil
}

func (i Importance) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}

// StepSpec describes one external command invocation within a job. Exactly
// one of Command (argv form, spawned directly) or Shell (a script executed
// through mvdan.cc/sh with -e semantics) must be set.
type StepSpec struct {
	Label      string
	Importance Importance
	Command    []string
	Shell      string
	// Dir overrides the job's working directory for this step.
	Dir string
	// Artifacts are doublestar patterns that must match at least one path
	// after a successful run; a miss forces the step to failed.
	Artifacts []string
	// Timeout bounds the step's wall clock time; exceeding it behaves like
	// a cancellation of this step.
	Timeout time.Duration
}

// CommandString renders the step's command for display.
func (s StepSpec) CommandString() string {
	if s.Shell != "" {
		return s.Shell
	}
	return strings.Join(s.Command, " ")
}

// JobRecipe is the immutable specification associated with a job name.
type JobRecipe struct {
	Name string
	Desc string
	// Env is overlaid onto the ambient process environment for every step.
	Env map[string]string
	// Clean purges the job's build directory before the first step runs.
	Clean bool
	Steps []StepSpec
}

// Outcome classifies the result of a single step.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// StepResult is the outcome of executing one StepSpec. Exit codes are data,
// not errors: a process that ran and exited non-zero yields ExitCode >= 1,
// while a process that failed to even start yields ExitCode -1 and Err.
type StepResult struct {
	Label      string        `json:"label"`
	Outcome    Outcome       `json:"outcome"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Stdout     []byte        `json:"-"`
	Stderr     []byte        `json:"-"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Err        error         `json:"-"`
}

// JobOutcome classifies the result of a whole job run.
type JobOutcome int

const (
	JobSucceeded JobOutcome = iota
	JobFailed
	JobUnknown
)

func (o JobOutcome) String() string {
	switch o {
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobUnknown:
		return "unknownJob"
	}
	return fmt.Sprintf("jobOutcome(%d)", int(o))
}

func (o JobOutcome) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// JobResult is the outcome of one job run. Steps after the first failed
// blocking step are recorded as skipped.
type JobResult struct {
	RunID      string        `json:"run_id"`
	JobName    string        `json:"job"`
	Outcome    JobOutcome    `json:"outcome"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Steps      []StepResult  `json:"steps"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Err        error         `json:"-"`
}

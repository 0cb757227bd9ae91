package jobsys

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"golang.org/x/term"
)

// timePrecision keeps rendered durations readable.
const timePrecision = 10 * time.Millisecond

// ConsoleSink renders progress for an operator. Section markers follow the
// +++/--- convention: job boundaries are sections, step starts are routine
// lines and failures stand out in red with the captured output below them.
type ConsoleSink struct {
	w io.Writer
	c colorstring.Colorize
	// ShowOutput prints captured output for successful steps too.
	ShowOutput bool

	lock sync.Mutex
}

// NewConsoleSink writes to w. Colors are enabled only when w is a terminal.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	sink := &ConsoleSink{
		w: w,
		c: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: true,
			Reset:   true,
		},
	}

	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		sink.c.Disable = false
	}

	return sink
}

// DisableColor forces plain output regardless of the destination.
func (s *ConsoleSink) DisableColor() {
	s.c.Disable = true
}

func (s *ConsoleSink) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.w, s.c.Color(format)+"\n", args...)
}

func (s *ConsoleSink) OnJobStart(recipe *JobRecipe, runID string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.printf("[green]+++ job %s[reset]", recipe.Name)
	if recipe.Desc != "" {
		s.printf("    %s", recipe.Desc)
	}
}

func (s *ConsoleSink) OnStepStart(job string, step StepSpec, index, total int) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.printf("[blue]--- [%d/%d] %s[reset]", index+1, total, step.Label)
}

func (s *ConsoleSink) OnStepEnd(job string, step StepSpec, result StepResult) {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch result.Outcome {
	case OutcomeSucceeded:
		s.printf("[green]    %s ok (%s)[reset]", step.Label, result.Duration.Round(timePrecision))
		if s.ShowOutput {
			s.dumpOutput(result)
		}
	case OutcomeSkipped:
		s.printf("[yellow]    %s skipped[reset]", step.Label)
	case OutcomeFailed:
		switch {
		case result.Cancelled:
			s.printf("[red]    %s cancelled after %s[reset]", step.Label, result.Duration.Round(timePrecision))
		case result.Err != nil:
			s.printf("[red]    %s failed: %s[reset]", step.Label, eris.ToString(result.Err, false))
		default:
			s.printf("[red]    %s failed (exit %d)[reset]", step.Label, result.ExitCode)
		}
		s.dumpOutput(result)
	}
}

func (s *ConsoleSink) dumpOutput(result StepResult) {
	if len(result.Stdout) > 0 {
		s.printf("[dark_gray]^^^ %s stdout[reset]", result.Label)
		s.w.Write(result.Stdout)
		s.ensureNewline(result.Stdout)
	}
	if len(result.Stderr) > 0 {
		s.printf("[dark_gray]^^^ %s stderr[reset]", result.Label)
		s.w.Write(result.Stderr)
		s.ensureNewline(result.Stderr)
	}
}

func (s *ConsoleSink) ensureNewline(output []byte) {
	if output[len(output)-1] != '\n' {
		fmt.Fprintln(s.w)
	}
}

func (s *ConsoleSink) OnJobEnd(result JobResult) {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch result.Outcome {
	case JobSucceeded:
		s.printf("[green]+++ job %s succeeded (%s)[reset]", result.JobName, result.Duration.Round(timePrecision))
	case JobUnknown:
		s.printf("[red]+++ unknown job %s[reset]", result.JobName)
	case JobFailed:
		if result.Cancelled {
			s.printf("[red]+++ job %s cancelled (%s)[reset]", result.JobName, result.Duration.Round(timePrecision))
		} else {
			s.printf("[red]+++ job %s failed (%s)[reset]", result.JobName, result.Duration.Round(timePrecision))
		}
	}
}

package jobsys

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures event names for assertions.
type recordingSink struct {
	events []string
	lock   sync.Mutex
}

func (s *recordingSink) record(event string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) OnJobStart(recipe *JobRecipe, runID string) {
	s.record("job_start:" + recipe.Name)
}

func (s *recordingSink) OnStepStart(job string, step StepSpec, index, total int) {
	s.record("step_start:" + step.Label)
}

func (s *recordingSink) OnStepEnd(job string, step StepSpec, result StepResult) {
	s.record("step_end:" + step.Label + ":" + result.Outcome.String())
}

func (s *recordingSink) OnJobEnd(result JobResult) {
	s.record("job_end:" + result.Outcome.String())
}

// panickySink misbehaves on every event.
type panickySink struct{}

func (panickySink) OnJobStart(*JobRecipe, string)          { panic("job start") }
func (panickySink) OnStepStart(string, StepSpec, int, int) { panic("step start") }
func (panickySink) OnStepEnd(string, StepSpec, StepResult) { panic("step end") }
func (panickySink) OnJobEnd(JobResult)                     { panic("job end") }

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	multi := MultiSink{first, second}

	multi.OnJobStart(testRecipe("fanout"), "run-1")
	multi.OnJobEnd(JobResult{JobName: "fanout", Outcome: JobSucceeded})

	assert.Equal(t, []string{"job_start:fanout", "job_end:succeeded"}, first.events)
	assert.Equal(t, first.events, second.events)
}

func TestMultiSinkIsolatesPanickingSinks(t *testing.T) {
	healthy := &recordingSink{}
	multi := MultiSink{panickySink{}, healthy}

	assert.NotPanics(t, func() {
		multi.OnJobStart(testRecipe("isolated"), "run-1")
		multi.OnStepEnd("isolated", StepSpec{Label: "noop"}, StepResult{Outcome: OutcomeSucceeded})
		multi.OnJobEnd(JobResult{JobName: "isolated", Outcome: JobSucceeded})
	})

	assert.Len(t, healthy.events, 3)
}

func TestConsoleSinkRendersMarkers(t *testing.T) {
	out := &bytes.Buffer{}
	sink := NewConsoleSink(out)

	sink.OnJobStart(&JobRecipe{Name: "generic-debug", Desc: "debug build"}, "run-1")
	sink.OnStepStart("generic-debug", StepSpec{Label: "generate"}, 0, 2)
	sink.OnStepEnd("generic-debug", StepSpec{Label: "generate"}, StepResult{
		Label:    "generate",
		Outcome:  OutcomeFailed,
		ExitCode: 2,
		Stderr:   []byte("CMake Error\n"),
	})
	sink.OnStepEnd("generic-debug", StepSpec{Label: "compile"}, StepResult{
		Label:   "compile",
		Outcome: OutcomeSkipped,
	})
	sink.OnJobEnd(JobResult{JobName: "generic-debug", Outcome: JobFailed})

	rendered := out.String()
	// writing to a plain buffer disables colors entirely
	assert.NotContains(t, rendered, "\x1b[")
	assert.Contains(t, rendered, "+++ job generic-debug")
	assert.Contains(t, rendered, "--- [1/2] generate")
	assert.Contains(t, rendered, "generate failed (exit 2)")
	assert.Contains(t, rendered, "CMake Error")
	assert.Contains(t, rendered, "compile skipped")
	assert.Contains(t, rendered, "job generic-debug failed")
}

func TestJSONReportSinkEmitsOneObjectPerEvent(t *testing.T) {
	out := &bytes.Buffer{}
	sink := NewJSONReportSink(out)

	sink.OnJobStart(testRecipe("report"), "run-1")
	sink.OnStepStart("report", StepSpec{Label: "noop"}, 0, 1)
	sink.OnStepEnd("report", StepSpec{Label: "noop"}, StepResult{
		Label:    "noop",
		Outcome:  OutcomeSucceeded,
		ExitCode: 0,
		Stdout:   []byte("done\n"),
	})
	sink.OnJobEnd(JobResult{RunID: "run-1", JobName: "report", Outcome: JobSucceeded})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	var startEvent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &startEvent))
	assert.Equal(t, "step_start", startEvent["event"])
	// the first step has index 0; the key must still be present
	assert.Contains(t, startEvent, "index")
	assert.Equal(t, float64(0), startEvent["index"])

	var stepEvent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &stepEvent))
	assert.Equal(t, "step_end", stepEvent["event"])
	assert.Equal(t, "succeeded", stepEvent["outcome"])
	assert.Equal(t, "done\n", stepEvent["stdout"])
	// exit code 0 is data, not absence
	assert.Contains(t, stepEvent, "exit_code")
	assert.Equal(t, float64(0), stepEvent["exit_code"])

	var jobEvent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &jobEvent))
	assert.Equal(t, "job_end", jobEvent["event"])
	assert.Equal(t, "run-1", jobEvent["run_id"])
}

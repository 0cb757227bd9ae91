package jobsys

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// JSONReportSink appends one JSON object per event to w, suitable for
// dashboards or later analysis. Write errors are swallowed: reporting must
// never fail the run.
type JSONReportSink struct {
	enc  *json.Encoder
	lock sync.Mutex
}

func NewJSONReportSink(w io.Writer) *JSONReportSink {
	return &JSONReportSink{enc: json.NewEncoder(w)}
}

type reportEvent struct {
	Event     string     `json:"event"`
	Time      time.Time  `json:"time"`
	RunID     string     `json:"run_id,omitempty"`
	Job       string     `json:"job"`
	Step      string     `json:"step,omitempty"`
	// index and exit_code are always present; 0 is a legitimate value for
	// both and automation must be able to rely on the keys existing
	Index    int    `json:"index"`
	Total    int    `json:"total,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	ExitCode int    `json:"exit_code"`
	Duration  int64      `json:"duration_ms,omitempty"`
	Cancelled bool       `json:"cancelled,omitempty"`
	Error     string     `json:"error,omitempty"`
	Stdout    string     `json:"stdout,omitempty"`
	Stderr    string     `json:"stderr,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
}

func (s *JSONReportSink) emit(event reportEvent) {
	event.Time = time.Now().UTC()

	s.lock.Lock()
	defer s.lock.Unlock()
	_ = s.enc.Encode(event)
}

func (s *JSONReportSink) OnJobStart(recipe *JobRecipe, runID string) {
	s.emit(reportEvent{Event: "job_start", RunID: runID, Job: recipe.Name})
}

func (s *JSONReportSink) OnStepStart(job string, step StepSpec, index, total int) {
	s.emit(reportEvent{Event: "step_start", Job: job, Step: step.Label, Index: index, Total: total})
}

func (s *JSONReportSink) OnStepEnd(job string, step StepSpec, result StepResult) {
	event := reportEvent{
		Event:     "step_end",
		Job:       job,
		Step:      step.Label,
		Outcome:   result.Outcome.String(),
		ExitCode:  result.ExitCode,
		Duration:  result.DurationMS,
		Cancelled: result.Cancelled,
		Stdout:    string(result.Stdout),
		Stderr:    string(result.Stderr),
	}
	if result.Err != nil {
		event.Error = eris.ToString(result.Err, false)
	}
	s.emit(event)
}

func (s *JSONReportSink) OnJobEnd(result JobResult) {
	event := reportEvent{
		Event:     "job_end",
		RunID:     result.RunID,
		Job:       result.JobName,
		Outcome:   result.Outcome.String(),
		Duration:  result.DurationMS,
		Cancelled: result.Cancelled,
		Result:    &result,
	}
	if result.Err != nil {
		event.Error = eris.ToString(result.Err, false)
	}
	s.emit(event)
}

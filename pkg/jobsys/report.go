package jobsys

// Sink observes job and step progress. Sinks are passive: they return
// nothing and cannot alter the run's control flow or outcome.
type Sink interface {
	OnJobStart(recipe *JobRecipe, runID string)
	OnStepStart(job string, step StepSpec, index, total int)
	OnStepEnd(job string, step StepSpec, result StepResult)
	OnJobEnd(result JobResult)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) OnJobStart(*JobRecipe, string)          {}
func (NopSink) OnStepStart(string, StepSpec, int, int) {}
func (NopSink) OnStepEnd(string, StepSpec, StepResult) {}
func (NopSink) OnJobEnd(JobResult)                     {}

// MultiSink fans every event out to each attached sink. A panicking sink is
// isolated so that reporting can never fail the run.
type MultiSink []Sink

func (m MultiSink) each(fn func(Sink)) {
	for _, sink := range m {
		func() {
			defer func() {
				// a broken sink must not take the run down with it
				_ = recover()
			}()
			fn(sink)
		}()
	}
}

func (m MultiSink) OnJobStart(recipe *JobRecipe, runID string) {
	m.each(func(s Sink) { s.OnJobStart(recipe, runID) })
}

func (m MultiSink) OnStepStart(job string, step StepSpec, index, total int) {
	m.each(func(s Sink) { s.OnStepStart(job, step, index, total) })
}

func (m MultiSink) OnStepEnd(job string, step StepSpec, result StepResult) {
	m.each(func(s Sink) { s.OnStepEnd(job, step, result) })
}

func (m MultiSink) OnJobEnd(result JobResult) {
	m.each(func(s Sink) { s.OnJobEnd(result) })
}

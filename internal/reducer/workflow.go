// ABOUTME: Reducer for workflow runs: tracks steps and final content on one message
// ABOUTME: Step-scoped content goes to its step, unscoped content to the final answer

package reducer

import (
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/event"
)

// Workflow folds a workflow run into its placeholder's WorkflowRun.
type Workflow struct {
	msgID    string
	target   chat.Target
	workflow chat.Workflow
	runID    string
	done     bool
}

// NewWorkflow starts a reducer for placeholder.
func NewWorkflow(placeholder chat.Message) Workflow {
	r := Workflow{msgID: placeholder.ID, target: chat.Target{Kind: chat.KindWorkflow}}
	if placeholder.Target != nil {
		r.target = *placeholder.Target
		r.workflow = chat.Workflow{ID: r.target.ID, Name: r.target.Name}
	}
	if placeholder.WorkflowRun != nil {
		r.workflow = placeholder.WorkflowRun.Workflow
	}
	return r
}

// RunID implements Reducer.
func (r Workflow) RunID() string { return r.runID }

// Done implements Reducer.
func (r Workflow) Done() bool { return r.done }

// Apply implements Reducer.
func (r Workflow) Apply(v View, ev event.Event) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	if ev, ok := ev.(event.RunStarted); ok {
		// Step executors announce their own runs; the first id is the workflow's.
		if r.runID == "" {
			r.runID = ev.RunID
		}
		return r, chat.Delta{}
	}

	e := newEdit(v)
	m := e.get(r.msgID)
	if m == nil {
		return r, chat.Delta{}
	}
	run := r.run(m)

	switch ev := ev.(type) {
	case event.StepStarted:
		run.StartStep(ev.StepName)

	case event.RunContent:
		if ev.StepName != "" {
			if !run.AppendStepContent(ev.StepName, ev.Content) {
				return r, chat.Delta{}
			}
			break
		}
		if !ev.IsImage() {
			run.FinalContent += ev.Content
		}
		addContent(m, ev)

	case event.StepCompleted:
		if !run.CompleteStep(ev.StepName) {
			return r, chat.Delta{}
		}

	case event.WorkflowRunCompleted, event.RunCompleted:
		run.Complete()
		m.Streaming = false
		r.done = true

	case event.RunError:
		run.FailRunning()
		m.Error = ev.Error
		m.Streaming = false
		r.done = true

	default:
		return r, chat.Delta{}
	}
	return r, e.delta()
}

// End implements Reducer.
func (r Workflow) End(v View) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	if m := e.get(r.msgID); m != nil {
		r.run(m).Complete()
		m.Streaming = false
	}
	r.done = true
	return r, e.delta()
}

// Fail implements Reducer. Running steps are marked failed and the message
// text becomes a failure notice.
func (r Workflow) Fail(v View, _ error) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	if m := e.get(r.msgID); m != nil {
		r.run(m).FailRunning()
		m.SetText(FailureNotice(r.target))
		m.Streaming = false
	}
	r.done = true
	return r, e.delta()
}

// Cancel implements Reducer.
func (r Workflow) Cancel(v View) (Reducer, chat.Delta) {
	if r.done {
		return r, chat.Delta{}
	}
	e := newEdit(v)
	e.stop(r.msgID)
	r.done = true
	return r, e.delta()
}

// run returns the message's workflow run, creating it on first use.
func (r Workflow) run(m *chat.Message) *chat.WorkflowRun {
	if m.WorkflowRun == nil {
		m.WorkflowRun = chat.NewWorkflowRun(r.workflow)
	}
	return m.WorkflowRun
}

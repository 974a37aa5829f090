// ABOUTME: Tool call and workflow run state attached to bot messages
// ABOUTME: Steps are append-only; status transitions are one-way out of running

package chat

import "fmt"

// Status is the lifecycle state of a tool call, workflow step or run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ToolCall is a tool invocation announced during a run.
type ToolCall struct {
	ID          string         `json:"id"`
	ToolName    string         `json:"tool_name"`
	Args        map[string]any `json:"args,omitempty"`
	DelegatedTo string         `json:"delegated_to,omitempty"`
	Status      Status         `json:"status"`
	Output      string         `json:"output,omitempty"`
}

// Finish moves a running tool call to completed or failed. Calls that have
// already left running are not changed again.
func (tc *ToolCall) Finish(failed bool, output string) bool {
	if tc.Status != StatusRunning {
		return false
	}
	tc.Status = StatusCompleted
	if failed {
		tc.Status = StatusFailed
	}
	if output != "" {
		tc.Output = output
	}
	return true
}

// Task returns the delegated task text, if the tool arguments carry one.
func (tc *ToolCall) Task() string {
	if s, ok := tc.Args["task"].(string); ok {
		return s
	}
	return ""
}

func (tc ToolCall) clone() ToolCall {
	c := tc
	if tc.Args != nil {
		c.Args = make(map[string]any, len(tc.Args))
		for k, v := range tc.Args {
			c.Args[k] = v
		}
	}
	return c
}

// WorkflowStep is one step of a workflow run.
type WorkflowStep struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Content string `json:"content,omitempty"`
}

// WorkflowRun tracks the progress of a workflow answering one message.
type WorkflowRun struct {
	Workflow     Workflow       `json:"workflow"`
	Status       Status         `json:"status"`
	Steps        []WorkflowStep `json:"steps,omitempty"`
	FinalContent string         `json:"final_content,omitempty"`
}

// NewWorkflowRun starts a run for w with no steps.
func NewWorkflowRun(w Workflow) *WorkflowRun {
	return &WorkflowRun{Workflow: w, Status: StatusRunning}
}

// StartStep appends a running step. An empty name becomes "Step N".
func (r *WorkflowRun) StartStep(name string) {
	if name == "" {
		name = fmt.Sprintf("Step %d", len(r.Steps)+1)
	}
	r.Steps = append(r.Steps, WorkflowStep{Name: name, Status: StatusRunning})
}

// AppendStepContent appends to the most recent running step named name.
func (r *WorkflowRun) AppendStepContent(name, content string) bool {
	if i := r.runningStep(name); i >= 0 {
		r.Steps[i].Content += content
		return true
	}
	return false
}

// CompleteStep flips the running step named name to completed.
func (r *WorkflowRun) CompleteStep(name string) bool {
	if i := r.runningStep(name); i >= 0 {
		r.Steps[i].Status = StatusCompleted
		return true
	}
	return false
}

// FailRunning marks every still-running step failed.
func (r *WorkflowRun) FailRunning() {
	for i := range r.Steps {
		if r.Steps[i].Status == StatusRunning {
			r.Steps[i].Status = StatusFailed
		}
	}
}

// Complete finishes the run.
func (r *WorkflowRun) Complete() {
	r.Status = StatusCompleted
}

// runningStep finds the latest running step named name. An empty name
// matches the latest running step.
func (r *WorkflowRun) runningStep(name string) int {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if (name == "" || r.Steps[i].Name == name) && r.Steps[i].Status == StatusRunning {
			return i
		}
	}
	return -1
}

func (r WorkflowRun) clone() WorkflowRun {
	c := r
	if r.Steps != nil {
		c.Steps = make([]WorkflowStep, len(r.Steps))
		copy(c.Steps, r.Steps)
	}
	return c
}

// Package ralph implements the autonomous iteration loop: a supervisor that
// drives an LLM through repeated, context-aware passes over a working
// directory until a completion signal or stop condition is reached.
package ralph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskTimeout   TaskStatus = "timeout"
	TaskCancelled TaskStatus = "cancelled"
)

// IterationStatus is the outcome of a single loop iteration.
type IterationStatus string

const (
	IterationRunning     IterationStatus = "running"
	IterationCompleted   IterationStatus = "completed"
	IterationFailed      IterationStatus = "failed"
	IterationNeedsReview IterationStatus = "needs_review"
)

// FileAction classifies a recorded file mutation.
type FileAction string

const (
	FileCreate FileAction = "create"
	FileModify FileAction = "modify"
	FileDelete FileAction = "delete"
)

// CheckType names a backpressure validator.
type CheckType string

const (
	CheckTest      CheckType = "test"
	CheckLint      CheckType = "lint"
	CheckTypecheck CheckType = "typecheck"
	CheckBuild     CheckType = "build"
)

// DefaultCompletionPromise is the literal the loop asks the model to emit
// when it believes a task is finished.
const DefaultCompletionPromise = "<promise>COMPLETE</promise>"

// ToolCall records one tool invocation made by the model during an iteration.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
}

// FileChange records one filesystem mutation attributed to a ToolCall.
type FileChange struct {
	Path           string     `json:"path"`
	Action         FileAction `json:"action"`
	ContentPreview string     `json:"content_preview,omitempty"`
	LinesAdded     int        `json:"lines_added"`
	LinesRemoved   int        `json:"lines_removed"`
}

// BackpressureResult records the outcome of one validator run.
type BackpressureResult struct {
	CheckType  CheckType `json:"check_type"`
	Passed     bool      `json:"passed"`
	Output     string    `json:"output"`
	Errors     []string  `json:"errors"`
	Warnings   []string  `json:"warnings"`
	DurationMS int64     `json:"duration_ms"`
}

// CompletionResult is the CompletionDetector's verdict for one iteration.
type CompletionResult struct {
	IsComplete      bool    `json:"is_complete"`
	Reason          string  `json:"reason"`
	Confidence      float64 `json:"confidence"`
	PromiseDetected bool    `json:"promise_detected"`
	AllTestsPassed  bool    `json:"all_tests_passed"`
	NoErrors        bool    `json:"no_errors"`
}

// Iteration is one pass of the outer loop: a prompt sent, a response
// received, the tool calls and file changes it produced, and the
// backpressure results it triggered.
type Iteration struct {
	IterationNumber int             `json:"iteration_number"`
	Status          IterationStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at,omitempty"`
	DurationMS      int64           `json:"duration_ms"`

	PromptSent    string `json:"prompt_sent"`
	AgentResponse string `json:"agent_response"`
	Reasoning     string `json:"reasoning,omitempty"`

	ToolCalls            []ToolCall            `json:"tool_calls"`
	FileChanges          []FileChange          `json:"file_changes"`
	BackpressureResults  []BackpressureResult  `json:"backpressure_results"`
	CompletionPromiseHit bool                  `json:"completion_promise_found"`
	CompletionMessage    string                `json:"completion_message,omitempty"`
	Error                string                `json:"error,omitempty"`
}

// complete finalizes the iteration's status and timing. Mirrors the
// finalization step every terminal Task transition performs.
func (it *Iteration) complete(status IterationStatus) {
	it.Status = status
	it.CompletedAt = time.Now()
	it.DurationMS = it.CompletedAt.Sub(it.StartedAt).Milliseconds()
}

// TaskConfig holds every tunable of one task's run. Zero value is invalid;
// use DefaultTaskConfig to obtain sane defaults.
type TaskConfig struct {
	CompletionPromise       string `json:"completion_promise"`
	MaxIterations           int    `json:"max_iterations"`
	IterationTimeoutSeconds int    `json:"iteration_timeout_seconds"`

	RunTests      bool `json:"run_tests"`
	RunLint       bool `json:"run_lint"`
	RunTypecheck  bool `json:"run_typecheck"`
	RunBuild      bool `json:"run_build"`
	TestCommand      string `json:"test_command,omitempty"`
	LintCommand      string `json:"lint_command,omitempty"`
	TypecheckCommand string `json:"typecheck_command,omitempty"`
	BuildCommand     string `json:"build_command,omitempty"`

	IncludeGitHistory  bool `json:"include_git_history"`
	IncludeFileContent bool `json:"include_file_contents"`
	MaxContextFiles    int  `json:"max_context_files"`

	WorkingDirectory string `json:"working_directory"`

	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// DefaultTaskConfig returns the configuration defaults every task starts
// from absent an explicit override.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		CompletionPromise:       DefaultCompletionPromise,
		MaxIterations:           50,
		IterationTimeoutSeconds: 300,
		RunTests:                true,
		RunLint:                 true,
		RunTypecheck:            true,
		RunBuild:                false,
		IncludeGitHistory:       true,
		IncludeFileContent:      true,
		MaxContextFiles:         20,
		WorkingDirectory:        ".",
		Provider:                "anthropic",
		Model:                   "claude-sonnet-4-20250514",
		MaxTokens:               16000,
		Temperature:             0.7,
	}
}

// Task is the unit of work the TaskRunner supervises. After submission it is
// owned exclusively by the runner/loop agent; callers hold only its ID.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	Prompt         string     `json:"prompt"`
	Description    string     `json:"description,omitempty"`
	Config         TaskConfig `json:"config"`
	UserID         string     `json:"user_id,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	AgentID        string     `json:"agent_id,omitempty"`

	Status          TaskStatus  `json:"status"`
	CurrentIteration int        `json:"current_iteration"`
	Iterations      []Iteration `json:"iterations"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`

	CompletionResult *CompletionResult `json:"completion_result,omitempty"`
	FinalOutput      string            `json:"final_output,omitempty"`
	Error            string            `json:"error,omitempty"`

	TotalToolCalls   int `json:"total_tool_calls"`
	TotalFileChanges int `json:"total_file_changes"`
	TotalTokensUsed  int `json:"total_tokens_used"`
}

// NewTask constructs a pending task with an opaque identity and the given
// configuration, stored as passed (no fields are filled from the defaults).
func NewTask(prompt, description string, cfg TaskConfig) *Task {
	return &Task{
		ID:          uuid.New(),
		Prompt:      prompt,
		Description: description,
		Config:      cfg,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
		Iterations:  make([]Iteration, 0),
	}
}

// Start transitions a pending task to running.
func (t *Task) Start() {
	t.Status = TaskRunning
	t.StartedAt = time.Now()
}

// AddIteration appends an iteration record and keeps the running totals and
// CurrentIteration counter in lockstep with len(Iterations).
func (t *Task) AddIteration(it Iteration) {
	t.Iterations = append(t.Iterations, it)
	t.CurrentIteration = len(t.Iterations)
	t.TotalToolCalls += len(it.ToolCalls)
	t.TotalFileChanges += len(it.FileChanges)
}

// Complete marks the task completed with the detector's verdict attached.
func (t *Task) Complete(result CompletionResult, finalOutput string) {
	t.Status = TaskCompleted
	t.CompletionResult = &result
	t.FinalOutput = finalOutput
	t.CompletedAt = time.Now()
}

// Fail marks the task failed with the given reason.
func (t *Task) Fail(reason string) {
	t.Status = TaskFailed
	t.Error = reason
	t.CompletedAt = time.Now()
}

// Timeout marks the task as having exhausted its iteration budget.
func (t *Task) Timeout() {
	t.Status = TaskTimeout
	t.Error = fmt.Sprintf("max_iterations (%d) reached", t.Config.MaxIterations)
	t.CompletedAt = time.Now()
}

// Cancel marks the task cancelled.
func (t *Task) Cancel() {
	t.Status = TaskCancelled
	t.CompletedAt = time.Now()
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	default:
		return false
	}
}

// DurationSeconds returns wall-clock seconds since StartedAt, or since
// CreatedAt if the task never started.
func (t *Task) DurationSeconds() float64 {
	start := t.StartedAt
	if start.IsZero() {
		start = t.CreatedAt
	}
	end := t.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(start).Seconds()
}

// Summary is the compact status projection returned by the HTTP surface and
// TaskRunner.Status.
type Summary struct {
	ID               uuid.UUID  `json:"id"`
	Status           TaskStatus `json:"status"`
	CurrentIteration int        `json:"current_iteration"`
	MaxIterations    int        `json:"max_iterations"`
	DurationSeconds  float64    `json:"duration_seconds"`
	TotalToolCalls   int        `json:"total_tool_calls"`
	TotalFileChanges int        `json:"total_file_changes"`
	FinalOutput      string     `json:"final_output,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Summary projects a Task into its compact status form.
func (t *Task) Summary() Summary {
	return Summary{
		ID:               t.ID,
		Status:           t.Status,
		CurrentIteration: t.CurrentIteration,
		MaxIterations:    t.Config.MaxIterations,
		DurationSeconds:  t.DurationSeconds(),
		TotalToolCalls:   t.TotalToolCalls,
		TotalFileChanges: t.TotalFileChanges,
		FinalOutput:      t.FinalOutput,
		Error:            t.Error,
	}
}

package ralph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ralph/pkg/llm"
	"github.com/ternarybob/ralph/pkg/monitor"
)

// maxToolRounds bounds the inner tool-use loop within a single iteration:
// the model may chain tool calls, but never without limit.
const maxToolRounds = 10

// backpressureSignature maps a CheckType to the signature files that must
// exist in the working directory (any one of them) before the corresponding
// command auto-detects, and the command to run when no explicit override is
// configured. Entries are tried in order; the first whose signature matches
// wins, mirroring the language-detection order a polyglot working directory
// would expect (test frameworks before generic fallbacks).
var backpressureSignature = []struct {
	check     CheckType
	signature []string
	command   string
}{
	{CheckTest, []string{"pytest.ini", "pyproject.toml"}, "pytest -v"},
	{CheckTest, []string{"setup.py"}, "python -m pytest"},
	{CheckTest, []string{"package.json"}, "npm test"},
	{CheckTest, []string{"go.mod"}, "go test ./..."},
	{CheckTest, []string{"Cargo.toml"}, "cargo test"},

	{CheckLint, []string{"pyproject.toml", ".flake8"}, "ruff check . || flake8 ."},
	{CheckLint, []string{"package.json"}, "npm run lint 2>/dev/null || eslint ."},
	{CheckLint, []string{"go.mod"}, "golangci-lint run 2>/dev/null || go vet ./..."},

	{CheckTypecheck, []string{"pyproject.toml"}, "mypy . 2>/dev/null || true"},
	{CheckTypecheck, []string{"tsconfig.json"}, "tsc --noEmit"},

	{CheckBuild, []string{"package.json"}, "npm run build"},
	{CheckBuild, []string{"go.mod"}, "go build ./..."},
	{CheckBuild, []string{"Cargo.toml"}, "cargo build"},
}

// LoopAgent drives one Task through its outer loop: build context, call the
// model, execute any requested tools, run backpressure, check completion,
// repeat until a stop condition fires.
type LoopAgent struct {
	model    Model
	toolkit  *Toolkit
	context  *ContextBuilder
	detector *CompletionDetector
	log      arbor.ILogger
	monitor  monitor.Monitor
}

// NewLoopAgent wires the four core collaborators into a LoopAgent bound to
// one task's toolkit. Events are dropped on the floor until SetMonitor is
// called with something other than a NoopMonitor.
func NewLoopAgent(model Model, toolkit *Toolkit, logger arbor.ILogger) *LoopAgent {
	return &LoopAgent{
		model:    model,
		toolkit:  toolkit,
		context:  NewContextBuilder(toolkit),
		detector: NewCompletionDetector(),
		log:      logger,
		monitor:  monitor.NewNoopMonitor(),
	}
}

// SetMonitor replaces the agent's event sink.
func (a *LoopAgent) SetMonitor(m monitor.Monitor) {
	if m == nil {
		m = monitor.NewNoopMonitor()
	}
	a.monitor = m
}

// Run drives task to a terminal state, invoking onIteration after each
// completed iteration (nil is accepted) so a caller can stream progress
// before the next pass begins. cancelled is polled between iterations, not
// mid-iteration: an in-flight model call or tool chain always finishes.
func (a *LoopAgent) Run(ctx context.Context, task *Task, cancelled func() bool, onIteration func(Iteration)) error {
	task.Start()
	a.monitor.Emit(monitor.NewEvent(monitor.EventTaskStarted).WithData("task_id", task.ID.String()))

	for {
		it, err := a.runIteration(ctx, task)
		if err != nil {
			it.Error = err.Error()
			it.complete(IterationFailed)
		}
		task.AddIteration(it)
		a.monitor.Emit(monitor.NewEvent(monitor.EventIterationCompleted).
			WithData("task_id", task.ID.String()).
			WithData("iteration", it.IterationNumber).
			WithData("status", string(it.Status)))
		if onIteration != nil {
			onIteration(it)
		}

		result := a.detector.Check(task, &task.Iterations[len(task.Iterations)-1])
		task.TotalTokensUsed += 0 // model token usage is not collected, so this total stays 0

		isCancelled := cancelled != nil && cancelled()
		stop, reason := a.detector.ShouldStop(task, result, isCancelled)
		if !stop {
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		var eventType monitor.EventType
		switch reason {
		case StopCompleted:
			task.Complete(result, it.AgentResponse)
			eventType = monitor.EventTaskCompleted
		case StopMaxIterations:
			task.Timeout()
			eventType = monitor.EventTaskTimeout
		case StopCancelled:
			task.Cancel()
			eventType = monitor.EventTaskCancelled
		case StopConsecutiveErrors, StopStuckLoop:
			task.Fail(string(reason))
			eventType = monitor.EventTaskFailed
		default:
			task.Fail("unknown stop reason")
			eventType = monitor.EventTaskFailed
		}
		a.monitor.Emit(monitor.NewEvent(eventType).WithData("task_id", task.ID.String()))
		a.log.Info().Str("task_id", task.ID.String()).Str("status", string(task.Status)).Msg("task finished")
		return nil
	}
}

// runIteration performs one full pass: build context, run the inner
// tool-use loop against the model, run backpressure, and assemble the
// Iteration record.
func (a *LoopAgent) runIteration(ctx context.Context, task *Task) (Iteration, error) {
	it := Iteration{
		IterationNumber: task.CurrentIteration + 1,
		Status:          IterationRunning,
		StartedAt:       time.Now(),
	}

	bc := a.context.Build(ctx, task)
	prompt := a.context.Format(bc)
	it.PromptSent = prompt

	messages := []llm.Message{llm.UserMessage(prompt)}
	response, toolCalls, reasoning, err := a.runToolLoop(ctx, task, messages, &it)
	it.Reasoning = reasoning
	if err != nil {
		return it, err
	}
	it.AgentResponse = response
	it.ToolCalls = append(it.ToolCalls, toolCalls...)
	it.FileChanges = a.toolkit.DrainFileChanges()

	if strings.Contains(response, DefaultCompletionPromise) || strings.Contains(response, task.Config.CompletionPromise) {
		it.CompletionPromiseHit = true
		it.CompletionMessage = response
	}

	it.BackpressureResults = a.runBackpressure(ctx, task)
	it.complete(IterationCompleted)
	return it, nil
}

// runToolLoop drives the bounded inner loop: send messages, execute any
// tool_use blocks the model returned, append their results, and repeat
// until the model stops requesting tools or maxToolRounds is hit. The last
// non-empty "reasoning:" prefixed line the model emits wins, matching how
// later text in a turn supersedes earlier deliberation.
func (a *LoopAgent) runToolLoop(ctx context.Context, task *Task, messages []llm.Message, it *Iteration) (string, []ToolCall, string, error) {
	var finalText string
	var reasoning string
	var calls []ToolCall

	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.model.Complete(ctx, ModelRequest{
			Model:       task.Config.Model,
			MaxTokens:   task.Config.MaxTokens,
			Temperature: task.Config.Temperature,
			System:      systemPrompt,
			Messages:    messages,
			Tools:       ToolSchemas(),
		})
		if err != nil {
			return finalText, calls, reasoning, fmt.Errorf("model completion round %d: %w", round, err)
		}

		if r := extractReasoning(resp.Text); r != "" {
			reasoning = r
		}
		finalText = resp.Text
		messages = append(messages, llm.AssistantMessage(resp.Text))

		if len(resp.ToolCalls) == 0 || resp.StopReason != "tool_use" {
			break
		}

		for _, tc := range resp.ToolCalls {
			call := a.toolkit.Execute(ctx, tc.Name, tc.Arguments)
			calls = append(calls, call)

			resultJSON, isErr := toolResultJSON(call)
			messages = append(messages, llm.ToolResultMessage(tc.ID, resultJSON, isErr))

			if tc.Name == "complete_task" {
				summary, _ := tc.Arguments["summary"].(string)
				finalText = strings.TrimSpace(finalText + "\n" + summary + "\n" + DefaultCompletionPromise)
			}
		}
	}

	return finalText, calls, reasoning, nil
}

func toolResultJSON(call ToolCall) (string, bool) {
	if call.Error != "" {
		return call.Error, true
	}
	data, err := json.Marshal(call.Result)
	if err != nil {
		return err.Error(), true
	}
	return string(data), false
}

// extractReasoning pulls the content of the last non-empty "reasoning:"-prefixed
// line in text, or "" if none is present.
func extractReasoning(text string) string {
	last := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "reasoning:") {
			if r := strings.TrimSpace(trimmed[len("reasoning:"):]); r != "" {
				last = r
			}
		}
	}
	return last
}

// runBackpressure executes whichever validators the task enabled, using its
// explicit command override when set and otherwise auto-detecting from the
// signature table.
func (a *LoopAgent) runBackpressure(ctx context.Context, task *Task) []BackpressureResult {
	type enabled struct {
		check   CheckType
		want    bool
		command string
	}
	wants := []enabled{
		{CheckBuild, task.Config.RunBuild, task.Config.BuildCommand},
		{CheckTest, task.Config.RunTests, task.Config.TestCommand},
		{CheckLint, task.Config.RunLint, task.Config.LintCommand},
		{CheckTypecheck, task.Config.RunTypecheck, task.Config.TypecheckCommand},
	}

	var results []BackpressureResult
	for _, w := range wants {
		if !w.want {
			continue
		}
		command := w.command
		if command == "" {
			command = a.detectCommand(w.check)
		}
		if command == "" {
			continue
		}
		res := a.runCheck(ctx, w.check, command)
		a.monitor.Emit(monitor.NewEvent(monitor.EventBackpressureRun).
			WithData("task_id", task.ID.String()).
			WithData("check", string(w.check)).
			WithData("passed", res.Passed))
		results = append(results, res)
	}
	return results
}

func (a *LoopAgent) detectCommand(check CheckType) string {
	for _, sig := range backpressureSignature {
		if sig.check != check {
			continue
		}
		for _, file := range sig.signature {
			if _, err := a.toolkit.resolvePath(file); err == nil {
				return sig.command
			}
		}
	}
	return ""
}

// backpressureErrorPattern matches the line-level error markers a CI runner
// typically emits; a match is additive context for the next iteration's
// prompt, not an authoritative classification, so it deliberately
// over-triggers (e.g. the word "failed" inside a passing test's summary line).
var backpressureErrorPattern = regexp.MustCompile(`(?i:error[:\s]|failed|✗|✖)`)

// runCheck executes command and classifies its combined output into capped
// error/warning lists: up to 20 errors (200 chars each) and up to 10 warnings.
func (a *LoopAgent) runCheck(ctx context.Context, check CheckType, command string) BackpressureResult {
	start := time.Now()
	stdout, stderr, code, err := a.toolkit.runShell(ctx, command, 120*time.Second)
	res := BackpressureResult{
		CheckType:  check,
		Passed:     code == 0,
		Output:     truncate(stdout+stderr, 5000),
		DurationMS: time.Since(start).Milliseconds(),
	}
	res.Errors = extractBackpressureErrors(stdout + "\n" + stderr)
	res.Warnings = extractBackpressureWarnings(stdout + "\n" + stderr)
	if err != nil {
		res.Errors = append(res.Errors, truncate(err.Error(), 200))
	}
	if len(res.Errors) > 20 {
		res.Errors = res.Errors[:20]
	}
	return res
}

func extractBackpressureErrors(output string) []string {
	var errs []string
	for _, line := range scanLines(output) {
		if backpressureErrorPattern.MatchString(line) {
			errs = append(errs, truncate(strings.TrimSpace(line), 200))
			if len(errs) == 20 {
				break
			}
		}
	}
	return errs
}

func extractBackpressureWarnings(output string) []string {
	var warnings []string
	for _, line := range scanLines(output) {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "warning") || strings.Contains(lower, "warn") {
			warnings = append(warnings, truncate(strings.TrimSpace(line), 200))
			if len(warnings) == 10 {
				break
			}
		}
	}
	return warnings
}

package ralph

import (
	"regexp"
	"strings"
)

// alternatePromisePatterns are checked case-insensitively in addition to the
// task's configured literal completion promise.
var alternatePromisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<promise>\s*complete\s*</promise>`),
	regexp.MustCompile(`(?i)task[_\s]?complete`),
	regexp.MustCompile(`(?i)loop[_\s]?complete`),
	regexp.MustCompile(`(?i)done[_\s]?complete`),
	regexp.MustCompile(`(?i)\[complete\]`),
	regexp.MustCompile(`(?i)\[done\]`),
}

// Progress heuristic weights. Kept as unexported constants rather than
// configuration: an initial tuning, not a contract.
const (
	weightCompletionPhrase = 0.15
	weightVerificationPhrase = 0.10
	weightNoChangePhrase   = 0.20
	weightReadOnlyRound    = 0.10
	weightFewerChanges     = 0.05
	maxHeuristicConfidence = 0.7
	completionThreshold    = 0.5
)

var completionPhrases = []string{
	"task is complete", "completed successfully", "all done",
	"finished implementing", "implementation complete",
	"changes have been made", "everything is working",
	"tests pass", "all tests pass",
}

var verificationPhrases = []string{
	"please review", "ready for review", "let me know if", "should i", "would you like",
}

var noChangePhrases = []string{
	"no changes needed", "no further changes", "nothing left to do", "all requirements met",
}

var criticalErrorPattern = regexp.MustCompile(`(?i)(error:?|failed:?|exception:?|cannot\s+\w+|unable\s+to\s+\w+)`)

var errorSkipPhrases = []string{"no error", "without error", "error handling"}

// CompletionDetector decides whether a task is complete and whether the
// outer loop must stop.
type CompletionDetector struct{}

// NewCompletionDetector returns a CompletionDetector.
func NewCompletionDetector() *CompletionDetector { return &CompletionDetector{} }

// Check evaluates task's most recent iteration and returns the completion
// verdict for it.
func (d *CompletionDetector) Check(task *Task, current *Iteration) CompletionResult {
	if promise, found := d.checkPromise(current.AgentResponse, task.Config.CompletionPromise); found {
		return CompletionResult{IsComplete: true, Reason: "completion promise detected: " + promise, Confidence: 1.0, PromiseDetected: true}
	}

	allPassed, noErrors := d.checkBackpressure(current.BackpressureResults)
	hasCriticalError := d.hasCriticalError(current)
	progress := d.analyzeProgress(task, current)

	if hasCriticalError {
		return CompletionResult{IsComplete: false, Reason: "critical error detected", Confidence: 0, NoErrors: false, AllTestsPassed: allPassed}
	}

	appearsComplete := progress >= completionThreshold && current.Error == "" && allPassed
	if appearsComplete && allPassed && noErrors {
		return CompletionResult{
			IsComplete:     true,
			Reason:         "backpressure passed and progress heuristic indicates completion",
			Confidence:     progress,
			AllTestsPassed: allPassed,
			NoErrors:       noErrors,
		}
	}

	return CompletionResult{
		IsComplete:     false,
		Reason:         "no completion signal",
		Confidence:     progress,
		AllTestsPassed: allPassed,
		NoErrors:       noErrors,
	}
}

func (d *CompletionDetector) checkPromise(response, customPromise string) (string, bool) {
	if customPromise != "" && strings.Contains(response, customPromise) {
		return customPromise, true
	}
	if strings.Contains(response, DefaultCompletionPromise) {
		return DefaultCompletionPromise, true
	}
	for _, re := range alternatePromisePatterns {
		if m := re.FindString(response); m != "" {
			return m, true
		}
	}
	return "", false
}

func (d *CompletionDetector) checkBackpressure(results []BackpressureResult) (allPassed, noErrors bool) {
	allPassed, noErrors = true, true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
		}
		if len(r.Errors) > 0 {
			noErrors = false
		}
	}
	return allPassed, noErrors
}

func (d *CompletionDetector) hasCriticalError(it *Iteration) bool {
	if it.Error != "" {
		return true
	}
	for _, tc := range it.ToolCalls {
		if tc.Error != "" {
			return true
		}
	}
	lower := strings.ToLower(it.AgentResponse)
	if !criticalErrorPattern.MatchString(lower) {
		return false
	}
	for _, skip := range errorSkipPhrases {
		if strings.Contains(lower, skip) {
			return false
		}
	}
	return true
}

func (d *CompletionDetector) analyzeProgress(task *Task, current *Iteration) float64 {
	lower := strings.ToLower(current.AgentResponse)
	confidence := 0.0

	for _, p := range completionPhrases {
		if strings.Contains(lower, p) {
			confidence += weightCompletionPhrase
		}
	}
	for _, p := range verificationPhrases {
		if strings.Contains(lower, p) {
			confidence += weightVerificationPhrase
		}
	}
	for _, p := range noChangePhrases {
		if strings.Contains(lower, p) {
			confidence += weightNoChangePhrase
		}
	}

	if len(current.ToolCalls) > 0 {
		allReadOnly := true
		for _, tc := range current.ToolCalls {
			name := strings.ToLower(tc.ToolName)
			if !strings.Contains(name, "read") && !strings.Contains(name, "get") {
				allReadOnly = false
				break
			}
		}
		if allReadOnly {
			confidence += weightReadOnlyRound
		}
	}

	if n := len(task.Iterations); n >= 2 {
		prior := task.Iterations[n-2]
		if len(current.FileChanges) < len(prior.FileChanges) {
			confidence += weightFewerChanges
		}
	}

	if confidence > maxHeuristicConfidence {
		confidence = maxHeuristicConfidence
	}
	return confidence
}

// StopReason names why ShouldStop returned true.
type StopReason string

const (
	StopNone             StopReason = ""
	StopCompleted        StopReason = "completed"
	StopMaxIterations    StopReason = "max_iterations_reached"
	StopConsecutiveErrors StopReason = "too_many_consecutive_errors"
	StopStuckLoop        StopReason = "agent_appears_stuck"
	StopCancelled        StopReason = "cancelled"
)

// ShouldStop evaluates the orthogonal stop conditions against task's full
// iteration history and the latest completion verdict.
func (d *CompletionDetector) ShouldStop(task *Task, result CompletionResult, cancelled bool) (bool, StopReason) {
	if cancelled {
		return true, StopCancelled
	}
	if result.IsComplete {
		return true, StopCompleted
	}
	if task.CurrentIteration >= task.Config.MaxIterations {
		return true, StopMaxIterations
	}
	if n := len(task.Iterations); n >= 5 {
		last5 := task.Iterations[n-5:]
		errCount := 0
		for _, it := range last5 {
			if it.Error != "" {
				errCount++
			}
		}
		if errCount >= 4 {
			return true, StopConsecutiveErrors
		}
	}
	if n := len(task.Iterations); n >= 3 {
		last3 := task.Iterations[n-3:]
		prefixes := map[string]bool{}
		for _, it := range last3 {
			prefixes[preview(it.AgentResponse, 500)] = true
		}
		if len(prefixes) == 1 {
			return true, StopStuckLoop
		}
	}
	return false, StopNone
}

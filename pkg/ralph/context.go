package ralph

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// GitStatusEntry is one line of `git status --porcelain`.
type GitStatusEntry struct {
	StatusCode string `json:"status_code"`
	Path       string `json:"path"`
}

// GitContext is the VCS snapshot attached to a build context, when the
// working directory is a git repository.
type GitContext struct {
	IsGitRepo         bool             `json:"is_git_repo"`
	CurrentBranch     string           `json:"current_branch,omitempty"`
	RecentCommits     []string         `json:"recent_commits,omitempty"`
	UncommittedChanges []GitStatusEntry `json:"uncommitted_changes,omitempty"`
	DiffSummary       string           `json:"diff_summary,omitempty"`
}

// FileContextEntry is one modified file's (possibly truncated) content.
type FileContextEntry struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// IterationSummary is the condensed view of a past iteration injected into
// later prompts.
type IterationSummary struct {
	Number               int
	Status               IterationStatus
	DurationMS           int64
	Reasoning            string
	ToolCalls            []ToolCallSummary
	FileChanges          []FileChange
	Backpressure         map[CheckType]BackpressureSummary
	CompletionPromiseHit bool
	Error                string
}

// ToolCallSummary is a condensed ToolCall for context injection.
type ToolCallSummary struct {
	Tool          string
	ResultPreview string
	Error         string
}

// BackpressureSummary is a condensed BackpressureResult for context injection.
type BackpressureSummary struct {
	Passed bool
	Errors []string
}

// BuildContext is the full structured context assembled for one iteration.
type BuildContext struct {
	TaskPrompt          string
	TaskDescription     string
	CurrentIteration    int
	MaxIterations       int
	IterationsRemaining int
	CompletionPromise   string

	IterationHistory []IterationSummary
	Git              *GitContext
	Files            []FileContextEntry
	LastBackpressure []BackpressureResult
	IndexContext     string
}

// ContextBuilder assembles a BuildContext from task history and the working
// directory's filesystem/VCS state, then flattens it to a prompt string.
type ContextBuilder struct {
	toolkit *Toolkit
}

// NewContextBuilder returns a ContextBuilder reading through tk.
func NewContextBuilder(tk *Toolkit) *ContextBuilder {
	return &ContextBuilder{toolkit: tk}
}

const maxHistoryEntries = 10

// Build assembles the structured context for the next iteration of task.
func (cb *ContextBuilder) Build(ctx context.Context, task *Task) BuildContext {
	bc := BuildContext{
		TaskPrompt:          task.Prompt,
		TaskDescription:     task.Description,
		CurrentIteration:    task.CurrentIteration,
		MaxIterations:       task.Config.MaxIterations,
		IterationsRemaining: task.Config.MaxIterations - task.CurrentIteration,
		CompletionPromise:   task.Config.CompletionPromise,
		IterationHistory:    cb.buildIterationHistory(task),
	}

	if task.Config.IncludeGitHistory {
		bc.Git = cb.buildGitContext(ctx)
	}
	if task.Config.IncludeFileContent {
		bc.Files = cb.buildFileContext(task, task.Config.MaxContextFiles)
	}
	if n := len(task.Iterations); n > 0 {
		bc.LastBackpressure = task.Iterations[n-1].BackpressureResults
	}

	return bc
}

func (cb *ContextBuilder) buildIterationHistory(task *Task) []IterationSummary {
	iterations := task.Iterations
	if len(iterations) > maxHistoryEntries {
		iterations = iterations[len(iterations)-maxHistoryEntries:]
	}

	summaries := make([]IterationSummary, 0, len(iterations))
	for _, it := range iterations {
		s := IterationSummary{
			Number:               it.IterationNumber,
			Status:               it.Status,
			DurationMS:           it.DurationMS,
			Reasoning:            it.Reasoning,
			FileChanges:          it.FileChanges,
			CompletionPromiseHit: it.CompletionPromiseHit,
			Error:                it.Error,
		}
		for _, tc := range it.ToolCalls {
			s.ToolCalls = append(s.ToolCalls, ToolCallSummary{
				Tool:          tc.ToolName,
				ResultPreview: preview(fmt.Sprint(tc.Result), 200),
				Error:         tc.Error,
			})
		}
		if len(it.BackpressureResults) > 0 {
			s.Backpressure = make(map[CheckType]BackpressureSummary, len(it.BackpressureResults))
			for _, bp := range it.BackpressureResults {
				errs := bp.Errors
				if len(errs) > 3 {
					errs = errs[:3]
				}
				s.Backpressure[bp.CheckType] = BackpressureSummary{Passed: bp.Passed, Errors: errs}
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func (cb *ContextBuilder) buildGitContext(ctx context.Context) *GitContext {
	gc := &GitContext{}

	_, stderr, code, _ := cb.toolkit.runShell(ctx, "git rev-parse --git-dir", 5*time.Second)
	if code != 0 || strings.Contains(stderr, "fatal") {
		return gc
	}
	gc.IsGitRepo = true

	if branch, _, code, _ := cb.toolkit.runShell(ctx, "git branch --show-current", 5*time.Second); code == 0 {
		gc.CurrentBranch = strings.TrimSpace(branch)
	}

	if log, _, code, _ := cb.toolkit.runShell(ctx, "git log --oneline -20 --format='%h %s'", 5*time.Second); code == 0 {
		gc.RecentCommits = scanLines(strings.TrimSpace(log))
	}

	if status, _, code, _ := cb.toolkit.runShell(ctx, "git status --porcelain", 5*time.Second); code == 0 {
		for _, line := range scanLines(status) {
			if len(line) < 4 {
				continue
			}
			gc.UncommittedChanges = append(gc.UncommittedChanges, GitStatusEntry{
				StatusCode: line[:2],
				Path:       strings.TrimSpace(line[3:]),
			})
		}
	}

	if diffStat, _, code, _ := cb.toolkit.runShell(ctx, "git diff --stat HEAD", 10*time.Second); code == 0 {
		gc.DiffSummary = strings.TrimSpace(diffStat)
	}

	return gc
}

func (cb *ContextBuilder) buildFileContext(task *Task, maxFiles int) []FileContextEntry {
	seen := map[string]bool{}
	var paths []string
	for _, it := range task.Iterations {
		for _, fc := range it.FileChanges {
			if fc.Action == FileDelete || seen[fc.Path] {
				continue
			}
			seen[fc.Path] = true
			paths = append(paths, fc.Path)
			if len(paths) >= maxFiles {
				break
			}
		}
		if len(paths) >= maxFiles {
			break
		}
	}

	const maxBytes = 5000
	var entries []FileContextEntry
	for _, p := range paths {
		resolved, err := cb.toolkit.resolvePath(p)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			continue
		}
		content := string(data)
		truncated := false
		if len(content) > maxBytes {
			content = content[:maxBytes]
			truncated = true
		}
		entries = append(entries, FileContextEntry{Path: p, Content: content, Truncated: truncated})
	}
	return entries
}

// Format flattens the structured context into the prompt-ready report.
// Section order is fixed; only the last 3 iterations appear verbatim and
// file contents are truncated further than the structured form.
func (cb *ContextBuilder) Format(bc BuildContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== TASK CONTEXT ===\n")
	fmt.Fprintf(&b, "Prompt: %s\n", bc.TaskPrompt)
	if bc.TaskDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", bc.TaskDescription)
	}
	fmt.Fprintf(&b, "Iteration: %d/%d (remaining: %d)\n\n", bc.CurrentIteration, bc.MaxIterations, bc.IterationsRemaining)

	fmt.Fprintf(&b, "=== PREVIOUS ITERATIONS ===\n")
	hist := bc.IterationHistory
	if len(hist) > 3 {
		hist = hist[len(hist)-3:]
	}
	if len(hist) == 0 {
		fmt.Fprintf(&b, "(none yet)\n")
	}
	for _, it := range hist {
		fmt.Fprintf(&b, "--- Iteration %d (%s, %dms) ---\n", it.Number, it.Status, it.DurationMS)
		if it.Reasoning != "" {
			fmt.Fprintf(&b, "Reasoning: %s\n", it.Reasoning)
		}
		for _, tc := range it.ToolCalls {
			if tc.Error != "" {
				fmt.Fprintf(&b, "  tool %s -> error: %s\n", tc.Tool, tc.Error)
			} else {
				fmt.Fprintf(&b, "  tool %s -> %s\n", tc.Tool, tc.ResultPreview)
			}
		}
		for _, fc := range it.FileChanges {
			fmt.Fprintf(&b, "  file %s: %s\n", fc.Path, fc.Action)
		}
		if it.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", it.Error)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "=== GIT STATUS ===\n")
	if bc.Git == nil || !bc.Git.IsGitRepo {
		fmt.Fprintf(&b, "(not a git repository, or git history disabled)\n\n")
	} else {
		fmt.Fprintf(&b, "Branch: %s\n", bc.Git.CurrentBranch)
		if len(bc.Git.UncommittedChanges) > 0 {
			fmt.Fprintf(&b, "Uncommitted changes:\n")
			for _, u := range bc.Git.UncommittedChanges {
				fmt.Fprintf(&b, "  %s %s\n", u.StatusCode, u.Path)
			}
		}
		if bc.Git.DiffSummary != "" {
			fmt.Fprintf(&b, "Diff summary:\n%s\n", bc.Git.DiffSummary)
		}
		if len(bc.Git.RecentCommits) > 0 {
			fmt.Fprintf(&b, "Recent commits:\n")
			for _, c := range bc.Git.RecentCommits {
				fmt.Fprintf(&b, "  %s\n", c)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "=== LAST VALIDATION RESULTS ===\n")
	if len(bc.LastBackpressure) == 0 {
		fmt.Fprintf(&b, "(none yet)\n\n")
	} else {
		for _, bp := range bc.LastBackpressure {
			status := "PASSED"
			if !bp.Passed {
				status = "FAILED"
			}
			fmt.Fprintf(&b, "%s: %s\n", bp.CheckType, status)
			for _, e := range bp.Errors {
				fmt.Fprintf(&b, "  error: %s\n", e)
			}
			for _, w := range bp.Warnings {
				fmt.Fprintf(&b, "  warning: %s\n", w)
			}
			if preview := preview(bp.Output, 500); preview != "" {
				fmt.Fprintf(&b, "  output: %s\n", preview)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "=== FILES MODIFIED IN THIS TASK ===\n")
	if len(bc.Files) == 0 {
		fmt.Fprintf(&b, "(none yet)\n")
	}
	for _, f := range bc.Files {
		content := f.Content
		if len(content) > 2000 {
			content = content[:2000]
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", f.Path, content)
		if f.Truncated {
			fmt.Fprintf(&b, "[truncated]\n")
		}
	}

	if bc.IndexContext != "" {
		fmt.Fprintf(&b, "\n=== RELATED CODE ===\n%s\n", bc.IndexContext)
	}

	return b.String()
}

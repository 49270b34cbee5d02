// Package ralph is a thin convenience facade over pkg/ralph for embedders
// that want a one-import SDK surface rather than wiring TaskRunner,
// Toolkit, and the model facades themselves.
//
// # Quick Start
//
//	runner := ralph.NewRunner(4, "anthropic", os.Getenv("ANTHROPIC_API_KEY"), logger)
//	id, err := runner.Submit(ctx, "add a health check endpoint", ".", ralph.TaskConfig{})
//	summary, err := runner.Wait(ctx, id)
package ralph

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ralph/pkg/ralph"
)

// TaskConfig re-exports the core package's task tunables.
type TaskConfig = ralph.TaskConfig

// Summary re-exports the compact task status projection.
type Summary = ralph.Summary

// Task re-exports the full task record.
type Task = ralph.Task

// DefaultTaskConfig returns the configuration defaults every task starts
// from absent an explicit override.
func DefaultTaskConfig() TaskConfig {
	return ralph.DefaultTaskConfig()
}

// Runner wraps a *pkg/ralph.TaskRunner bound to a single provider/API key
// pair, for callers that only ever talk to one model backend.
type Runner struct {
	inner *ralph.TaskRunner
}

// NewRunner constructs a Runner whose tasks resolve to the given provider
// ("anthropic" or "gemini") using apiKey, running up to maxConcurrent tasks
// at once.
func NewRunner(maxConcurrent int, provider, apiKey string, logger arbor.ILogger) *Runner {
	newModel := func(string) (ralph.Model, error) {
		return ralph.NewModelForProvider(provider, apiKey)
	}
	return &Runner{inner: ralph.NewTaskRunner(maxConcurrent, newModel, logger)}
}

// Submit starts a task with the given prompt against workingDir. A cfg whose
// Model is set is used as given; otherwise (e.g. a zero TaskConfig) the whole
// of DefaultTaskConfig is used instead. Fields are not merged one by one.
// Either way WorkingDirectory is set to workingDir.
func (r *Runner) Submit(ctx context.Context, prompt, workingDir string, cfg TaskConfig) (string, error) {
	if cfg.Model == "" {
		cfg = DefaultTaskConfig()
	}
	cfg.WorkingDirectory = workingDir
	id, err := r.inner.Submit(ctx, prompt, "", cfg)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Status returns the compact status projection for id.
func (r *Runner) Status(id string) (Summary, error) {
	uid, err := ralph.ParseTaskID(id)
	if err != nil {
		return Summary{}, err
	}
	return r.inner.Status(uid)
}

// Wait blocks until id reaches a terminal status or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (Summary, error) {
	uid, err := ralph.ParseTaskID(id)
	if err != nil {
		return Summary{}, err
	}
	return r.inner.Wait(ctx, uid)
}

// Cancel requests that id's loop stop at its next iteration boundary.
func (r *Runner) Cancel(id string) error {
	uid, err := ralph.ParseTaskID(id)
	if err != nil {
		return err
	}
	return r.inner.Cancel(uid)
}

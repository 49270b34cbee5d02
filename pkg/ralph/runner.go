package ralph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ralph/pkg/monitor"
)

// TaskRunner supervises a bounded number of concurrent LoopAgent runs and
// holds the registry of submitted tasks for status/cancel/wait lookups.
// Completed tasks stay in the registry for the process lifetime; callers
// that need eviction run their own sweep over List().
type TaskRunner struct {
	log         arbor.ILogger
	newModel    func(provider string) (Model, error)
	maxParallel chan struct{}
	monitor     monitor.Monitor
	skills      *Registry

	mu        sync.RWMutex
	tasks     map[uuid.UUID]*Task
	cancels   map[uuid.UUID]context.CancelFunc
	waiters   map[uuid.UUID][]chan struct{}
}

// NewTaskRunner returns a TaskRunner that allows up to maxConcurrent tasks
// to run their loops at once. newModel resolves a task's configured
// provider name (e.g. "anthropic", "gemini") into a Model facade, closing
// over whatever API key configuration it needs; pass a closure around
// NewModelForProvider in production and a stub in tests.
func NewTaskRunner(maxConcurrent int, newModel func(provider string) (Model, error), logger arbor.ILogger) *TaskRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &TaskRunner{
		log:         logger,
		newModel:    newModel,
		maxParallel: make(chan struct{}, maxConcurrent),
		monitor:     monitor.NewNoopMonitor(),
		tasks:       make(map[uuid.UUID]*Task),
		cancels:     make(map[uuid.UUID]context.CancelFunc),
		waiters:     make(map[uuid.UUID][]chan struct{}),
	}
}

// SetMonitor replaces the event sink handed to every LoopAgent this runner
// starts from this point forward.
func (r *TaskRunner) SetMonitor(m monitor.Monitor) {
	if m == nil {
		m = monitor.NewNoopMonitor()
	}
	r.monitor = m
}

// SetSkills attaches an optional skill registry. Every task this runner
// starts is first offered to the registry's best-confidence match (if any
// clears minSkillConfidence) before the bare loop runs.
func (r *TaskRunner) SetSkills(registry *Registry) {
	r.skills = registry
}

// Submit registers task and starts its loop in the background without
// blocking; the background goroutine waits for a concurrency slot.
// The returned task ID is valid for Status/Cancel/Wait immediately.
func (r *TaskRunner) Submit(ctx context.Context, prompt, description string, cfg TaskConfig) (uuid.UUID, error) {
	task := NewTask(prompt, description, cfg)

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(detach(ctx))
	r.mu.Lock()
	r.cancels[task.ID] = cancel
	r.mu.Unlock()

	go r.run(runCtx, task, cancel)
	return task.ID, nil
}

// run claims a concurrency slot, builds the task's toolkit/model/loop agent,
// and drives it to completion, notifying any Wait callers when it finishes.
func (r *TaskRunner) run(ctx context.Context, task *Task, cancel context.CancelFunc) {
	defer cancel()
	defer r.notifyDone(task.ID)

	select {
	case r.maxParallel <- struct{}{}:
		defer func() { <-r.maxParallel }()
	case <-ctx.Done():
		r.mu.Lock()
		task.Fail("cancelled before a concurrency slot was available")
		r.mu.Unlock()
		return
	}

	if r.skills != nil {
		if skill, confidence := r.skills.FindBest(task); skill != nil && confidence >= minSkillConfidence {
			r.log.Debug().Str("task_id", task.ID.String()).Str("skill", skill.Metadata().Name).
				Float64("confidence", confidence).Msg("skill matched, preparing task")
			skill.Prepare(task)
		}
	}

	toolkit, err := NewToolkit(task.Config.WorkingDirectory, true, time.Duration(task.Config.IterationTimeoutSeconds)*time.Second)
	if err != nil {
		r.mu.Lock()
		task.Fail(fmt.Sprintf("toolkit init: %v", err))
		r.mu.Unlock()
		return
	}

	model, err := r.newModel(task.Config.Provider)
	if err != nil {
		r.mu.Lock()
		task.Fail(fmt.Sprintf("model init: %v", err))
		r.mu.Unlock()
		return
	}

	agent := NewLoopAgent(model, toolkit, r.log)
	agent.SetMonitor(r.monitor)
	cancelled := func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	onIteration := func(it Iteration) {
		r.log.Debug().Str("task_id", task.ID.String()).Int("iteration", it.IterationNumber).
			Str("status", string(it.Status)).Msg("iteration complete")
	}

	if err := agent.Run(ctx, task, cancelled, onIteration); err != nil {
		r.mu.Lock()
		task.Fail(fmt.Sprintf("loop agent: %v", err))
		r.mu.Unlock()
	}
}

// ParseTaskID parses the string form of a task ID returned by Submit, for
// callers that store IDs as strings (HTTP handlers, CLI args, SDK facades).
func ParseTaskID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// Status returns the compact projection of a submitted task.
func (r *TaskRunner) Status(id uuid.UUID) (Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return task.Summary(), nil
}

// Task returns the full task record, including per-iteration detail.
func (r *TaskRunner) Task(id uuid.UUID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return task, nil
}

// List returns a snapshot of every submitted task's summary.
func (r *TaskRunner) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Summary())
	}
	return out
}

// Cancel requests that id's loop stop at its next iteration boundary.
// Already-terminal tasks return ErrTaskAlreadyTerminal.
func (r *TaskRunner) Cancel(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.IsTerminal() {
		return ErrTaskAlreadyTerminal
	}
	if cancel, ok := r.cancels[id]; ok {
		cancel()
	}
	return nil
}

// Wait blocks until id reaches a terminal status or ctx is done, whichever
// comes first.
func (r *TaskRunner) Wait(ctx context.Context, id uuid.UUID) (Summary, error) {
	r.mu.Lock()
	task, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.IsTerminal() {
		r.mu.Unlock()
		return task.Summary(), nil
	}
	done := make(chan struct{})
	r.waiters[id] = append(r.waiters[id], done)
	r.mu.Unlock()

	select {
	case <-done:
		return r.Status(id)
	case <-ctx.Done():
		return Summary{}, ErrWaitTimeout
	}
}

func (r *TaskRunner) notifyDone(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.waiters[id] {
		close(ch)
	}
	delete(r.waiters, id)
}

// detach strips ctx's deadline/cancellation while keeping its values, so a
// caller's request-scoped context (e.g. an HTTP handler's) cannot abort a
// background task it merely submitted.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct{ parent context.Context }

func (detachedContext) Deadline() (time.Time, bool)   { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}         { return nil }
func (detachedContext) Err() error                    { return nil }
func (d detachedContext) Value(key any) any           { return d.parent.Value(key) }

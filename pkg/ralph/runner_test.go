package ralph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, responses []ModelResponse) *TaskRunner {
	t.Helper()
	newModel := func(provider string) (Model, error) {
		return &fakeModel{responses: responses}, nil
	}
	return NewTaskRunner(2, newModel, testLogger())
}

func TestTaskRunner_SubmitAndWait_Completes(t *testing.T) {
	runner := newTestRunner(t, []ModelResponse{
		{Text: "all done. " + DefaultCompletionPromise, StopReason: "end_turn"},
	})

	cfg := DefaultTaskConfig()
	cfg.RunTests, cfg.RunLint, cfg.RunTypecheck, cfg.RunBuild = false, false, false, false
	cfg.WorkingDirectory = t.TempDir()

	id, err := runner.Submit(context.Background(), "do the thing", "", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := runner.Wait(ctx, id)

	require.NoError(t, err)
	assert.Equal(t, TaskCompleted, summary.Status)
}

func TestTaskRunner_Status_UnknownTask(t *testing.T) {
	runner := newTestRunner(t, nil)
	_, err := runner.Status(uuid.New())
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskRunner_Cancel_AlreadyTerminal(t *testing.T) {
	runner := newTestRunner(t, []ModelResponse{
		{Text: "all done. " + DefaultCompletionPromise, StopReason: "end_turn"},
	})

	cfg := DefaultTaskConfig()
	cfg.RunTests, cfg.RunLint, cfg.RunTypecheck, cfg.RunBuild = false, false, false, false
	cfg.WorkingDirectory = t.TempDir()

	id, err := runner.Submit(context.Background(), "do the thing", "", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = runner.Wait(ctx, id)
	require.NoError(t, err)

	err = runner.Cancel(id)
	assert.ErrorIs(t, err, ErrTaskAlreadyTerminal)
}

func TestTaskRunner_List_IncludesSubmittedTasks(t *testing.T) {
	runner := newTestRunner(t, []ModelResponse{
		{Text: "all done. " + DefaultCompletionPromise, StopReason: "end_turn"},
	})

	cfg := DefaultTaskConfig()
	cfg.RunTests, cfg.RunLint, cfg.RunTypecheck, cfg.RunBuild = false, false, false, false
	cfg.WorkingDirectory = t.TempDir()

	id, err := runner.Submit(context.Background(), "do the thing", "", cfg)
	require.NoError(t, err)

	summaries := runner.List()
	var found bool
	for _, s := range summaries {
		if s.ID == id {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTaskRunner_Skills_PrepareRunsBeforeLoop(t *testing.T) {
	runner := newTestRunner(t, []ModelResponse{
		{Text: "all done. " + DefaultCompletionPromise, StopReason: "end_turn"},
	})
	registry := NewRegistry()
	registry.Register(forcingSkill{})
	runner.SetSkills(registry)

	cfg := DefaultTaskConfig()
	cfg.RunTests, cfg.RunLint, cfg.RunTypecheck, cfg.RunBuild = false, false, false, false
	cfg.WorkingDirectory = t.TempDir()

	id, err := runner.Submit(context.Background(), "please write tests for this", "", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = runner.Wait(ctx, id)
	require.NoError(t, err)

	task, err := runner.Task(id)
	require.NoError(t, err)
	assert.True(t, task.Config.RunLint, "forcingSkill should have flipped RunLint on")
}

func TestParseTaskID_RoundTrips(t *testing.T) {
	runner := newTestRunner(t, []ModelResponse{
		{Text: "all done. " + DefaultCompletionPromise, StopReason: "end_turn"},
	})

	cfg := DefaultTaskConfig()
	cfg.WorkingDirectory = t.TempDir()
	id, err := runner.Submit(context.Background(), "x", "", cfg)
	require.NoError(t, err)

	parsed, err := ParseTaskID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

// forcingSkill always matches and flips RunLint on, used to exercise the
// runner's skill pre-dispatch path without depending on the testgen package.
type forcingSkill struct{}

func (forcingSkill) Metadata() SkillMetadata {
	return SkillMetadata{Name: "forcing", Triggers: []string{"write tests"}}
}
func (forcingSkill) CanHandle(task *Task) (bool, float64) {
	return MatchTrigger(task.Prompt, []string{"write tests"}), 0.9
}
func (forcingSkill) Prepare(task *Task) { task.Config.RunLint = true }

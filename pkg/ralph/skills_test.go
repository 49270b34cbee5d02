package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTrigger_PlainSubstring(t *testing.T) {
	assert.True(t, MatchTrigger("please ADD TESTS for this", []string{"add tests"}))
	assert.False(t, MatchTrigger("please refactor this", []string{"add tests"}))
}

func TestMatchTrigger_RegexPrefix(t *testing.T) {
	assert.True(t, MatchTrigger("coverage report needed", []string{"re:cov(erage)?"}))
	assert.False(t, MatchTrigger("nothing relevant here", []string{"re:cov(erage)?"}))
}

type stubSkill struct {
	name       string
	confidence float64
	handles    bool
}

func (s stubSkill) Metadata() SkillMetadata         { return SkillMetadata{Name: s.name} }
func (s stubSkill) CanHandle(*Task) (bool, float64) { return s.handles, s.confidence }
func (s stubSkill) Prepare(task *Task)              { task.Config.Provider = s.name }

func TestRegistry_FindBest_PicksHighestConfidence(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stubSkill{name: "low", handles: true, confidence: 0.3})
	registry.Register(stubSkill{name: "high", handles: true, confidence: 0.9})

	task := NewTask("x", "", DefaultTaskConfig())
	best, confidence := registry.FindBest(task)

	assert.Equal(t, "high", best.Metadata().Name)
	assert.Equal(t, 0.9, confidence)
}

func TestRegistry_FindBest_NoMatch(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stubSkill{name: "never", handles: false, confidence: 0.99})

	task := NewTask("x", "", DefaultTaskConfig())
	best, _ := registry.FindBest(task)

	assert.Nil(t, best)
}

// Package testgen provides an optional Skill that recognizes test-focused
// task descriptions and tightens the loop's backpressure accordingly.
package testgen

import (
	"strings"

	"github.com/ternarybob/ralph/pkg/ralph"
)

// Skill matches tasks that ask for test generation or coverage work.
type Skill struct{}

// New returns the test-generation skill.
func New() *Skill {
	return &Skill{}
}

// Metadata identifies the skill.
func (s *Skill) Metadata() ralph.SkillMetadata {
	return ralph.SkillMetadata{
		Name:        "testgen",
		Description: "Recognizes test-writing tasks and enforces the test backpressure check",
		Triggers: []string{
			"test", "add tests", "write tests", "unit test", "integration test", "coverage",
		},
		Tags: []string{"test", "verification", "quality"},
	}
}

// CanHandle scores how confidently this skill applies to task.
func (s *Skill) CanHandle(task *ralph.Task) (bool, float64) {
	desc := strings.ToLower(task.Prompt + " " + task.Description)
	if !ralph.MatchTrigger(desc, s.Metadata().Triggers) {
		return false, 0
	}
	switch {
	case strings.Contains(desc, "write test"), strings.Contains(desc, "add test"):
		return true, 0.95
	case strings.Contains(desc, "coverage"):
		return true, 0.9
	default:
		return true, 0.8
	}
}

// Prepare forces the test backpressure check on for a matched task: a task
// explicitly about writing tests should never be declared complete with a
// failing test suite, regardless of what the caller requested.
func (s *Skill) Prepare(task *ralph.Task) {
	task.Config.RunTests = true
}

package ralph

import (
	"regexp"
	"strings"
	"sync"
)

// SkillMetadata identifies and documents a Skill.
type SkillMetadata struct {
	Name        string
	Description string
	Triggers    []string
	Tags        []string
}

// Skill is an optional pre-dispatch classifier: given a task, it scores its
// own applicability and, if selected, may adjust the task's prompt and
// config before the bare loop runs. Skills never replace the loop itself —
// backpressure and completion detection apply identically regardless of
// which skill (if any) matched.
type Skill interface {
	Metadata() SkillMetadata
	// CanHandle returns whether this skill applies and, if so, a confidence
	// in [0,1]. The Registry hands the task to whichever registered skill
	// returns the highest confidence above its minimum threshold.
	CanHandle(task *Task) (bool, float64)
	// Prepare may mutate task.Prompt/task.Config before the loop starts.
	Prepare(task *Task)
}

// MatchTrigger reports whether any of triggers matches text, case-insensitively.
// A trigger prefixed "re:" is a regular expression; anything else is a
// plain substring.
func MatchTrigger(text string, triggers []string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range triggers {
		if rest, ok := strings.CutPrefix(trigger, "re:"); ok {
			if re, err := regexp.Compile(rest); err == nil && re.MatchString(lower) {
				return true
			}
			continue
		}
		if strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// Registry holds a confidence-ranked set of Skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	order  []string
}

// NewRegistry returns an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds skill, keyed by its metadata name.
func (r *Registry) Register(skill Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := skill.Metadata().Name
	if _, exists := r.skills[name]; !exists {
		r.order = append(r.order, name)
	}
	r.skills[name] = skill
}

// FindBest returns the registered skill with the highest confidence for
// task, or nil if none applies.
func (r *Registry) FindBest(task *Task) (Skill, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Skill
	var bestConfidence float64
	for _, name := range r.order {
		skill := r.skills[name]
		ok, confidence := skill.CanHandle(task)
		if ok && confidence > bestConfidence {
			best, bestConfidence = skill, confidence
		}
	}
	return best, bestConfidence
}

// minSkillConfidence is the floor a skill match must clear before its
// Prepare step runs; below this the task runs through the bare loop exactly
// as if no skills were registered.
const minSkillConfidence = 0.5

// Package tasks defines the request categories the gateway routes on and the
// typed prompt payload each category carries.
//
// DESIGN: TaskType is a closed set. Routing, caching and benchmarking key on it,
// so unknown values are rejected at the boundary by Parse rather than deep
// inside the router.
package tasks

import (
	"fmt"
	"strings"
)

// TaskType identifies a request category.
type TaskType string

const (
	ContentGeneration  TaskType = "content_generation"
	LessonPlanning     TaskType = "lesson_planning"
	AssessmentCreation TaskType = "assessment_creation"
	FeedbackAnalysis   TaskType = "feedback_analysis"
	StudentEvaluation  TaskType = "student_evaluation"
	QuestionAnswering  TaskType = "question_answering"
	Summarization      TaskType = "summarization"
	Translation        TaskType = "translation"
	CodeGeneration     TaskType = "code_generation"
	CreativeWriting    TaskType = "creative_writing"
)

var allTasks = []TaskType{
	ContentGeneration,
	LessonPlanning,
	AssessmentCreation,
	FeedbackAnalysis,
	StudentEvaluation,
	QuestionAnswering,
	Summarization,
	Translation,
	CodeGeneration,
	CreativeWriting,
}

// All returns every known task type in declaration order.
func All() []TaskType {
	out := make([]TaskType, len(allTasks))
	copy(out, allTasks)
	return out
}

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	for _, known := range allTasks {
		if t == known {
			return true
		}
	}
	return false
}

func (t TaskType) String() string { return string(t) }

// Parse converts a user-supplied string into a TaskType.
// Matching is case-insensitive and accepts '-' in place of '_'.
func Parse(s string) (TaskType, error) {
	normalized := TaskType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !normalized.Valid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return normalized, nil
}

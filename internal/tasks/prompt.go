package tasks

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/compresr/llm-gateway/internal/utils"
)

// Prompt is the payload of a single request. Each task type has its own
// variant; Raw covers callers that already hold an untyped field map.
type Prompt interface {
	// Task is the task type this payload belongs to.
	Task() TaskType
	// Fields returns the payload as a field map, ready for the wire.
	Fields() map[string]any
}

// =============================================================================
// PROMPT VARIANTS
// =============================================================================

// ContentPrompt asks for instructional content on a topic.
type ContentPrompt struct {
	Topic       string `json:"topic"`
	Subject     string `json:"subject,omitempty"`
	GradeLevel  string `json:"gradeLevel,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Length      string `json:"length,omitempty"`
}

func (ContentPrompt) Task() TaskType { return ContentGeneration }
func (p ContentPrompt) Fields() map[string]any {
	return compact(map[string]any{
		"topic": p.Topic, "subject": p.Subject, "gradeLevel": p.GradeLevel,
		"contentType": p.ContentType, "length": p.Length,
	})
}

// LessonPlanPrompt asks for a lesson plan.
type LessonPlanPrompt struct {
	Subject         string   `json:"subject"`
	Topic           string   `json:"topic"`
	GradeLevel      string   `json:"gradeLevel,omitempty"`
	DurationMinutes int      `json:"durationMinutes,omitempty"`
	Objectives      []string `json:"objectives,omitempty"`
}

func (LessonPlanPrompt) Task() TaskType { return LessonPlanning }
func (p LessonPlanPrompt) Fields() map[string]any {
	return compact(map[string]any{
		"subject": p.Subject, "topic": p.Topic, "gradeLevel": p.GradeLevel,
		"durationMinutes": p.DurationMinutes, "objectives": p.Objectives,
	})
}

// AssessmentPrompt asks for a set of assessment questions.
type AssessmentPrompt struct {
	Subject       string   `json:"subject"`
	Topic         string   `json:"topic"`
	GradeLevel    string   `json:"gradeLevel,omitempty"`
	QuestionCount int      `json:"questionCount,omitempty"`
	QuestionTypes []string `json:"questionTypes,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
}

func (AssessmentPrompt) Task() TaskType { return AssessmentCreation }
func (p AssessmentPrompt) Fields() map[string]any {
	return compact(map[string]any{
		"subject": p.Subject, "topic": p.Topic, "gradeLevel": p.GradeLevel,
		"questionCount": p.QuestionCount, "questionTypes": p.QuestionTypes,
		"difficulty": p.Difficulty,
	})
}

// FeedbackPrompt asks for an analysis of collected feedback.
type FeedbackPrompt struct {
	Responses []string `json:"responses"`
	Focus     string   `json:"focus,omitempty"`
}

func (FeedbackPrompt) Task() TaskType { return FeedbackAnalysis }
func (p FeedbackPrompt) Fields() map[string]any {
	return compact(map[string]any{"responses": p.Responses, "focus": p.Focus})
}

// EvaluationPrompt asks for an evaluation of a piece of student work.
type EvaluationPrompt struct {
	StudentWork string   `json:"studentWork"`
	Rubric      string   `json:"rubric,omitempty"`
	Criteria    []string `json:"criteria,omitempty"`
}

func (EvaluationPrompt) Task() TaskType { return StudentEvaluation }
func (p EvaluationPrompt) Fields() map[string]any {
	return compact(map[string]any{"studentWork": p.StudentWork, "rubric": p.Rubric, "criteria": p.Criteria})
}

// QuestionPrompt asks a free-form question.
type QuestionPrompt struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

func (QuestionPrompt) Task() TaskType { return QuestionAnswering }
func (p QuestionPrompt) Fields() map[string]any {
	return compact(map[string]any{"question": p.Question, "context": p.Context})
}

// SummaryPrompt asks for a summary of a text.
type SummaryPrompt struct {
	Text     string `json:"text"`
	MaxWords int    `json:"maxWords,omitempty"`
}

func (SummaryPrompt) Task() TaskType { return Summarization }
func (p SummaryPrompt) Fields() map[string]any {
	return compact(map[string]any{"text": p.Text, "maxWords": p.MaxWords})
}

// TranslationPrompt asks for a translation.
type TranslationPrompt struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
	TargetLanguage string `json:"targetLanguage"`
}

func (TranslationPrompt) Task() TaskType { return Translation }
func (p TranslationPrompt) Fields() map[string]any {
	return compact(map[string]any{
		"text": p.Text, "sourceLanguage": p.SourceLanguage, "targetLanguage": p.TargetLanguage,
	})
}

// CodePrompt asks for source code.
type CodePrompt struct {
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
}

func (CodePrompt) Task() TaskType { return CodeGeneration }
func (p CodePrompt) Fields() map[string]any {
	return compact(map[string]any{"description": p.Description, "language": p.Language})
}

// CreativePrompt asks for a piece of creative writing.
type CreativePrompt struct {
	Prompt string `json:"prompt"`
	Genre  string `json:"genre,omitempty"`
	Length string `json:"length,omitempty"`
}

func (CreativePrompt) Task() TaskType { return CreativeWriting }
func (p CreativePrompt) Fields() map[string]any {
	return compact(map[string]any{"prompt": p.Prompt, "genre": p.Genre, "length": p.Length})
}

// Raw is an untyped payload for any task type.
type Raw struct {
	Type TaskType
	Data map[string]any
}

func (r Raw) Task() TaskType { return r.Type }
func (r Raw) Fields() map[string]any {
	if r.Data == nil {
		return map[string]any{}
	}
	return r.Data
}

// =============================================================================
// DECODING AND CANONICAL FORM
// =============================================================================

// Decode builds the typed prompt for task from a JSON object.
// Unknown fields are ignored by the typed variants.
func Decode(task TaskType, data []byte) (Prompt, error) {
	if !task.Valid() {
		return nil, fmt.Errorf("unknown task type %q", task)
	}
	var p Prompt
	var err error
	switch task {
	case ContentGeneration:
		p, err = decodeInto[ContentPrompt](data)
	case LessonPlanning:
		p, err = decodeInto[LessonPlanPrompt](data)
	case AssessmentCreation:
		p, err = decodeInto[AssessmentPrompt](data)
	case FeedbackAnalysis:
		p, err = decodeInto[FeedbackPrompt](data)
	case StudentEvaluation:
		p, err = decodeInto[EvaluationPrompt](data)
	case QuestionAnswering:
		p, err = decodeInto[QuestionPrompt](data)
	case Summarization:
		p, err = decodeInto[SummaryPrompt](data)
	case Translation:
		p, err = decodeInto[TranslationPrompt](data)
	case CodeGeneration:
		p, err = decodeInto[CodePrompt](data)
	case CreativeWriting:
		p, err = decodeInto[CreativePrompt](data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s prompt: %w", task, err)
	}
	return p, nil
}

func decodeInto[T Prompt](data []byte) (Prompt, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Canonical returns a deterministic encoding of the prompt. Two prompts with
// the same fields produce identical bytes regardless of field order.
func Canonical(p Prompt) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil prompt")
	}
	// encoding/json sorts map keys at every depth.
	return utils.MarshalNoEscape(map[string]any{
		"task":   p.Task(),
		"fields": p.Fields(),
	})
}

// Fingerprint is the hex SHA-256 of the canonical encoding.
func Fingerprint(p Prompt) (string, error) {
	data, err := Canonical(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Text flattens the prompt into a string suitable for token estimation.
func Text(p Prompt) string {
	if p == nil {
		return ""
	}
	data, err := utils.MarshalNoEscape(p.Fields())
	if err != nil {
		return ""
	}
	return string(data)
}

// compact drops zero-valued fields so optional fields do not change the
// canonical form when omitted.
func compact(m map[string]any) map[string]any {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val == "" {
				delete(m, k)
			}
		case int:
			if val == 0 {
				delete(m, k)
			}
		case []string:
			if len(val) == 0 {
				delete(m, k)
			}
		case nil:
			delete(m, k)
		}
	}
	return m
}

package benchmark

import "github.com/compresr/llm-gateway/internal/tasks"

// promptSets is the fixed prompt set replayed for each task type. Changing
// it makes new results incomparable with stored ones.
var promptSets = map[tasks.TaskType][]tasks.Prompt{
	tasks.ContentGeneration: {
		tasks.ContentPrompt{Topic: "photosynthesis", Subject: "biology", GradeLevel: "7", ContentType: "explanation"},
		tasks.ContentPrompt{Topic: "the water cycle", Subject: "earth science", GradeLevel: "5", Length: "short"},
	},
	tasks.LessonPlanning: {
		tasks.LessonPlanPrompt{Subject: "mathematics", Topic: "fractions", GradeLevel: "4", DurationMinutes: 45},
		tasks.LessonPlanPrompt{Subject: "history", Topic: "the industrial revolution", GradeLevel: "9", DurationMinutes: 60,
			Objectives: []string{"identify key inventions", "explain social effects"}},
	},
	tasks.AssessmentCreation: {
		tasks.AssessmentPrompt{Subject: "chemistry", Topic: "the periodic table", GradeLevel: "10", QuestionCount: 5,
			QuestionTypes: []string{"multiple_choice"}, Difficulty: "medium"},
		tasks.AssessmentPrompt{Subject: "english", Topic: "figurative language", GradeLevel: "8", QuestionCount: 3},
	},
	tasks.FeedbackAnalysis: {
		tasks.FeedbackPrompt{Responses: []string{
			"The lab sessions were the best part.",
			"Homework took too long every week.",
			"More examples before quizzes would help.",
		}, Focus: "actionable improvements"},
	},
	tasks.StudentEvaluation: {
		tasks.EvaluationPrompt{
			StudentWork: "Plants make food from sunlight. They need water and air too. The green stuff helps.",
			Rubric:      "accuracy, use of vocabulary, completeness",
		},
	},
	tasks.QuestionAnswering: {
		tasks.QuestionPrompt{Question: "Why is the sky blue?"},
		tasks.QuestionPrompt{Question: "What does a mitochondrion do?", Context: "cell biology, grade 9"},
	},
	tasks.Summarization: {
		tasks.SummaryPrompt{Text: "The French Revolution was a period of political and societal change in France " +
			"that began with the Estates General of 1789 and ended with the coup of 18 Brumaire in 1799. " +
			"Its ideas are considered fundamental principles of liberal democracy.", MaxWords: 40},
	},
	tasks.Translation: {
		tasks.TranslationPrompt{Text: "Good morning, class. Please open your books to page twelve.", SourceLanguage: "en", TargetLanguage: "es"},
		tasks.TranslationPrompt{Text: "The experiment must be repeated three times.", TargetLanguage: "fr"},
	},
	tasks.CodeGeneration: {
		tasks.CodePrompt{Description: "a function that returns the n-th Fibonacci number iteratively", Language: "python"},
		tasks.CodePrompt{Description: "a function that checks whether a string is a palindrome", Language: "go"},
	},
	tasks.CreativeWriting: {
		tasks.CreativePrompt{Prompt: "a lighthouse keeper who finds a message in a bottle", Genre: "short story", Length: "short"},
	},
}

// Prompts returns the benchmark prompts for task.
func Prompts(task tasks.TaskType) []tasks.Prompt {
	set := promptSets[task]
	out := make([]tasks.Prompt, len(set))
	copy(out, set)
	return out
}

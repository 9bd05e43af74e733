package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// VisionProvider is an LLMProvider that can also read one image alongside the prompt.
type VisionProvider interface {
	GenerateWithImage(ctx context.Context, systemPrompt, userPrompt string, image []byte, mimeType string) (string, error)
}

type EvalKind int

const (
	EvalFailure EvalKind = iota
	EvalSuccess
)

// EvalResult is the provider-neutral outcome of one evaluation. The zero value is a
// failure, which is also how an evaluation path that never ran is represented.
type EvalResult struct {
	Kind       EvalKind
	Answer     string
	Confidence float64
	Reason     string
}

func Success(answer string, confidence float64) EvalResult {
	return EvalResult{Kind: EvalSuccess, Answer: answer, Confidence: confidence}
}

func Failure(reason string) EvalResult {
	return EvalResult{Kind: EvalFailure, Reason: reason}
}

func (r EvalResult) OK() bool { return r.Kind == EvalSuccess }

// Evaluator answers a question over a text context or a page image.
type Evaluator interface {
	EvaluateText(ctx context.Context, contextText, question, expectedType string) EvalResult
	EvaluateImage(ctx context.Context, image []byte, mimeType, question, expectedType string) EvalResult
}

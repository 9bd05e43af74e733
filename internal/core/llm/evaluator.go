package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/core/schema"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

const (
	// maxContextChars bounds the document text sent with one question.
	maxContextChars = 400_000
	// rawAnswerConfidence is assigned when the model ignored the JSON format.
	rawAnswerConfidence = 0.5
	firstPassWeight     = 0.6
)

const answerSchemaSrc = `{
	"type": "object",
	"required": ["answer"],
	"properties": {
		"answer": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

const scoreSchemaSrc = `{
	"type": "object",
	"required": ["confidence"],
	"properties": {"confidence": {"type": "number", "minimum": 0, "maximum": 1}}
}`

var (
	answerSchema = schema.MustCompile("answer.json", answerSchemaSrc)
	scoreSchema  = schema.MustCompile("score.json", scoreSchemaSrc)
)

var answerSystemPrompt = `You are an insurance underwriting analyst. Answer only from the document you are given.
Reply with a single JSON object: {"answer": string, "confidence": number between 0 and 1}.
When the question asks for several fields, give the values in the requested order separated by semicolons.
Use ` + models.NotFound + ` for any value the document does not contain. Do not add explanations.`

const scoreSystemPrompt = `You check answers extracted from insurance documents.
Reply with a single JSON object: {"confidence": number between 0 and 1} rating how well the document supports the proposed answer.`

// ModelEvaluator answers questions with an LLM over text and a vision model over page
// images, normalizing every provider outcome into a core.EvalResult.
type ModelEvaluator struct {
	text     core.LLMProvider
	vision   core.VisionProvider
	validate bool
	logger   *slog.Logger
}

// NewEvaluator builds the evaluator. vision may be nil, in which case image evaluation
// always fails. validate enables the second scoring pass.
func NewEvaluator(text core.LLMProvider, vision core.VisionProvider, validate bool, log *slog.Logger) *ModelEvaluator {
	return &ModelEvaluator{
		text:     text,
		vision:   vision,
		validate: validate,
		logger:   logger.OrDefault(log).With("component", "evaluator"),
	}
}

func questionPrompt(question, expectedType string) string {
	var b strings.Builder
	if expectedType != "" {
		fmt.Fprintf(&b, "Expected answer type: %s\n\n", expectedType)
	}
	fmt.Fprintf(&b, "Question:\n%s\n", question)
	return b.String()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (e *ModelEvaluator) EvaluateText(ctx context.Context, contextText, question, expectedType string) core.EvalResult {
	if strings.TrimSpace(contextText) == "" {
		return core.Failure("empty document context")
	}
	if len(contextText) > maxContextChars {
		e.logger.Warn("document context truncated", "chars", len(contextText), "limit", maxContextChars)
		contextText = truncateUTF8(contextText, maxContextChars)
	}

	prompt := questionPrompt(question, expectedType) + "\nDocument:\n" + contextText
	raw, err := e.text.Generate(ctx, answerSystemPrompt, prompt)
	if err != nil {
		e.logger.Warn("text evaluation failed", "error", err)
		return core.Failure(err.Error())
	}
	res := e.parseAnswer(raw)
	if res.OK() && e.validate {
		res = e.rescore(ctx, contextText, question, res)
	}
	return res
}

func (e *ModelEvaluator) EvaluateImage(ctx context.Context, image []byte, mimeType, question, expectedType string) core.EvalResult {
	if e.vision == nil {
		return core.Failure("no vision provider configured")
	}
	if len(image) == 0 {
		return core.Failure("empty image")
	}
	prompt := questionPrompt(question, expectedType) + "\nThe document page is attached as an image."
	raw, err := e.vision.GenerateWithImage(ctx, answerSystemPrompt, prompt, image, mimeType)
	if err != nil {
		e.logger.Warn("image evaluation failed", "error", err)
		return core.Failure(err.Error())
	}
	return e.parseAnswer(raw)
}

type modelAnswer struct {
	Answer     string   `json:"answer"`
	Confidence *float64 `json:"confidence"`
}

// parseAnswer reads the model's JSON reply. A reply without any JSON object is taken as
// a bare answer; a JSON reply that breaks the schema is a failure.
func (e *ModelEvaluator) parseAnswer(raw string) core.EvalResult {
	obj, ok := schema.ExtractObject(raw)
	if !ok {
		answer := strings.TrimSpace(raw)
		if answer == "" {
			return core.Failure("empty model reply")
		}
		e.logger.Debug("model reply was not JSON, using it verbatim")
		return core.Success(answer, rawAnswerConfidence)
	}
	if err := schema.Validate(answerSchema, []byte(obj)); err != nil {
		return core.Failure(err.Error())
	}
	var a modelAnswer
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return core.Failure(err.Error())
	}
	conf := rawAnswerConfidence
	if a.Confidence != nil {
		conf = *a.Confidence
	}
	return core.Success(strings.TrimSpace(a.Answer), conf)
}

// rescore asks the model to grade its own answer and blends both confidences. A failed
// scoring call keeps the first confidence.
func (e *ModelEvaluator) rescore(ctx context.Context, contextText, question string, first core.EvalResult) core.EvalResult {
	prompt := fmt.Sprintf("Question:\n%s\n\nProposed answer:\n%s\n\nDocument:\n%s", question, first.Answer, contextText)
	raw, err := e.text.Generate(ctx, scoreSystemPrompt, prompt)
	if err != nil {
		e.logger.Warn("validation pass failed", "error", err)
		return first
	}
	obj, ok := schema.ExtractObject(raw)
	if !ok || schema.Validate(scoreSchema, []byte(obj)) != nil {
		e.logger.Warn("validation pass returned no usable score")
		return first
	}
	var s struct {
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(obj), &s); err != nil {
		return first
	}
	first.Confidence = firstPassWeight*first.Confidence + (1-firstPassWeight)*s.Confidence
	return first
}

var _ core.Evaluator = (*ModelEvaluator)(nil)

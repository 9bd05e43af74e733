package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"

	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
)

type GeminiLLM struct {
	client      *genai.Client
	modelName   string
	visionModel string
	guard       *callGuard
}

// NewGeminiLLM builds a text and vision client. visionModel falls back to modelName.
func NewGeminiLLM(ctx context.Context, apiKey, modelName, visionModel string, rpm int, log *slog.Logger) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	if visionModel == "" {
		visionModel = modelName
	}
	return &GeminiLLM{
		client:      cl,
		modelName:   modelName,
		visionModel: visionModel,
		guard:       newCallGuard("gemini-generate", rpm, logger.OrDefault(log)),
	}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) model(name, systemPrompt string) *genai.GenerativeModel {
	m := g.client.GenerativeModel(name)
	m.SetTemperature(0)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	return m
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", g.modelName),
		attribute.Int("llm.prompt_chars", len(userPrompt)),
	}
	res, err := g.guard.do(ctx, "gemini.generate", attrs, func(ctx context.Context) (any, error) {
		return g.model(g.modelName, systemPrompt).GenerateContent(ctx, genai.Text(userPrompt))
	})
	if err != nil {
		return "", err
	}
	return responseText(res.(*genai.GenerateContentResponse)), nil
}

func (g *GeminiLLM) GenerateWithImage(ctx context.Context, systemPrompt, userPrompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", g.visionModel),
		attribute.Int("llm.image_bytes", len(image)),
		attribute.String("llm.image_type", mimeType),
	}
	res, err := g.guard.do(ctx, "gemini.generate_with_image", attrs, func(ctx context.Context) (any, error) {
		return g.model(g.visionModel, systemPrompt).GenerateContent(ctx,
			genai.Blob{MIMEType: mimeType, Data: image},
			genai.Text(userPrompt))
	})
	if err != nil {
		return "", err
	}
	return responseText(res.(*genai.GenerateContentResponse)), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var (
	_ core.LLMProvider    = (*GeminiLLM)(nil)
	_ core.VisionProvider = (*GeminiLLM)(nil)
)

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgelab/spawn-orchestrator/internal/llm"
	"github.com/forgelab/spawn-orchestrator/internal/models"
)

const specExtractionSystemPrompt = `You are a project specification extractor.
Given a user's request for a software project, respond with a single JSON object and nothing else:

{
  "name": "short-slug",
  "description": "one sentence describing the project",
  "platform": "ios|android|web|desktop|cli|api",
  "features": ["between 1 and 20 short feature descriptions"],
  "summary": "a short user-facing summary of what will be built"
}

Do not wrap the object in markdown, do not add commentary.`

// SpecExtractor turns a free-text prompt into a validated Spec with a
// one-shot model call
type SpecExtractor struct {
	client   llm.Client
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewSpecExtractor creates a spec extractor over a model client
func NewSpecExtractor(client llm.Client) *SpecExtractor {
	return &SpecExtractor{
		client:   client,
		validate: validator.New(),
		tracer:   otel.Tracer("spec-extractor"),
	}
}

// Extract runs spec extraction for a prompt. Any structural or type
// mismatch in the model output is a validation failure, never silently
// defaulted.
func (e *SpecExtractor) Extract(ctx context.Context, prompt string) (*models.Spec, error) {
	ctx, span := e.tracer.Start(ctx, "spec_extractor.extract")
	defer span.End()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: specExtractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("spec extraction call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("spec extraction returned no choices")
	}

	raw := StripCodeFences(resp.Choices[0].Message.Content)

	var spec models.Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("spec extraction returned invalid JSON: %w", err)
	}

	if err := e.validate.Struct(&spec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("spec validation failed: %w", err)
	}

	span.SetAttributes(
		attribute.String("spec.name", spec.Name),
		attribute.String("spec.platform", string(spec.Platform)),
		attribute.Int("spec.features", len(spec.Features)),
	)

	return &spec, nil
}

// StripCodeFences removes a surrounding markdown code fence from a
// model response, with or without a language tag
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		first := strings.TrimSpace(trimmed[:idx])
		if first == "" || !strings.ContainsAny(first, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

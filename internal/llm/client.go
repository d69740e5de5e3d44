package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Client is the minimal chat-completion capability the orchestrator
// consumes. *openai.Client satisfies it directly.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient wraps the OpenAI chat completion API behind a circuit
// breaker so a flapping provider fails fast instead of stacking up
// blocked build loops
type OpenAIClient struct {
	inner   *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// NewOpenAIClient creates a model client from environment configuration
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = openai.GPT4oMini
		log.Printf("WARN: OPENAI_MODEL not set, defaulting to %s", model)
	}

	settings := gobreaker.Settings{
		Name:        "model-client",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIClient{
		inner:   openai.NewClientWithConfig(cfg),
		model:   model,
		breaker: gobreaker.NewCircuitBreaker(settings),
		tracer:  otel.Tracer("model-client"),
	}, nil
}

// Model returns the configured model identifier
func (c *OpenAIClient) Model() string {
	return c.model
}

// CreateChatCompletion executes one blocking chat completion call
func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, span := c.tracer.Start(ctx, "model_client.create_chat_completion")
	defer span.End()

	if req.Model == "" {
		req.Model = c.model
	}

	span.SetAttributes(
		attribute.String("model", req.Model),
		attribute.Int("messages", len(req.Messages)),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.CreateChatCompletion(ctx, req)
	})

	if err != nil {
		span.RecordError(err)
		return openai.ChatCompletionResponse{}, fmt.Errorf("model call failed: %w", err)
	}

	resp := result.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionResponse{}, fmt.Errorf("model returned no choices")
	}

	span.SetAttributes(
		attribute.String("finish_reason", string(resp.Choices[0].FinishReason)),
		attribute.Int("tool_calls", len(resp.Choices[0].Message.ToolCalls)),
	)

	return resp, nil
}

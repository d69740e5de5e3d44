package engine

import (
	"context"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/spawn-orchestrator/internal/models"
)

// scriptedClient replays a fixed sequence of responses, one per call
type scriptedClient struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	calls     int
}

func (s *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.responses[i], err
}

func assistantText(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			},
		},
	}
}

const validSpecJSON = `{
	"name": "dotfiles-manager",
	"description": "A CLI tool for managing dotfiles across machines",
	"platform": "cli",
	"features": ["init repository", "link dotfiles", "sync to remote"],
	"summary": "A command line dotfiles manager with linking and sync."
}`

func TestSpecExtractor_Extract(t *testing.T) {
	t.Run("valid_json", func(t *testing.T) {
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{assistantText(validSpecJSON)}}
		extractor := NewSpecExtractor(client)

		spec, err := extractor.Extract(context.Background(), "a CLI tool for managing dotfiles")
		require.NoError(t, err)

		assert.Equal(t, "dotfiles-manager", spec.Name)
		assert.Equal(t, models.PlatformCLI, spec.Platform)
		assert.Len(t, spec.Features, 3)
		assert.NotEmpty(t, spec.Summary)
	})

	t.Run("fenced_json_is_stripped", func(t *testing.T) {
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{assistantText("```json\n" + validSpecJSON + "\n```")}}
		extractor := NewSpecExtractor(client)

		spec, err := extractor.Extract(context.Background(), "a CLI tool")
		require.NoError(t, err)
		assert.Equal(t, "dotfiles-manager", spec.Name)
	})

	t.Run("invalid_json_fails", func(t *testing.T) {
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{assistantText("sure, here's a plan for your project")}}
		extractor := NewSpecExtractor(client)

		_, err := extractor.Extract(context.Background(), "a CLI tool")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})

	t.Run("unknown_platform_fails_validation", func(t *testing.T) {
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{assistantText(`{
			"name": "x", "description": "y", "platform": "mainframe",
			"features": ["a"], "summary": "z"
		}`)}}
		extractor := NewSpecExtractor(client)

		_, err := extractor.Extract(context.Background(), "a tool")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("empty_features_fails_validation", func(t *testing.T) {
		client := &scriptedClient{responses: []openai.ChatCompletionResponse{assistantText(`{
			"name": "x", "description": "y", "platform": "web",
			"features": [], "summary": "z"
		}`)}}
		extractor := NewSpecExtractor(client)

		_, err := extractor.Extract(context.Background(), "a tool")
		assert.Error(t, err)
	})
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "no_fence", in: `{"a": 1}`, expected: `{"a": 1}`},
		{name: "json_tag", in: "```json\n{\"a\": 1}\n```", expected: `{"a": 1}`},
		{name: "bare_fence", in: "```\n{\"a\": 1}\n```", expected: `{"a": 1}`},
		{name: "inline_fence", in: "```{\"a\": 1}```", expected: `{"a": 1}`},
		{name: "surrounding_whitespace", in: "  \n```json\n{\"a\": 1}\n```\n ", expected: `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripCodeFences(tt.in))
		})
	}
}

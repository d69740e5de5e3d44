package llm

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestStreamingAdapter_TextAndToolCall(t *testing.T) {
	mock := &mockClient{
		response: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Content: "Writing the entry point now.",
						ToolCalls: []openai.ToolCall{
							{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "write_file", Arguments: `{"path":"main.go","content":"package main"}`}},
						},
					},
					FinishReason: openai.FinishReasonToolCalls,
				},
			},
			Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}

	adapter := NewStreamingAdapter(mock)
	ch, err := adapter.Stream(context.Background(), openai.ChatCompletionRequest{})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Len(t, events, 4)

	assert.Equal(t, StreamEventStart, events[0].Type)

	assert.Equal(t, StreamEventTextDelta, events[1].Type)
	assert.Equal(t, "Writing the entry point now.", events[1].Text)

	assert.Equal(t, StreamEventToolCall, events[2].Type)
	assert.Equal(t, "call_1", events[2].ToolCallID)
	assert.Equal(t, "write_file", events[2].ToolName)
	assert.JSONEq(t, `{"path":"main.go","content":"package main"}`, events[2].Args)

	assert.Equal(t, StreamEventFinish, events[3].Type)
	assert.Equal(t, openai.FinishReasonToolCalls, events[3].FinishReason)
	assert.Equal(t, 15, events[3].Usage.TotalTokens)
}

func TestStreamingAdapter_NormalizesEmbeddedToolCall(t *testing.T) {
	// The simulated streaming path must apply the same normalization as
	// the single-shot path: an embedded pseudo-tool-call becomes a
	// tool-call event and the finish reason is corrected.
	mock := &mockClient{
		response: textResponse(`{"name": "exec", "arguments": {"command": "go vet ./..."}}`, openai.FinishReasonStop),
	}

	adapter := NewStreamingAdapter(mock)
	ch, err := adapter.Stream(context.Background(), openai.ChatCompletionRequest{})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Len(t, events, 3) // start, tool-call, finish: consumed text leaves no delta

	assert.Equal(t, StreamEventStart, events[0].Type)
	assert.Equal(t, StreamEventToolCall, events[1].Type)
	assert.Equal(t, "exec", events[1].ToolName)
	assert.Equal(t, StreamEventFinish, events[2].Type)
	assert.Equal(t, openai.FinishReasonToolCalls, events[2].FinishReason)
}

func TestStreamingAdapter_PlainTextFinish(t *testing.T) {
	mock := &mockClient{
		response: textResponse("All done.", openai.FinishReasonStop),
	}

	adapter := NewStreamingAdapter(mock)
	ch, err := adapter.Stream(context.Background(), openai.ChatCompletionRequest{})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, StreamEventStart, events[0].Type)
	assert.Equal(t, StreamEventTextDelta, events[1].Type)
	assert.Equal(t, "All done.", events[1].Text)
	assert.Equal(t, StreamEventFinish, events[2].Type)
	assert.Equal(t, openai.FinishReasonStop, events[2].FinishReason)
}

func TestStreamingAdapter_PropagatesError(t *testing.T) {
	mock := &mockClient{err: errors.New("provider unavailable")}

	adapter := NewStreamingAdapter(mock)
	ch, err := adapter.Stream(context.Background(), openai.ChatCompletionRequest{})

	assert.Error(t, err)
	assert.Nil(t, ch)
}

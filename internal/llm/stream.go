package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Reliable token-level streaming combined with tool calls is not
// guaranteed by the provider, so the adapter executes one blocking call
// and replays its parts through the shape a true incremental stream
// would have. Downstream code gets exactly one consumption path either
// way.

// StreamEventType identifies a replayed stream event
type StreamEventType string

const (
	StreamEventStart     StreamEventType = "start"
	StreamEventTextDelta StreamEventType = "text-delta"
	StreamEventToolCall  StreamEventType = "tool-call"
	StreamEventFinish    StreamEventType = "finish"
)

// StreamEvent is one discrete event in the replayed sequence
type StreamEvent struct {
	Type         StreamEventType
	Text         string
	ToolCallID   string
	ToolName     string
	Args         string
	FinishReason openai.FinishReason
	Usage        openai.Usage
}

// StreamingAdapter replays a blocking chat completion as an
// incremental-event sequence
type StreamingAdapter struct {
	client Client
}

// NewStreamingAdapter creates a streaming adapter over a model client
func NewStreamingAdapter(client Client) *StreamingAdapter {
	return &StreamingAdapter{client: client}
}

// Stream executes one blocking model call and re-emits its content as a
// start event, text-delta events, one event per tool call, and a
// terminal finish event carrying the corrected completion signal. The
// returned channel is closed after the finish event.
func (a *StreamingAdapter) Stream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamEvent, error) {
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	// The adapter must normalize identically to the single-shot path;
	// NormalizeResponse is idempotent so a pre-normalized response is
	// passed through untouched.
	NormalizeResponse(&resp)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	choice := resp.Choices[0]
	events := make([]StreamEvent, 0, len(choice.Message.ToolCalls)+3)

	events = append(events, StreamEvent{Type: StreamEventStart})

	if choice.Message.Content != "" {
		events = append(events, StreamEvent{
			Type: StreamEventTextDelta,
			Text: choice.Message.Content,
		})
	}

	for _, call := range choice.Message.ToolCalls {
		events = append(events, StreamEvent{
			Type:       StreamEventToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Args:       call.Function.Arguments,
		})
	}

	events = append(events, StreamEvent{
		Type:         StreamEventFinish,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	})

	out := make(chan StreamEvent, len(events))
	for _, ev := range events {
		out <- ev
	}
	close(out)

	return out, nil
}

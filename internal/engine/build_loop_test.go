package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelab/spawn-orchestrator/internal/models"
	"github.com/forgelab/spawn-orchestrator/internal/sandbox"
)

func testSpec() *models.Spec {
	return &models.Spec{
		Name:        "hello-cli",
		Description: "A greeting CLI",
		Platform:    models.PlatformCLI,
		Features:    []string{"greet by name"},
		Summary:     "Greets people.",
	}
}

func toolCallResponse(name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleAssistant,
					ToolCalls: []openai.ToolCall{
						{ID: fmt.Sprintf("call_%s", name), Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: name, Arguments: args}},
					},
				},
				FinishReason: openai.FinishReasonToolCalls,
			},
		},
	}
}

func newTestSandbox(t *testing.T) *sandbox.Workspace {
	t.Helper()
	ws, err := sandbox.NewWorkspace()
	require.NoError(t, err)
	t.Cleanup(func() { ws.Destroy() })
	return ws
}

func TestBuildLoop_WritesFilesThenDone(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolWriteFile, `{"path": "main.go", "content": "package main"}`),
		toolCallResponse(ToolWriteFile, `{"path": "README.md", "content": "# hello-cli"}`),
		toolCallResponse(ToolDone, `{"summary": "wrote the project"}`),
	}}

	loop := NewBuildLoop(client)
	ws := newTestSandbox(t)

	var written []string
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, ws, func(path, content string) {
		written = append(written, path)
	})
	require.NoError(t, err)

	assert.True(t, result.DoneCalled)
	assert.Equal(t, "wrote the project", result.Summary)
	assert.Equal(t, 3, result.Steps)
	assert.Len(t, result.Files, 2)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, []string{"main.go", "README.md"}, written)

	// The files must actually exist in the sandbox, not just the map.
	content, err := ws.ReadFile("main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main", content)
}

func TestBuildLoop_RewriteSamePathReplaces(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolWriteFile, `{"path": "main.go", "content": "draft"}`),
		toolCallResponse(ToolWriteFile, `{"path": "main.go", "content": "final"}`),
		toolCallResponse(ToolDone, `{"summary": "done"}`),
	}}

	loop := NewBuildLoop(client)
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, newTestSandbox(t), nil)
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "final", result.Files["main.go"])
}

func TestBuildLoop_EmbeddedToolCallIsNormalized(t *testing.T) {
	// A textual pseudo-tool-call must drive the loop the same way a
	// structured one does.
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		assistantText(`<tool_call>{"name": "write_file", "arguments": {"path": "index.js", "content": "console.log(1)"}}</tool_call>`),
		assistantText(`{"name": "done", "arguments": {"summary": "ok"}}`),
	}}

	loop := NewBuildLoop(client)
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, newTestSandbox(t), nil)
	require.NoError(t, err)

	assert.True(t, result.DoneCalled)
	assert.Equal(t, "console.log(1)", result.Files["index.js"])
}

func TestBuildLoop_ReadFileFeedsContentBack(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolWriteFile, `{"path": "a.txt", "content": "alpha"}`),
		toolCallResponse(ToolReadFile, `{"path": "a.txt"}`),
		toolCallResponse(ToolDone, `{"summary": "done"}`),
	}}

	loop := NewBuildLoop(client)
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, newTestSandbox(t), nil)
	require.NoError(t, err)

	assert.True(t, result.DoneCalled)
	assert.Equal(t, 3, result.Steps)
}

func TestBuildLoop_ExecResultIsStructured(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolWriteFile, `{"path": "a.txt", "content": "alpha"}`),
		toolCallResponse(ToolExec, `{"command": "cat a.txt"}`),
		toolCallResponse(ToolDone, `{"summary": "done"}`),
	}}

	loop := NewBuildLoop(client)
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, newTestSandbox(t), nil)
	require.NoError(t, err)

	assert.True(t, result.DoneCalled)
	require.GreaterOrEqual(t, len(result.BuildLog), 2)
	assert.Contains(t, result.BuildLog[1], "exec")
	assert.Contains(t, result.BuildLog[1], "alpha")
}

func TestBuildLoop_StepCapWithoutDone(t *testing.T) {
	// A model that never calls a tool burns the whole budget; hitting
	// the cap is not an error, completion is judged by file count.
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		assistantText("I am thinking about the project structure."),
	}}

	loop := NewBuildLoop(client)
	loop.maxSteps = 3

	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, newTestSandbox(t), nil)
	require.NoError(t, err)

	assert.False(t, result.DoneCalled)
	assert.Equal(t, 3, result.Steps)
	assert.Empty(t, result.Files)
}

func TestBuildLoop_SeededFeedbackCycle(t *testing.T) {
	seed := map[string]string{
		"main.go":   "package main",
		"README.md": "# hello-cli",
	}
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolWriteFile, `{"path": "main.go", "content": "package main // dark mode"}`),
		toolCallResponse(ToolDone, `{"summary": "added dark mode"}`),
	}}

	loop := NewBuildLoop(client)
	ws := newTestSandbox(t)

	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec(), Feedback: "add a dark mode toggle", SeedFiles: seed}, ws, nil)
	require.NoError(t, err)

	// Pre-existing unrelated files survive; the touched one is rewritten.
	assert.Equal(t, "# hello-cli", result.Files["README.md"])
	assert.Equal(t, "package main // dark mode", result.Files["main.go"])
	assert.Equal(t, 1, result.Written)

	seeded, err := ws.ReadFile("README.md")
	require.NoError(t, err)
	assert.Equal(t, "# hello-cli", seeded)
}

func TestBuildLoop_SeedsDoNotCountAsWrites(t *testing.T) {
	seed := map[string]string{"main.go": "package main"}
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolDone, `{"summary": "nothing to change"}`),
	}}

	loop := NewBuildLoop(client)
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec(), Feedback: "tweak something", SeedFiles: seed}, newTestSandbox(t), nil)
	require.NoError(t, err)

	// The seeded file set is still returned, but a cycle with no
	// write_file call must be distinguishable from real output.
	assert.True(t, result.DoneCalled)
	assert.Equal(t, "package main", result.Files["main.go"])
	assert.Zero(t, result.Written)
}

func TestBuildLoop_InstallStepRunsForManifest(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(ToolWriteFile, `{"path": "requirements.txt", "content": ""}`),
		toolCallResponse(ToolDone, `{"summary": "done"}`),
	}}

	loop := NewBuildLoop(client)
	result, err := loop.Run(context.Background(), BuildInput{Spec: testSpec()}, newTestSandbox(t), nil)
	require.NoError(t, err)

	// The install step records an entry even when the tool is
	// unavailable in the test environment.
	found := false
	for _, entry := range result.BuildLog {
		if len(entry) >= 7 && entry[:7] == "install" {
			found = true
		}
	}
	assert.True(t, found, "expected an install entry in the build log")
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))

	// A cut landing mid-rune must back up to the previous boundary so
	// the result stays valid UTF-8.
	s := strings.Repeat("é", 10)
	for max := 1; max < len(s); max++ {
		got := truncate(s, max)
		assert.True(t, utf8.ValidString(got), "max %d produced invalid UTF-8: %q", max, got)
		assert.True(t, strings.HasSuffix(got, "...(truncated)"))
	}
}

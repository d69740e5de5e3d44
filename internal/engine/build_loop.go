package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/forgelab/spawn-orchestrator/internal/llm"
	"github.com/forgelab/spawn-orchestrator/internal/models"
	"github.com/forgelab/spawn-orchestrator/internal/sandbox"
)

// DefaultMaxSteps caps the number of model turns in one build loop.
// Hitting the cap without a done call is not itself an error; completion
// is judged solely by whether any files were written.
const DefaultMaxSteps = 40

const buildSystemPrompt = `You are an expert software engineer generating a complete, runnable project inside an empty workspace.

Rules:
- First write the project manifest/config file (package.json, go.mod, requirements.txt, ...), then every source file.
- Use the exec tool to verify your work compiles or runs.
- Respond with exactly one tool call per turn and no other prose.
- When every file is written and verified, call the done tool with a short summary.`

const feedbackSystemPrompt = `You are an expert software engineer updating an existing project workspace.

The workspace already contains the project's files. Modify it in place: change only what the feedback requires, do not rewrite the project from scratch, and do not delete unrelated files.

Rules:
- Use read_file to inspect existing files before changing them.
- Respond with exactly one tool call per turn and no other prose.
- When the requested changes are complete, call the done tool with a short summary.`

// BuildInput describes one build loop invocation. Feedback and
// SeedFiles are set only for a continuation cycle on an existing spawn.
type BuildInput struct {
	Spec      *models.Spec
	Feedback  string
	SeedFiles map[string]string
}

// BuildResult is the outcome of a completed (not aborted) build loop.
// Files is the full workspace view including seeds; Written counts only
// the write_file calls made during this loop, so a continuation cycle
// that produced nothing is distinguishable from its seeded state.
type BuildResult struct {
	Files      map[string]string
	Written    int
	Summary    string
	BuildLog   []string
	Steps      int
	DoneCalled bool
}

// BuildLoop is the bounded agentic controller: it feeds the spec to the
// model, dispatches returned tool calls against the sandbox, and
// terminates on a done call or the step budget.
type BuildLoop struct {
	adapter     *llm.StreamingAdapter
	maxSteps    int
	execTimeout time.Duration
	tracer      trace.Tracer
}

// NewBuildLoop creates a build loop over a (normalized) model client
func NewBuildLoop(client llm.Client) *BuildLoop {
	return &BuildLoop{
		adapter:     llm.NewStreamingAdapter(client),
		maxSteps:    DefaultMaxSteps,
		execTimeout: sandbox.DefaultExecTimeout,
		tracer:      otel.Tracer("build-loop"),
	}
}

// Run drives the tool-calling interaction to completion. onFileWrite is
// invoked for every write_file dispatch so live observers see progress
// before the loop ends; it may be nil.
func (l *BuildLoop) Run(ctx context.Context, in BuildInput, ws *sandbox.Workspace, onFileWrite func(path, content string)) (*BuildResult, error) {
	ctx, span := l.tracer.Start(ctx, "build_loop.run")
	defer span.End()

	span.SetAttributes(
		attribute.String("spec.name", in.Spec.Name),
		attribute.Bool("feedback_cycle", in.Feedback != ""),
		attribute.Int("seed_files", len(in.SeedFiles)),
	)

	result := &BuildResult{Files: make(map[string]string)}

	// A continuation cycle starts from the previously known file set.
	for path, content := range in.SeedFiles {
		if err := ws.WriteFile(path, content); err != nil {
			return nil, fmt.Errorf("failed to seed workspace: %w", err)
		}
		result.Files[path] = content
	}

	messages := l.initialMessages(in)
	tools := buildTools()

	for result.Steps < l.maxSteps {
		result.Steps++

		call, text, err := l.nextToolCall(ctx, messages, tools)
		if err != nil {
			return nil, err
		}

		if call == nil {
			// The loop forces one tool invocation per turn; open-ended
			// prose gets a corrective turn and burns a step.
			log.Printf("Build step %d returned no tool call, nudging model", result.Steps)
			messages = append(messages,
				openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
				openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Respond with exactly one tool call."},
			)
			continue
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   text,
			ToolCalls: []openai.ToolCall{*call},
		})

		output, done, err := l.dispatch(ctx, *call, ws, result, onFileWrite)
		if err != nil {
			return nil, err
		}

		result.BuildLog = append(result.BuildLog, fmt.Sprintf("step %d: %s -> %s", result.Steps, call.Function.Name, truncate(output, 200)))

		if done {
			result.DoneCalled = true
			break
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: call.ID,
			Content:    output,
		})
	}

	l.runInstallStep(ctx, ws, result)

	span.SetAttributes(
		attribute.Int("steps", result.Steps),
		attribute.Int("files", len(result.Files)),
		attribute.Int("written", result.Written),
		attribute.Bool("done_called", result.DoneCalled),
	)

	return result, nil
}

// initialMessages builds the first-turn conversation for a fresh build
// or a feedback continuation
func (l *BuildLoop) initialMessages(in BuildInput) []openai.ChatCompletionMessage {
	specJSON, _ := json.MarshalIndent(in.Spec, "", "  ")

	if in.Feedback != "" {
		return []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: feedbackSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Project spec:\n%s\n\nApply this feedback to the existing workspace:\n%s", specJSON, in.Feedback)},
		}
	}

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Build this project:\n%s", specJSON)},
	}
}

// nextToolCall consumes one simulated-stream turn and returns the first
// tool call, if any, plus the assistant text
func (l *BuildLoop) nextToolCall(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (*openai.ToolCall, string, error) {
	events, err := l.adapter.Stream(ctx, openai.ChatCompletionRequest{
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, "", fmt.Errorf("build step model call failed: %w", err)
	}

	var call *openai.ToolCall
	var text string
	for ev := range events {
		switch ev.Type {
		case llm.StreamEventTextDelta:
			text += ev.Text
		case llm.StreamEventToolCall:
			if call == nil {
				call = &openai.ToolCall{
					ID:   ev.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      ev.ToolName,
						Arguments: ev.Args,
					},
				}
			}
		}
	}

	return call, text, nil
}

// dispatch executes one tool call against the sandbox and returns the
// structured result text fed back as the next turn's context
func (l *BuildLoop) dispatch(ctx context.Context, call openai.ToolCall, ws *sandbox.Workspace, result *BuildResult, onFileWrite func(path, content string)) (string, bool, error) {
	switch call.Function.Name {
	case ToolWriteFile:
		var args writeFileArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid write_file arguments: %v", err), false, nil
		}
		if err := ws.WriteFile(args.Path, args.Content); err != nil {
			return "", false, fmt.Errorf("write_file failed: %w", err)
		}
		result.Files[args.Path] = args.Content
		result.Written++
		if onFileWrite != nil {
			onFileWrite(args.Path, args.Content)
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), false, nil

	case ToolReadFile:
		var args readFileArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid read_file arguments: %v", err), false, nil
		}
		content, err := ws.ReadFile(args.Path)
		if err != nil {
			return fmt.Sprintf("read_file failed: %v", err), false, nil
		}
		return content, false, nil

	case ToolExec:
		var args execArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid exec arguments: %v", err), false, nil
		}
		execResult, err := ws.Exec(ctx, args.Command, l.execTimeout)
		if err != nil {
			return "", false, fmt.Errorf("exec failed: %w", err)
		}
		out, _ := json.Marshal(execResult)
		return truncate(string(out), 8000), false, nil

	case ToolDone:
		var args doneArgs
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return fmt.Sprintf("invalid done arguments: %v", err), true, nil
		}
		result.Summary = args.Summary
		return args.Summary, true, nil

	default:
		return fmt.Sprintf("unknown tool: %s", call.Function.Name), false, nil
	}
}

// runInstallStep executes a dependency install as a final verification
// when a recognized project manifest was among the written files.
// Best-effort: failures are logged, never fatal.
func (l *BuildLoop) runInstallStep(ctx context.Context, ws *sandbox.Workspace, result *BuildResult) {
	for manifest, command := range installCommands {
		if _, ok := result.Files[manifest]; !ok {
			continue
		}
		log.Printf("Found %s, running install step: %s", manifest, command)
		execResult, err := ws.Exec(ctx, command, l.execTimeout)
		if err != nil {
			result.BuildLog = append(result.BuildLog, fmt.Sprintf("install (%s): %v", command, err))
			return
		}
		result.BuildLog = append(result.BuildLog, fmt.Sprintf("install (%s): exit %d", command, execResult.ExitCode))
		return
	}
}

// truncate bounds tool output fed back into the model context, backing
// up to a rune boundary so the cut never produces invalid UTF-8
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

// The underlying model does not reliably emit structured tool calls; it
// frequently returns text that embeds a JSON-like object naming a tool
// and its arguments, in several superficially different shapes. All
// repair logic lives here so both the single-shot and the simulated
// streaming path normalize identically.

var (
	toolTagRe  = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	toolNameRe = regexp.MustCompile(`['"]name['"]\s*:\s*['"]([A-Za-z0-9_\-]+)['"]`)
	argsKeyRe  = regexp.MustCompile(`['"](?:arguments|parameters)['"]\s*:`)
)

// NormalizingClient wraps a Client and repairs unreliable model output
// into structured tool invocations
type NormalizingClient struct {
	inner Client
}

// NewNormalizingClient wraps a model client with tool-call normalization
func NewNormalizingClient(inner Client) *NormalizingClient {
	return &NormalizingClient{inner: inner}
}

// CreateChatCompletion executes the wrapped call and normalizes the
// response in place
func (n *NormalizingClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	resp, err := n.inner.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, err
	}
	NormalizeResponse(&resp)
	return resp, nil
}

// NormalizeResponse repairs every choice that lacks structured tool
// calls. When one or more calls are synthesized from embedded text the
// finish reason is overridden to "tool_calls" so the calling loop does
// not stop prematurely. Idempotent: choices that already carry
// structured tool calls are left untouched.
func NormalizeResponse(resp *openai.ChatCompletionResponse) {
	for i := range resp.Choices {
		choice := &resp.Choices[i]
		if len(choice.Message.ToolCalls) > 0 {
			continue
		}

		calls, remainder := ExtractToolCalls(choice.Message.Content)
		if len(calls) == 0 {
			continue
		}

		choice.Message.ToolCalls = calls
		choice.Message.Content = remainder
		if choice.FinishReason == openai.FinishReasonStop || choice.FinishReason == "" {
			choice.FinishReason = openai.FinishReasonToolCalls
		}
	}
}

// candidate is one JSON-like block that may describe a tool call
type candidate struct {
	body  string
	start int
	end   int
}

// ExtractToolCalls scans text for embedded pseudo-tool-call blocks and
// synthesizes structured tool call records for every block that parses.
// Unparseable candidates are dropped and logged; successfully consumed
// text is removed from the returned remainder.
func ExtractToolCalls(text string) ([]openai.ToolCall, string) {
	if text == "" {
		return nil, text
	}

	candidates := findCandidates(text)
	if len(candidates) == 0 {
		return nil, text
	}

	var calls []openai.ToolCall
	var consumed []candidate
	for _, cand := range candidates {
		call, ok := parseCandidate(cand.body)
		if !ok {
			log.Printf("Dropping unparseable tool-call candidate: %.120s", cand.body)
			continue
		}
		calls = append(calls, call)
		consumed = append(consumed, cand)
	}

	if len(calls) == 0 {
		return nil, text
	}

	var b strings.Builder
	prev := 0
	for _, cand := range consumed {
		b.WriteString(text[prev:cand.start])
		prev = cand.end
	}
	b.WriteString(text[prev:])

	return calls, strings.TrimSpace(b.String())
}

// findCandidates locates JSON-like blocks: explicit <tool_call> wrapper
// tags when present, else bare objects anchored on a "name" key
func findCandidates(text string) []candidate {
	var out []candidate

	if matches := toolTagRe.FindAllStringSubmatchIndex(text, -1); len(matches) > 0 {
		for _, m := range matches {
			out = append(out, candidate{
				body:  text[m[2]:m[3]],
				start: m[0],
				end:   m[1],
			})
		}
		return out
	}

	for _, m := range toolNameRe.FindAllStringIndex(text, -1) {
		// Walk back to the opening brace of the enclosing object, then
		// take the balanced block from there.
		open := strings.LastIndexByte(text[:m[0]], '{')
		if open < 0 {
			continue
		}
		body, ok := balancedObject(text, open)
		if !ok {
			continue
		}
		end := open + len(body)
		// Overlapping matches inside an already-captured block are the
		// same candidate.
		if len(out) > 0 && open < out[len(out)-1].end {
			continue
		}
		out = append(out, candidate{body: body, start: open, end: end})
	}

	return out
}

// parseCandidate attempts the layered parse strategy on one candidate
// block: direct JSON parse first, then regex name extraction plus a
// brace-depth argument scan, then a single-quote fallback.
func parseCandidate(body string) (openai.ToolCall, bool) {
	if call, ok := parseDirect(body); ok {
		return call, true
	}
	if call, ok := parseDirect(normalizeSingleQuotes(body)); ok {
		return call, true
	}

	nameMatch := toolNameRe.FindStringSubmatch(body)
	if nameMatch == nil {
		return openai.ToolCall{}, false
	}
	name := nameMatch[1]

	args := "{}"
	if loc := argsKeyRe.FindStringIndex(body); loc != nil {
		open := strings.IndexByte(body[loc[1]:], '{')
		if open < 0 {
			return openai.ToolCall{}, false
		}
		block, ok := balancedObject(body, loc[1]+open)
		if !ok {
			return openai.ToolCall{}, false
		}
		if json.Valid([]byte(block)) {
			args = block
		} else if fixed := normalizeSingleQuotes(block); json.Valid([]byte(fixed)) {
			args = fixed
		} else {
			return openai.ToolCall{}, false
		}
	}

	return synthesizeCall(name, args), true
}

// parseDirect attempts a strict JSON parse of a candidate body
func parseDirect(body string) (openai.ToolCall, bool) {
	var parsed struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil || parsed.Name == "" {
		return openai.ToolCall{}, false
	}

	args := "{}"
	if len(parsed.Arguments) > 0 {
		args = string(parsed.Arguments)
	} else if len(parsed.Parameters) > 0 {
		args = string(parsed.Parameters)
	}

	// Arguments occasionally arrive as a JSON-encoded string rather
	// than an object.
	var nested string
	if err := json.Unmarshal([]byte(args), &nested); err == nil && json.Valid([]byte(nested)) {
		args = nested
	}

	return synthesizeCall(parsed.Name, args), true
}

// synthesizeCall builds a structured tool-call record with a synthetic id
func synthesizeCall(name, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:   fmt.Sprintf("synth_%s", uuid.New().String()[:8]),
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

// balancedObject returns the balanced {...} block starting at start.
// The depth counter tracks single- and double-quoted string literals so
// braces inside string values do not corrupt the count.
func balancedObject(s string, start int) (string, bool) {
	if start >= len(s) || s[start] != '{' {
		return "", false
	}

	depth := 0
	inString := false
	var quote byte
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case quote:
				inString = false
			}
			continue
		}

		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// normalizeSingleQuotes converts single-quoted tokens to double-quoted
// JSON, escaping any double quotes found inside them
func normalizeSingleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inDouble := false
	inSingle := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			b.WriteByte(c)
			escaped = true
			continue
		}

		switch {
		case inDouble:
			if c == '"' {
				inDouble = false
			}
			b.WriteByte(c)
		case inSingle:
			switch c {
			case '\'':
				inSingle = false
				b.WriteByte('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		default:
			switch c {
			case '"':
				inDouble = true
				b.WriteByte(c)
			case '\'':
				inSingle = true
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		}
	}

	return b.String()
}

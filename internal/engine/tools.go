package engine

import (
	openai "github.com/sashabaranov/go-openai"
)

// Tool names exposed to the model during a build
const (
	ToolWriteFile = "write_file"
	ToolReadFile  = "read_file"
	ToolExec      = "exec"
	ToolDone      = "done"
)

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type readFileArgs struct {
	Path string `json:"path"`
}

type execArgs struct {
	Command string `json:"command"`
}

type doneArgs struct {
	Summary string `json:"summary"`
}

// buildTools returns the tool schemas offered to the model on every
// build loop turn
func buildTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolWriteFile,
				Description: "Write a file into the project workspace. Re-writing a path replaces its content.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path":    map[string]interface{}{"type": "string", "description": "Workspace-relative file path"},
						"content": map[string]interface{}{"type": "string", "description": "Full file content"},
					},
					"required": []string{"path", "content"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolReadFile,
				Description: "Read a file from the project workspace.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"path": map[string]interface{}{"type": "string", "description": "Workspace-relative file path"},
					},
					"required": []string{"path"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolExec,
				Description: "Run a shell command in the workspace root. Returns stdout, stderr and the exit code.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"command": map[string]interface{}{"type": "string", "description": "Shell command to execute"},
					},
					"required": []string{"command"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        ToolDone,
				Description: "Signal that the project is complete. Call exactly once, after every file has been written and verified.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"summary": map[string]interface{}{"type": "string", "description": "Short summary of what was built"},
					},
					"required": []string{"summary"},
				},
			},
		},
	}
}

// installCommands maps recognized dependency manifests to the install
// command executed as a final verification step after the loop ends
var installCommands = map[string]string{
	"package.json":     "npm install",
	"go.mod":           "go mod download",
	"requirements.txt": "pip install -r requirements.txt",
	"Cargo.toml":       "cargo fetch",
	"Gemfile":          "bundle install",
}

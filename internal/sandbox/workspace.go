package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExecTimeout bounds worst-case latency of a sandboxed command
const DefaultExecTimeout = 120 * time.Second

// ExecResult is the structured outcome of a sandboxed command
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Workspace is an isolated, ephemeral directory plus a command
// executor. It is destroyed unconditionally after the build loop ends.
type Workspace struct {
	root string
}

// NewWorkspace creates an empty sandbox directory
func NewWorkspace() (*Workspace, error) {
	dir, err := os.MkdirTemp("", "spawn-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{root: dir}, nil
}

// Root returns the workspace root directory
func (w *Workspace) Root() string {
	return w.root
}

// WriteFile writes a file under the workspace root, creating parent
// directories as needed
func (w *Workspace) WriteFile(path, content string) error {
	full, err := w.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a file from the workspace
func (w *Workspace) ReadFile(path string) (string, error) {
	full, err := w.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// Exec runs a shell command in the workspace root with a hard timeout.
// A non-zero exit code is a result, not an error; only failures to run
// the command at all (including timeout) return an error.
func (w *Workspace) Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = w.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s: %s", timeout, command)
	}

	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run command: %w", err)
	}

	return result, nil
}

// Destroy removes the workspace directory and everything in it
func (w *Workspace) Destroy() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to destroy workspace: %w", err)
	}
	return nil
}

// resolve maps a model-supplied path onto the workspace root, rejecting
// absolute paths and traversal outside the sandbox
func (w *Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	clean := filepath.Clean(strings.TrimPrefix(path, "/"))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return filepath.Join(w.root, clean), nil
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

const bashToolName = "bash"

// BashTool is the daemon's only built-in tool: it runs a shell command via
// /bin/sh -c and reports stdout, stderr, and exit status. There is no
// sandboxing and no allow-list; spec.md's Non-goals state explicitly that
// the core does not sandbox tool execution.
type BashTool struct {
	logger *zap.Logger
}

// NewBashTool creates the bash tool.
func NewBashTool(logger *zap.Logger) *BashTool {
	return &BashTool{logger: logger}
}

func (b *BashTool) Name() string { return bashToolName }

func (b *BashTool) Description() string {
	return "Executes a shell command via /bin/sh -c and returns its stdout, stderr, and exit code."
}

func (b *BashTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

type bashInput struct {
	Command string `json:"command"`
}

// Execute runs the command and formats its output exactly as
// original_source/src/executor/bash.rs does: an optional "[stdout]"
// section (only if stdout is non-empty), an optional "[stderr]" section
// (only if stderr is non-empty, separated from a preceding non-empty
// section by a blank line), and an unconditional trailing "[exit_code]"
// section.
func (b *BashTool) Execute(ctx context.Context, input json.RawMessage) (*Output, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, &InvalidInputError{Tool: bashToolName, Detail: err.Error()}
	}
	if strings.TrimSpace(in.Command) == "" {
		return nil, &InvalidInputError{Tool: bashToolName, Detail: "command must not be empty"}
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", in.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Info("executing bash tool", zap.String("command", in.Command))
	runErr := cmd.Run()

	exitCode, signaled := extractExitStatus(runErr)
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return nil, &SpawnFailedError{Tool: bashToolName, Detail: runErr.Error()}
		}
	}

	content := formatBashOutput(stdout.String(), stderr.String(), exitCode)
	isError := exitCode != 0 || signaled

	b.logger.Info("bash tool completed",
		zap.Int("exit_code", exitCode),
		zap.Bool("is_error", isError),
	)

	return &Output{Content: content, IsError: isError}, nil
}

// extractExitStatus returns the process exit code (-1 if unavailable,
// e.g. the process was killed by a signal) and whether it was killed by a
// signal.
func extractExitStatus(err error) (code int, signaled bool) {
	if err == nil {
		return 0, false
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			return -1, true
		}
		return status.ExitStatus(), false
	}
	return exitErr.ExitCode(), false
}

func formatBashOutput(stdout, stderr string, exitCode int) string {
	var b strings.Builder
	if stdout != "" {
		b.WriteString("[stdout]\n")
		b.WriteString(stdout)
	}
	if stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(stderr)
	}
	b.WriteString("\n")
	b.WriteString("[exit_code]\n")
	b.WriteString(strconv.Itoa(exitCode))
	return b.String()
}

package executor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func runBash(t *testing.T, command string) *Output {
	t.Helper()
	tool := NewBashTool(zap.NewNop())
	input, err := json.Marshal(bashInput{Command: command})
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	out, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return out
}

func TestBashSuccessFormatsStdoutAndExitCode(t *testing.T) {
	out := runBash(t, "echo hello")
	want := "[stdout]\nhello\n\n[exit_code]\n0"
	if out.Content != want {
		t.Fatalf("content = %q, want %q", out.Content, want)
	}
	if out.IsError {
		t.Fatalf("IsError = true, want false")
	}
}

func TestBashNonZeroExitIsError(t *testing.T) {
	out := runBash(t, "exit 7")
	if !out.IsError {
		t.Fatalf("IsError = false, want true for nonzero exit")
	}
	if !strings.HasSuffix(out.Content, "[exit_code]\n7") {
		t.Fatalf("content = %q, want suffix [exit_code]\\n7", out.Content)
	}
}

func TestBashStderrOnlySection(t *testing.T) {
	out := runBash(t, "echo err 1>&2")
	want := "[stderr]\nerr\n\n[exit_code]\n0"
	if out.Content != want {
		t.Fatalf("content = %q, want %q", out.Content, want)
	}
}

func TestBashBothStdoutAndStderr(t *testing.T) {
	out := runBash(t, "echo out; echo err 1>&2")
	want := "[stdout]\nout\n\n[stderr]\nerr\n\n[exit_code]\n0"
	if out.Content != want {
		t.Fatalf("content = %q, want %q", out.Content, want)
	}
}

func TestBashEmptyOutputStillHasExitCode(t *testing.T) {
	out := runBash(t, "true")
	if out.Content != "\n[exit_code]\n0" {
		t.Fatalf("content = %q, want \\n[exit_code]\\n0", out.Content)
	}
}

func TestBashRejectsEmptyCommand(t *testing.T) {
	tool := NewBashTool(zap.NewNop())
	input, _ := json.Marshal(bashInput{Command: ""})
	if _, err := tool.Execute(context.Background(), input); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestBashRejectsInvalidInput(t *testing.T) {
	tool := NewBashTool(zap.NewNop())
	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Fatalf("expected InvalidInputError for malformed json")
	} else if _, ok := err.(*InvalidInputError); !ok {
		t.Fatalf("err = %T, want *InvalidInputError", err)
	}
}

package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shelly-agent/shelly/internal/brain"
	"github.com/shelly-agent/shelly/internal/executor"
	"github.com/shelly-agent/shelly/internal/memory"
)

// fakeInferencer returns a scripted sequence of responses, one per call,
// and counts how many times Infer was invoked.
type fakeInferencer struct {
	responses []*brain.Response
	calls     int
}

func (f *fakeInferencer) Infer(ctx context.Context, req *brain.Request) (*brain.Response, error) {
	if f.calls >= len(f.responses) {
		f.calls++
		return f.responses[len(f.responses)-1], nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func bashUseBlock(id, command string) brain.ContentBlock {
	input, _ := json.Marshal(map[string]string{"command": command})
	return brain.ContentBlock{Type: brain.BlockToolUse, ID: id, Name: "bash", Input: input}
}

func endTurn(text string) *brain.Response {
	return &brain.Response{
		Content:    []brain.ContentBlock{{Type: brain.BlockText, Text: text}},
		StopReason: brain.StopEndTurn,
	}
}

func toolUse(id, command string) *brain.Response {
	return &brain.Response{
		Content:    []brain.ContentBlock{bashUseBlock(id, command)},
		StopReason: brain.StopToolUse,
	}
}

func newTestLoop(t *testing.T, infer Inferencer) *Loop {
	t.Helper()
	reg := executor.NewInMemoryRegistry()
	if err := reg.Register(executor.NewBashTool(zap.NewNop())); err != nil {
		t.Fatalf("register bash tool: %v", err)
	}
	cfg := DefaultConfig("test-model")
	cfg.InitTimeout = 5 * time.Second
	cfg.HandleTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	return New(infer, reg, memory.New(), cfg, zap.NewNop())
}

// TestToolLoopTerminationAtRoundBound exercises spec.md §8 S3: a stub
// model requests the bash tool on rounds 1..21 and max_tool_rounds=20.
// Expect exactly 20 tool executions and the overflow sentinel text.
func TestToolLoopTerminationAtRoundBound(t *testing.T) {
	var responses []*brain.Response
	for i := 1; i <= 21; i++ {
		responses = append(responses, toolUse("id", "true"))
	}
	responses = append(responses, endTurn("done"))

	infer := &fakeInferencer{responses: responses}
	loop := newTestLoop(t, infer)
	loop.cfg.MaxToolRounds = 20

	text, err := loop.Handle(context.Background(), "run it 21 times")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !IsOverflow(text) {
		t.Fatalf("text = %q, want overflow sentinel", text)
	}
	// Rounds 1..20 each call Infer once before round 21's call triggers
	// overflow without executing a tool, so Infer is called 21 times.
	if infer.calls != 21 {
		t.Fatalf("calls = %d, want 21", infer.calls)
	}
}

// TestToolErrorSurfacedToModel exercises spec.md §8 S4.
func TestToolErrorSurfacedToModel(t *testing.T) {
	infer := &fakeInferencer{responses: []*brain.Response{
		toolUse("id-1", "exit 7"),
		endTurn("ok"),
	}}
	loop := newTestLoop(t, infer)

	text, err := loop.Handle(context.Background(), "run a failing command")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text != "ok" {
		t.Fatalf("text = %q, want %q", text, "ok")
	}
	if infer.calls != 2 {
		t.Fatalf("calls = %d, want 2", infer.calls)
	}
}

// TestToolErrorContentEndsInExitCode verifies the ToolResult content
// built from a failing bash invocation, independent of Handle's return
// value, by driving executeToolCalls directly.
func TestToolErrorContentEndsInExitCode(t *testing.T) {
	loop := newTestLoop(t, &fakeInferencer{})
	blocks := loop.executeToolCalls(context.Background(), []brain.ContentBlock{bashUseBlock("id-1", "exit 7")})
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	if !blocks[0].IsError {
		t.Fatalf("IsError = false, want true")
	}
	if !strings.HasSuffix(blocks[0].Content, "[exit_code]\n7") {
		t.Fatalf("Content = %q, want suffix [exit_code]\\n7", blocks[0].Content)
	}
	if blocks[0].ToolUseID != "id-1" {
		t.Fatalf("ToolUseID = %q, want id-1", blocks[0].ToolUseID)
	}
}

// TestHandleRejectsNothingOnPlainEndTurn covers the straightforward,
// no-tool-use path.
func TestHandleRejectsNothingOnPlainEndTurn(t *testing.T) {
	infer := &fakeInferencer{responses: []*brain.Response{endTurn("pong")}}
	loop := newTestLoop(t, infer)

	text, err := loop.Handle(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if text != "pong" {
		t.Fatalf("text = %q, want pong", text)
	}
	if loop.journal.Len() != 1 {
		t.Fatalf("journal length = %d, want 1", loop.journal.Len())
	}
}

// TestUnknownToolSurfacesAsErrorResult verifies Executor's UnknownTool
// error is turned into an is_error ToolResult rather than aborting the
// loop, per spec.md §7.
func TestUnknownToolSurfacesAsErrorResult(t *testing.T) {
	loop := newTestLoop(t, &fakeInferencer{})
	input, _ := json.Marshal(map[string]string{})
	blocks := loop.executeToolCalls(context.Background(), []brain.ContentBlock{
		{Type: brain.BlockToolUse, ID: "id-2", Name: "does-not-exist", Input: input},
	})
	if len(blocks) != 1 || !blocks[0].IsError {
		t.Fatalf("blocks = %+v, want one is_error result", blocks)
	}
}

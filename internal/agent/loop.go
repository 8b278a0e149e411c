// Package agent implements the turn-taking state machine that
// interleaves inference-backend turns with local tool executions,
// enforcing the hard round bound and the three lifecycle phases
// (Init, Handle, Shutdown) spec.md §4.5 describes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shelly-agent/shelly/internal/brain"
	"github.com/shelly-agent/shelly/internal/executor"
	"github.com/shelly-agent/shelly/internal/memory"
)

// overflowSentinel is returned by Handle when the round bound is
// exceeded, matching spec.md §4.5/§8 S3's lenient-variant text exactly.
const overflowSentinel = "Maximum tool call rounds reached. Operation aborted."

// systemPreamble is the static portion of every system prompt, with the
// journal's rendered Context() appended after it.
const systemPreamble = "You are Shelly, an autonomous agent daemon. You answer requests by " +
	"reasoning step by step and, when necessary, invoking the tools made " +
	"available to you. Use tools only when they help answer the request."

const initPrompt = "Daemon starting. Record any relevant environment observations into memory."

const shutdownPrompt = "Daemon shutting down. Record a final observation if appropriate."

// Inferencer is the subset of *brain.Client the loop depends on, so
// tests can substitute a stub without a network round-trip.
type Inferencer interface {
	Infer(ctx context.Context, req *brain.Request) (*brain.Response, error)
}

// Config bundles the AGENT_* environment-derived knobs from spec.md §6.
type Config struct {
	Model           string
	MaxOutputTokens int
	MaxToolRounds   int
	InitTimeout     time.Duration
	HandleTimeout   time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig(model string) Config {
	return Config{
		Model:           model,
		MaxOutputTokens: 4096,
		MaxToolRounds:   20,
		InitTimeout:     120 * time.Second,
		HandleTimeout:   300 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// RoundsExceededError is the strict-variant error named in spec.md §7's
// MaxToolRounds row. Handle does not return it under the lenient policy
// this package implements (see DESIGN.md), and nothing in the daemon
// constructs it; callers detect overflow by passing Handle's text to
// IsOverflow.
type RoundsExceededError struct {
	Max, Actual int
}

func (e *RoundsExceededError) Error() string {
	return fmt.Sprintf("agent: max tool rounds exceeded: max=%d actual=%d", e.Max, e.Actual)
}

// IsOverflow reports whether text is the round-overflow sentinel.
func IsOverflow(text string) bool { return text == overflowSentinel }

// Loop is the agent's turn-taking state machine.
type Loop struct {
	inferencer Inferencer
	registry   executor.Registry
	journal    *memory.Journal
	cfg        Config
	logger     *zap.Logger
}

// New builds a Loop over the given collaborators.
func New(inferencer Inferencer, registry executor.Registry, journal *memory.Journal, cfg Config, logger *zap.Logger) *Loop {
	return &Loop{inferencer: inferencer, registry: registry, journal: journal, cfg: cfg, logger: logger}
}

// systemPrompt composes the static preamble and the journal's rendered
// context section, per spec.md §4.5/§4.6.
func (l *Loop) systemPrompt() string {
	ctx := l.journal.Context()
	if ctx == "" {
		return systemPreamble
	}
	return systemPreamble + "\n\n" + ctx
}

// Init runs once before steady-state handling, per spec.md §4.5.
// Reaching the round bound is a warning, not a failure.
func (l *Loop) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.InitTimeout)
	defer cancel()

	text, err := l.run(ctx, initPrompt)
	if err != nil {
		l.logger.Warn("agent: init turn loop failed", zap.Error(err))
		return nil
	}
	if IsOverflow(text) {
		l.logger.Warn("agent: init reached max tool rounds", zap.Int("max_tool_rounds", l.cfg.MaxToolRounds))
	}
	l.journal.AddSystemInfo("init: " + text)
	return nil
}

// Handle answers one client request end-to-end, per spec.md §4.5.
func (l *Loop) Handle(ctx context.Context, userInput string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.HandleTimeout)
	defer cancel()

	text, err := l.run(ctx, userInput)
	if err != nil {
		l.journal.AddError(fmt.Sprintf("handle failed for %q: %v", userInput, err))
		return "", err
	}
	l.journal.AddInteraction(userInput, text)
	return text, nil
}

// Shutdown invokes the agent one final time, best-effort, per spec.md §4.5.
func (l *Loop) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ShutdownTimeout)
	defer cancel()

	text, err := l.run(ctx, shutdownPrompt)
	if err != nil {
		l.logger.Warn("agent: shutdown turn loop failed", zap.Error(err))
		return
	}
	l.journal.AddSystemInfo("shutdown: " + text)
}

// run drives the turn state machine described in spec.md §4.5: build a
// request, infer, inspect stop_reason, maybe execute tools, repeat.
// The round counter is incremented before the bound check (the lenient
// variant: see DESIGN.md's Open Question resolution), so the model may
// make one inference call beyond max_tool_rounds before the sentinel is
// returned.
func (l *Loop) run(ctx context.Context, userInput string) (string, error) {
	messages := []brain.Message{
		{Role: brain.RoleUser, Content: []brain.ContentBlock{{Type: brain.BlockText, Text: userInput}}},
	}
	tools := toToolDefinitions(l.registry.Definitions())
	system := l.systemPrompt()

	round := 0
	for {
		req, err := brain.NewRequestBuilder(l.cfg.Model, system, l.cfg.MaxOutputTokens).
			WithMessages(messages).
			WithTools(tools).
			Build()
		if err != nil {
			return "", fmt.Errorf("agent: build request: %w", err)
		}

		resp, err := l.inferencer.Infer(ctx, req)
		if err != nil {
			return "", fmt.Errorf("agent: inference: %w", err)
		}

		switch resp.StopReason {
		case brain.StopToolUse:
			round++
			if round > l.cfg.MaxToolRounds {
				return overflowSentinel, nil
			}
			messages = append(messages, brain.Message{Role: brain.RoleAssistant, Content: resp.Content})
			resultBlocks := l.executeToolCalls(ctx, resp.Content)
			messages = append(messages, brain.Message{Role: brain.RoleUser, Content: resultBlocks})

		case brain.StopMaxTokens:
			l.logger.Warn("agent: response truncated at max_tokens")
			messages = append(messages, brain.Message{Role: brain.RoleAssistant, Content: resp.Content})
			return concatText(resp.Content), nil

		case brain.StopEndTurn, brain.StopAbsent, brain.StopStopSequence:
			messages = append(messages, brain.Message{Role: brain.RoleAssistant, Content: resp.Content})
			return concatText(resp.Content), nil

		default:
			messages = append(messages, brain.Message{Role: brain.RoleAssistant, Content: resp.Content})
			return concatText(resp.Content), nil
		}
	}
}

// executeToolCalls runs every ToolUse block in content strictly
// sequentially, in order, appending a matching ToolResult block for
// each, and mirrors each outcome into the memory journal.
func (l *Loop) executeToolCalls(ctx context.Context, content []brain.ContentBlock) []brain.ContentBlock {
	var results []brain.ContentBlock
	for _, block := range content {
		if block.Type != brain.BlockToolUse {
			continue
		}

		out, err := executor.Execute(ctx, l.registry, block.Name, json.RawMessage(block.Input))
		if err != nil {
			resultText := err.Error()
			l.journal.AddToolResult(block.Name, resultText)
			results = append(results, brain.ContentBlock{
				Type:      brain.BlockToolResult,
				ToolUseID: block.ID,
				Content:   resultText,
				IsError:   true,
			})
			continue
		}

		l.journal.AddToolResult(block.Name, out.Content)
		results = append(results, brain.ContentBlock{
			Type:      brain.BlockToolResult,
			ToolUseID: block.ID,
			Content:   out.Content,
			IsError:   out.IsError,
		})
	}
	return results
}

func toToolDefinitions(defs []executor.Definition) []brain.ToolDefinition {
	out := make([]brain.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = brain.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	return out
}

func concatText(content []brain.ContentBlock) string {
	var b strings.Builder
	for _, block := range content {
		if block.Type == brain.BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

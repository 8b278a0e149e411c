// Package executor exposes a name-keyed registry of locally executable
// tools and the built-in "bash" tool that runs shell commands on the
// daemon's host.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Output is the result of one tool invocation, matching spec.md §4.3's
// ToolOutput contract.
type Output struct {
	Content string
	IsError bool
}

// Tool is the interface every locally executable operation implements.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, input json.RawMessage) (*Output, error)
}

// Definition is the name/description/schema triple sent to the inference
// backend with every request, per spec.md §3.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Error kinds from spec.md §4.3's taxonomy. UnknownTool and InvalidInput
// are returned to the agent loop as a Go error; the agent loop is
// responsible for turning them into an is_error ToolResult so the model
// can react in its next turn.
var (
	ErrUnknownTool = fmt.Errorf("executor: unknown tool")
)

// InvalidInputError reports that a tool call's input failed validation or
// JSON decoding.
type InvalidInputError struct {
	Tool   string
	Detail string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("executor: invalid input for tool %q: %s", e.Tool, e.Detail)
}

// SpawnFailedError reports that a tool's underlying process/operation
// could not be started.
type SpawnFailedError struct {
	Tool   string
	Detail string
}

func (e *SpawnFailedError) Error() string {
	return fmt.Sprintf("executor: failed to spawn tool %q: %s", e.Tool, e.Detail)
}

// Registry is a read-only-after-construction, name-keyed tool table.
type Registry interface {
	Register(tool Tool) error
	Get(name string) (Tool, bool)
	Definitions() []Definition
}

// InMemoryRegistry is the only Registry implementation the daemon needs:
// tools are registered once at construction and never change thereafter,
// per spec.md §4.3 ("read-only thereafter"). Overrides allow descriptions
// to be swapped in (e.g. from tools.toml) without touching the Tool
// implementation itself.
type InMemoryRegistry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	overrides map[string]string
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools:     make(map[string]Tool),
		overrides: make(map[string]string),
	}
}

// Register adds a tool. Returns an error if the name is already taken.
func (r *InMemoryRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("executor: tool %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get looks up a tool by name.
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns a snapshot of every registered tool's definition,
// with any description override applied, suitable for inclusion in every
// outbound inference request (spec.md §4.3).
func (r *InMemoryRegistry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for name, t := range r.tools {
		desc := t.Description()
		if override, ok := r.overrides[name]; ok && override != "" {
			desc = override
		}
		defs = append(defs, Definition{
			Name:        name,
			Description: desc,
			InputSchema: t.Schema(),
		})
	}
	return defs
}

// setOverrides atomically replaces the description-override table, called
// by the tools.toml loader/watcher.
func (r *InMemoryRegistry) setOverrides(overrides map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = overrides
}

// Execute resolves a tool by name and runs it, translating "not found"
// into the spec's UnknownTool error rather than a panic or a silent
// no-op.
func Execute(ctx context.Context, reg Registry, name string, input json.RawMessage) (*Output, error) {
	tool, ok := reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool.Execute(ctx, input)
}

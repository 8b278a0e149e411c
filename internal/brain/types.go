// Package brain is the inference client: it posts conversation turns to
// a remote HTTP+JSON backend shaped like a well-known vendor Messages
// API and maps transport/status errors onto a retry policy.
package brain

import "encoding/json"

// Role is a conversation message's role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// StopReason mirrors the backend's stop_reason field.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopAbsent       StopReason = "" // field omitted by the backend
)

// ContentBlockType tags the variant carried by a ContentBlock.
type ContentBlockType string

const (
	BlockText             ContentBlockType = "text"
	BlockToolUse          ContentBlockType = "tool_use"
	BlockToolResult       ContentBlockType = "tool_result"
	BlockCacheControl     ContentBlockType = "cache_control"
	BlockThinking         ContentBlockType = "thinking"
	BlockRedactedThinking ContentBlockType = "redacted_thinking"
)

// ContentBlock is a tagged element of a message's content array. Only
// Text, ToolUse, and ToolResult are interpreted by the agent loop;
// CacheControl/Thinking/RedactedThinking and any unrecognized type keep
// their type tag and are forwarded uninterpreted. Only the fields declared
// below are decoded and re-encoded: any other field of a block (such as
// the body or signature of a thinking block) is dropped on decode.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text block.
	Text string `json:"text,omitempty"`

	// ToolUse block.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult block.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Message is one turn in the conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDefinition describes one callable tool to the backend.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SamplingParams bundles the model's sampling knobs.
type SamplingParams struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`
}

// Request is the outbound inference request, matching spec.md §3's
// "Inference request" data model entry.
type Request struct {
	Model     string           `json:"model"`
	System    string           `json:"system,omitempty"`
	Messages  []Message        `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens"`
	Stream    bool             `json:"stream,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	SamplingParams
}

// Usage carries token accounting from the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the inference backend's reply.
type Response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Role       Role           `json:"role"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`

	// Extra preserves any top-level field the daemon does not model,
	// mirroring original_source/src/brain/types.rs's
	// #[serde(flatten)] extra: HashMap<String, Value>.
	Extra map[string]json.RawMessage `json:"-"`
}

// responseKnownFields lists Response's modeled JSON keys so UnmarshalJSON
// can route everything else into Extra.
var responseKnownFields = map[string]bool{
	"id": true, "model": true, "role": true, "content": true,
	"stop_reason": true, "usage": true,
}

// UnmarshalJSON decodes the known fields normally and collects any
// remaining top-level keys into Extra, since Go's encoding/json has no
// equivalent of serde's #[serde(flatten)] for catch-all maps.
func (r *Response) UnmarshalJSON(data []byte) error {
	type known Response
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*r = Response(k)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]json.RawMessage)
	for key, val := range raw {
		if !responseKnownFields[key] {
			extra[key] = val
		}
	}
	r.Extra = extra
	return nil
}

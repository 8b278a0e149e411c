package brain

import "fmt"

// RequestBuilder assembles a Request and validates it before it is sent,
// grounded on original_source/src/brain/builder.rs. Validation enforces
// spec.md §3 invariant (iv): the conversation always begins with a User
// message.
type RequestBuilder struct {
	req Request
}

// NewRequestBuilder seeds a builder for the given model and system prompt.
func NewRequestBuilder(model, system string, maxTokens int) *RequestBuilder {
	return &RequestBuilder{req: Request{Model: model, System: system, MaxTokens: maxTokens}}
}

// WithMessages sets the conversation.
func (b *RequestBuilder) WithMessages(messages []Message) *RequestBuilder {
	b.req.Messages = messages
	return b
}

// WithTools sets the available tool definitions.
func (b *RequestBuilder) WithTools(tools []ToolDefinition) *RequestBuilder {
	b.req.Tools = tools
	return b
}

// WithSampling sets sampling parameters.
func (b *RequestBuilder) WithSampling(params SamplingParams) *RequestBuilder {
	b.req.SamplingParams = params
	return b
}

// Build validates and returns the assembled request.
func (b *RequestBuilder) Build() (*Request, error) {
	if len(b.req.Messages) == 0 {
		return nil, fmt.Errorf("brain: request build: messages must not be empty")
	}
	if b.req.Messages[0].Role != RoleUser {
		return nil, fmt.Errorf("brain: request build: first message must have role %q, got %q", RoleUser, b.req.Messages[0].Role)
	}
	req := b.req
	return &req, nil
}

// Package llmmanager implements LLMManager: a registry mapping named
// logical features ("chat", "dreaming", "memory_extract", "evolution",
// …) to a concrete provider, model, and generation parameters, with
// parameters optionally perturbed by the active character's mood.
//
// Grounded on internal/llm/provider.go's Provider contract and the
// internal/llm/{anthropic,openai,google} driver packages, adapted into
// self-contained drivers that build their own request/response shapes
// rather than depending on the teacher's broader llm package (whose
// observability/tokenizer helpers are out of scope for this registry).
package llmmanager

import (
	"context"
	"encoding/json"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

// Message is one turn in a chat conversation.
type Message struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	ToolID    string
	ToolCalls []ToolCall
}

// ToolSchema describes one callable tool for the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Params is a route's generation parameters.
type Params struct {
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
}

// StreamHandler receives incremental output from Driver.ChatStream as
// the provider's streaming API yields it. OnDelta is called with each
// successive text chunk (concatenating every delta reproduces the
// final content); OnToolCall is called once per completed tool call
// after the stream finishes accumulating its arguments.
type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
}

// Driver is the shared contract every provider plugin implements:
// chat_completion(messages, model, temperature, tools) in spec terms.
// ChatStream is its streaming twin: spec §1/§2/§4.5 make ChatPipeline
// stream the reply token-by-token rather than wait for the whole
// completion, invoking the driver with stream=true and forwarding
// each token onto the bus as it arrives.
type Driver interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params, h StreamHandler) error
	ListModels() []string
}

// Package chatpipeline implements ChatPipeline: the three-stage
// request processor (ToolPrep, ContextBuilder, LLMExecution) that
// turns a raw user message into a memory- and tool-augmented LLM
// response, emitted back onto the EventBus for the Gateway to forward.
//
// Grounded on spec §4.5 and the Gateway/EventBus wiring in
// internal/gateway/client.go (input.text/control.interrupt event
// names, brain_response/brain_response_end outbound event names).
package chatpipeline

import (
	"context"

	"lumina/internal/llmmanager"
	"lumina/internal/session"
)

// ContextProvider contributes one block of context to a turn: either a
// system-prompt fragment (SoulService) or retrieved memory spliced
// into the user's message (the RAG provider). Providers run in
// registration order and may return an empty string to contribute
// nothing.
type ContextProvider interface {
	Name() string
	BuildContext(ctx context.Context, sess *session.Session, userInput string) (string, error)
}

// Splicer is implemented by a ContextProvider whose output belongs in
// the last user message rather than the system prompt (the RAG
// provider, per spec §4.5: "spliced into the last user message ...
// so it is positionally anchored to the question").
type Splicer interface {
	Splice() bool
}

// ToolProvider exposes a set of callable tools and executes them.
type ToolProvider interface {
	Tools() []llmmanager.ToolSchema
	Execute(ctx context.Context, name string, args []byte) (string, error)
}

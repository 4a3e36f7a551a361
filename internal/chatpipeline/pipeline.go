package chatpipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"lumina/internal/eventbus"
	"lumina/internal/llmmanager"
	"lumina/internal/memory"
	"lumina/internal/observability"
	"lumina/internal/session"
	"lumina/internal/soul"
)

const fallbackSystemPrompt = "You are a helpful AI assistant."
const fallbackResponse = "I'm having trouble reaching my language model right now. Please try again in a moment."

// Pipeline is ChatPipeline: subscribes to input.text, runs the
// ToolPrep/ContextBuilder/LLMExecution stages, and emits
// brain_response/brain_response_end back onto the bus.
type Pipeline struct {
	bus      *eventbus.Bus
	sessions *session.Store
	manager  *llmmanager.Manager
	soul     *soul.Service
	memory   *memory.MemoryStore

	contextProviders []ContextProvider
	toolProviders    []ToolProvider

	log zerolog.Logger

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc

	subInput     eventbus.SubscriptionID
	subInterrupt eventbus.SubscriptionID
}

// New builds a Pipeline. soul and memStore may be nil in a minimal
// deployment (the soul provider and conversation logging are then
// skipped). New registers no RAG provider; callers add one with
// RegisterContextProvider.
func New(bus *eventbus.Bus, sessions *session.Store, manager *llmmanager.Manager, soulSvc *soul.Service, memStore *memory.MemoryStore, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		bus:      bus,
		sessions: sessions,
		manager:  manager,
		soul:     soulSvc,
		memory:   memStore,
		log:      log,
		cancels:  map[int64]context.CancelFunc{},
	}
	if soulSvc != nil {
		p.RegisterContextProvider(NewSoulProvider(soulSvc))
	}
	return p
}

// RegisterContextProvider adds a ContextProvider, consulted in
// registration order by ContextBuilder.
func (p *Pipeline) RegisterContextProvider(cp ContextProvider) {
	p.contextProviders = append(p.contextProviders, cp)
}

// RegisterToolProvider adds a ToolProvider, whose tools are offered to
// the model on every turn.
func (p *Pipeline) RegisterToolProvider(tp ToolProvider) {
	p.toolProviders = append(p.toolProviders, tp)
}

// Start subscribes to input.text and control.interrupt.
func (p *Pipeline) Start(_ context.Context) {
	p.subInput = p.bus.Subscribe("input.text", p.onInputText)
	p.subInterrupt = p.bus.Subscribe("control.interrupt", p.onInterrupt)
}

// Stop unsubscribes from the bus.
func (p *Pipeline) Stop() {
	p.bus.Unsubscribe(p.subInput)
	p.bus.Unsubscribe(p.subInterrupt)
}

func (p *Pipeline) onInterrupt(_ context.Context, ev eventbus.Event) error {
	sessionID, ok := asInt64(ev.Data["session_id"])
	if !ok {
		return nil
	}
	p.cancelSession(sessionID)
	return nil
}

func (p *Pipeline) cancelSession(sessionID int64) {
	p.mu.Lock()
	cancel, ok := p.cancels[sessionID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// onInputText registers the turn's cancel func and hands the run off to
// its own goroutine before returning, so the bus's synchronous Emit
// dispatch (and whatever inbound read loop is calling it) isn't blocked
// for the duration of an LLM turn — a second input.text must be able to
// arrive and interrupt this one before it finishes (spec §5: concurrent
// inbound is allowed after the first await).
func (p *Pipeline) onInputText(_ context.Context, ev eventbus.Event) error {
	sessionID, _ := asInt64(ev.Data["session_id"])
	text, _ := ev.Data["text"].(string)
	userID, _ := ev.Data["user_id"].(string)
	characterID, _ := ev.Data["character_id"].(string)
	model, _ := ev.Data["model"].(string)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Detached from the emitting call's context on purpose: the turn
	// outlives onInputText's return, so it must not inherit a context
	// the caller may cancel once dispatch completes. Its lifetime is
	// controlled solely by this cancel func, released on interrupt or
	// completion.
	runCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancels[sessionID] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.cancels, sessionID)
			p.mu.Unlock()
			cancel()
		}()
		p.Run(runCtx, sessionID, userID, characterID, text, model)
	}()
	return nil
}

// Run executes one full chat turn: ToolPrep, ContextBuilder, then the
// tool-call-aware LLMExecution loop, emitting brain_response /
// brain_response_end on completion.
func (p *Pipeline) Run(ctx context.Context, sessionID int64, userID, characterID, text, modelOverride string) {
	sess := p.sessions.GetOrCreate(userID, characterID)

	driver, err := p.manager.GetDriver("chat")
	if err != nil {
		p.emitFallback(sessionID)
		p.log.Error().Err(err).Msg("chatpipeline: no chat driver configured")
		return
	}
	model, err := p.manager.GetModelName("chat")
	if err != nil {
		p.emitFallback(sessionID)
		return
	}
	if modelOverride != "" {
		model = modelOverride
	}
	var mood *soul.PAD
	if p.soul != nil {
		mood = p.soul.CurrentMood()
	}
	params, _ := p.manager.GetParameters("chat", mood)

	tools := p.collectTools()

	systemPrompt, userText := p.buildContext(ctx, sess, text)

	messages := p.buildMessages(sess, systemPrompt, userText)

	p.log.Info().Int64("session_id", sessionID).Interface("messages", messages).Msg("chatpipeline: request")

	stream := newResponseStreamer(ctx, p.bus, sessionID)
	err = driver.ChatStream(ctx, messages, tools, model, params, stream)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled mid-flight; no further emission
		}
		p.log.Error().Err(err).Msg("chatpipeline: first pass failed")
		p.emitFallback(sessionID)
		return
	}

	finalText := stream.text.String()
	if len(stream.toolCalls) > 0 {
		first := llmmanager.Message{Role: "assistant", Content: finalText, ToolCalls: stream.toolCalls}
		finalText, err = p.runToolLoop(ctx, driver, model, params, messages, first, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error().Err(err).Msg("chatpipeline: tool loop failed")
			p.emitFallback(sessionID)
			return
		}
	}

	p.log.Info().Int64("session_id", sessionID).Str("output", finalText).Msg("chatpipeline: response")

	p.bus.Emit(ctx, eventbus.Event{Type: "brain_response_end", Source: "chatpipeline", Data: map[string]any{"session_id": sessionID}})

	sess.AppendTurn(session.Turn{Role: "user", Content: text})
	sess.AppendTurn(session.Turn{Role: "assistant", Content: finalText})

	if p.memory != nil {
		narrative := fmt.Sprintf("user: %s\nassistant: %s", text, finalText)
		if _, err := p.memory.LogConversation(ctx, characterID, narrative); err != nil {
			p.log.Warn().Err(err).Msg("chatpipeline: log conversation failed")
		}
	}
	if p.soul != nil {
		if err := p.soul.OnInteraction(ctx, text, finalText); err != nil {
			p.log.Warn().Err(err).Msg("chatpipeline: soul interaction hook failed")
		}
	}
}

// runToolLoop executes every tool call from the first streamed pass
// sequentially, appends the assistant tool-call message and each
// tool's result, then streams a second pass with tools disabled to
// force and deliver a final natural-language answer. A tool execution
// failure returns an error string to the model rather than aborting
// the turn.
func (p *Pipeline) runToolLoop(ctx context.Context, driver llmmanager.Driver, model string, params llmmanager.Params, messages []llmmanager.Message, first llmmanager.Message, sessionID int64) (string, error) {
	messages = append(messages, first)
	for _, tc := range first.ToolCalls {
		p.log.Info().Str("tool", tc.Name).Msg("chatpipeline: tool call")
		p.log.Debug().Str("tool", tc.Name).RawJSON("args", observability.RedactJSON(tc.Args)).Msg("chatpipeline: tool call args")

		result, err := p.executeTool(ctx, tc.Name, tc.Args)
		if err != nil {
			result = fmt.Sprintf("error: %s", err.Error())
		}
		messages = append(messages, llmmanager.Message{Role: "tool", Content: result, ToolID: tc.ID})
	}

	stream := newResponseStreamer(ctx, p.bus, sessionID)
	if err := driver.ChatStream(ctx, messages, nil, model, params, stream); err != nil {
		return "", fmt.Errorf("chatpipeline: second pass: %w", err)
	}
	return stream.text.String(), nil
}

func (p *Pipeline) executeTool(ctx context.Context, name string, args []byte) (string, error) {
	for _, tp := range p.toolProviders {
		for _, t := range tp.Tools() {
			if t.Name == name {
				return tp.Execute(ctx, name, args)
			}
		}
	}
	return "", fmt.Errorf("unknown tool %q", name)
}

func (p *Pipeline) collectTools() []llmmanager.ToolSchema {
	var out []llmmanager.ToolSchema
	for _, tp := range p.toolProviders {
		out = append(out, tp.Tools()...)
	}
	return out
}

// buildContext runs every registered ContextProvider in order. Output
// from a Splicer provider is folded into the user's message; every
// other provider's output is appended, blank-line separated, to the
// system prompt.
func (p *Pipeline) buildContext(ctx context.Context, sess *session.Session, userInput string) (systemPrompt, userText string) {
	var systemParts []string
	var spliceParts []string

	for _, cp := range p.contextProviders {
		out, err := cp.BuildContext(ctx, sess, userInput)
		if err != nil {
			p.log.Warn().Str("provider", cp.Name()).Err(err).Msg("chatpipeline: context provider failed")
			continue
		}
		if strings.TrimSpace(out) == "" {
			continue
		}
		if splicer, ok := cp.(Splicer); ok && splicer.Splice() {
			spliceParts = append(spliceParts, out)
			continue
		}
		systemParts = append(systemParts, out)
	}

	systemPrompt = fallbackSystemPrompt
	if len(systemParts) > 0 {
		systemPrompt = strings.Join(systemParts, "\n\n")
	}

	userText = userInput
	if len(spliceParts) > 0 {
		userText = strings.Join(append(spliceParts, userInput), "\n\n")
	}
	return systemPrompt, userText
}

func (p *Pipeline) buildMessages(sess *session.Session, systemPrompt, userText string) []llmmanager.Message {
	messages := make([]llmmanager.Message, 0, len(sess.History())+2)
	messages = append(messages, llmmanager.Message{Role: "system", Content: systemPrompt})
	for _, turn := range sess.History() {
		messages = append(messages, llmmanager.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llmmanager.Message{Role: "user", Content: userText})
	return messages
}

func (p *Pipeline) emitFallback(sessionID int64) {
	p.bus.EmitSync(eventbus.Event{Type: "brain_response", Source: "chatpipeline", Data: map[string]any{"content": fallbackResponse, "session_id": sessionID}})
	p.bus.EmitSync(eventbus.Event{Type: "brain_response_end", Source: "chatpipeline", Data: map[string]any{"session_id": sessionID}})
}

// responseStreamer implements llmmanager.StreamHandler: every text
// delta is both accumulated (for history/logging/the second tool pass)
// and forwarded onto the bus immediately as its own brain_response
// event, so the client renders the reply token-by-token instead of
// waiting for the whole turn to finish.
type responseStreamer struct {
	ctx       context.Context
	bus       *eventbus.Bus
	sessionID int64
	text      strings.Builder
	toolCalls []llmmanager.ToolCall
}

func newResponseStreamer(ctx context.Context, bus *eventbus.Bus, sessionID int64) *responseStreamer {
	return &responseStreamer{ctx: ctx, bus: bus, sessionID: sessionID}
}

func (s *responseStreamer) OnDelta(content string) {
	if content == "" {
		return
	}
	s.text.WriteString(content)
	s.bus.Emit(s.ctx, eventbus.Event{
		Type:   "brain_response",
		Source: "chatpipeline",
		Data:   map[string]any{"content": content, "session_id": s.sessionID},
	})
}

func (s *responseStreamer) OnToolCall(tc llmmanager.ToolCall) {
	s.toolCalls = append(s.toolCalls, tc)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

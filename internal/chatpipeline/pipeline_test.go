package chatpipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"lumina/internal/config"
	"lumina/internal/eventbus"
	"lumina/internal/llmmanager"
	"lumina/internal/session"
)

// fakeDriver returns scripted responses in order, one per Chat call.
// ChatStream replays the same scripted response as a single delta
// followed by its tool calls, so callers exercising the streaming path
// see the same content fakeDriver would have returned from Chat.
type fakeDriver struct {
	responses []llmmanager.Message
	calls     [][]llmmanager.Message
}

func (d *fakeDriver) Chat(_ context.Context, msgs []llmmanager.Message, _ []llmmanager.ToolSchema, _ string, _ llmmanager.Params) (llmmanager.Message, error) {
	d.calls = append(d.calls, msgs)
	i := len(d.calls) - 1
	if i >= len(d.responses) {
		return llmmanager.Message{}, errNoMoreResponses
	}
	return d.responses[i], nil
}

func (d *fakeDriver) ChatStream(ctx context.Context, msgs []llmmanager.Message, tools []llmmanager.ToolSchema, model string, params llmmanager.Params, h llmmanager.StreamHandler) error {
	resp, err := d.Chat(ctx, msgs, tools, model, params)
	if err != nil {
		return err
	}
	if h == nil {
		return nil
	}
	if resp.Content != "" {
		h.OnDelta(resp.Content)
	}
	for _, tc := range resp.ToolCalls {
		h.OnToolCall(tc)
	}
	return nil
}

func (d *fakeDriver) ListModels() []string { return nil }

var errNoMoreResponses = fakeErr("fakeDriver: no more scripted responses")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func newTestManager(driver llmmanager.Driver) *llmmanager.Manager {
	return llmmanager.NewForTest(
		map[string]config.RouteConfig{"chat": {Provider: "test", Model: "test-model", Temperature: 0.5}},
		map[string]llmmanager.Driver{"test": driver},
	)
}

// fakeContextProvider returns a fixed string and optionally implements Splicer.
type fakeContextProvider struct {
	name   string
	output string
	splice bool
}

func (p *fakeContextProvider) Name() string { return p.name }
func (p *fakeContextProvider) Splice() bool { return p.splice }
func (p *fakeContextProvider) BuildContext(context.Context, *session.Session, string) (string, error) {
	return p.output, nil
}

type fakeToolProvider struct {
	schemas []llmmanager.ToolSchema
	result  string
	err     error
	calls   []string
}

func (p *fakeToolProvider) Tools() []llmmanager.ToolSchema { return p.schemas }
func (p *fakeToolProvider) Execute(_ context.Context, name string, _ []byte) (string, error) {
	p.calls = append(p.calls, name)
	return p.result, p.err
}

func newTestPipeline(driver llmmanager.Driver) (*Pipeline, *eventbus.Bus) {
	bus := eventbus.New(zerolog.Nop())
	sessions := session.NewStore(40)
	manager := newTestManager(driver)
	p := New(bus, sessions, manager, nil, nil, zerolog.Nop())
	return p, bus
}

func TestRun_SimpleTurnEmitsResponseAndAppendsHistory(t *testing.T) {
	driver := &fakeDriver{responses: []llmmanager.Message{{Role: "assistant", Content: "hello there"}}}
	p, bus := newTestPipeline(driver)

	done := make(chan struct{})
	bus.Subscribe("brain_response_end", func(context.Context, eventbus.Event) error { close(done); return nil })

	respCh := make(chan map[string]any, 1)
	bus.Subscribe("brain_response", func(_ context.Context, ev eventbus.Event) error { respCh <- ev.Data; return nil })

	p.Run(context.Background(), 1, "user-1", "aria", "hi", "")

	select {
	case data := <-respCh:
		require.Equal(t, "hello there", data["content"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for brain_response")
	}
	<-done

	sess, ok := p.sessions.Get("user-1", "aria")
	require.True(t, ok)
	history := sess.History()
	require.Len(t, history, 2)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, "hi", history[0].Content)
	require.Equal(t, "assistant", history[1].Role)
	require.Equal(t, "hello there", history[1].Content)
}

func TestRun_ContextProviderFeedsSystemPrompt(t *testing.T) {
	driver := &fakeDriver{responses: []llmmanager.Message{{Role: "assistant", Content: "ok"}}}
	p, bus := newTestPipeline(driver)
	p.RegisterContextProvider(&fakeContextProvider{name: "soul", output: "You are Aria."})

	bus.Subscribe("brain_response", func(context.Context, eventbus.Event) error { return nil })
	p.Run(context.Background(), 1, "user-1", "aria", "hi", "")

	require.Len(t, driver.calls, 1)
	require.Equal(t, "system", driver.calls[0][0].Role)
	require.Equal(t, "You are Aria.", driver.calls[0][0].Content)
}

func TestRun_SplicerProviderFoldsIntoUserMessageNotSystemPrompt(t *testing.T) {
	driver := &fakeDriver{responses: []llmmanager.Message{{Role: "assistant", Content: "ok"}}}
	p, _ := newTestPipeline(driver)
	p.RegisterContextProvider(&fakeContextProvider{name: "soul", output: "You are Aria."})
	p.RegisterContextProvider(&fakeContextProvider{name: "rag", output: "Relevant memories:\n- likes tea\n", splice: true})

	p.Run(context.Background(), 1, "user-1", "aria", "what do I like?", "")

	require.Len(t, driver.calls, 1)
	msgs := driver.calls[0]
	systemMsg := msgs[0]
	require.Equal(t, "system", systemMsg.Role)
	require.Equal(t, "You are Aria.", systemMsg.Content, "RAG output must not leak into the system prompt")

	userMsg := msgs[len(msgs)-1]
	require.Equal(t, "user", userMsg.Role)
	require.Contains(t, userMsg.Content, "likes tea")
	require.Contains(t, userMsg.Content, "what do I like?")
}

func TestRun_ToolCallLoopExecutesThenForcesFinalAnswer(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"city": "nyc"})
	driver := &fakeDriver{responses: []llmmanager.Message{
		{Role: "assistant", ToolCalls: []llmmanager.ToolCall{{Name: "get_weather", Args: args, ID: "call_1"}}},
		{Role: "assistant", Content: "It's sunny in NYC."},
	}}
	p, bus := newTestPipeline(driver)
	tool := &fakeToolProvider{
		schemas: []llmmanager.ToolSchema{{Name: "get_weather", Description: "look up weather"}},
		result:  "sunny, 72F",
	}
	p.RegisterToolProvider(tool)

	respCh := make(chan map[string]any, 1)
	bus.Subscribe("brain_response", func(_ context.Context, ev eventbus.Event) error { respCh <- ev.Data; return nil })

	p.Run(context.Background(), 1, "user-1", "aria", "weather in nyc?", "")

	require.Equal(t, []string{"get_weather"}, tool.calls)
	require.Len(t, driver.calls, 2, "expected a buffered first pass and a tools-disabled second pass")

	data := <-respCh
	require.Equal(t, "It's sunny in NYC.", data["content"])

	secondPassMsgs := driver.calls[1]
	var sawToolResult bool
	for _, m := range secondPassMsgs {
		if m.Role == "tool" && m.ToolID == "call_1" {
			sawToolResult = true
			require.Equal(t, "sunny, 72F", m.Content)
		}
	}
	require.True(t, sawToolResult, "tool result message must be appended before the second pass")
}

func TestRun_ToolExecutionFailureReturnsErrorStringInsteadOfAborting(t *testing.T) {
	args, _ := json.Marshal(map[string]string{})
	driver := &fakeDriver{responses: []llmmanager.Message{
		{Role: "assistant", ToolCalls: []llmmanager.ToolCall{{Name: "broken_tool", Args: args, ID: "call_1"}}},
		{Role: "assistant", Content: "Sorry, that tool failed."},
	}}
	p, bus := newTestPipeline(driver)
	tool := &fakeToolProvider{
		schemas: []llmmanager.ToolSchema{{Name: "broken_tool"}},
		err:     fakeErr("boom"),
	}
	p.RegisterToolProvider(tool)

	respCh := make(chan map[string]any, 1)
	bus.Subscribe("brain_response", func(_ context.Context, ev eventbus.Event) error { respCh <- ev.Data; return nil })

	p.Run(context.Background(), 1, "user-1", "aria", "use the broken tool", "")

	data := <-respCh
	require.Equal(t, "Sorry, that tool failed.", data["content"], "a tool failure must not abort the turn")

	secondPassMsgs := driver.calls[1]
	var sawErrorResult bool
	for _, m := range secondPassMsgs {
		if m.Role == "tool" {
			sawErrorResult = true
			require.Contains(t, m.Content, "boom")
		}
	}
	require.True(t, sawErrorResult)
}

func TestOnInterrupt_CancelsInFlightRun(t *testing.T) {
	driver := &blockingDriver{release: make(chan struct{}), cancelled: make(chan struct{})}
	p, bus := newTestPipeline(driver)
	p.Start(context.Background())
	defer p.Stop()

	bus.EmitSync(eventbus.Event{Type: "input.text", Data: map[string]any{
		"session_id": int64(42), "user_id": "user-1", "character_id": "aria", "text": "hi",
	}})

	require.Eventually(t, func() bool {
		p.mu.Lock()
		_, ok := p.cancels[42]
		p.mu.Unlock()
		return ok
	}, time.Second, time.Millisecond)

	bus.EmitSync(eventbus.Event{Type: "control.interrupt", Data: map[string]any{"session_id": int64(42)}})

	select {
	case <-driver.cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected the in-flight Chat call's context to be cancelled")
	}
}

type blockingDriver struct {
	release   chan struct{}
	cancelled chan struct{}
}

func (d *blockingDriver) Chat(ctx context.Context, _ []llmmanager.Message, _ []llmmanager.ToolSchema, _ string, _ llmmanager.Params) (llmmanager.Message, error) {
	select {
	case <-ctx.Done():
		close(d.cancelled)
		return llmmanager.Message{}, ctx.Err()
	case <-d.release:
		return llmmanager.Message{Content: "done"}, nil
	}
}

func (d *blockingDriver) ChatStream(ctx context.Context, msgs []llmmanager.Message, tools []llmmanager.ToolSchema, model string, params llmmanager.Params, h llmmanager.StreamHandler) error {
	resp, err := d.Chat(ctx, msgs, tools, model, params)
	if err != nil {
		return err
	}
	if h != nil && resp.Content != "" {
		h.OnDelta(resp.Content)
	}
	return nil
}

func (d *blockingDriver) ListModels() []string { return nil }

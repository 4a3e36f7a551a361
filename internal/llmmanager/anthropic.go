package llmmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"lumina/internal/config"
)

const defaultMaxTokens int64 = 4096

// AnthropicDriver wraps the Anthropic Messages API.
//
// Grounded on internal/llm/anthropic/client.go's SDK-construction and
// message/tool adaptation shape, trimmed of prompt-caching and extended
// thinking since LLMManager's routes don't expose those knobs.
type AnthropicDriver struct {
	sdk    anthropic.Client
	models []string
}

func NewAnthropicDriver(cfg config.ProviderConfig, httpClient *http.Client) *AnthropicDriver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	return &AnthropicDriver{sdk: anthropic.NewClient(opts...), models: cfg.Models}
}

func (d *AnthropicDriver) ListModels() []string { return d.models }

func (d *AnthropicDriver) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params) (Message, error) {
	sys, converted, err := anthropicMessages(msgs)
	if err != nil {
		return Message{}, err
	}
	toolDefs, err := anthropicTools(tools)
	if err != nil {
		return Message{}, err
	}

	resp, err := d.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    converted,
		System:      sys,
		Tools:       toolDefs,
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(params.Temperature),
		TopP:        anthropic.Float(params.TopP),
	})
	if err != nil {
		return Message{}, fmt.Errorf("anthropic: chat: %w", err)
	}
	return anthropicResponseMessage(resp), nil
}

// toolBuffer accumulates one tool call's streamed partial-JSON input
// arguments across ContentBlockDeltaEvents, mirroring
// internal/llm/anthropic/client.go's ChatStream tool-call tracking.
type toolBuffer struct {
	name string
	id   string
	buf  strings.Builder
}

func (b *toolBuffer) appendPartial(s string) { b.buf.WriteString(s) }

func (b *toolBuffer) toToolCall() ToolCall {
	raw := b.buf.String()
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	return ToolCall{Name: b.name, ID: b.id, Args: json.RawMessage(raw)}
}

func (d *AnthropicDriver) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params, h StreamHandler) error {
	sys, converted, err := anthropicMessages(msgs)
	if err != nil {
		return err
	}
	toolDefs, err := anthropicTools(tools)
	if err != nil {
		return err
	}

	stream := d.sdk.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		Messages:    converted,
		System:      sys,
		Tools:       toolDefs,
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(params.Temperature),
		TopP:        anthropic.Float(params.TopP),
	})
	defer func() { _ = stream.Close() }()

	toolBuffers := map[int]*toolBuffer{}
	var order []int
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				id := strings.TrimSpace(block.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", len(toolBuffers)+1)
				}
				idx := int(ev.Index)
				toolBuffers[idx] = &toolBuffer{name: block.Name, id: id}
				order = append(order, idx)
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if h != nil && delta.Text != "" {
					h.OnDelta(delta.Text)
				}
			case anthropic.InputJSONDelta:
				if tb := toolBuffers[int(ev.Index)]; tb != nil {
					tb.appendPartial(delta.PartialJSON)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic: chat stream: %w", err)
	}

	if h != nil {
		for _, idx := range order {
			h.OnToolCall(toolBuffers[idx].toToolCall())
		}
	}
	return nil
}

func anthropicTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("anthropic: tool name required")
		}
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := map[string]any{}
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		param := anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			param.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func anthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	toolResultCount := 0

	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "user":
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			id := strings.TrimSpace(m.ToolID)
			if id == "" {
				toolResultCount++
				id = fmt.Sprintf("tool-result-%d", toolResultCount)
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	return system, out, nil
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{}
}

func anthropicResponseMessage(resp *anthropic.Message) Message {
	if resp == nil {
		return Message{}
	}
	var sb strings.Builder
	var calls []ToolCall
	callIdx := 0
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			callIdx++
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			calls = append(calls, ToolCall{Name: v.Name, Args: v.Input, ID: id})
		}
	}
	return Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}
}

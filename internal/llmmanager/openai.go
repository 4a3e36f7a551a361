package llmmanager

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"lumina/internal/config"
)

// OpenAIDriver wraps the Chat Completions API. Also serves OpenAI-
// compatible self-hosted/third-party backends reached via BaseURL
// (deepseek, pollinations, …), per spec §4.7's provider id list.
//
// Grounded on internal/llm/openai/client.go and schema.go's message and
// tool adaptation, trimmed of image generation, Gemini-3 raw-HTTP
// special-casing, and the Responses API path.
type OpenAIDriver struct {
	sdk    sdk.Client
	models []string
}

func NewOpenAIDriver(cfg config.ProviderConfig, httpClient *http.Client) *OpenAIDriver {
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
	return &OpenAIDriver{sdk: sdk.NewClient(opts...), models: cfg.Models}
}

func (d *OpenAIDriver) ListModels() []string { return d.models }

func (d *OpenAIDriver) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params) (Message, error) {
	p := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(model),
		Messages:    openaiMessages(msgs),
		Temperature: sdk.Float(params.Temperature),
		TopP:        sdk.Float(params.TopP),
	}
	if len(tools) > 0 {
		p.Tools = openaiTools(tools)
	}

	comp, err := d.sdk.Chat.Completions.New(ctx, p)
	if err != nil {
		return Message{}, fmt.Errorf("openai: chat: %w", err)
	}
	if len(comp.Choices) == 0 {
		return Message{}, fmt.Errorf("openai: empty response")
	}
	choice := comp.Choices[0].Message

	out := Message{Role: "assistant", Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: []byte(tc.Function.Arguments),
		})
	}
	return out, nil
}

// ChatStream streams a chat completion, forwarding each content delta
// to h.OnDelta as it arrives and reporting each tool call to
// h.OnToolCall once the stream finishes accumulating its arguments.
//
// Grounded on internal/llm/openai/client.go's ChatStream: tool call
// arguments arrive incrementally across chunks keyed by the API's own
// tc.Index (not range position, since chunks may interleave calls).
func (d *OpenAIDriver) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params, h StreamHandler) error {
	p := sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(model),
		Messages:    openaiMessages(msgs),
		Temperature: sdk.Float(params.Temperature),
		TopP:        sdk.Float(params.TopP),
	}
	if len(tools) > 0 {
		p.Tools = openaiTools(tools)
	}

	stream := d.sdk.Chat.Completions.NewStreaming(ctx, p)
	defer func() { _ = stream.Close() }()

	type partialCall struct {
		id, name string
		args     strings.Builder
	}
	calls := map[int64]*partialCall{}
	var order []int64

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if h != nil && delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			idx := int64(tc.Index)
			pc := calls[idx]
			if pc == nil {
				pc = &partialCall{}
				calls[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai: chat stream: %w", err)
	}

	if h != nil {
		for _, idx := range order {
			pc := calls[idx]
			args := pc.args.String()
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			h.OnToolCall(ToolCall{ID: pc.id, Name: pc.name, Args: []byte(args)})
		}
	}
	return nil
}

func openaiTools(tools []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, sdk.ChatCompletionFunctionTool(sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  t.Parameters,
		}))
	}
	return out
}

func openaiMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(m.Content))
				continue
			}
			asst := sdk.ChatCompletionAssistantMessageParam{Content: sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(m.Content)}}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &sdk.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(tc.Args),
						},
					},
				})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		}
	}
	return out
}

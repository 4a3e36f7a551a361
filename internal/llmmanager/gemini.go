package llmmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	"lumina/internal/config"
)

// GeminiDriver wraps google.golang.org/genai's GenerateContent.
//
// Grounded on internal/llm/google/client.go's content/tool adaptation
// and response parsing, trimmed of thinking-config and image-generation
// special-casing.
type GeminiDriver struct {
	client *genai.Client
	models []string
}

func NewGeminiDriver(ctx context.Context, cfg config.ProviderConfig, httpClient *http.Client) (*GeminiDriver, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: init client: %w", err)
	}
	return &GeminiDriver{client: client, models: cfg.Models}, nil
}

func (d *GeminiDriver) ListModels() []string { return d.models }

func (d *GeminiDriver) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params) (Message, error) {
	contents, sys, err := geminiContents(msgs)
	if err != nil {
		return Message{}, err
	}
	toolDecls, toolCfg, err := geminiTools(tools)
	if err != nil {
		return Message{}, err
	}

	temperature := float32(params.Temperature)
	topP := float32(params.TopP)
	cfg := &genai.GenerateContentConfig{
		Tools:             toolDecls,
		ToolConfig:        toolCfg,
		Temperature:       &temperature,
		TopP:              &topP,
		SystemInstruction: sys,
	}

	resp, err := d.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return Message{}, fmt.Errorf("gemini: chat: %w", err)
	}
	return geminiResponseMessage(resp)
}

// ChatStream streams GenerateContent, forwarding text parts to
// h.OnDelta as each chunk arrives and reporting function-call parts to
// h.OnToolCall as they complete.
//
// Grounded on internal/llm/google/client.go's ChatStream, which ranges
// over GenerateContentStream's iterator (genai's streaming surface
// returns a Go 1.23 iter.Seq2[*GenerateContentResponse, error]).
func (d *GeminiDriver) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, params Params, h StreamHandler) error {
	contents, sys, err := geminiContents(msgs)
	if err != nil {
		return err
	}
	toolDecls, toolCfg, err := geminiTools(tools)
	if err != nil {
		return err
	}

	temperature := float32(params.Temperature)
	topP := float32(params.TopP)
	cfg := &genai.GenerateContentConfig{
		Tools:             toolDecls,
		ToolConfig:        toolCfg,
		Temperature:       &temperature,
		TopP:              &topP,
		SystemInstruction: sys,
	}

	for resp, err := range d.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("gemini: chat stream: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if h == nil {
				continue
			}
			if part.Text != "" {
				h.OnDelta(part.Text)
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return fmt.Errorf("gemini: marshal function call args: %w", err)
				}
				h.OnToolCall(ToolCall{Name: part.FunctionCall.Name, Args: args, ID: part.FunctionCall.ID})
			}
		}
	}
	return nil
}

func geminiContents(msgs []Message) ([]*genai.Content, *genai.Content, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("gemini: messages required")
	}
	var sys *genai.Content
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			sys = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "user":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case "tool":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		default:
			return nil, nil, fmt.Errorf("gemini: unsupported role %q", m.Role)
		}
	}
	return contents, sys, nil
}

func geminiTools(schemas []ToolSchema) ([]*genai.Tool, *genai.ToolConfig, error) {
	if len(schemas) == 0 {
		return nil, nil, nil
	}
	fd := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		if strings.TrimSpace(s.Name) == "" {
			return nil, nil, fmt.Errorf("gemini: tool name required")
		}
		fd = append(fd, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: s.Parameters,
		})
	}
	cfg := &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
	}
	return []*genai.Tool{{FunctionDeclarations: fd}}, cfg, nil
}

func geminiResponseMessage(resp *genai.GenerateContentResponse) (Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Message{Role: "assistant"}, nil
	}
	var sb strings.Builder
	var calls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return Message{}, fmt.Errorf("gemini: marshal function call args: %w", err)
			}
			calls = append(calls, ToolCall{Name: part.FunctionCall.Name, Args: args, ID: part.FunctionCall.ID})
		}
	}
	return Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}, nil
}

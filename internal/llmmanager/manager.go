package llmmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"lumina/internal/config"
	"lumina/internal/soul"
)

// Manager is LLMManager: a registry mapping named features to a
// driver/model/parameter triple.
//
// Grounded on spec §4.7: "get_driver(feature) returns the provider's
// driver; get_model_name(feature) returns the model string;
// get_parameters(feature, soul_state?) returns the parameters,
// optionally perturbed by the character's current mood."
type Manager struct {
	routes   map[string]config.RouteConfig
	drivers  map[string]Driver
}

// New builds a Manager from the configured providers and routes,
// constructing one driver per distinct provider id actually referenced
// by a route (so an unconfigured or unused provider never needs valid
// credentials).
func New(ctx context.Context, providers map[string]config.ProviderConfig, routes map[string]config.RouteConfig, httpClient *http.Client) (*Manager, error) {
	m := &Manager{routes: routes, drivers: map[string]Driver{}}
	for feature, route := range routes {
		if _, ok := m.drivers[route.Provider]; ok {
			continue
		}
		pcfg, ok := providers[route.Provider]
		if !ok {
			return nil, fmt.Errorf("llmmanager: route %q references unknown provider %q", feature, route.Provider)
		}
		driver, err := newDriver(ctx, pcfg, httpClient)
		if err != nil {
			return nil, fmt.Errorf("llmmanager: provider %q: %w", route.Provider, err)
		}
		m.drivers[route.Provider] = driver
	}
	return m, nil
}

// NewForTest builds a Manager directly from routes/drivers, bypassing
// provider construction, for other packages' tests to exercise a
// Manager against a fake Driver without real credentials.
func NewForTest(routes map[string]config.RouteConfig, drivers map[string]Driver) *Manager {
	return &Manager{routes: routes, drivers: drivers}
}

func newDriver(ctx context.Context, pcfg config.ProviderConfig, httpClient *http.Client) (Driver, error) {
	switch pcfg.ID {
	case "anthropic":
		return NewAnthropicDriver(pcfg, httpClient), nil
	case "gemini", "google":
		return NewGeminiDriver(ctx, pcfg, httpClient)
	default:
		// openai and every OpenAI-compatible backend (deepseek, pollinations,
		// self-hosted) share the Chat Completions wire format.
		return NewOpenAIDriver(pcfg, httpClient), nil
	}
}

// GetDriver returns the driver backing feature's configured provider.
func (m *Manager) GetDriver(feature string) (Driver, error) {
	route, ok := m.routes[feature]
	if !ok {
		return nil, fmt.Errorf("llmmanager: unknown route %q", feature)
	}
	driver, ok := m.drivers[route.Provider]
	if !ok {
		return nil, fmt.Errorf("llmmanager: no driver for provider %q", route.Provider)
	}
	return driver, nil
}

// GetModelName returns feature's configured model string.
func (m *Manager) GetModelName(feature string) (string, error) {
	route, ok := m.routes[feature]
	if !ok {
		return "", fmt.Errorf("llmmanager: unknown route %q", feature)
	}
	return route.Model, nil
}

// GetParameters returns feature's generation parameters, perturbed by
// mood when provided: higher arousal raises temperature, bounded to
// [0, 2] to stay within providers' accepted range.
func (m *Manager) GetParameters(feature string, mood *soul.PAD) (Params, error) {
	route, ok := m.routes[feature]
	if !ok {
		return Params{}, fmt.Errorf("llmmanager: unknown route %q", feature)
	}
	params := Params{
		Temperature:      route.Temperature,
		TopP:             route.TopP,
		PresencePenalty:  route.PresencePenalty,
		FrequencyPenalty: route.FrequencyPenalty,
	}
	if mood != nil {
		params.Temperature = clamp(params.Temperature+mood.Arousal*0.3, 0, 2)
	}
	return params, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Invoke runs feature's route against msgs/tools and returns the raw
// assistant message.
func (m *Manager) Invoke(ctx context.Context, feature string, msgs []Message, tools []ToolSchema, mood *soul.PAD) (Message, error) {
	driver, err := m.GetDriver(feature)
	if err != nil {
		return Message{}, err
	}
	model, err := m.GetModelName(feature)
	if err != nil {
		return Message{}, err
	}
	params, err := m.GetParameters(feature, mood)
	if err != nil {
		return Message{}, err
	}
	return driver.Chat(ctx, msgs, tools, model, params)
}

// InvokeDreaming implements consolidation.Dreamer: runs the "dreaming"
// route with prompt as the sole user message and returns its raw text
// as the structured-output JSON payload.
func (m *Manager) InvokeDreaming(ctx context.Context, prompt string) (json.RawMessage, error) {
	return m.invokeStructured(ctx, "dreaming", prompt)
}

// InvokeEvolution implements soul.Dreamer: runs the "evolution" route
// the same way.
func (m *Manager) InvokeEvolution(ctx context.Context, prompt string) (json.RawMessage, error) {
	return m.invokeStructured(ctx, "evolution", prompt)
}

func (m *Manager) invokeStructured(ctx context.Context, feature, prompt string) (json.RawMessage, error) {
	msg, err := m.Invoke(ctx, feature, []Message{{Role: "user", Content: prompt}}, nil, nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(msg.Content), nil
}

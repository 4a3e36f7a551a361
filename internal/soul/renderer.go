package soul

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// systemTemplate is system.yaml's three ordered sections. Order is
// fixed (not map iteration order) because spec §4.6 requires
// "role, style, constraints" concatenation order.
type systemTemplate struct {
	Role        string `yaml:"role"`
	Style       string `yaml:"style"`
	Constraints string `yaml:"constraints"`
}

// renderer turns a loaded system.yaml template plus a character's
// merged state into the final system prompt: each non-empty section is
// rendered as a Go template against the variable set, then joined by
// blank lines.
//
// Grounded on services/soul/renderer.py's section ordering and
// blank-line join; uses text/template rather than Jinja2 since that is
// the idiomatic Go rendering primitive and nothing in the example pack
// wires an alternative templating library.
type renderer struct {
	templatePath string
}

func newRenderer(templatePath string) *renderer {
	return &renderer{templatePath: templatePath}
}

func (r *renderer) loadTemplate() (systemTemplate, error) {
	b, err := os.ReadFile(r.templatePath)
	if err != nil {
		return systemTemplate{}, err
	}
	var tpl systemTemplate
	if err := yaml.Unmarshal(b, &tpl); err != nil {
		return systemTemplate{}, fmt.Errorf("soul: parse system template: %w", err)
	}
	return tpl, nil
}

// vars builds the render context: config fields plus dynamic state
// (mood, traits, relationship level, last-interaction time), with any
// caller-supplied extras layered on top.
func vars(soul CharacterSoul, extra map[string]any) map[string]any {
	v := map[string]any{
		"char_name":          soul.Config.Name,
		"description":        soul.Config.Description,
		"custom_prompt":      soul.Config.SystemPrompt,
		"traits":             soul.Profile.Traits,
		"current_mood":       soul.Profile.CurrentMood,
		"big_five":           soul.Profile.BigFive,
		"relationship_level": soul.State.RelationshipLevel,
		"last_interaction":   soul.State.LastInteractionAt,
	}
	for k, val := range extra {
		v[k] = val
	}
	return v
}

func renderSection(name, text string, v map[string]any) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("soul: parse %s section: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("soul: render %s section: %w", name, err)
	}
	return buf.String(), nil
}

// Render produces the final system prompt: role, then style, then
// constraints, each rendered and non-empty sections joined by a blank
// line. Falls back to the character's custom_prompt if the template is
// missing or every section renders empty.
func (r *renderer) Render(soul CharacterSoul, extra map[string]any) (string, error) {
	tpl, err := r.loadTemplate()
	if err != nil {
		if soul.Config.SystemPrompt != "" {
			return soul.Config.SystemPrompt, nil
		}
		return "You are a helpful AI assistant.", nil
	}

	v := vars(soul, extra)
	var parts []string
	for _, section := range []struct {
		name, text string
	}{
		{"role", tpl.Role},
		{"style", tpl.Style},
		{"constraints", tpl.Constraints},
	} {
		rendered, err := renderSection(section.name, section.text, v)
		if err != nil {
			return "", err
		}
		if rendered != "" {
			parts = append(parts, rendered)
		}
	}

	if len(parts) == 0 {
		if soul.Config.SystemPrompt != "" {
			return soul.Config.SystemPrompt, nil
		}
		return "You are a helpful AI assistant.", nil
	}
	return strings.Join(parts, "\n\n"), nil
}
